package cli

import (
	"github.com/spf13/cobra"

	"github.com/codemyspec/codemyspec/internal/mcpserver"
)

// NewMCPCmd creates the mcp command serving the tool surface over stdio.
func NewMCPCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve MCP tools over stdio",
		Long: `Serve the session orchestration tools over the MCP stdio transport.

The scope is fixed at startup from --account/--user/--project or the
CODEMYSPEC_* environment variables.

Examples:
  codemyspec mcp --account acc-1 --user usr-1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, err := flags.scope()
			if err != nil {
				return err
			}
			app, err := buildApp(flags)
			if err != nil {
				return err
			}
			defer app.cleanup()

			return mcpserver.ServeStdio(mcpserver.New(app.service, scope))
		},
	}
}
