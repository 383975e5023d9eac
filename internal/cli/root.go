package cli

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root codemyspec command.
func NewRootCmd() *cobra.Command {
	flags := &globalFlags{}

	cmd := &cobra.Command{
		Use:   "codemyspec",
		Short: "Workflow session orchestration for coding agents",
		Long: `codemyspec orchestrates multi-step coding workflows as sessions.

A session runs one workflow (context design, component coding) as a series of
command/result interactions against an execution environment.

Available subcommands:
  serve       Run the hook HTTP server
  mcp         Serve MCP tools over stdio
  sessions    Create, inspect, and drive sessions

Examples:
  codemyspec serve --config codemyspec.yaml
  codemyspec sessions start --workflow component_coding --agent claude
  codemyspec sessions run <session-id>`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&flags.ConfigFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().StringVar(&flags.AccountID, "account", "", "Account id (or CODEMYSPEC_ACCOUNT_ID)")
	cmd.PersistentFlags().StringVar(&flags.UserID, "user", "", "User id (or CODEMYSPEC_USER_ID)")
	cmd.PersistentFlags().StringVar(&flags.ProjectID, "project", "", "Project id (or CODEMYSPEC_PROJECT_ID)")

	cmd.AddCommand(NewServeCmd(flags))
	cmd.AddCommand(NewMCPCmd(flags))
	cmd.AddCommand(NewSessionsCmd(flags))

	return cmd
}
