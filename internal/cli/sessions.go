package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/codemyspec/codemyspec/internal/sessions"
)

// NewSessionsCmd creates the sessions command group.
func NewSessionsCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Create, inspect, and drive workflow sessions",
	}

	cmd.AddCommand(newSessionsStartCmd(flags))
	cmd.AddCommand(newSessionsListCmd(flags))
	cmd.AddCommand(newSessionsShowCmd(flags))
	cmd.AddCommand(newSessionsNextCmd(flags))
	cmd.AddCommand(newSessionsRunCmd(flags))
	cmd.AddCommand(newSessionsResultCmd(flags))

	return cmd
}

func newSessionsStartCmd(flags *globalFlags) *cobra.Command {
	var (
		workflowType string
		agent        string
		env          string
		mode         string
		stateJSON    string
	)

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a new workflow session",
		Long: `Start a new workflow session.

Examples:
  codemyspec sessions start --workflow context_design --agent claude --state '{"component":"UserStore"}'
  codemyspec sessions start --workflow component_coding --agent claude --mode auto`,
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

			var state map[string]any
			if stateJSON != "" {
				if err := json.Unmarshal([]byte(stateJSON), &state); err != nil {
					return fmt.Errorf("invalid --state: %w", err)
				}
			}

			session, err := app.service.CreateSession(cmd.Context(), scope, sessions.CreateSessionInput{
				WorkflowType:  workflowType,
				Agent:         agent,
				Environment:   env,
				ExecutionMode: sessions.ExecutionMode(mode),
				State:         state,
			})
			if err != nil {
				return err
			}

			fmt.Printf("Session %s started (%s, %s mode)\n",
				color.CyanString(session.ID), session.WorkflowType, session.ExecutionMode)
			return nil
		},
	}

	cmd.Flags().StringVar(&workflowType, "workflow", "", "Workflow type (required)")
	cmd.Flags().StringVar(&agent, "agent", "", "Agent command (required)")
	cmd.Flags().StringVar(&env, "env", "local", "Execution environment")
	cmd.Flags().StringVar(&mode, "mode", "manual", "Execution mode: manual, auto, or agentic")
	cmd.Flags().StringVar(&stateJSON, "state", "", "Initial session state as JSON")
	cmd.MarkFlagRequired("workflow")
	cmd.MarkFlagRequired("agent")

	return cmd
}

func newSessionsListCmd(flags *globalFlags) *cobra.Command {
	var statusFilter string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions",
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

			var status *sessions.Status
			if statusFilter != "" {
				parsed, ok := sessions.ParseStatus(statusFilter)
				if !ok {
					return fmt.Errorf("invalid status filter: %s", statusFilter)
				}
				status = &parsed
			}

			list, err := app.service.ListSessions(cmd.Context(), scope, status)
			if err != nil {
				return err
			}

			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.AppendHeader(table.Row{"ID", "WORKFLOW", "AGENT", "MODE", "STATUS", "CREATED"})
			for _, s := range list {
				t.AppendRow(table.Row{
					s.ID,
					s.WorkflowType,
					s.Agent,
					s.ExecutionMode,
					colorStatus(s.Status),
					s.CreatedAt.Format(time.RFC3339),
				})
			}
			t.Render()
			return nil
		},
	}

	cmd.Flags().StringVar(&statusFilter, "status", "", "Filter: active, complete, failed, or cancelled")
	return cmd
}

func newSessionsShowCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "show [session-id]",
		Short: "Show a session with its interaction history",
		Args:  cobra.ExactArgs(1),
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

			session, err := app.service.GetSession(cmd.Context(), scope, args[0])
			if err != nil {
				return err
			}

			fmt.Printf("Session:  %s\n", color.CyanString(session.ID))
			fmt.Printf("Workflow: %s\n", session.WorkflowType)
			fmt.Printf("Agent:    %s\n", session.Agent)
			fmt.Printf("Status:   %s\n", colorStatus(session.Status))
			if session.ConversationID != "" {
				fmt.Printf("Conversation: %s\n", session.ConversationID)
			}
			if len(session.State) > 0 {
				encoded, _ := json.MarshalIndent(session.State, "", "  ")
				fmt.Printf("State:\n%s\n", encoded)
			}

			if len(session.Interactions) > 0 {
				fmt.Println("\nInteractions (newest first):")
				t := table.NewWriter()
				t.SetOutputMirror(os.Stdout)
				t.AppendHeader(table.Row{"ID", "STEP", "STRATEGY", "RESULT", "COMPLETED"})
				for _, in := range session.Interactions {
					result := "pending"
					completed := ""
					if in.Completed() {
						result = string(in.Result.Status)
						if in.CompletedAt != nil {
							completed = in.CompletedAt.Format(time.RFC3339)
						}
					}
					t.AppendRow(table.Row{in.ID, in.Command.Module, in.Command.Strategy, result, completed})
				}
				t.Render()
			}
			return nil
		},
	}
}

func newSessionsNextCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "next [session-id]",
		Short: "Resolve the session's next command without executing it",
		Args:  cobra.ExactArgs(1),
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

			session, err := app.service.NextCommand(cmd.Context(), scope, args[0], nil)
			if err != nil {
				return err
			}
			pending := session.PendingInteraction()
			if pending == nil {
				return fmt.Errorf("no pending interaction after command resolution")
			}

			fmt.Printf("Interaction: %s\n", color.CyanString(pending.ID))
			fmt.Printf("Step:        %s\n", pending.Command.Module)
			fmt.Printf("Strategy:    %s\n", pending.Command.Strategy)
			fmt.Printf("Command:     %s\n", pending.Command.Command)
			return nil
		},
	}
}

func newSessionsRunCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run [session-id]",
		Short: "Resolve and execute the session's next command",
		Args:  cobra.ExactArgs(1),
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

			info, err := app.service.Run(cmd.Context(), scope, args[0], nil)
			if err != nil {
				return err
			}
			fmt.Printf("Executing step %s (interaction %s)\n",
				color.YellowString(info.CommandModule), info.InteractionID)
			return nil
		},
	}
}

func newSessionsResultCmd(flags *globalFlags) *cobra.Command {
	var (
		status    string
		errorText string
		dataJSON  string
	)

	cmd := &cobra.Command{
		Use:   "result [session-id] [interaction-id]",
		Short: "Submit the result of an async interaction",
		Args:  cobra.ExactArgs(2),
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

			result := sessions.Result{
				Status:     sessions.ResultStatus(status),
				Error:      errorText,
				RecordedAt: time.Now().UTC(),
			}
			if dataJSON != "" {
				if err := json.Unmarshal([]byte(dataJSON), &result.Data); err != nil {
					return fmt.Errorf("invalid --data: %w", err)
				}
			}

			session, err := app.service.SubmitResult(cmd.Context(), scope, args[0], args[1], result)
			if err != nil {
				return err
			}
			fmt.Printf("Result recorded; session status: %s\n", colorStatus(session.Status))
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "ok", "Result status: ok, error, warning, or pending")
	cmd.Flags().StringVar(&errorText, "error", "", "Error message for failed results")
	cmd.Flags().StringVar(&dataJSON, "data", "", "Structured result payload as JSON")
	return cmd
}

func colorStatus(status sessions.Status) string {
	switch status {
	case sessions.StatusActive:
		return color.GreenString(string(status))
	case sessions.StatusComplete:
		return color.CyanString(string(status))
	case sessions.StatusFailed:
		return color.RedString(string(status))
	case sessions.StatusCancelled:
		return color.YellowString(string(status))
	}
	return string(status)
}
