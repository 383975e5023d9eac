// Package mcpserver exposes session orchestration as MCP tools so coding
// agents can drive their own workflows over stdio.
package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"

	"github.com/codemyspec/codemyspec/internal/sessions"
)

// Version is set at build time via ldflags.
var Version = "dev"

// New creates the MCP server with every session tool registered. The scope
// is fixed at startup: an MCP server serves one authenticated principal.
func New(service *sessions.Service, scope sessions.Scope) *server.MCPServer {
	s := server.NewMCPServer(
		"codemyspec",
		Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(serverInstructions()),
	)

	startTool := NewStartSessionTool(service, scope)
	s.AddTool(startTool.Definition(), startTool.Handle)

	listTool := NewListSessionsTool(service, scope)
	s.AddTool(listTool.Definition(), listTool.Handle)

	showTool := NewShowSessionTool(service, scope)
	s.AddTool(showTool.Definition(), showTool.Handle)

	nextTool := NewNextCommandTool(service, scope)
	s.AddTool(nextTool.Definition(), nextTool.Handle)

	runTool := NewRunTool(service, scope)
	s.AddTool(runTool.Definition(), runTool.Handle)

	resultTool := NewSubmitResultTool(service, scope)
	s.AddTool(resultTool.Definition(), resultTool.Handle)

	eventsTool := NewSubmitEventsTool(service, scope)
	s.AddTool(eventsTool.Definition(), eventsTool.Handle)

	return s
}

// ServeStdio blocks serving the MCP protocol on stdin/stdout.
func ServeStdio(s *server.MCPServer) error {
	return server.ServeStdio(s)
}

func serverInstructions() string {
	return `CodeMySpec orchestrates multi-step coding workflows as sessions.

A session runs one workflow (context_design or component_coding) as a series
of command/result interactions. The typical loop:

1. sessions_start creates a session for a workflow type.
2. sessions_run resolves and executes the next step; or use
   sessions_next_command to fetch the command without executing it.
3. For async steps, deliver the outcome with sessions_submit_result.
4. sessions_show reports status, state, and interaction history.

Sessions in auto execution mode continue to the next step on their own after
each successful result.`
}
