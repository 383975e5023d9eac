package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/codemyspec/codemyspec/internal/sessions"
)

// StartSessionTool creates a new workflow session.
type StartSessionTool struct {
	service *sessions.Service
	scope   sessions.Scope
}

func NewStartSessionTool(service *sessions.Service, scope sessions.Scope) *StartSessionTool {
	return &StartSessionTool{service: service, scope: scope}
}

func (t *StartSessionTool) Definition() mcp.Tool {
	return mcp.NewTool("sessions_start",
		mcp.WithDescription("Start a new workflow session. Available workflow types: "+
			strings.Join(t.service.WorkflowTypes(), ", ")),
		mcp.WithString("workflow_type", mcp.Required(),
			mcp.Description("Workflow type tag, e.g. context_design or component_coding")),
		mcp.WithString("agent", mcp.Required(),
			mcp.Description("Agent command the workflow steps invoke")),
		mcp.WithString("environment",
			mcp.Description("Execution environment name, defaults to local")),
		mcp.WithString("execution_mode",
			mcp.Description("manual, auto, or agentic (default manual)")),
		mcp.WithObject("state",
			mcp.Description("Initial session state, e.g. {\"component\": \"UserStore\"}")),
	)
}

func (t *StartSessionTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowType, err := req.RequireString("workflow_type")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	agent, err := req.RequireString("agent")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var state map[string]any
	if raw, ok := req.GetArguments()["state"].(map[string]any); ok {
		state = raw
	}

	session, err := t.service.CreateSession(ctx, t.scope, sessions.CreateSessionInput{
		WorkflowType:  workflowType,
		Agent:         agent,
		Environment:   req.GetString("environment", "local"),
		ExecutionMode: sessions.ExecutionMode(req.GetString("execution_mode", string(sessions.ModeManual))),
		State:         state,
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(session)
}

// ListSessionsTool lists the scope's sessions.
type ListSessionsTool struct {
	service *sessions.Service
	scope   sessions.Scope
}

func NewListSessionsTool(service *sessions.Service, scope sessions.Scope) *ListSessionsTool {
	return &ListSessionsTool{service: service, scope: scope}
}

func (t *ListSessionsTool) Definition() mcp.Tool {
	return mcp.NewTool("sessions_list",
		mcp.WithDescription("List sessions, optionally filtered by status"),
		mcp.WithString("status",
			mcp.Description("Filter: active, complete, failed, or cancelled")),
	)
}

func (t *ListSessionsTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var status *sessions.Status
	if raw := req.GetString("status", ""); raw != "" {
		parsed, ok := sessions.ParseStatus(raw)
		if !ok {
			return mcp.NewToolResultError("invalid status: " + raw), nil
		}
		status = &parsed
	}
	list, err := t.service.ListSessions(ctx, t.scope, status)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]any{"sessions": list})
}

// ShowSessionTool reports one session with its interaction history.
type ShowSessionTool struct {
	service *sessions.Service
	scope   sessions.Scope
}

func NewShowSessionTool(service *sessions.Service, scope sessions.Scope) *ShowSessionTool {
	return &ShowSessionTool{service: service, scope: scope}
}

func (t *ShowSessionTool) Definition() mcp.Tool {
	return mcp.NewTool("sessions_show",
		mcp.WithDescription("Show a session's status, state, and interaction history"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session id")),
	)
}

func (t *ShowSessionTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	session, err := t.service.GetSession(ctx, t.scope, sessionID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(session)
}

// NextCommandTool resolves the next command without executing it.
type NextCommandTool struct {
	service *sessions.Service
	scope   sessions.Scope
}

func NewNextCommandTool(service *sessions.Service, scope sessions.Scope) *NextCommandTool {
	return &NextCommandTool{service: service, scope: scope}
}

func (t *NextCommandTool) Definition() mcp.Tool {
	return mcp.NewTool("sessions_next_command",
		mcp.WithDescription("Resolve the session's next command. Any previous pending "+
			"interaction is discarded and regenerated."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session id")),
	)
}

func (t *NextCommandTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	session, err := t.service.NextCommand(ctx, t.scope, sessionID, nil)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	pending := session.PendingInteraction()
	if pending == nil {
		return mcp.NewToolResultError("no pending interaction after command resolution"), nil
	}
	return jsonResult(map[string]any{
		"interaction_id": pending.ID,
		"command":        pending.Command,
	})
}

// RunTool resolves and executes the next command in one call.
type RunTool struct {
	service *sessions.Service
	scope   sessions.Scope
}

func NewRunTool(service *sessions.Service, scope sessions.Scope) *RunTool {
	return &RunTool{service: service, scope: scope}
}

func (t *RunTool) Definition() mcp.Tool {
	return mcp.NewTool("sessions_run",
		mcp.WithDescription("Resolve and execute the session's next command. Returns "+
			"immediately; only one execution can be in flight per session."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session id")),
	)
}

func (t *RunTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	info, err := t.service.Run(ctx, t.scope, sessionID, nil)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]any{
		"interaction_id": info.InteractionID,
		"step":           info.CommandModule,
		"state":          "running",
	})
}

// SubmitResultTool delivers an externally produced result for an interaction.
type SubmitResultTool struct {
	service *sessions.Service
	scope   sessions.Scope
}

func NewSubmitResultTool(service *sessions.Service, scope sessions.Scope) *SubmitResultTool {
	return &SubmitResultTool{service: service, scope: scope}
}

func (t *SubmitResultTool) Definition() mcp.Tool {
	return mcp.NewTool("sessions_submit_result",
		mcp.WithDescription("Submit the result of an async interaction"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session id")),
		mcp.WithString("interaction_id", mcp.Required(), mcp.Description("Interaction id")),
		mcp.WithString("status", mcp.Required(),
			mcp.Description("Result status: ok, error, warning, or pending")),
		mcp.WithString("error", mcp.Description("Error message when status is error")),
		mcp.WithObject("data", mcp.Description("Structured result payload")),
	)
}

func (t *SubmitResultTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	interactionID, err := req.RequireString("interaction_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	status, err := req.RequireString("status")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result := sessions.Result{
		Status:     sessions.ResultStatus(status),
		Error:      req.GetString("error", ""),
		RecordedAt: time.Now().UTC(),
	}
	if raw, ok := req.GetArguments()["data"].(map[string]any); ok {
		result.Data = raw
	}

	session, err := t.service.SubmitResult(ctx, t.scope, sessionID, interactionID, result)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(session)
}

// SubmitEventsTool ingests lifecycle events for a session.
type SubmitEventsTool struct {
	service *sessions.Service
	scope   sessions.Scope
}

func NewSubmitEventsTool(service *sessions.Service, scope sessions.Scope) *SubmitEventsTool {
	return &SubmitEventsTool{service: service, scope: scope}
}

func (t *SubmitEventsTool) Definition() mcp.Tool {
	return mcp.NewTool("sessions_submit_events",
		mcp.WithDescription("Submit a batch of lifecycle events for a session. "+
			"The whole batch is applied atomically or rejected."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session id")),
		mcp.WithArray("events", mcp.Required(),
			mcp.Description("Events, each {type, data, metadata, sent_at}")),
	)
}

func (t *SubmitEventsTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	raw, ok := req.GetArguments()["events"].([]any)
	if !ok || len(raw) == 0 {
		return mcp.NewToolResultError("events must be a non-empty array"), nil
	}

	inputs := make([]sessions.EventInput, 0, len(raw))
	for i, item := range raw {
		encoded, err := json.Marshal(item)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("event %d: %v", i, err)), nil
		}
		var in sessions.EventInput
		if err := json.Unmarshal(encoded, &in); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("event %d: %v", i, err)), nil
		}
		inputs = append(inputs, in)
	}

	session, err := t.service.HandleEvents(ctx, t.scope, sessionID, inputs)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(session)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(encoded)), nil
}
