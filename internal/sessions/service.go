package sessions

import (
	"context"

	"github.com/go-logr/logr"

	"github.com/codemyspec/codemyspec/internal/apperrors"
	"github.com/codemyspec/codemyspec/internal/broadcast"
)

// CreateSessionInput carries the caller-supplied fields of a new session.
type CreateSessionInput struct {
	WorkflowType  string
	Agent         string
	Environment   string
	ExecutionMode ExecutionMode
	State         map[string]any
	ParentID      string
}

// Service is the front door for every surface (CLI, MCP, hook endpoints).
// It owns session lifecycle and fans subsystem calls out to the
// orchestrator, the server manager, and the handlers.
type Service struct {
	store        *Store
	registry     *Registry
	orchestrator *Orchestrator
	manager      *Manager
	results      *ResultHandler
	events       *EventHandler
	broker       *broadcast.Broker
	metrics      *Metrics
	logger       logr.Logger
}

// NewService wires a service from already-constructed parts.
func NewService(store *Store, registry *Registry, orchestrator *Orchestrator, manager *Manager,
	results *ResultHandler, events *EventHandler, broker *broadcast.Broker,
	metrics *Metrics, logger logr.Logger) *Service {
	return &Service{
		store:        store,
		registry:     registry,
		orchestrator: orchestrator,
		manager:      manager,
		results:      results,
		events:       events,
		broker:       broker,
		metrics:      metrics,
		logger:       logger.WithName("sessions"),
	}
}

// CreateSession validates the workflow type against the registry and
// persists a new active session under the caller's scope.
func (s *Service) CreateSession(ctx context.Context, scope Scope, in CreateSessionInput) (*Session, error) {
	if _, err := s.registry.Policy(in.WorkflowType); err != nil {
		return nil, err
	}
	if in.ExecutionMode == "" {
		in.ExecutionMode = ModeManual
	}
	if in.Agent == "" {
		return nil, apperrors.New(apperrors.ErrCodeValidationFailed, "agent is required", nil)
	}

	session := &Session{
		WorkflowType:  in.WorkflowType,
		Agent:         in.Agent,
		Environment:   in.Environment,
		ExecutionMode: in.ExecutionMode,
		State:         in.State,
	}
	if in.ParentID != "" {
		session.ParentID = &in.ParentID
	}
	if err := s.store.CreateSession(ctx, scope, session); err != nil {
		return nil, err
	}

	s.metrics.SessionStarted()
	s.broker.Publish(broadcast.AccountTopic(scope.AccountID), broadcast.Message{
		Kind:      broadcast.KindCreated,
		SessionID: session.ID,
		Payload:   map[string]any{"workflow_type": session.WorkflowType},
	})
	s.logger.Info("session created", "session", session.ID, "workflow", session.WorkflowType)
	return session, nil
}

// GetSession returns a session with its interaction history, newest first.
func (s *Service) GetSession(ctx context.Context, scope Scope, sessionID string) (*Session, error) {
	return s.store.GetSession(ctx, scope, sessionID)
}

// ListSessions returns the scope's sessions, optionally filtered by status.
func (s *Service) ListSessions(ctx context.Context, scope Scope, status *Status) ([]Session, error) {
	var filter Status
	if status != nil {
		filter = *status
	}
	return s.store.ListSessions(ctx, scope, filter)
}

// NextCommand resolves the session's next command without executing it.
func (s *Service) NextCommand(ctx context.Context, scope Scope, sessionID string, opts Options) (*Session, error) {
	return s.orchestrator.NextCommand(ctx, scope, sessionID, opts)
}

// Run resolves the next command and executes it through the session's
// server, enforcing single-flight execution per session.
func (s *Service) Run(ctx context.Context, scope Scope, sessionID string, opts Options) (RunInfo, error) {
	return s.manager.Server(scope, sessionID).Run(ctx, opts)
}

// SubmitResult delivers an externally produced result. A task running for
// this interaction receives it over its delivery channel; when no task
// accepts it (idle server, timed-out wait, different interaction) the result
// is applied directly through the result handler so it is never lost.
func (s *Service) SubmitResult(ctx context.Context, scope Scope, sessionID, interactionID string, result Result) (*Session, error) {
	if s.manager.DeliverResult(sessionID, interactionID, result, nil) {
		return s.store.GetSession(ctx, scope, sessionID)
	}
	return s.results.HandleResult(ctx, scope, sessionID, interactionID, result)
}

// HandleResult applies a result directly, bypassing any running task.
func (s *Service) HandleResult(ctx context.Context, scope Scope, sessionID, interactionID string, result Result) (*Session, error) {
	return s.results.HandleResult(ctx, scope, sessionID, interactionID, result)
}

// HandleEvents ingests a batch of lifecycle events for a session.
func (s *Service) HandleEvents(ctx context.Context, scope Scope, sessionID string, inputs []EventInput) (*Session, error) {
	return s.events.HandleEvents(ctx, scope, sessionID, inputs)
}

// ListEvents pages through a session's stored events.
func (s *Service) ListEvents(ctx context.Context, scope Scope, sessionID string, q EventQuery) ([]SessionEvent, error) {
	return s.events.ListEvents(ctx, scope, sessionID, q)
}

// WorkflowTypes lists the registered workflow type tags.
func (s *Service) WorkflowTypes() []string {
	return s.registry.WorkflowTypes()
}
