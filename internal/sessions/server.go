package sessions

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/codemyspec/codemyspec/internal/apperrors"
	"github.com/codemyspec/codemyspec/internal/broadcast"
	"github.com/codemyspec/codemyspec/internal/environment"
	"github.com/codemyspec/codemyspec/internal/runtime"
)

const deliveryBuffer = 4

// deliverWait bounds how long a delivery send may block on a busy task
// before it is dropped.
const deliverWait = 5 * time.Second

// ServerDeps bundles what every session server needs.
type ServerDeps struct {
	Store         *Store
	Orchestrator  *Orchestrator
	Executor      *Executor
	ResultHandler *ResultHandler
	Environments  environment.Provider
	Broker        *broadcast.Broker
	Runtime       *runtime.Registry
	Metrics       *Metrics
	Logger        logr.Logger
	AsyncTimeout  time.Duration
}

// RunInfo identifies the execution a Run call started.
type RunInfo struct {
	InteractionID string
	CommandModule string
}

type taskState struct {
	interactionID string
	deliveries    chan Delivery
}

// Server owns the single in-flight execution task for one session. It is
// either idle or running, enforces single-flight execution, bridges
// externally delivered results into the running task, and re-enters the
// workflow on its own when the session runs in auto mode.
//
// Servers are registered per session id in a Manager and are not tied to any
// caller's lifetime: a caller going away does not tear down in-flight work.
type Server struct {
	sessionID string
	scope     Scope
	deps      ServerDeps

	mu      sync.Mutex
	running *taskState
}

// NewServer creates a server for one session. The scope it is created with
// is carried into every continuation cycle.
func NewServer(scope Scope, sessionID string, deps ServerDeps) *Server {
	return &Server{sessionID: sessionID, scope: scope, deps: deps}
}

// Run resolves the session's next pending interaction and spawns exactly one
// task to execute it, replying immediately without waiting for the task. A
// second Run while the task is still in flight is rejected with
// EXECUTION_IN_PROGRESS rather than queued.
func (s *Server) Run(ctx context.Context, opts Options) (RunInfo, error) {
	s.mu.Lock()
	if s.running != nil {
		s.mu.Unlock()
		return RunInfo{}, apperrors.New(apperrors.ErrCodeExecutionInProgress,
			"an execution is already in progress for this session", nil)
	}

	session, err := s.deps.Orchestrator.NextCommand(ctx, s.scope, s.sessionID, opts)
	if err != nil {
		s.mu.Unlock()
		return RunInfo{}, err
	}

	pending := session.PendingInteraction()
	if pending == nil {
		s.mu.Unlock()
		return RunInfo{}, apperrors.New(apperrors.ErrCodeInteractionNotFound,
			"orchestrator returned no pending interaction", nil)
	}

	ts := &taskState{
		interactionID: pending.ID,
		deliveries:    make(chan Delivery, deliveryBuffer),
	}
	s.running = ts
	s.mu.Unlock()

	interaction := *pending

	// The task outlives the caller's context deliberately.
	taskCtx := context.WithoutCancel(ctx)
	go s.runTask(taskCtx, session, interaction, ts)

	return RunInfo{InteractionID: pending.ID, CommandModule: pending.Command.Module}, nil
}

// DeliverResult relays an externally produced result to the running task. It
// reports whether the task accepted the delivery; a false return means no
// task is waiting for this interaction and the result must be handled
// out-of-band instead.
func (s *Server) DeliverResult(interactionID string, result Result, opts map[string]any) bool {
	s.mu.Lock()
	ts := s.running
	s.mu.Unlock()

	if ts == nil {
		s.deps.Logger.Info("no execution in progress, result needs out-of-band handling",
			"session", s.sessionID, "interaction", interactionID)
		return false
	}
	if ts.interactionID != interactionID {
		s.deps.Logger.Info("running task serves a different interaction",
			"session", s.sessionID, "interaction", interactionID, "running", ts.interactionID)
		return false
	}

	delivery := Delivery{InteractionID: interactionID, Result: result, Opts: opts}
	select {
	case ts.deliveries <- delivery:
		return true
	case <-time.After(deliverWait):
		s.deps.Logger.Info("task not receiving, result needs out-of-band handling",
			"session", s.sessionID, "interaction", interactionID)
		return false
	}
}

// Running reports whether an execution task is in flight and, if so, which
// interaction it serves.
func (s *Server) Running() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running == nil {
		return "", false
	}
	return s.running.interactionID, true
}

func (s *Server) runTask(ctx context.Context, session *Session, interaction Interaction, ts *taskState) {
	defer func() {
		// A crashed task returns the server to idle without completing the
		// interaction; it stays pending for manual retry or regeneration.
		if r := recover(); r != nil {
			s.deps.Logger.Error(nil, "execution task panicked",
				"session", s.sessionID, "interaction", interaction.ID,
				"panic", r, "stack", string(debug.Stack()))
			s.clearRunning(ts)
		}
	}()

	env, err := s.deps.Environments.Environment(session.Environment)
	if err != nil {
		s.deps.Logger.Error(err, "environment unavailable, interaction remains pending",
			"session", s.sessionID, "interaction", interaction.ID)
		s.clearRunning(ts)
		return
	}

	start := time.Now()
	result, err := s.deps.Executor.Execute(ctx, ExecutionContext{
		Env:          env,
		Session:      session,
		Interaction:  &interaction,
		Deliveries:   ts.deliveries,
		AsyncTimeout: s.deps.AsyncTimeout,
	})
	s.deps.Metrics.ExecutionObserved(string(interaction.Command.Strategy), time.Since(start))

	if err != nil {
		if apperrors.HasCode(err, apperrors.ErrCodeAsyncResultTimeout) {
			s.deps.Metrics.AsyncTimeout()
		}
		s.deps.Logger.Error(err, "execution failed, interaction remains pending",
			"session", s.sessionID, "interaction", interaction.ID)
		s.clearRunning(ts)
		return
	}

	updated, err := s.deps.ResultHandler.HandleResult(ctx, s.scope, s.sessionID, interaction.ID, result)
	if err != nil {
		s.deps.Logger.Error(err, "result handling failed, interaction remains pending",
			"session", s.sessionID, "interaction", interaction.ID)
		s.clearRunning(ts)
		return
	}

	if s.deps.Runtime != nil {
		s.deps.Runtime.Delete(interaction.ID)
	}
	if updated.Status.Terminal() {
		s.deps.Metrics.SessionFinished()
		if s.deps.Runtime != nil {
			s.deps.Runtime.DeleteSession(s.sessionID)
		}
	}

	msg := broadcast.Message{
		Kind:      broadcast.KindStepCompleted,
		SessionID: updated.ID,
		Payload: map[string]any{
			"interaction_id": interaction.ID,
			"step":           interaction.Command.Module,
			"result_status":  string(result.Status),
			"session_status": string(updated.Status),
		},
	}
	s.deps.Broker.Publish(broadcast.AccountTopic(updated.AccountID), msg)
	s.deps.Broker.Publish(broadcast.UserTopic(updated.UserID), msg)

	s.clearRunning(ts)

	// Auto-continuation: re-enter the next-command/run cycle with the scope
	// this server was created with.
	if updated.ExecutionMode == ModeAuto && updated.Status == StatusActive && updated.PendingInteraction() == nil {
		go s.continueWorkflow(ctx)
	}
}

func (s *Server) continueWorkflow(ctx context.Context) {
	info, err := s.Run(ctx, nil)
	if err != nil {
		if apperrors.HasCode(err, apperrors.ErrCodeSessionComplete) {
			s.deps.Logger.Info("auto-continuation finished workflow", "session", s.sessionID)
			return
		}
		s.deps.Logger.Error(err, "auto-continuation failed", "session", s.sessionID)
		return
	}
	s.deps.Logger.Info("auto-continuation started next step",
		"session", s.sessionID, "interaction", info.InteractionID, "step", info.CommandModule)
}

func (s *Server) clearRunning(ts *taskState) {
	s.mu.Lock()
	if s.running == ts {
		s.running = nil
	}
	s.mu.Unlock()
}

// Manager registers one server per active session, looked up by session id.
type Manager struct {
	deps ServerDeps

	mu      sync.Mutex
	servers map[string]*Server
}

// NewManager creates an empty manager.
func NewManager(deps ServerDeps) *Manager {
	return &Manager{deps: deps, servers: make(map[string]*Server)}
}

// Server returns the session's server, creating and registering it on first
// use with the caller's scope.
func (m *Manager) Server(scope Scope, sessionID string) *Server {
	m.mu.Lock()
	defer m.mu.Unlock()
	if srv, ok := m.servers[sessionID]; ok {
		return srv
	}
	srv := NewServer(scope, sessionID, m.deps)
	m.servers[sessionID] = srv
	return srv
}

// Lookup returns an already-registered server without creating one.
func (m *Manager) Lookup(sessionID string) (*Server, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	srv, ok := m.servers[sessionID]
	return srv, ok
}

// DeliverResult routes an externally produced result to the session's
// running task. It reports false when no server is registered or no task
// accepted the delivery; the caller falls back to direct result handling.
func (m *Manager) DeliverResult(sessionID, interactionID string, result Result, opts map[string]any) bool {
	srv, ok := m.Lookup(sessionID)
	if !ok {
		m.deps.Logger.Info("no session server registered for delivered result",
			"session", sessionID, "interaction", interactionID)
		return false
	}
	return srv.DeliverResult(interactionID, result, opts)
}

// Remove forgets a session's server, typically after terminal status.
func (m *Manager) Remove(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.servers, sessionID)
}
