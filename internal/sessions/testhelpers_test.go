package sessions

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/go-logr/logr"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var testScope = Scope{AccountID: "acc-1", UserID: "usr-1", ProjectID: "proj-1"}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", NewID())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	store := NewStore(db, logr.Discard())
	require.NoError(t, store.Migrate())
	return store
}

// stubStep is a configurable workflow step for tests.
type stubStep struct {
	name     string
	strategy ExecutionStrategy
	command  string
	handle   func(session *Session, interaction *Interaction) (SessionUpdate, error)
}

func (s *stubStep) Name() string { return s.name }

func (s *stubStep) GetCommand(ctx context.Context, scope Scope, session *Session, opts Options) (Command, error) {
	strategy := s.strategy
	if strategy == "" {
		strategy = StrategySync
	}
	command := s.command
	if command == "" {
		command = "echo " + s.name
	}
	return Command{Strategy: strategy, Command: command}, nil
}

func (s *stubStep) HandleResult(ctx context.Context, scope Scope, session *Session, interaction *Interaction) (SessionUpdate, error) {
	if s.handle != nil {
		return s.handle(session, interaction)
	}
	return SessionUpdate{}, nil
}

// newTestRegistry registers a two-step build_widget workflow.
func newTestRegistry(steps ...Step) *Registry {
	if len(steps) == 0 {
		steps = []Step{
			&stubStep{name: "prepare"},
			&stubStep{name: "assemble"},
		}
	}
	registry := NewRegistry()
	registry.Register(&StepSequence{Tag: "build_widget", Sequence: steps})
	return registry
}

func createTestSession(t *testing.T, store *Store, mutate ...func(*Session)) *Session {
	t.Helper()
	session := &Session{
		WorkflowType: "build_widget",
		Agent:        "claude",
		Environment:  "local",
	}
	for _, fn := range mutate {
		fn(session)
	}
	require.NoError(t, store.CreateSession(context.Background(), testScope, session))
	return session
}

func completeStep(t *testing.T, store *Store, session *Session, module string, status ResultStatus) {
	t.Helper()
	interaction := &Interaction{
		SessionID: session.ID,
		Command:   Command{Module: module, Strategy: StrategySync, Command: "echo " + module, IssuedAt: time.Now()},
	}
	require.NoError(t, store.CreateInteraction(context.Background(), interaction))
	require.NoError(t, store.CompleteInteraction(context.Background(), interaction, Result{Status: status}))
}
