package sessions

import (
	"context"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codemyspec/codemyspec/internal/apperrors"
	"github.com/codemyspec/codemyspec/internal/broadcast"
	"github.com/codemyspec/codemyspec/internal/environment"
	"github.com/codemyspec/codemyspec/internal/runtime"
)

func newTestManager(t *testing.T, registry *Registry, env environment.Environment) (*Manager, *Store) {
	t.Helper()
	store := newTestStore(t)
	logger := logr.Discard()
	broker := broadcast.NewBroker()

	deps := ServerDeps{
		Store:         store,
		Orchestrator:  NewOrchestrator(store, registry, logger),
		Executor:      NewExecutor(logger),
		ResultHandler: NewResultHandler(store, registry, broker, nil, logger),
		Environments:  environment.NewStaticProvider(map[string]environment.Environment{"local": env}),
		Broker:        broker,
		Runtime:       runtime.NewRegistry(),
		Logger:        logger,
		AsyncTimeout:  200 * time.Millisecond,
	}
	return NewManager(deps), store
}

func waitIdle(t *testing.T, srv *Server) {
	t.Helper()
	require.Eventually(t, func() bool {
		_, running := srv.Running()
		return !running
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServer_Run_SyncExecutionCompletesInteraction(t *testing.T) {
	env := &stubEnv{run: environment.Sync{Outcome: environment.Outcome{Status: environment.StatusOK, Stdout: "hi"}}}
	manager, store := newTestManager(t, newTestRegistry(), env)
	session := createTestSession(t, store)

	srv := manager.Server(testScope, session.ID)
	info, err := srv.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "prepare", info.CommandModule)
	assert.NotEmpty(t, info.InteractionID)

	waitIdle(t, srv)

	loaded, err := store.GetSession(context.Background(), testScope, session.ID)
	require.NoError(t, err)
	assert.Nil(t, loaded.PendingInteraction())
	require.Len(t, loaded.Interactions, 1)
	assert.Equal(t, ResultOK, loaded.Interactions[0].Result.Status)
}

func TestServer_Run_BroadcastsStepCompletionToBothChannels(t *testing.T) {
	store := newTestStore(t)
	logger := logr.Discard()
	broker := broadcast.NewBroker()
	registry := newTestRegistry()
	env := &stubEnv{run: environment.Sync{Outcome: environment.Outcome{Status: environment.StatusOK}}}
	manager := NewManager(ServerDeps{
		Store:         store,
		Orchestrator:  NewOrchestrator(store, registry, logger),
		Executor:      NewExecutor(logger),
		ResultHandler: NewResultHandler(store, registry, broker, nil, logger),
		Environments:  environment.NewStaticProvider(map[string]environment.Environment{"local": env}),
		Broker:        broker,
		Runtime:       runtime.NewRegistry(),
		Logger:        logger,
		AsyncTimeout:  time.Second,
	})
	session := createTestSession(t, store)

	accountCh, cancelAccount := broker.Subscribe(broadcast.AccountTopic(testScope.AccountID))
	defer cancelAccount()
	userCh, cancelUser := broker.Subscribe(broadcast.UserTopic(testScope.UserID))
	defer cancelUser()

	srv := manager.Server(testScope, session.ID)
	_, err := srv.Run(context.Background(), nil)
	require.NoError(t, err)
	waitIdle(t, srv)

	for _, ch := range []<-chan broadcast.Message{accountCh, userCh} {
		found := false
		for !found {
			select {
			case msg := <-ch:
				found = msg.Kind == broadcast.KindStepCompleted
			default:
				t.Fatal("expected a step completion broadcast on both channels")
			}
		}
	}
}

func TestServer_Run_SecondCallRejectedWhileRunning(t *testing.T) {
	done := make(chan environment.Outcome)
	env := &stubEnv{run: environment.Task{Done: done}}
	manager, store := newTestManager(t, newTestRegistry(
		&stubStep{name: "prepare", strategy: StrategyTask},
		&stubStep{name: "assemble"},
	), env)
	session := createTestSession(t, store)

	srv := manager.Server(testScope, session.ID)
	_, err := srv.Run(context.Background(), nil)
	require.NoError(t, err)

	_, err = srv.Run(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeExecutionInProgress, apperrors.Code(err))

	done <- environment.Outcome{Status: environment.StatusOK}
	waitIdle(t, srv)
}

func TestServer_DeliverResult_ResolvesAsyncExecution(t *testing.T) {
	env := &stubEnv{run: environment.Async{}}
	manager, store := newTestManager(t, newTestRegistry(
		&stubStep{name: "prepare", strategy: StrategyAsync},
		&stubStep{name: "assemble", strategy: StrategyAsync},
	), env)
	session := createTestSession(t, store)

	srv := manager.Server(testScope, session.ID)
	info, err := srv.Run(context.Background(), nil)
	require.NoError(t, err)

	delivered := manager.DeliverResult(session.ID, info.InteractionID,
		Result{Status: ResultOK, Data: map[string]any{"answer": "42"}}, nil)
	assert.True(t, delivered)

	waitIdle(t, srv)

	loaded, err := store.GetSession(context.Background(), testScope, session.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Interactions, 1)
	require.True(t, loaded.Interactions[0].Completed())
	assert.Equal(t, "42", loaded.Interactions[0].Result.Data["answer"])
}

func TestServer_DeliverResult_RejectedWhenIdle(t *testing.T) {
	env := &stubEnv{run: environment.Async{}}
	manager, store := newTestManager(t, newTestRegistry(), env)
	session := createTestSession(t, store)

	srv := manager.Server(testScope, session.ID)
	accepted := srv.DeliverResult("int-1", Result{Status: ResultOK}, nil)
	assert.False(t, accepted)

	loaded, err := store.GetSession(context.Background(), testScope, session.ID)
	require.NoError(t, err)
	assert.Empty(t, loaded.Interactions)
}

func TestServer_DeliverResult_RejectedForDifferentInteraction(t *testing.T) {
	env := &stubEnv{run: environment.Async{}}
	manager, store := newTestManager(t, newTestRegistry(
		&stubStep{name: "prepare", strategy: StrategyAsync},
		&stubStep{name: "assemble", strategy: StrategyAsync},
	), env)
	session := createTestSession(t, store)

	srv := manager.Server(testScope, session.ID)
	info, err := srv.Run(context.Background(), nil)
	require.NoError(t, err)

	accepted := manager.DeliverResult(session.ID, "stale-interaction", Result{Status: ResultOK}, nil)
	assert.False(t, accepted)

	accepted = manager.DeliverResult(session.ID, info.InteractionID, Result{Status: ResultOK}, nil)
	assert.True(t, accepted)
	waitIdle(t, srv)
}

func TestServer_AsyncTimeout_LeavesInteractionPending(t *testing.T) {
	env := &stubEnv{run: environment.Async{}}
	manager, store := newTestManager(t, newTestRegistry(
		&stubStep{name: "prepare", strategy: StrategyAsync},
		&stubStep{name: "assemble", strategy: StrategyAsync},
	), env)
	session := createTestSession(t, store)

	srv := manager.Server(testScope, session.ID)
	info, err := srv.Run(context.Background(), nil)
	require.NoError(t, err)

	// No delivery arrives; the configured timeout expires.
	waitIdle(t, srv)

	loaded, err := store.GetSession(context.Background(), testScope, session.ID)
	require.NoError(t, err)
	pending := loaded.PendingInteraction()
	require.NotNil(t, pending)
	assert.Equal(t, info.InteractionID, pending.ID)
}

func TestService_SubmitResult_AfterTimeoutFallsBackToResultHandler(t *testing.T) {
	env := &stubEnv{run: environment.Async{}}
	registry := newTestRegistry(
		&stubStep{name: "prepare", strategy: StrategyAsync},
		&stubStep{name: "assemble", strategy: StrategyAsync},
	)
	manager, store := newTestManager(t, registry, env)
	results := NewResultHandler(store, registry, broadcast.NewBroker(), nil, logr.Discard())
	service := NewService(store, registry, NewOrchestrator(store, registry, logr.Discard()),
		manager, results, nil, broadcast.NewBroker(), nil, logr.Discard())
	session := createTestSession(t, store)

	srv := manager.Server(testScope, session.ID)
	info, err := srv.Run(context.Background(), nil)
	require.NoError(t, err)

	// The async wait expires and the server goes idle with the interaction
	// still pending.
	waitIdle(t, srv)

	// A late hook callback must still complete the interaction through the
	// result handler rather than vanish into the idle server.
	updated, err := service.SubmitResult(context.Background(), testScope, session.ID, info.InteractionID,
		Result{Status: ResultOK, Data: map[string]any{"late": true}})
	require.NoError(t, err)

	assert.Nil(t, updated.PendingInteraction())
	require.Len(t, updated.Interactions, 1)
	require.True(t, updated.Interactions[0].Completed())
	assert.Equal(t, true, updated.Interactions[0].Result.Data["late"])
}

func TestServer_AutoContinuation_RunsWholeWorkflow(t *testing.T) {
	done := StatusComplete
	env := &stubEnv{run: environment.Sync{Outcome: environment.Outcome{Status: environment.StatusOK}}}
	manager, store := newTestManager(t, newTestRegistry(
		&stubStep{name: "prepare"},
		&stubStep{name: "assemble", handle: func(session *Session, interaction *Interaction) (SessionUpdate, error) {
			return SessionUpdate{Status: &done}, nil
		}},
	), env)
	session := createTestSession(t, store, func(s *Session) {
		s.ExecutionMode = ModeAuto
	})

	srv := manager.Server(testScope, session.ID)
	_, err := srv.Run(context.Background(), nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		loaded, err := store.GetSession(context.Background(), testScope, session.ID)
		return err == nil && loaded.Status == StatusComplete
	}, 2*time.Second, 10*time.Millisecond)

	loaded, err := store.GetSession(context.Background(), testScope, session.ID)
	require.NoError(t, err)
	assert.Len(t, loaded.Interactions, 2)
	assert.Nil(t, loaded.PendingInteraction())
}

func TestServer_ManualMode_StopsAfterOneStep(t *testing.T) {
	env := &stubEnv{run: environment.Sync{Outcome: environment.Outcome{Status: environment.StatusOK}}}
	manager, store := newTestManager(t, newTestRegistry(), env)
	session := createTestSession(t, store)

	srv := manager.Server(testScope, session.ID)
	_, err := srv.Run(context.Background(), nil)
	require.NoError(t, err)
	waitIdle(t, srv)

	// Give any wrongly scheduled continuation a chance to run.
	time.Sleep(50 * time.Millisecond)

	loaded, err := store.GetSession(context.Background(), testScope, session.ID)
	require.NoError(t, err)
	assert.Len(t, loaded.Interactions, 1)
}

func TestManager_DeliverResult_UnknownSession(t *testing.T) {
	env := &stubEnv{run: environment.Async{}}
	manager, _ := newTestManager(t, newTestRegistry(), env)

	delivered := manager.DeliverResult("no-such-session", "int-1", Result{Status: ResultOK}, nil)
	assert.False(t, delivered)
}

func TestManager_Server_ReturnsSameInstance(t *testing.T) {
	env := &stubEnv{run: environment.Async{}}
	manager, store := newTestManager(t, newTestRegistry(), env)
	session := createTestSession(t, store)

	first := manager.Server(testScope, session.ID)
	second := manager.Server(testScope, session.ID)
	assert.Same(t, first, second)

	manager.Remove(session.ID)
	third := manager.Server(testScope, session.ID)
	assert.NotSame(t, first, third)
}
