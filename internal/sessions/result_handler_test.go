package sessions

import (
	"context"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codemyspec/codemyspec/internal/apperrors"
	"github.com/codemyspec/codemyspec/internal/broadcast"
)

func newResultHandler(t *testing.T, registry *Registry) (*ResultHandler, *Store, *broadcast.Broker) {
	t.Helper()
	store := newTestStore(t)
	broker := broadcast.NewBroker()
	handler := NewResultHandler(store, registry, broker, nil, logr.Discard())
	return handler, store, broker
}

func pendingInteraction(t *testing.T, store *Store, session *Session, module string) *Interaction {
	t.Helper()
	interaction := &Interaction{
		SessionID: session.ID,
		Command:   Command{Module: module, Strategy: StrategySync, Command: "echo " + module},
	}
	require.NoError(t, store.CreateInteraction(context.Background(), interaction))
	return interaction
}

func TestResultHandler_HandleResult_CompletesAndAppliesUpdates(t *testing.T) {
	done := StatusComplete
	step := &stubStep{
		name: "prepare",
		handle: func(session *Session, interaction *Interaction) (SessionUpdate, error) {
			return SessionUpdate{
				State:  map[string]any{"prepared": true},
				Status: &done,
			}, nil
		},
	}
	handler, store, broker := newResultHandler(t, newTestRegistry(step, &stubStep{name: "assemble"}))
	session := createTestSession(t, store)
	interaction := pendingInteraction(t, store, session, "prepare")

	accountCh, cancelAccount := broker.Subscribe(broadcast.AccountTopic(testScope.AccountID))
	defer cancelAccount()
	userCh, cancelUser := broker.Subscribe(broadcast.UserTopic(testScope.UserID))
	defer cancelUser()

	updated, err := handler.HandleResult(context.Background(), testScope, session.ID, interaction.ID, Result{Status: ResultOK})
	require.NoError(t, err)

	assert.Equal(t, StatusComplete, updated.Status)
	assert.Equal(t, true, updated.State["prepared"])
	require.Len(t, updated.Interactions, 1)
	assert.True(t, updated.Interactions[0].Completed())
	assert.Equal(t, ResultOK, updated.Interactions[0].Result.Status)

	for _, ch := range []<-chan broadcast.Message{accountCh, userCh} {
		select {
		case msg := <-ch:
			assert.Equal(t, broadcast.KindUpdated, msg.Kind)
			assert.Equal(t, session.ID, msg.SessionID)
		default:
			t.Fatal("expected a session update broadcast on both channels")
		}
	}
}

func TestResultHandler_HandleResult_StepFailureRollsBack(t *testing.T) {
	step := &stubStep{
		name: "prepare",
		handle: func(session *Session, interaction *Interaction) (SessionUpdate, error) {
			return SessionUpdate{}, assert.AnError
		},
	}
	handler, store, _ := newResultHandler(t, newTestRegistry(step, &stubStep{name: "assemble"}))
	session := createTestSession(t, store)
	interaction := pendingInteraction(t, store, session, "prepare")

	_, err := handler.HandleResult(context.Background(), testScope, session.ID, interaction.ID, Result{Status: ResultOK})
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeSideEffectFailed, apperrors.Code(err))

	loaded, err := store.GetSession(context.Background(), testScope, session.ID)
	require.NoError(t, err)
	pending := loaded.PendingInteraction()
	require.NotNil(t, pending)
	assert.Equal(t, interaction.ID, pending.ID)
}

func TestResultHandler_HandleResult_InteractionNotFound(t *testing.T) {
	handler, store, _ := newResultHandler(t, newTestRegistry())
	session := createTestSession(t, store)

	_, err := handler.HandleResult(context.Background(), testScope, session.ID, "missing", Result{Status: ResultOK})
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeInteractionNotFound, apperrors.Code(err))
}

func TestResultHandler_HandleResult_UnknownStep(t *testing.T) {
	handler, store, _ := newResultHandler(t, newTestRegistry())
	session := createTestSession(t, store)
	interaction := pendingInteraction(t, store, session, "vanished_step")

	_, err := handler.HandleResult(context.Background(), testScope, session.ID, interaction.ID, Result{Status: ResultOK})
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeUnknownStep, apperrors.Code(err))
}

func TestResultHandler_HandleResult_AlreadyCompleted(t *testing.T) {
	handler, store, _ := newResultHandler(t, newTestRegistry())
	session := createTestSession(t, store)
	interaction := pendingInteraction(t, store, session, "prepare")

	_, err := handler.HandleResult(context.Background(), testScope, session.ID, interaction.ID, Result{Status: ResultOK})
	require.NoError(t, err)

	_, err = handler.HandleResult(context.Background(), testScope, session.ID, interaction.ID, Result{Status: ResultError})
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeValidationFailed, apperrors.Code(err))
}
