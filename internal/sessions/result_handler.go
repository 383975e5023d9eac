package sessions

import (
	"context"

	"github.com/go-logr/logr"

	"github.com/codemyspec/codemyspec/internal/apperrors"
	"github.com/codemyspec/codemyspec/internal/broadcast"
)

// ResultHandler durably attaches a result to its interaction and lets the
// owning step react. Result persistence, the step's HandleResult, and the
// session updates it produces are committed in one transaction: a step
// failure rolls the completion back and the interaction stays pending.
type ResultHandler struct {
	store    *Store
	registry *Registry
	broker   *broadcast.Broker
	metrics  *Metrics
	logger   logr.Logger
}

// NewResultHandler creates a result handler.
func NewResultHandler(store *Store, registry *Registry, broker *broadcast.Broker, metrics *Metrics, logger logr.Logger) *ResultHandler {
	return &ResultHandler{store: store, registry: registry, broker: broker, metrics: metrics, logger: logger}
}

// HandleResult completes the interaction with result and applies the step's
// session updates, returning the refreshed session.
func (h *ResultHandler) HandleResult(ctx context.Context, scope Scope, sessionID, interactionID string, result Result) (*Session, error) {
	session, err := h.store.GetSession(ctx, scope, sessionID)
	if err != nil {
		return nil, err
	}

	var interaction *Interaction
	for i := range session.Interactions {
		if session.Interactions[i].ID == interactionID {
			interaction = &session.Interactions[i]
			break
		}
	}
	if interaction == nil {
		return nil, apperrors.New(apperrors.ErrCodeInteractionNotFound, "interaction not found", nil)
	}

	step, err := h.registry.Step(interaction.Command.Module)
	if err != nil {
		return nil, err
	}

	err = h.store.Transaction(ctx, func(tx *Store) error {
		if err := tx.CompleteInteraction(ctx, interaction, result); err != nil {
			return err
		}

		update, err := step.HandleResult(ctx, scope, session, interaction)
		if err != nil {
			return apperrors.New(apperrors.ErrCodeSideEffectFailed, "step result handler failed", err)
		}

		fields := make([]string, 0, 2)
		if len(update.State) > 0 {
			if session.State == nil {
				session.State = make(map[string]any, len(update.State))
			}
			for k, v := range update.State {
				session.State[k] = v
			}
			fields = append(fields, "State")
		}
		if update.Status != nil && *update.Status != session.Status {
			session.Status = *update.Status
			fields = append(fields, "Status")
		}
		return tx.UpdateSession(ctx, session, fields...)
	})
	if err != nil {
		return nil, err
	}

	if h.metrics != nil {
		h.metrics.InteractionCompleted(session.WorkflowType, interaction.Command.Module, string(result.Status))
	}

	msg := broadcast.Message{
		Kind:      broadcast.KindUpdated,
		SessionID: session.ID,
		Payload: map[string]any{
			"interaction_id": interactionID,
			"step":           interaction.Command.Module,
			"result_status":  string(result.Status),
		},
	}
	h.broker.Publish(broadcast.AccountTopic(session.AccountID), msg)
	h.broker.Publish(broadcast.UserTopic(session.UserID), msg)

	return h.store.GetSession(ctx, scope, sessionID)
}
