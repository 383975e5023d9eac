package sessions

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"
	"github.com/hashicorp/go-multierror"

	"github.com/codemyspec/codemyspec/internal/apperrors"
	"github.com/codemyspec/codemyspec/internal/broadcast"
)

// EventHandler ingests fine-grained activity events. The append itself is
// all-or-nothing per batch; type-specific side effects are best-effort and a
// side-effect failure degrades to "no update" without aborting the append.
type EventHandler struct {
	store   *Store
	broker  *broadcast.Broker
	metrics *Metrics
	logger  logr.Logger
}

// NewEventHandler creates an event handler.
func NewEventHandler(store *Store, broker *broadcast.Broker, metrics *Metrics, logger logr.Logger) *EventHandler {
	return &EventHandler{store: store, broker: broker, metrics: metrics, logger: logger}
}

// HandleEvent appends one event. See HandleEvents.
func (h *EventHandler) HandleEvent(ctx context.Context, scope Scope, sessionID string, input EventInput) (*Session, error) {
	return h.HandleEvents(ctx, scope, sessionID, []EventInput{input})
}

// HandleEvents validates and appends a batch of events in one transaction,
// applies their side effects to the session, and broadcasts activity to the
// account and user channels. One invalid event fails the whole batch; zero
// events are persisted in that case.
func (h *EventHandler) HandleEvents(ctx context.Context, scope Scope, sessionID string, inputs []EventInput) (*Session, error) {
	var validationErrs *multierror.Error
	for i, input := range inputs {
		if err := input.Validate(); err != nil {
			validationErrs = multierror.Append(validationErrs,
				fmt.Errorf("event %d: %w", i, err))
		}
	}
	if err := validationErrs.ErrorOrNil(); err != nil {
		return nil, apperrors.New(apperrors.ErrCodeValidationFailed, "event batch rejected", err)
	}

	events := make([]SessionEvent, len(inputs))
	for i, input := range inputs {
		events[i] = SessionEvent{
			SessionID: sessionID,
			Type:      input.Type,
			Data:      input.Data,
			Metadata:  input.Metadata,
			SentAt:    input.SentAt,
		}
	}

	// Side effects are computed against the session row read in the same
	// transaction that writes them, so a concurrent writer cannot be
	// clobbered by updates derived from a stale load.
	var session *Session
	var changed []string
	err := h.store.Transaction(ctx, func(tx *Store) error {
		var err error
		session, err = tx.GetSession(ctx, scope, sessionID)
		if err != nil {
			return err
		}
		changed = h.applySideEffects(session, inputs)
		if err := tx.AppendEvents(ctx, events); err != nil {
			return err
		}
		return tx.UpdateSession(ctx, session, changed...)
	})
	if err != nil {
		return nil, err
	}

	for _, event := range events {
		h.metrics.EventIngested(string(event.Type))
	}

	h.publish(session, broadcast.Message{
		Kind:      broadcast.KindSessionActivity,
		SessionID: session.ID,
		Payload:   map[string]any{"event_count": len(events)},
	})
	for _, field := range changed {
		switch field {
		case "Status":
			h.publish(session, broadcast.Message{
				Kind:      broadcast.KindSessionStatusChanged,
				SessionID: session.ID,
				Payload:   map[string]any{"status": string(session.Status)},
			})
		case "ConversationID":
			h.publish(session, broadcast.Message{
				Kind:      broadcast.KindConversationLinked,
				SessionID: session.ID,
				Payload:   map[string]any{"conversation_id": session.ConversationID},
			})
		}
	}

	return h.store.GetSession(ctx, scope, sessionID)
}

// applySideEffects mutates session in memory according to each event's shape
// and returns the list of changed fields. Failures are logged and skipped;
// the append must still succeed.
func (h *EventHandler) applySideEffects(session *Session, inputs []EventInput) []string {
	changed := make([]string, 0, 2)
	mark := func(field string) {
		for _, f := range changed {
			if f == field {
				return
			}
		}
		changed = append(changed, field)
	}

	for _, input := range inputs {
		// A status carried in the data map takes priority over any
		// type-specific handling.
		if raw, ok := input.Data["new_status"].(string); ok {
			status, valid := ParseStatus(raw)
			if !valid {
				h.logger.Error(
					apperrors.New(apperrors.ErrCodeInvalidStatus, "unrecognized status: "+raw, nil),
					"ignoring status side effect", "session", session.ID, "event_type", input.Type)
				continue
			}
			if status != session.Status {
				session.Status = status
				mark("Status")
			}
			continue
		}

		switch input.Type {
		case EventSessionStart:
			conversationID, _ := input.Data["conversation_id"].(string)
			if conversationID == "" {
				continue
			}
			switch {
			case session.ConversationID == "":
				session.ConversationID = conversationID
				mark("ConversationID")
			case session.ConversationID == conversationID:
				// Already linked, nothing to do.
			default:
				// Never silently overwrite an established correlation.
				h.logger.Info("conflicting conversation id ignored",
					"session", session.ID,
					"existing", session.ConversationID,
					"incoming", conversationID)
			}

		case EventNotificationHook:
			h.publish(session, broadcast.Message{
				Kind:      broadcast.KindNotification,
				SessionID: session.ID,
				Payload:   input.Data,
			})
		}
	}

	return changed
}

func (h *EventHandler) publish(session *Session, msg broadcast.Message) {
	h.broker.Publish(broadcast.AccountTopic(session.AccountID), msg)
	h.broker.Publish(broadcast.UserTopic(session.UserID), msg)
}

// ListEvents returns a page of the session's event log, optionally filtered
// by type and ordered by timestamp.
func (h *EventHandler) ListEvents(ctx context.Context, scope Scope, sessionID string, query EventQuery) ([]SessionEvent, error) {
	return h.store.ListEvents(ctx, scope, sessionID, query)
}
