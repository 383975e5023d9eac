package sessions

import (
	"context"
	"time"

	"github.com/go-logr/logr"
	"github.com/stoewer/go-strcase"

	"github.com/codemyspec/codemyspec/internal/apperrors"
)

// Orchestrator decides and materializes the next unit of work for a session:
// it consults the session's workflow policy, builds the step's command, and
// records exactly one new pending interaction.
type Orchestrator struct {
	store    *Store
	registry *Registry
	logger   logr.Logger
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(store *Store, registry *Registry, logger logr.Logger) *Orchestrator {
	return &Orchestrator{store: store, registry: registry, logger: logger}
}

// NextCommand resolves the session's next workflow step and persists a
// pending interaction for it. An outstanding pending interaction is
// discarded first: callers regenerate an unresolved step rather than stack a
// second one, so at most one pending interaction ever exists.
//
// Terminal sessions fail with their terminal error and no interaction is
// created; a finished workflow returns ErrSessionComplete the same way, so
// repeated calls after completion never create new work.
func (o *Orchestrator) NextCommand(ctx context.Context, scope Scope, sessionID string, opts Options) (*Session, error) {
	session, err := o.store.GetSession(ctx, scope, sessionID)
	if err != nil {
		return nil, err
	}

	if err := terminalError(session.Status); err != nil {
		return nil, err
	}

	if pending := session.PendingInteraction(); pending != nil {
		o.logger.Info("discarding pending interaction before regeneration",
			"session", session.ID, "interaction", pending.ID, "step", pending.Command.Module)
		if err := o.store.DeleteInteraction(ctx, pending.ID); err != nil {
			return nil, err
		}
	}

	policy, err := o.registry.Policy(session.WorkflowType)
	if err != nil {
		return nil, err
	}

	step, err := policy.NextStep(session)
	if err != nil {
		return nil, err
	}

	command, err := step.GetCommand(ctx, scope, session, opts)
	if err != nil {
		return nil, err
	}
	command.Module = strcase.SnakeCase(step.Name())
	if command.IssuedAt.IsZero() {
		command.IssuedAt = time.Now()
	}

	interaction := &Interaction{
		SessionID: session.ID,
		Command:   command,
	}
	if err := o.store.CreateInteraction(ctx, interaction); err != nil {
		return nil, err
	}

	o.logger.Info("created pending interaction",
		"session", session.ID, "interaction", interaction.ID,
		"step", command.Module, "strategy", command.Strategy)

	return o.store.GetSession(ctx, scope, sessionID)
}

func terminalError(status Status) error {
	switch status {
	case StatusComplete:
		return apperrors.New(apperrors.ErrCodeSessionComplete, "session is complete", nil)
	case StatusFailed:
		return apperrors.New(apperrors.ErrCodeSessionFailed, "session has failed", nil)
	case StatusCancelled:
		return apperrors.New(apperrors.ErrCodeSessionCancelled, "session was cancelled", nil)
	}
	return nil
}
