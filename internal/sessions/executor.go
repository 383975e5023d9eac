package sessions

import (
	"context"
	"time"

	"github.com/go-logr/logr"

	"github.com/codemyspec/codemyspec/internal/apperrors"
	"github.com/codemyspec/codemyspec/internal/environment"
)

// DefaultAsyncResultTimeout bounds the wait for an externally delivered
// result before the interaction fails.
const DefaultAsyncResultTimeout = 30 * time.Minute

// Delivery is an externally produced result routed to a running execution,
// correlated by interaction id.
type Delivery struct {
	InteractionID string
	Result        Result
	Opts          map[string]any
}

// ExecutionContext bundles everything one execution needs.
type ExecutionContext struct {
	Env         environment.Environment
	Session     *Session
	Interaction *Interaction

	// Deliveries receives externally delivered results for async commands.
	Deliveries <-chan Delivery

	// AsyncTimeout overrides DefaultAsyncResultTimeout when > 0.
	AsyncTimeout time.Duration
}

// Executor runs one prepared interaction's command to a terminal result. It
// normalizes the execution shapes an environment can report (an immediate
// result, a spawned task, or an externally resolved command) and has no side
// effects beyond logging.
type Executor struct {
	logger logr.Logger
}

// NewExecutor creates an executor.
func NewExecutor(logger logr.Logger) *Executor {
	return &Executor{logger: logger}
}

// Execute runs the interaction's command and blocks until its result is
// available. Environment-level failures propagate unchanged.
func (e *Executor) Execute(ctx context.Context, ec ExecutionContext) (Result, error) {
	cmd := ec.Interaction.Command

	spec := environment.Spec{
		Command:  cmd.Command,
		Metadata: cmd.Metadata,
	}
	if cmd.Strategy == StrategyAsync {
		spec.Metadata = withExternal(spec.Metadata)
	} else if cmd.Strategy == StrategyTask {
		spec.Metadata = withBackground(spec.Metadata)
	}

	run, err := ec.Env.RunCommand(ctx, spec, nil)
	if err != nil {
		return Result{}, err
	}

	switch r := run.(type) {
	case environment.Sync:
		return resultFromOutcome(r.Outcome), nil

	case environment.Task:
		// No timeout at this layer; the spawned task is trusted to
		// terminate and callers impose their own bounds.
		select {
		case outcome := <-r.Done:
			return resultFromOutcome(outcome), nil
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}

	case environment.Async:
		return e.awaitDelivery(ctx, ec)

	default:
		return Result{}, apperrors.New(apperrors.ErrCodeEnvironmentFailed,
			"environment returned an unknown run shape", nil)
	}
}

// awaitDelivery blocks until a result correlated to this interaction id
// arrives. Deliveries for any other interaction are ignored, so stale or
// late messages for a superseded interaction can never resolve this wait.
func (e *Executor) awaitDelivery(ctx context.Context, ec ExecutionContext) (Result, error) {
	timeout := ec.AsyncTimeout
	if timeout <= 0 {
		timeout = DefaultAsyncResultTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case delivery, ok := <-ec.Deliveries:
			if !ok {
				return Result{}, apperrors.New(apperrors.ErrCodeEnvironmentFailed,
					"delivery channel closed before a result arrived", nil)
			}
			if delivery.InteractionID != ec.Interaction.ID {
				e.logger.Info("ignoring result for different interaction",
					"expected", ec.Interaction.ID, "got", delivery.InteractionID)
				continue
			}
			return delivery.Result, nil

		case <-timer.C:
			return Result{}, apperrors.New(apperrors.ErrCodeAsyncResultTimeout,
				"timed out waiting for async result", nil)

		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}
}

func resultFromOutcome(outcome environment.Outcome) Result {
	status := ResultStatus(outcome.Status)
	switch status {
	case ResultOK, ResultPending, ResultError, ResultWarning:
	default:
		if outcome.Error != "" {
			status = ResultError
		} else {
			status = ResultOK
		}
	}
	return Result{
		Status:     status,
		Data:       outcome.Data,
		ExitCode:   outcome.ExitCode,
		Error:      outcome.Error,
		Stdout:     outcome.Stdout,
		Stderr:     outcome.Stderr,
		DurationMS: outcome.Duration.Milliseconds(),
		RecordedAt: time.Now(),
	}
}

func withExternal(meta map[string]any) map[string]any {
	out := cloneMeta(meta)
	out["external"] = true
	return out
}

func withBackground(meta map[string]any) map[string]any {
	out := cloneMeta(meta)
	out["background"] = true
	return out
}

func cloneMeta(meta map[string]any) map[string]any {
	out := make(map[string]any, len(meta)+1)
	for k, v := range meta {
		out[k] = v
	}
	return out
}
