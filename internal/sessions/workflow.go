package sessions

import (
	"context"
	"fmt"

	"github.com/stoewer/go-strcase"

	"github.com/codemyspec/codemyspec/internal/apperrors"
)

// ErrSessionComplete is returned by a policy when every step has finished.
var ErrSessionComplete = apperrors.New(apperrors.ErrCodeSessionComplete, "workflow already complete", nil)

// Options carries caller-supplied hints through NextCommand to the step.
type Options map[string]any

// SessionUpdate is what a step's HandleResult contributes back to the
// session: state entries merged into the state map and an optional status
// transition.
type SessionUpdate struct {
	State  map[string]any
	Status *Status
}

// Step is one unit of workflow logic: it builds the command for its stage
// and interprets the result that comes back.
type Step interface {
	// Name identifies the step; it is persisted on commands and used to
	// route result handling, so it must be stable.
	Name() string

	// GetCommand builds the command to run for this step.
	GetCommand(ctx context.Context, scope Scope, session *Session, opts Options) (Command, error)

	// HandleResult reacts to the completed interaction, returning session
	// updates to apply in the same transaction.
	HandleResult(ctx context.Context, scope Scope, session *Session, interaction *Interaction) (SessionUpdate, error)
}

// Policy selects the ordered steps for one workflow type.
type Policy interface {
	// Name is the workflow-type tag sessions are created with.
	Name() string

	// Steps lists the policy's steps in nominal order.
	Steps() []Step

	// NextStep returns the next step to run, or ErrSessionComplete when the
	// workflow has nothing left to do.
	NextStep(session *Session) (Step, error)

	// Complete reports whether the session's workflow has finished.
	Complete(session *Session) bool
}

// Registry maps workflow-type tags to policies and step names to steps. It
// is the static allow-list that lets module names round-trip through
// persistence.
type Registry struct {
	policies map[string]Policy
	steps    map[string]Step
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		policies: make(map[string]Policy),
		steps:    make(map[string]Step),
	}
}

// Register adds a policy and all of its steps. Tags and step names are
// normalized to snake_case. Registering a duplicate tag or step name panics:
// the registry is assembled once at startup and a collision is a wiring bug.
func (r *Registry) Register(policy Policy) {
	tag := strcase.SnakeCase(policy.Name())
	if _, exists := r.policies[tag]; exists {
		panic(fmt.Sprintf("workflow type already registered: %s", tag))
	}
	r.policies[tag] = policy

	for _, step := range policy.Steps() {
		name := strcase.SnakeCase(step.Name())
		if existing, exists := r.steps[name]; exists && existing != step {
			panic(fmt.Sprintf("step already registered: %s", name))
		}
		r.steps[name] = step
	}
}

// Policy resolves a workflow-type tag.
func (r *Registry) Policy(tag string) (Policy, error) {
	policy, ok := r.policies[strcase.SnakeCase(tag)]
	if !ok {
		return nil, apperrors.New(apperrors.ErrCodeUnknownWorkflowType,
			fmt.Sprintf("unknown workflow type: %s", tag), nil)
	}
	return policy, nil
}

// Step resolves a persisted step name back to its implementation.
func (r *Registry) Step(name string) (Step, error) {
	step, ok := r.steps[strcase.SnakeCase(name)]
	if !ok {
		return nil, apperrors.New(apperrors.ErrCodeUnknownStep,
			fmt.Sprintf("unknown step: %s", name), nil)
	}
	return step, nil
}

// WorkflowTypes lists the registered workflow-type tags.
func (r *Registry) WorkflowTypes() []string {
	out := make([]string, 0, len(r.policies))
	for tag := range r.policies {
		out = append(out, tag)
	}
	return out
}

// StepSequence is the common sequential policy: steps run in order and a
// step is consumed once any interaction for it has completed. Re-running a
// failed step goes through regeneration, not through the sequence. Policies
// with branching logic embed it and override NextStep.
type StepSequence struct {
	Tag      string
	Sequence []Step
}

func (p *StepSequence) Name() string  { return p.Tag }
func (p *StepSequence) Steps() []Step { return p.Sequence }

func (p *StepSequence) NextStep(session *Session) (Step, error) {
	done := session.CompletedSteps()
	for _, step := range p.Sequence {
		if !done[strcase.SnakeCase(step.Name())] && !done[step.Name()] {
			return step, nil
		}
	}
	return nil, ErrSessionComplete
}

func (p *StepSequence) Complete(session *Session) bool {
	_, err := p.NextStep(session)
	return err != nil
}
