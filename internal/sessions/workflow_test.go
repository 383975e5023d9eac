package sessions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codemyspec/codemyspec/internal/apperrors"
)

func TestRegistry_PolicyLookup_NormalizesTag(t *testing.T) {
	registry := newTestRegistry()

	policy, err := registry.Policy("build_widget")
	require.NoError(t, err)
	assert.Equal(t, "build_widget", policy.Name())

	// Tags round-trip through snake_case normalization.
	policy, err = registry.Policy("BuildWidget")
	require.NoError(t, err)
	assert.Equal(t, "build_widget", policy.Name())
}

func TestRegistry_PolicyLookup_Unknown(t *testing.T) {
	registry := newTestRegistry()

	_, err := registry.Policy("no_such_workflow")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeUnknownWorkflowType, apperrors.Code(err))
}

func TestRegistry_StepLookup(t *testing.T) {
	registry := newTestRegistry()

	step, err := registry.Step("prepare")
	require.NoError(t, err)
	assert.Equal(t, "prepare", step.Name())

	_, err = registry.Step("no_such_step")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeUnknownStep, apperrors.Code(err))
}

func TestRegistry_Register_DuplicateTagPanics(t *testing.T) {
	registry := newTestRegistry()

	assert.Panics(t, func() {
		registry.Register(&StepSequence{Tag: "build_widget"})
	})
}

func TestRegistry_WorkflowTypes(t *testing.T) {
	registry := newTestRegistry()
	assert.Equal(t, []string{"build_widget"}, registry.WorkflowTypes())
}

func TestStepSequence_NextStep_Progression(t *testing.T) {
	prepare := &stubStep{name: "prepare"}
	assemble := &stubStep{name: "assemble"}
	policy := &StepSequence{Tag: "build_widget", Sequence: []Step{prepare, assemble}}

	session := &Session{}
	step, err := policy.NextStep(session)
	require.NoError(t, err)
	assert.Equal(t, "prepare", step.Name())
	assert.False(t, policy.Complete(session))

	result := Result{Status: ResultOK}
	session.Interactions = []Interaction{{
		Command: Command{Module: "prepare"},
		Result:  &result,
	}}
	step, err = policy.NextStep(session)
	require.NoError(t, err)
	assert.Equal(t, "assemble", step.Name())

	session.Interactions = append(session.Interactions, Interaction{
		Command: Command{Module: "assemble"},
		Result:  &result,
	})
	_, err = policy.NextStep(session)
	require.ErrorIs(t, err, ErrSessionComplete)
	assert.True(t, policy.Complete(session))
}

func TestStepSequence_NextStep_FailedStepConsumed(t *testing.T) {
	prepare := &stubStep{name: "prepare"}
	assemble := &stubStep{name: "assemble"}
	policy := &StepSequence{Tag: "build_widget", Sequence: []Step{prepare, assemble}}

	failed := Result{Status: ResultError}
	session := &Session{Interactions: []Interaction{{
		Command: Command{Module: "prepare"},
		Result:  &failed,
	}}}

	// A completed interaction consumes its step whatever the result status;
	// re-issuing "prepare" here would loop the sequence forever.
	step, err := policy.NextStep(session)
	require.NoError(t, err)
	assert.Equal(t, "assemble", step.Name())
}

func TestStepSequence_NextStep_PendingStepNotConsumed(t *testing.T) {
	prepare := &stubStep{name: "prepare"}
	assemble := &stubStep{name: "assemble"}
	policy := &StepSequence{Tag: "build_widget", Sequence: []Step{prepare, assemble}}

	session := &Session{Interactions: []Interaction{{
		Command: Command{Module: "prepare"},
	}}}

	step, err := policy.NextStep(session)
	require.NoError(t, err)
	assert.Equal(t, "prepare", step.Name())
}
