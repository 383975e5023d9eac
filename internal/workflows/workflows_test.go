package workflows

import (
	"context"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codemyspec/codemyspec/internal/environment"
	"github.com/codemyspec/codemyspec/internal/sessions"
)

func newProvider(t *testing.T) (environment.Provider, environment.Environment) {
	t.Helper()
	env := environment.NewLocal(t.TempDir(), logr.Discard())
	return environment.NewStaticProvider(map[string]environment.Environment{"local": env}), env
}

func designSession(state map[string]any) *sessions.Session {
	return &sessions.Session{
		ID:           "sess-1",
		WorkflowType: "context_design",
		Agent:        "claude",
		Environment:  "local",
		State:        state,
	}
}

func completed(module string, status sessions.ResultStatus) sessions.Interaction {
	result := sessions.Result{Status: status}
	return sessions.Interaction{
		Command: sessions.Command{Module: module},
		Result:  &result,
	}
}

func TestRegister_RegistersBothWorkflowTypes(t *testing.T) {
	registry := sessions.NewRegistry()
	provider, _ := newProvider(t)
	Register(registry, provider, logr.Discard())

	for _, tag := range []string{"context_design", "component_coding"} {
		_, err := registry.Policy(tag)
		require.NoError(t, err, tag)
	}
	assert.ElementsMatch(t, []string{"context_design", "component_coding"}, registry.WorkflowTypes())
}

func TestContextDesign_NextStep_Order(t *testing.T) {
	provider, _ := newProvider(t)
	policy := NewContextDesign(provider, logr.Discard())

	session := designSession(nil)
	step, err := policy.NextStep(session)
	require.NoError(t, err)
	assert.Equal(t, "generate_design", step.Name())

	session.Interactions = []sessions.Interaction{completed("generate_design", sessions.ResultOK)}
	step, err = policy.NextStep(session)
	require.NoError(t, err)
	assert.Equal(t, "validate_design", step.Name())
}

func TestContextDesign_NextStep_ReviseOnlyWhenUnsatisfied(t *testing.T) {
	provider, _ := newProvider(t)
	policy := NewContextDesign(provider, logr.Discard())

	history := []sessions.Interaction{
		completed("generate_design", sessions.ResultOK),
		completed("validate_design", sessions.ResultOK),
	}

	unsatisfied := designSession(map[string]any{"design_satisfied": false})
	unsatisfied.Interactions = history
	step, err := policy.NextStep(unsatisfied)
	require.NoError(t, err)
	assert.Equal(t, "revise_design", step.Name())

	satisfied := designSession(map[string]any{"design_satisfied": true})
	satisfied.Interactions = history
	_, err = policy.NextStep(satisfied)
	require.ErrorIs(t, err, sessions.ErrSessionComplete)
	assert.True(t, policy.Complete(satisfied))
}

func TestGenerateDesign_GetCommand(t *testing.T) {
	provider, _ := newProvider(t)
	policy := NewContextDesign(provider, logr.Discard())
	session := designSession(map[string]any{"component": "UserStore"})

	step, err := policy.NextStep(session)
	require.NoError(t, err)
	command, err := step.GetCommand(context.Background(), sessions.Scope{}, session, nil)
	require.NoError(t, err)

	assert.Equal(t, sessions.StrategyAsync, command.Strategy)
	assert.Contains(t, command.Command, "claude -p")
	assert.Contains(t, command.Command, "UserStore")
	assert.Equal(t, "docs/design/user_store.md", command.Metadata["design_file"])
}

func TestValidateDesign_HandleResult(t *testing.T) {
	provider, env := newProvider(t)
	policy := NewContextDesign(provider, logr.Discard())
	ctx := context.Background()

	require.NoError(t, env.WriteFile(ctx, "docs/design/user_store.md",
		[]byte("## Purpose\nx\n## Public API\ny\n## Dependencies\nz\n")))

	session := designSession(map[string]any{"component": "UserStore"})
	session.Interactions = []sessions.Interaction{completed("generate_design", sessions.ResultOK)}

	step, err := policy.NextStep(session)
	require.NoError(t, err)
	require.Equal(t, "validate_design", step.Name())

	interaction := completed("validate_design", sessions.ResultOK)
	update, err := step.HandleResult(ctx, sessions.Scope{}, session, &interaction)
	require.NoError(t, err)

	assert.Equal(t, true, update.State["design_satisfied"])
	require.NotNil(t, update.Status)
	assert.Equal(t, sessions.StatusComplete, *update.Status)
}

func TestValidateDesign_HandleResult_MissingSections(t *testing.T) {
	provider, env := newProvider(t)
	policy := NewContextDesign(provider, logr.Discard())
	ctx := context.Background()

	require.NoError(t, env.WriteFile(ctx, "docs/design/user_store.md", []byte("## Purpose\nonly\n")))

	session := designSession(map[string]any{"component": "UserStore"})
	session.Interactions = []sessions.Interaction{completed("generate_design", sessions.ResultOK)}

	step, err := policy.NextStep(session)
	require.NoError(t, err)

	interaction := completed("validate_design", sessions.ResultOK)
	update, err := step.HandleResult(ctx, sessions.Scope{}, session, &interaction)
	require.NoError(t, err)

	assert.Equal(t, false, update.State["design_satisfied"])
	assert.Nil(t, update.Status)
	assert.NotEmpty(t, update.State["missing_sections"])
}

func TestContextDesign_NextStep_FailedValidationRoutesToRevise(t *testing.T) {
	provider, _ := newProvider(t)
	policy := NewContextDesign(provider, logr.Discard())

	// validate_design completing with an error (missing file) still consumes
	// the step; the workflow moves on to revision instead of re-validating.
	session := designSession(map[string]any{"design_satisfied": false})
	session.Interactions = []sessions.Interaction{
		completed("generate_design", sessions.ResultOK),
		completed("validate_design", sessions.ResultError),
	}

	step, err := policy.NextStep(session)
	require.NoError(t, err)
	assert.Equal(t, "revise_design", step.Name())
}

func TestComponentCoding_NextStep_RedSuiteReachesReview(t *testing.T) {
	provider, _ := newProvider(t)
	policy := NewComponentCoding(provider, logr.Discard())

	session := &sessions.Session{
		ID:          "sess-1",
		Agent:       "claude",
		Environment: "local",
		State:       map[string]any{"tests_passed": false},
		Interactions: []sessions.Interaction{
			completed("generate_tests", sessions.ResultOK),
			completed("implement_component", sessions.ResultOK),
			completed("run_tests", sessions.ResultError),
		},
	}

	step, err := policy.NextStep(session)
	require.NoError(t, err)
	require.Equal(t, "review_component", step.Name())

	command, err := step.GetCommand(context.Background(), sessions.Scope{}, session, nil)
	require.NoError(t, err)
	assert.Contains(t, command.Command, "The test suite is failing")
}

func TestComponentCoding_StepOrderAndStrategies(t *testing.T) {
	provider, _ := newProvider(t)
	policy := NewComponentCoding(provider, logr.Discard())

	steps := policy.Steps()
	require.Len(t, steps, 4)
	assert.Equal(t, "generate_tests", steps[0].Name())
	assert.Equal(t, "implement_component", steps[1].Name())
	assert.Equal(t, "run_tests", steps[2].Name())
	assert.Equal(t, "review_component", steps[3].Name())
}

func TestRunTests_GetCommand_UsesSessionState(t *testing.T) {
	provider, _ := newProvider(t)
	policy := NewComponentCoding(provider, logr.Discard())
	session := &sessions.Session{
		ID:          "sess-1",
		Agent:       "claude",
		Environment: "local",
		State: map[string]any{
			"component":    "UserStore",
			"test_command": "mix test --color",
			"test_file":    "test/user_store_test.exs",
		},
	}

	step := policy.Steps()[2]
	command, err := step.GetCommand(context.Background(), sessions.Scope{}, session, nil)
	require.NoError(t, err)

	assert.Equal(t, sessions.StrategyTask, command.Strategy)
	assert.Contains(t, command.Command, "mix test --color")
	assert.Contains(t, command.Command, "test/user_store_test.exs")
}

func TestRunTests_HandleResult_RecordsVerdict(t *testing.T) {
	provider, _ := newProvider(t)
	policy := NewComponentCoding(provider, logr.Discard())
	session := &sessions.Session{ID: "sess-1", Environment: "local"}

	step := policy.Steps()[2]

	failed := completed("run_tests", sessions.ResultError)
	update, err := step.HandleResult(context.Background(), sessions.Scope{}, session, &failed)
	require.NoError(t, err)
	assert.Equal(t, false, update.State["tests_passed"])
	assert.Nil(t, update.Status)

	passed := completed("run_tests", sessions.ResultOK)
	update, err = step.HandleResult(context.Background(), sessions.Scope{}, session, &passed)
	require.NoError(t, err)
	assert.Equal(t, true, update.State["tests_passed"])
}

func TestReviewComponent_HandleResult_CompletesSession(t *testing.T) {
	provider, _ := newProvider(t)
	policy := NewComponentCoding(provider, logr.Discard())
	session := &sessions.Session{ID: "sess-1", Environment: "local"}

	step := policy.Steps()[3]
	interaction := completed("review_component", sessions.ResultOK)
	update, err := step.HandleResult(context.Background(), sessions.Scope{}, session, &interaction)
	require.NoError(t, err)

	require.NotNil(t, update.Status)
	assert.Equal(t, sessions.StatusComplete, *update.Status)
}

func TestShellQuote_EscapesSingleQuotes(t *testing.T) {
	quoted := shellQuote("it's a prompt")
	assert.Equal(t, `'it'\''s a prompt'`, quoted)
}
