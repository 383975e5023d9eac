package workflows

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-logr/logr"

	"github.com/codemyspec/codemyspec/internal/environment"
	"github.com/codemyspec/codemyspec/internal/sessions"
)

// requiredDesignSections are the headings a design document must contain
// before the workflow treats it as satisfied.
var requiredDesignSections = []string{"## Purpose", "## Public API", "## Dependencies"}

// contextDesign produces and validates a component design document:
// generate_design runs the agent asynchronously, validate_design inspects
// the written file, and revise_design runs only when validation left the
// design unsatisfied in session state.
type contextDesign struct {
	generate *generateDesignStep
	validate *validateDesignStep
	revise   *reviseDesignStep
}

// NewContextDesign builds the context_design policy.
func NewContextDesign(envs environment.Provider, logger logr.Logger) sessions.Policy {
	logger = logger.WithName("context_design")
	return &contextDesign{
		generate: &generateDesignStep{},
		validate: &validateDesignStep{envs: envs, logger: logger},
		revise:   &reviseDesignStep{envs: envs},
	}
}

func (p *contextDesign) Name() string { return "context_design" }

func (p *contextDesign) Steps() []sessions.Step {
	return []sessions.Step{p.generate, p.validate, p.revise}
}

func (p *contextDesign) NextStep(session *sessions.Session) (sessions.Step, error) {
	done := session.CompletedSteps()
	switch {
	case !done[p.generate.Name()]:
		return p.generate, nil
	case !done[p.validate.Name()]:
		return p.validate, nil
	case session.State["design_satisfied"] != true && !done[p.revise.Name()]:
		return p.revise, nil
	}
	return nil, sessions.ErrSessionComplete
}

func (p *contextDesign) Complete(session *sessions.Session) bool {
	_, err := p.NextStep(session)
	return err != nil
}

type generateDesignStep struct{}

func (s *generateDesignStep) Name() string { return "generate_design" }

func (s *generateDesignStep) GetCommand(ctx context.Context, scope sessions.Scope, session *sessions.Session, opts sessions.Options) (sessions.Command, error) {
	component := componentName(session)
	path := statePath(session, "design_file", "docs/design/%s.md")

	prompt := fmt.Sprintf(
		"Write a design document for the %s component at %s. Include the sections %s.",
		component, path, strings.Join(requiredDesignSections, ", "))
	if req, ok := session.State["requirements"].(string); ok && req != "" {
		prompt += " Requirements: " + req
	}

	return sessions.Command{
		Strategy: sessions.StrategyAsync,
		Command:  agentCommand(session, prompt),
		Metadata: map[string]any{"design_file": path},
	}, nil
}

func (s *generateDesignStep) HandleResult(ctx context.Context, scope sessions.Scope, session *sessions.Session, interaction *sessions.Interaction) (sessions.SessionUpdate, error) {
	if interaction.Result.Status != sessions.ResultOK {
		return sessions.SessionUpdate{}, nil
	}
	return sessions.SessionUpdate{
		State: map[string]any{
			"design_file":  interaction.Command.Metadata["design_file"],
			"generated_at": time.Now().UTC().Format(time.RFC3339),
		},
	}, nil
}

type validateDesignStep struct {
	envs   environment.Provider
	logger logr.Logger
}

func (s *validateDesignStep) Name() string { return "validate_design" }

func (s *validateDesignStep) GetCommand(ctx context.Context, scope sessions.Scope, session *sessions.Session, opts sessions.Options) (sessions.Command, error) {
	path := statePath(session, "design_file", "docs/design/%s.md")
	return sessions.Command{
		Strategy: sessions.StrategySync,
		Command:  fmt.Sprintf("test -s %s", shellQuote(path)),
		Metadata: map[string]any{"design_file": path},
	}, nil
}

// HandleResult reads the design document back and records whether every
// required section is present. An unsatisfied design routes the workflow to
// revise_design; a satisfied one finishes it.
func (s *validateDesignStep) HandleResult(ctx context.Context, scope sessions.Scope, session *sessions.Session, interaction *sessions.Interaction) (sessions.SessionUpdate, error) {
	path := statePath(session, "design_file", "docs/design/%s.md")

	satisfied := interaction.Result.Status == sessions.ResultOK
	var missing []string
	if satisfied {
		env, err := s.envs.Environment(session.Environment)
		if err != nil {
			return sessions.SessionUpdate{}, err
		}
		content, err := env.ReadFile(ctx, path)
		if err != nil {
			return sessions.SessionUpdate{}, err
		}
		for _, section := range requiredDesignSections {
			if !strings.Contains(string(content), section) {
				missing = append(missing, section)
			}
		}
		satisfied = len(missing) == 0
	}

	update := sessions.SessionUpdate{State: map[string]any{"design_satisfied": satisfied}}
	if satisfied {
		done := sessions.StatusComplete
		update.Status = &done
	} else {
		s.logger.Info("design unsatisfied, revision required",
			"session", session.ID, "missing_sections", missing)
		update.State["missing_sections"] = missing
	}
	return update, nil
}

type reviseDesignStep struct {
	envs environment.Provider
}

func (s *reviseDesignStep) Name() string { return "revise_design" }

func (s *reviseDesignStep) GetCommand(ctx context.Context, scope sessions.Scope, session *sessions.Session, opts sessions.Options) (sessions.Command, error) {
	path := statePath(session, "design_file", "docs/design/%s.md")

	prompt := fmt.Sprintf("Revise the design document at %s.", path)
	if missing, ok := session.State["missing_sections"].([]any); ok && len(missing) > 0 {
		parts := make([]string, 0, len(missing))
		for _, m := range missing {
			parts = append(parts, fmt.Sprint(m))
		}
		prompt += " Add the missing sections: " + strings.Join(parts, ", ") + "."
	}

	return sessions.Command{
		Strategy: sessions.StrategyAsync,
		Command:  agentCommand(session, prompt),
		Metadata: map[string]any{"design_file": path},
	}, nil
}

func (s *reviseDesignStep) HandleResult(ctx context.Context, scope sessions.Scope, session *sessions.Session, interaction *sessions.Interaction) (sessions.SessionUpdate, error) {
	if interaction.Result.Status != sessions.ResultOK {
		return sessions.SessionUpdate{}, nil
	}
	env, err := s.envs.Environment(session.Environment)
	if err != nil {
		return sessions.SessionUpdate{}, err
	}
	path := statePath(session, "design_file", "docs/design/%s.md")
	exists, err := env.FileExists(ctx, path)
	if err != nil {
		return sessions.SessionUpdate{}, err
	}
	if !exists {
		return sessions.SessionUpdate{}, nil
	}
	done := sessions.StatusComplete
	return sessions.SessionUpdate{
		State:  map[string]any{"design_satisfied": true},
		Status: &done,
	}, nil
}
