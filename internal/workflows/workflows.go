// Package workflows holds the concrete workflow policies and steps: context
// design and component coding. Policies are registered once at startup and
// looked up by workflow-type tag when sessions resolve their next command.
package workflows

import (
	"fmt"
	"strings"

	"github.com/go-logr/logr"
	"github.com/stoewer/go-strcase"

	"github.com/codemyspec/codemyspec/internal/environment"
	"github.com/codemyspec/codemyspec/internal/sessions"
)

// Register wires both built-in policies into the registry. Steps resolve
// their session's environment through the provider when they need to inspect
// generated artifacts.
func Register(reg *sessions.Registry, envs environment.Provider, logger logr.Logger) {
	reg.Register(NewContextDesign(envs, logger))
	reg.Register(NewComponentCoding(envs, logger))
}

// agentCommand builds the shell invocation that hands a prompt to the
// session's agent in non-interactive mode.
func agentCommand(session *sessions.Session, prompt string) string {
	return fmt.Sprintf("%s -p %s", session.Agent, shellQuote(prompt))
}

// shellQuote single-quotes s for use inside a bash -c command line.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// componentName returns the session's target component, falling back to the
// session id so generated paths stay unique.
func componentName(session *sessions.Session) string {
	if v, ok := session.State["component"].(string); ok && v != "" {
		return v
	}
	return session.ID
}

// statePath returns the state entry at key, or def rendered with the
// snake_cased component name when unset.
func statePath(session *sessions.Session, key, def string) string {
	if v, ok := session.State[key].(string); ok && v != "" {
		return v
	}
	return fmt.Sprintf(def, strcase.SnakeCase(componentName(session)))
}
