// Package environment abstracts where and how agent commands run: a local
// shell, a spawned task, or an external agent whose result arrives later
// through a hook callback.
package environment

import (
	"context"
	"time"
)

// Spec describes one command to run.
type Spec struct {
	Command  string
	Dir      string
	Env      []string
	Metadata map[string]any
	Timeout  time.Duration
}

// Outcome is the raw execution outcome an environment reports. The Status
// field is always set.
type Outcome struct {
	Status   string
	ExitCode *int
	Stdout   string
	Stderr   string
	Error    string
	Data     map[string]any
	Duration time.Duration
}

const (
	StatusOK      = "ok"
	StatusError   = "error"
	StatusPending = "pending"
)

// Run is the shape of a started command. Exactly one of the three
// implementations is returned by RunCommand:
//
//   - Sync: the command already finished, Outcome is final.
//   - Task: the command runs in the background; Done yields one Outcome.
//   - Async: the command was handed to an external agent and its result is
//     delivered out-of-band, correlated by interaction id.
type Run interface {
	isRun()
}

// Sync carries an immediately available outcome.
type Sync struct {
	Outcome Outcome
}

// Task carries a channel resolved when the spawned command finishes.
type Task struct {
	Done <-chan Outcome
}

// Async marks an externally resolved command.
type Async struct{}

func (Sync) isRun()  {}
func (Task) isRun()  {}
func (Async) isRun() {}

// Environment is the file-system and process abstraction workflow steps and
// the executor depend on.
type Environment interface {
	// RunCommand starts spec and reports how its result will arrive.
	RunCommand(ctx context.Context, spec Spec, opts map[string]any) (Run, error)

	FileExists(ctx context.Context, path string) (bool, error)
	ReadFile(ctx context.Context, path string) ([]byte, error)
	WriteFile(ctx context.Context, path string, data []byte) error
}

// Provider resolves a named environment for a session.
type Provider interface {
	Environment(name string) (Environment, error)
}
