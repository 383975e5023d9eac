// Package sessions implements the session orchestration core: the session
// aggregate and its interaction history, the workflow policy registry, the
// orchestrator that materializes the next unit of work, the executor that
// runs it, the per-session server that owns in-flight execution, and the
// result/event handlers that persist outcomes.
package sessions

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusActive    Status = "active"
	StatusComplete  Status = "complete"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further work may be scheduled on the session.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusFailed || s == StatusCancelled
}

// ParseStatus validates a status string from event data.
func ParseStatus(raw string) (Status, bool) {
	switch Status(raw) {
	case StatusActive, StatusComplete, StatusFailed, StatusCancelled:
		return Status(raw), true
	}
	return "", false
}

// ExecutionMode controls whether workflow continuation needs a caller.
type ExecutionMode string

const (
	ModeManual  ExecutionMode = "manual"
	ModeAuto    ExecutionMode = "auto"
	ModeAgentic ExecutionMode = "agentic"
)

// ExecutionStrategy is how a command resolves to a result.
type ExecutionStrategy string

const (
	StrategySync  ExecutionStrategy = "sync"
	StrategyTask  ExecutionStrategy = "task"
	StrategyAsync ExecutionStrategy = "async"
)

// ResultStatus classifies an execution result.
type ResultStatus string

const (
	ResultOK      ResultStatus = "ok"
	ResultPending ResultStatus = "pending"
	ResultError   ResultStatus = "error"
	ResultWarning ResultStatus = "warning"
)

// Scope identifies the tenant boundary every read and write is checked
// against.
type Scope struct {
	AccountID string
	UserID    string
	ProjectID string
}

// Command is the immutable description of one unit of agent work. Module
// names the step that produced it and routes result handling back to it.
type Command struct {
	Module   string         `gorm:"column:module;not null" json:"module"`
	Strategy ExecutionStrategy `gorm:"column:strategy;not null" json:"strategy"`
	Command  string         `gorm:"column:command;not null" json:"command"`
	Metadata map[string]any `gorm:"column:metadata;serializer:json" json:"metadata,omitempty"`
	IssuedAt time.Time      `gorm:"column:issued_at" json:"issued_at"`
}

// Result is the immutable outcome attached to an interaction on completion.
type Result struct {
	Status     ResultStatus   `json:"status"`
	Data       map[string]any `json:"data,omitempty"`
	ExitCode   *int           `json:"exit_code,omitempty"`
	Error      string         `json:"error,omitempty"`
	Stdout     string         `json:"stdout,omitempty"`
	Stderr     string         `json:"stderr,omitempty"`
	DurationMS int64          `json:"duration_ms,omitempty"`
	RecordedAt time.Time      `json:"recorded_at"`
}

// Interaction is one command/result pair within a session's history. It is
// pending until a result is attached; after that it is never mutated.
type Interaction struct {
	ID          string     `gorm:"primaryKey" json:"id"`
	SessionID   string     `gorm:"index;not null" json:"session_id"`
	Command     Command    `gorm:"embedded;embeddedPrefix:command_" json:"command"`
	Result      *Result    `gorm:"serializer:json" json:"result,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Pending reports whether the interaction still awaits its result.
func (i *Interaction) Pending() bool {
	return i.Result == nil
}

// Completed reports whether a result has been attached.
func (i *Interaction) Completed() bool {
	return i.Result != nil
}

// Session is the aggregate root for one run of a multi-step agent workflow.
// Interactions are loaded most-recent-first.
type Session struct {
	ID             string         `gorm:"primaryKey" json:"id"`
	AccountID      string         `gorm:"index;not null" json:"account_id"`
	UserID         string         `gorm:"index;not null" json:"user_id"`
	ProjectID      string         `gorm:"index" json:"project_id,omitempty"`
	WorkflowType   string         `gorm:"index;not null" json:"workflow_type"`
	Agent          string         `json:"agent,omitempty"`
	Environment    string         `json:"environment,omitempty"`
	ExecutionMode  ExecutionMode  `gorm:"not null;default:manual" json:"execution_mode"`
	Status         Status         `gorm:"index;not null;default:active" json:"status"`
	State          map[string]any `gorm:"serializer:json" json:"state,omitempty"`
	ConversationID string         `json:"conversation_id,omitempty"`
	ParentID       *string        `gorm:"index" json:"parent_id,omitempty"`
	Interactions   []Interaction  `gorm:"foreignKey:SessionID" json:"interactions,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// PendingInteraction returns the session's pending interaction, if any. The
// invariant is that at most one exists.
func (s *Session) PendingInteraction() *Interaction {
	for i := range s.Interactions {
		if s.Interactions[i].Pending() {
			return &s.Interactions[i]
		}
	}
	return nil
}

// CompletedSteps returns the set of step modules with an attached result,
// whatever its status. A failed step is consumed, not re-issued: the verdict
// lands in session state and downstream steps react to it.
func (s *Session) CompletedSteps() map[string]bool {
	done := make(map[string]bool)
	for i := range s.Interactions {
		in := &s.Interactions[i]
		if in.Completed() {
			done[in.Command.Module] = true
		}
	}
	return done
}

// NewID allocates an identity for sessions, interactions and events.
func NewID() string {
	return uuid.NewString()
}
