package sessions

import (
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/codemyspec/codemyspec/internal/apperrors"
)

// EventType identifies the kind of session activity event.
type EventType string

const (
	EventProxyRequest     EventType = "proxy_request"
	EventProxyResponse    EventType = "proxy_response"
	EventSessionStart     EventType = "session_start"
	EventNotificationHook EventType = "notification_hook"
	EventStopHook         EventType = "stop_hook"
	EventSubagentStopHook EventType = "subagent_stop_hook"
	EventToolUse          EventType = "tool_use"
	EventStatusChange     EventType = "status_change"
)

var knownEventTypes = map[EventType]bool{
	EventProxyRequest:     true,
	EventProxyResponse:    true,
	EventSessionStart:     true,
	EventNotificationHook: true,
	EventStopHook:         true,
	EventSubagentStopHook: true,
	EventToolUse:          true,
	EventStatusChange:     true,
}

// SessionEvent is one append-only activity log entry. Rows are write-once.
type SessionEvent struct {
	ID        string         `gorm:"primaryKey" json:"id"`
	SessionID string         `gorm:"index;not null" json:"session_id"`
	Type      EventType      `gorm:"index;not null" json:"type"`
	Data      map[string]any `gorm:"serializer:json" json:"data,omitempty"`
	Metadata  map[string]any `gorm:"serializer:json" json:"metadata,omitempty"`
	SentAt    time.Time      `gorm:"index;not null" json:"sent_at"`
	CreatedAt time.Time      `json:"created_at"`
}

// EventInput is the client-supplied shape of one event before validation.
type EventInput struct {
	Type     EventType      `json:"type"`
	Data     map[string]any `json:"data"`
	Metadata map[string]any `json:"metadata,omitempty"`
	SentAt   time.Time      `json:"sent_at"`
}

// Validate checks the required fields. Type must be one of the enumerated
// event types, SentAt must be set, and Data must be present.
func (in EventInput) Validate() error {
	var errs *multierror.Error
	if in.Type == "" {
		errs = multierror.Append(errs, apperrors.New(apperrors.ErrCodeValidationFailed, "type is required", nil))
	} else if !knownEventTypes[in.Type] {
		errs = multierror.Append(errs, apperrors.New(apperrors.ErrCodeValidationFailed,
			"unknown event type: "+string(in.Type), nil))
	}
	if in.SentAt.IsZero() {
		errs = multierror.Append(errs, apperrors.New(apperrors.ErrCodeValidationFailed, "sent_at is required", nil))
	}
	if in.Data == nil {
		errs = multierror.Append(errs, apperrors.New(apperrors.ErrCodeValidationFailed, "data is required", nil))
	}
	return errs.ErrorOrNil()
}

// EventQuery selects a page of a session's event log.
type EventQuery struct {
	Types      []EventType
	Limit      int
	Offset     int
	Descending bool
}
