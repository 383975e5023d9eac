package sessions

import (
	"context"
	"errors"
	"time"

	"github.com/go-logr/logr"
	"gorm.io/gorm"

	"github.com/codemyspec/codemyspec/internal/apperrors"
)

// Store is the gorm-backed repository for sessions, interactions and events.
// Every read is filtered by the caller's scope.
type Store struct {
	db     *gorm.DB
	logger logr.Logger
}

// NewStore creates a store over db.
func NewStore(db *gorm.DB, logger logr.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// Migrate creates or updates the schema for the session tables.
func (s *Store) Migrate() error {
	return s.db.AutoMigrate(&Session{}, &Interaction{}, &SessionEvent{})
}

// Transaction runs fn against a store bound to a single database
// transaction, rolling back every write when fn returns an error.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx, logger: s.logger})
	})
}

func (s *Store) scoped(ctx context.Context, scope Scope) *gorm.DB {
	q := s.db.WithContext(ctx).Where("account_id = ?", scope.AccountID)
	if scope.UserID != "" {
		q = q.Where("user_id = ?", scope.UserID)
	}
	if scope.ProjectID != "" {
		q = q.Where("project_id = ?", scope.ProjectID)
	}
	return q
}

// CreateSession persists a new session, allocating an id when absent.
func (s *Store) CreateSession(ctx context.Context, scope Scope, session *Session) error {
	if session.ID == "" {
		session.ID = NewID()
	}
	session.AccountID = scope.AccountID
	session.UserID = scope.UserID
	if session.ProjectID == "" {
		session.ProjectID = scope.ProjectID
	}
	if session.Status == "" {
		session.Status = StatusActive
	}
	if session.ExecutionMode == "" {
		session.ExecutionMode = ModeManual
	}
	return s.db.WithContext(ctx).Create(session).Error
}

// GetSession loads a session in scope with its interaction history,
// most-recent-first.
func (s *Store) GetSession(ctx context.Context, scope Scope, sessionID string) (*Session, error) {
	var session Session
	err := s.scoped(ctx, scope).
		Preload("Interactions", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at DESC, id DESC")
		}).
		First(&session, "id = ?", sessionID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.New(apperrors.ErrCodeSessionNotFound, "session not found", nil)
		}
		return nil, err
	}
	return &session, nil
}

// ListSessions returns the scope's sessions, optionally filtered by status,
// newest first. Interaction histories are not loaded.
func (s *Store) ListSessions(ctx context.Context, scope Scope, status Status) ([]Session, error) {
	q := s.scoped(ctx, scope).Order("created_at DESC")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var out []Session
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateSession persists the named fields of session.
func (s *Store) UpdateSession(ctx context.Context, session *Session, fields ...string) error {
	if len(fields) == 0 {
		return nil
	}
	session.UpdatedAt = time.Now()
	fields = append(fields, "updated_at")
	return s.db.WithContext(ctx).Model(session).Select(fields).Updates(session).Error
}

// CreateInteraction appends a new pending interaction to a session.
func (s *Store) CreateInteraction(ctx context.Context, interaction *Interaction) error {
	if interaction.ID == "" {
		interaction.ID = NewID()
	}
	return s.db.WithContext(ctx).Create(interaction).Error
}

// GetInteraction loads one interaction of a session in scope.
func (s *Store) GetInteraction(ctx context.Context, scope Scope, sessionID, interactionID string) (*Interaction, error) {
	if _, err := s.GetSession(ctx, scope, sessionID); err != nil {
		return nil, err
	}
	var interaction Interaction
	err := s.db.WithContext(ctx).
		First(&interaction, "id = ? AND session_id = ?", interactionID, sessionID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.New(apperrors.ErrCodeInteractionNotFound, "interaction not found", nil)
		}
		return nil, err
	}
	return &interaction, nil
}

// DeleteInteraction removes a pending interaction. Completed interactions
// are never deleted.
func (s *Store) DeleteInteraction(ctx context.Context, interactionID string) error {
	res := s.db.WithContext(ctx).
		Where("id = ? AND completed_at IS NULL", interactionID).
		Delete(&Interaction{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperrors.New(apperrors.ErrCodeInteractionNotFound, "pending interaction not found", nil)
	}
	return nil
}

// CompleteInteraction attaches result to a pending interaction and stamps
// completed_at. A result, once attached, is never replaced.
func (s *Store) CompleteInteraction(ctx context.Context, interaction *Interaction, result Result) error {
	if result.RecordedAt.IsZero() {
		result.RecordedAt = time.Now()
	}
	now := time.Now()
	interaction.Result = &result
	interaction.CompletedAt = &now

	// The guard on completed_at enforces write-once results at the row level.
	update := s.db.WithContext(ctx).Model(interaction).
		Where("completed_at IS NULL").
		Select("Result", "CompletedAt").
		Updates(interaction)
	if update.Error != nil {
		return update.Error
	}
	if update.RowsAffected == 0 {
		interaction.Result = nil
		interaction.CompletedAt = nil
		return apperrors.New(apperrors.ErrCodeValidationFailed, "interaction already completed", nil)
	}
	return nil
}

// AppendEvents inserts a batch of events. Callers wrap this in a transaction
// when the batch must be all-or-nothing.
func (s *Store) AppendEvents(ctx context.Context, events []SessionEvent) error {
	for i := range events {
		if events[i].ID == "" {
			events[i].ID = NewID()
		}
	}
	return s.db.WithContext(ctx).Create(&events).Error
}

// ListEvents returns a page of a session's event log.
func (s *Store) ListEvents(ctx context.Context, scope Scope, sessionID string, query EventQuery) ([]SessionEvent, error) {
	if _, err := s.GetSession(ctx, scope, sessionID); err != nil {
		return nil, err
	}

	order := "sent_at ASC, id ASC"
	if query.Descending {
		order = "sent_at DESC, id DESC"
	}
	q := s.db.WithContext(ctx).Where("session_id = ?", sessionID).Order(order)
	if len(query.Types) > 0 {
		q = q.Where("type IN ?", query.Types)
	}
	if query.Limit > 0 {
		q = q.Limit(query.Limit)
	}
	if query.Offset > 0 {
		q = q.Offset(query.Offset)
	}

	var out []SessionEvent
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
