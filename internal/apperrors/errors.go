// Package apperrors defines coded application errors shared across the
// session orchestration components.
package apperrors

import (
	"errors"
	"fmt"
)

// AppError represents an application-level error with a code and optional cause
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is matches two AppErrors by code, so sentinel errors built with New can be
// compared with errors.Is regardless of message or cause.
func (e *AppError) Is(target error) bool {
	var other *AppError
	if !errors.As(target, &other) {
		return false
	}
	return e.Code == other.Code
}

// New creates a new AppError
func New(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// Code extracts the error code from err, or returns "" when err carries none.
func Code(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// HasCode reports whether err carries the given code anywhere in its chain.
func HasCode(err error, code string) bool {
	return Code(err) == code
}

// Error codes
const (
	ErrCodeSessionNotFound     = "SESSION_NOT_FOUND"
	ErrCodeInteractionNotFound = "INTERACTION_NOT_FOUND"
	ErrCodeSessionComplete     = "SESSION_COMPLETE"
	ErrCodeSessionFailed       = "SESSION_FAILED"
	ErrCodeSessionCancelled    = "SESSION_CANCELLED"
	ErrCodeExecutionInProgress = "EXECUTION_IN_PROGRESS"
	ErrCodeAsyncResultTimeout  = "ASYNC_RESULT_TIMEOUT"
	ErrCodeValidationFailed    = "VALIDATION_FAILED"
	ErrCodeInvalidStatus       = "INVALID_STATUS"
	ErrCodeUnknownWorkflowType = "UNKNOWN_WORKFLOW_TYPE"
	ErrCodeUnknownStep         = "UNKNOWN_STEP"
	ErrCodeEnvironmentFailed   = "ENVIRONMENT_FAILED"
	ErrCodeFileOperation       = "FILE_OPERATION_FAILED"
	ErrCodeSideEffectFailed    = "SIDE_EFFECT_FAILED"
)
