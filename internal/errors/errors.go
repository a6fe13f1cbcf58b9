// Package errors provides error code definitions shared across the sync engine.
package errors

import "fmt"

// ErrorCode identifies a class of failure so callers can branch on it
// without string matching.
type ErrorCode string

const (
	// General errors
	ErrInternal   ErrorCode = "INTERNAL_ERROR"
	ErrInvalid    ErrorCode = "INVALID_INPUT"
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrValidation ErrorCode = "VALIDATION_ERROR"

	// Local store errors. These represent data-loss risk and always
	// propagate to the caller.
	ErrStorage      ErrorCode = "STORAGE_ERROR"
	ErrStorageQuota ErrorCode = "STORAGE_QUOTA_EXCEEDED"
	ErrCorruption   ErrorCode = "STORAGE_CORRUPTED"
	ErrMigration    ErrorCode = "MIGRATION_FAILED"

	// Actor context errors
	ErrActorRequired ErrorCode = "ACTOR_CONTEXT_REQUIRED"

	// Sync errors
	ErrSyncInProgress   ErrorCode = "SYNC_IN_PROGRESS"
	ErrSyncFailed       ErrorCode = "SYNC_FAILED"
	ErrNoExecutor       ErrorCode = "NO_EXECUTOR_REGISTERED"
	ErrRetriesExhausted ErrorCode = "RETRIES_EXHAUSTED"

	// Network errors
	ErrTimeout ErrorCode = "TIMEOUT"
	ErrOffline ErrorCode = "OFFLINE"
)

// AppError represents an application error with code and message.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Is checks if an error is of a specific code.
func Is(err error, code ErrorCode) bool {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code == code
	}
	return false
}

// IsStorage reports whether the error is any of the fatal local-store codes.
func IsStorage(err error) bool {
	return Is(err, ErrStorage) || Is(err, ErrStorageQuota) || Is(err, ErrCorruption)
}
