// Package errors provides error code definitions shared across the companion.
package errors

import "fmt"

// ErrorCode represents a unique error code that can be surfaced to API clients.
type ErrorCode string

const (
	// General errors
	ErrInternal   ErrorCode = "INTERNAL_ERROR"
	ErrInvalid    ErrorCode = "INVALID_INPUT"
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrValidation ErrorCode = "VALIDATION_ERROR"

	// Ledger errors
	ErrDuplicateID       ErrorCode = "DUPLICATE_ID"
	ErrInvalidTransition ErrorCode = "INVALID_TRANSITION"
	ErrDatabase          ErrorCode = "DATABASE_ERROR"
	ErrMigration         ErrorCode = "MIGRATION_FAILED"

	// Sync errors
	ErrAlreadyInProgress ErrorCode = "ALREADY_IN_PROGRESS"
	ErrNetwork           ErrorCode = "NETWORK_ERROR"
	ErrSyncNotConfigured ErrorCode = "SYNC_NOT_CONFIGURED"
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

// Is checks if an error carries a specific code.
func Is(err error, code ErrorCode) bool {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code == code
	}
	return false
}

// Code extracts the error code from an error, or ErrInternal for
// errors that did not originate as an AppError.
func Code(err error) ErrorCode {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code
	}
	return ErrInternal
}
