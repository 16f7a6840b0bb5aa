// Package errors provides error code definitions shared by the CLI, HTTP and FFI boundaries.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a unique error code that can be bridged to the UI shell.
type ErrorCode string

const (
	// General errors
	ErrInternal   ErrorCode = "INTERNAL_ERROR"
	ErrInvalid    ErrorCode = "INVALID_INPUT"
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrValidation ErrorCode = "VALIDATION_ERROR"
	ErrConfig     ErrorCode = "CONFIG_ERROR"

	// Database errors
	ErrDatabase  ErrorCode = "DATABASE_ERROR"
	ErrMigration ErrorCode = "MIGRATION_FAILED"

	// Sync errors
	ErrSyncNotConfigured     ErrorCode = "SYNC_NOT_CONFIGURED"
	ErrSyncFailed            ErrorCode = "SYNC_FAILED"
	ErrSyncOffline           ErrorCode = "SYNC_OFFLINE"
	ErrSyncTimeout           ErrorCode = "SYNC_TIMEOUT"
	ErrSyncAuthFailed        ErrorCode = "SYNC_AUTH_FAILED"
	ErrSyncRejected          ErrorCode = "SYNC_REJECTED"
	ErrAdapterNotRegistered  ErrorCode = "ADAPTER_NOT_REGISTERED"
	ErrRetriesExhausted      ErrorCode = "RETRIES_EXHAUSTED"
	ErrServiceNotInitialized ErrorCode = "SERVICE_NOT_INITIALIZED"
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

// Newf creates a new AppError with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *AppError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Is checks if err, or any error it wraps, carries the given code.
func Is(err error, code ErrorCode) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// CodeOf returns the code of the outermost AppError in err's chain,
// or ErrInternal when there is none.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal
}

// ToResponse converts an error into a JSON-friendly map for the UI shell.
func ToResponse(err error) map[string]interface{} {
	if err == nil {
		return nil
	}
	return map[string]interface{}{
		"code":    string(CodeOf(err)),
		"message": err.Error(),
	}
}
