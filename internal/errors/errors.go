// Package errors provides error code definitions shared across the sync core
// and bridged to the host app through the mobile FFI layer.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a unique error code that can be bridged to the host app.
type ErrorCode string

const (
	// General errors
	ErrInternal   ErrorCode = "INTERNAL_ERROR"
	ErrInvalid    ErrorCode = "INVALID_INPUT"
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrValidation ErrorCode = "VALIDATION_ERROR"

	// Configuration errors
	ErrConfigInvalid ErrorCode = "CONFIG_INVALID"

	// Durable store errors
	ErrStoreFailed ErrorCode = "STORE_FAILED"

	// Queue errors
	ErrQueueInvalidKind ErrorCode = "QUEUE_INVALID_KIND"
	ErrQueuePaused      ErrorCode = "QUEUE_PAUSED"
	ErrQueueAbandoned   ErrorCode = "QUEUE_MAX_RETRIES"

	// Remote API errors
	ErrRemoteStatus    ErrorCode = "REMOTE_STATUS"
	ErrRemoteTransport ErrorCode = "REMOTE_TRANSPORT"
	ErrRemoteTimeout   ErrorCode = "REMOTE_TIMEOUT"
	ErrRemoteDecode    ErrorCode = "REMOTE_DECODE"

	// Action errors
	ErrActionPending ErrorCode = "ACTION_PENDING"
	ErrOffline       ErrorCode = "OFFLINE"
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

// Is checks if an error, or any error it wraps, carries a specific code.
func Is(err error, code ErrorCode) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// CodeOf returns the code of the outermost AppError in err's chain, or
// ErrInternal when err carries none.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal
}
