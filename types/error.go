package types

import "fmt"

// ErrorCode represents a unified error code across the subsystem.
type ErrorCode string

const (
	// ErrInvalidUnit marks a malformed unit rejected at the Accept boundary.
	ErrInvalidUnit ErrorCode = "INVALID_UNIT"
	// ErrBatchFull marks an attempt to place a unit into a full batch.
	ErrBatchFull ErrorCode = "BATCH_FULL"
	// ErrCallbackFailed marks a processing callback that returned an error,
	// panicked, or timed out.
	ErrCallbackFailed ErrorCode = "CALLBACK_FAILED"
	// ErrExecutorSaturated marks a rejected submission while all executor
	// slots are busy. Retryable.
	ErrExecutorSaturated ErrorCode = "EXECUTOR_SATURATED"
	// ErrSchedulerError marks an unexpected failure inside a background tick.
	ErrSchedulerError ErrorCode = "SCHEDULER_ERROR"
	// ErrManagerClosed marks a submission after shutdown began.
	ErrManagerClosed ErrorCode = "MANAGER_CLOSED"
)

// Error is a structured error with a code, message, and optional cause.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// IsRetryable checks whether an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := err.(*Error); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error, or "" for foreign
// error types.
func GetErrorCode(err error) ErrorCode {
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return ""
}
