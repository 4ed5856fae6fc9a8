// Package generation expands parameter ranges into generation tasks and runs
// a single task end to end: call the provider, score the text, persist the
// response.
package generation

import (
	"errors"
	"fmt"
)

// ErrorType classifies errors to guide retry decisions.
type ErrorType string

const (
	// ErrorValidation signals a task that can never run as given.
	ErrorValidation ErrorType = "validation"

	// ErrorStorage signals a response that could not be persisted.
	// Storage errors are retryable.
	ErrorStorage ErrorType = "storage"
)

// Error provides structured error information for task failures that
// escape the task. Provider failures never surface as an Error; they are
// recorded on the failed response instead.
type Error struct {
	// Type classifies the error for routing and retry decisions.
	Type ErrorType
	// Message provides human-readable error context.
	Message string
	// Cause wraps the underlying error for error chain traversal.
	Cause error
	// Retryable indicates whether the operation might succeed if retried.
	Retryable bool
}

// Error formats the error as "<type> error: <message> (<retry-status>)[: <cause>]".
func (e *Error) Error() string {
	retryStr := "non-retryable"
	if e.Retryable {
		retryStr = "retryable"
	}

	if e.Cause != nil {
		return fmt.Sprintf("%s error: %s (%s): %v", e.Type, e.Message, retryStr, e.Cause)
	}
	return fmt.Sprintf("%s error: %s (%s)", e.Type, e.Message, retryStr)
}

// Unwrap supports error chain traversal with errors.Is and errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// IsRetryable reports whether err carries a retryable generation Error.
func IsRetryable(err error) bool {
	var genErr *Error
	return errors.As(err, &genErr) && genErr.Retryable
}
