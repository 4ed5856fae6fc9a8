package domain

import (
	"errors"
	"fmt"
)

// ErrValidation indicates that a request was rejected before any work started.
var ErrValidation = errors.New("validation failed")

// ErrNotFound indicates that the referenced experiment does not exist.
var ErrNotFound = errors.New("not found")

// ErrInvalidTransition indicates an experiment status change outside the
// pending → processing → completed|failed lifecycle.
var ErrInvalidTransition = errors.New("invalid experiment status transition")

// ValidationError describes a rejected request. The message is safe to show
// to clients verbatim.
type ValidationError struct {
	// Field names the offending input, empty for request-wide failures.
	Field   string
	Message string
}

// NewValidationError creates a ValidationError for the given field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

func (e *ValidationError) Error() string { return e.Message }

// Unwrap returns ErrValidation so callers can use errors.Is.
func (e *ValidationError) Unwrap() error { return ErrValidation }

// NotFoundError reports an unknown experiment id.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("Experiment %s not found", e.ID)
}

// Unwrap returns ErrNotFound so callers can use errors.Is.
func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// IsClientError reports whether err carries a message meant for the caller.
// Everything else is internal and should be masked at the boundary.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrNotFound)
}
