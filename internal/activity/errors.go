package activity

import (
	"errors"

	"go.temporal.io/sdk/temporal"

	"github.com/ahrav/go-sweep/internal/domain"
	"github.com/ahrav/go-sweep/internal/generation"
)

// Application error types reported to the workflow.
const (
	ErrTypeValidation        = "Validation"
	ErrTypeNotFound          = "NotFound"
	ErrTypeInvalidTransition = "InvalidTransition"
	ErrTypeStorage           = "Storage"
)

// Input validation errors.
var (
	// ErrMissingExperimentID is returned for inputs without an experiment id.
	ErrMissingExperimentID = errors.New("experiment id is required")
	// ErrMissingResponseID is returned for generation inputs without a
	// response id.
	ErrMissingResponseID = errors.New("response id is required")
)

// classify maps service errors onto Temporal application errors. Client
// errors and illegal transitions never succeed on retry; storage failures do.
func classify(msg string, err error) error {
	var genErr *generation.Error
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrValidation):
		return nonRetryable(ErrTypeValidation, err, msg)
	case errors.Is(err, domain.ErrNotFound):
		return nonRetryable(ErrTypeNotFound, err, msg)
	case errors.Is(err, domain.ErrInvalidTransition):
		return nonRetryable(ErrTypeInvalidTransition, err, msg)
	case errors.As(err, &genErr) && !genErr.Retryable:
		return nonRetryable(ErrTypeValidation, err, msg)
	default:
		return retryable(ErrTypeStorage, err, msg)
	}
}

// nonRetryable wraps cause as a Temporal non-retryable application error
// tagged with tag.
func nonRetryable(tag string, cause error, msg string) error {
	return temporal.NewNonRetryableApplicationError(msg, tag, cause)
}

func retryable(tag string, cause error, msg string) error {
	return temporal.NewApplicationErrorWithCause(msg, tag, cause)
}
