// Package storage persists experiments and their responses.
//
// Every backend implements Store with the same semantics:
//   - ids are assigned on create (UUIDv4) when the record has none
//   - experiments list newest first, ties broken by id descending
//   - the cursor is the id of the last experiment of the previous page
//   - responses list in insertion order
//   - AddResponse is keyed by the response id: adding an id already stored
//     for the experiment keeps the stored response and returns its id
//   - UpdateExperiment applies a domain.ExperimentPatch atomically
//   - DeleteAllResponses and DeleteExperiment are each all-or-nothing, and an
//     experiment that still owns responses cannot be deleted
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/ahrav/go-sweep/internal/domain"
)

// Store errors.
var (
	// ErrHasResponses is returned when deleting an experiment whose
	// responses have not been removed first.
	ErrHasResponses = errors.New("experiment still has responses")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("store is closed")

	// ErrResponseNotFound is returned by GetResponse for an unknown id.
	ErrResponseNotFound = errors.New("response not found")
)

// Store is the persistence contract used by the orchestrator.
type Store interface {
	CreateExperiment(ctx context.Context, exp *domain.Experiment) (string, error)
	UpdateExperiment(ctx context.Context, id string, patch domain.ExperimentPatch) error
	GetExperiment(ctx context.Context, id string) (*domain.Experiment, error)
	ListExperiments(ctx context.Context, limit int, cursor string) (*ExperimentPage, error)

	AddResponse(ctx context.Context, experimentID string, resp *domain.Response) (string, error)
	GetResponse(ctx context.Context, experimentID, responseID string) (*domain.Response, error)
	ListResponses(ctx context.Context, experimentID string) ([]domain.Response, error)
	DeleteAllResponses(ctx context.Context, experimentID string) error
	DeleteExperiment(ctx context.Context, id string) error

	Close() error
}

// ExperimentPage is one page of ListExperiments.
type ExperimentPage struct {
	Experiments []domain.Experiment
	HasMore     bool
	// NextCursor is empty when HasMore is false.
	NextCursor string
}

// Listing limits.
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// NormalizeLimit clamps limit into [1, MaxListLimit], using the default for
// non-positive values.
func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return min(limit, MaxListLimit)
}

func errInvalidCursor(cursor string) error {
	return domain.NewValidationError("cursor", "invalid cursor: "+cursor)
}

func notFound(id string) error { return &domain.NotFoundError{ID: id} }

// prepareExperiment assigns an id and timestamps, returning the copy to store.
func prepareExperiment(exp *domain.Experiment, now time.Time) *domain.Experiment {
	c := exp.Clone()
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}
	return c
}

// prepareResponse assigns an id, owner and timestamp, returning the copy to
// store. Metric details are reduced to their persisted shape.
func prepareResponse(experimentID string, resp *domain.Response, now time.Time) domain.Response {
	c := *resp
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	c.ExperimentID = experimentID
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.Metrics != nil {
		m := c.Metrics.StoredDetails()
		c.Metrics = &m
	}
	return c
}

// newerFirst orders experiments by creation time descending, then id
// descending.
func newerFirst(a, b *domain.Experiment) int {
	switch {
	case a.CreatedAt.After(b.CreatedAt):
		return -1
	case a.CreatedAt.Before(b.CreatedAt):
		return 1
	case a.ID > b.ID:
		return -1
	case a.ID < b.ID:
		return 1
	default:
		return 0
	}
}
