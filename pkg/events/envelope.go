// Package events carries experiment lifecycle events out of workers. It
// defines the Envelope wrapper and the EventSink interface, with sinks that
// discard, log, or append to a Redis stream.
package events

import (
	"context"
	"encoding/json"
	"time"
)

// Envelope wraps an event payload with routing and deduplication metadata.
type Envelope struct {
	// ID uniquely identifies this emission.
	ID string `json:"id"`

	// Type routes the event, e.g. "experiment.responses_generated".
	Type string `json:"type"`

	// Source names the emitting component.
	Source string `json:"source"`

	// Version is the payload schema version.
	Version string `json:"version"`

	Timestamp time.Time `json:"timestamp"`

	// IdempotencyKey is stable across activity retries so consumers can
	// drop duplicates.
	IdempotencyKey string `json:"idempotency_key"`

	// ExperimentID correlates the event with its experiment.
	ExperimentID string `json:"experiment_id"`

	WorkflowID string `json:"workflow_id"`
	RunID      string `json:"run_id"`

	Payload json.RawMessage `json:"payload"`
}

// EventSink receives envelopes. Append is best effort: callers log failures
// and carry on.
type EventSink interface {
	Append(ctx context.Context, envelope Envelope) error
}

// NoOpEventSink discards every envelope.
type NoOpEventSink struct{}

// Append implements EventSink.
func (n *NoOpEventSink) Append(_ context.Context, _ Envelope) error {
	return nil
}

// NewNoOpEventSink creates a sink that discards events.
func NewNoOpEventSink() EventSink {
	return &NoOpEventSink{}
}
