// Package activity provides plumbing shared by Temporal activities: workflow
// context extraction, logging that tolerates non-activity contexts, and
// best-effort event emission.
package activity

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/activity"

	"github.com/ahrav/go-sweep/pkg/events"
)

// WorkflowContext identifies the workflow execution an activity runs in.
type WorkflowContext struct {
	WorkflowID string
	RunID      string
	ActivityID string
}

// BaseActivities holds the event sink shared by activity types.
type BaseActivities struct {
	eventSink events.EventSink
}

// NewBaseActivities creates a BaseActivities. A nil sink disables emission.
func NewBaseActivities(sink events.EventSink) BaseActivities {
	return BaseActivities{eventSink: sink}
}

// GetWorkflowContext extracts execution metadata from ctx. Outside an
// activity (plain unit tests) it returns a fixed workflow id and a random
// run id.
func (b *BaseActivities) GetWorkflowContext(ctx context.Context) WorkflowContext {
	var wfCtx WorkflowContext

	func() {
		defer func() {
			if r := recover(); r != nil {
				wfCtx.WorkflowID = "local-workflow"
				wfCtx.RunID = "local-run-" + uuid.New().String()[:8]
				wfCtx.ActivityID = "local-activity"
			}
		}()

		info := activity.GetInfo(ctx)
		wfCtx.WorkflowID = info.WorkflowExecution.ID
		wfCtx.RunID = info.WorkflowExecution.RunID
		wfCtx.ActivityID = info.ActivityID
	}()

	return wfCtx
}

// EmitEventSafe appends envelope to the sink, retrying once. Failures are
// logged and never returned.
func (b *BaseActivities) EmitEventSafe(
	ctx context.Context,
	envelope events.Envelope,
	description string,
) {
	if b.eventSink == nil {
		return
	}

	const maxAttempts = 2
	const retryDelay = 200 * time.Millisecond

	var lastErr error
	for attempt := range maxAttempts {
		if attempt > 0 {
			select {
			case <-time.After(retryDelay):
			case <-ctx.Done():
				SafeLogError(ctx, fmt.Sprintf("Event emission cancelled: %s", description),
					"event_type", envelope.Type)
				return
			}
		}

		if err := b.eventSink.Append(ctx, envelope); err != nil {
			lastErr = err
			continue
		}

		SafeLog(ctx, fmt.Sprintf("Event emitted: %s", description),
			"event_type", envelope.Type,
			"idempotency_key", envelope.IdempotencyKey)
		return
	}

	SafeLogError(ctx, fmt.Sprintf("Failed to emit %s after %d attempts", description, maxAttempts),
		"event_type", envelope.Type,
		"error", lastErr)
}

// RecordHeartbeat records a heartbeat; see the package-level RecordHeartbeat.
func (b *BaseActivities) RecordHeartbeat(ctx context.Context, details ...any) {
	RecordHeartbeat(ctx, details...)
}

// SafeLog logs at info level through the activity logger. Outside an
// activity context it falls back to slog.Default.
func SafeLog(ctx context.Context, msg string, keyvals ...any) {
	logAt(ctx, slog.LevelInfo, msg, keyvals...)
}

// SafeLogError is SafeLog at error level.
func SafeLogError(ctx context.Context, msg string, keyvals ...any) {
	logAt(ctx, slog.LevelError, msg, keyvals...)
}

func logAt(ctx context.Context, level slog.Level, msg string, keyvals ...any) {
	defer func() {
		if r := recover(); r != nil {
			slog.Default().Log(ctx, level, msg, keyvals...)
		}
	}()

	logger := activity.GetLogger(ctx)
	if level >= slog.LevelError {
		logger.Error(msg, keyvals...)
		return
	}
	logger.Info(msg, keyvals...)
}

// RecordHeartbeat records activity progress. Outside an activity context it
// does nothing.
func RecordHeartbeat(ctx context.Context, details ...any) {
	defer func() { _ = recover() }()
	activity.RecordHeartbeat(ctx, details...)
}
