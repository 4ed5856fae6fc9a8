package activity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ahrav/go-sweep/internal/domain"
	base "github.com/ahrav/go-sweep/pkg/activity"
	"github.com/ahrav/go-sweep/pkg/events"
)

const (
	eventSource  = "sweep-worker"
	eventVersion = "1.0.0"
	eventPrefix  = "experiment."
)

type errorMessage string

func (e errorMessage) Error() string { return string(e) }

// emitProgress wraps ev in an envelope and appends it to the sink.
func (a *Activities) emitProgress(ctx context.Context, experimentID string, ev domain.ProgressEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		base.SafeLogError(ctx, "failed to encode progress event",
			"experiment_id", experimentID,
			"type", ev.Type,
			"error", err)
		return
	}

	wfCtx := a.GetWorkflowContext(ctx)
	env := events.Envelope{
		ID:             uuid.NewString(),
		Type:           eventPrefix + string(ev.Type),
		Source:         eventSource,
		Version:        eventVersion,
		Timestamp:      time.Now().UTC(),
		IdempotencyKey: idempotencyKey(wfCtx.WorkflowID, experimentID, string(ev.Type)),
		ExperimentID:   experimentID,
		WorkflowID:     wfCtx.WorkflowID,
		RunID:          wfCtx.RunID,
		Payload:        payload,
	}
	a.EmitEventSafe(ctx, env, string(ev.Type))
}

// idempotencyKey is stable for a given workflow, experiment and checkpoint,
// so retried activities produce the same key.
func idempotencyKey(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}
