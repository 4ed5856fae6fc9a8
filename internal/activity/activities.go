// Package activity exposes experiment steps as Temporal activities. Each
// activity wraps one experiment.Service operation, classifies its errors for
// the workflow's retry policy and emits the matching progress event.
package activity

import (
	"context"

	"github.com/ahrav/go-sweep/internal/domain"
	"github.com/ahrav/go-sweep/internal/experiment"
	base "github.com/ahrav/go-sweep/pkg/activity"
	"github.com/ahrav/go-sweep/pkg/events"
)

// Activities holds the dependencies of the experiment activities.
type Activities struct {
	base.BaseActivities
	svc *experiment.Service
}

// NewActivities creates activities over svc. sink may be nil.
func NewActivities(svc *experiment.Service, sink events.EventSink) *Activities {
	return &Activities{
		BaseActivities: base.NewBaseActivities(sink),
		svc:            svc,
	}
}

// MarkProcessingInput identifies the experiment entering the processing phase.
type MarkProcessingInput struct {
	ExperimentID string `json:"experimentId"`
	Total        int    `json:"total"`
}

// GenerateResponseInput is one generation task of an experiment.
// ResponseID keys the stored response so a retried attempt finds the first
// attempt's response instead of adding another.
type GenerateResponseInput struct {
	ExperimentID string                `json:"experimentId"`
	ResponseID   string                `json:"responseId"`
	Prompt       string                `json:"prompt"`
	Task         domain.GenerationTask `json:"task"`
}

// GenerateResponseOutput summarizes the persisted response.
type GenerateResponseOutput struct {
	ResponseID   string                `json:"responseId"`
	Status       domain.ResponseStatus `json:"status"`
	OverallScore float64               `json:"overallScore"`
}

// ReportProgressInput carries the settled task counts.
type ReportProgressInput struct {
	ExperimentID string `json:"experimentId"`
	Completed    int    `json:"completed"`
	Failed       int    `json:"failed"`
}

// FinalizeInput identifies the experiment to aggregate.
type FinalizeInput struct {
	ExperimentID string `json:"experimentId"`
}

// FinalizeOutput is the complete checkpoint payload.
type FinalizeOutput struct {
	Status   domain.ExperimentStatus `json:"status"`
	Complete domain.CompletePayload  `json:"complete"`
}

// MarkFailedInput records a fatal experiment failure.
type MarkFailedInput struct {
	ExperimentID string `json:"experimentId"`
	Message      string `json:"message"`
}

// MarkProcessing moves a pending experiment to processing.
func (a *Activities) MarkProcessing(ctx context.Context, in MarkProcessingInput) error {
	if in.ExperimentID == "" {
		return nonRetryable(ErrTypeValidation, ErrMissingExperimentID, "invalid input")
	}
	if err := a.svc.MarkProcessing(ctx, in.ExperimentID); err != nil {
		return classify("mark processing failed", err)
	}
	a.emitProgress(ctx, in.ExperimentID, domain.NewProcessingEvent(in.Total))
	return nil
}

// GenerateResponse runs one task against the provider and persists the
// response. Provider failures produce a failed response, not an error.
func (a *Activities) GenerateResponse(
	ctx context.Context,
	in GenerateResponseInput,
) (*GenerateResponseOutput, error) {
	if in.ExperimentID == "" {
		return nil, nonRetryable(ErrTypeValidation, ErrMissingExperimentID, "invalid input")
	}
	if in.ResponseID == "" {
		return nil, nonRetryable(ErrTypeValidation, ErrMissingResponseID, "invalid input")
	}
	a.RecordHeartbeat(ctx, in.Task)

	resp, err := a.svc.ExecuteTaskOnce(ctx, in.ExperimentID, in.ResponseID, in.Prompt, in.Task)
	if err != nil {
		return nil, classify("generate response failed", err)
	}

	out := &GenerateResponseOutput{ResponseID: resp.ID, Status: resp.Status}
	if resp.Metrics != nil {
		out.OverallScore = resp.Metrics.OverallScore
	}
	base.SafeLog(ctx, "response generated",
		"experiment_id", in.ExperimentID,
		"response_id", resp.ID,
		"status", resp.Status)
	return out, nil
}

// ReportProgress emits the responses_generated checkpoint.
func (a *Activities) ReportProgress(ctx context.Context, in ReportProgressInput) error {
	if in.ExperimentID == "" {
		return nonRetryable(ErrTypeValidation, ErrMissingExperimentID, "invalid input")
	}
	a.emitProgress(ctx, in.ExperimentID, domain.NewResponsesGeneratedEvent(in.Completed, in.Failed))
	return nil
}

// FinalizeExperiment aggregates the stored responses and completes the
// experiment. A repeated call reports the completed experiment again.
func (a *Activities) FinalizeExperiment(ctx context.Context, in FinalizeInput) (*FinalizeOutput, error) {
	if in.ExperimentID == "" {
		return nil, nonRetryable(ErrTypeValidation, ErrMissingExperimentID, "invalid input")
	}
	final, summary, err := a.svc.Finalize(ctx, in.ExperimentID)
	if err != nil {
		return nil, classify("finalize experiment failed", err)
	}

	payload := experiment.CompletionPayload(final.ID, summary)
	a.emitProgress(ctx, final.ID, domain.NewCompleteEvent(payload))
	return &FinalizeOutput{Status: final.Status, Complete: payload}, nil
}

// MarkFailed moves the experiment to failed and emits the error event.
func (a *Activities) MarkFailed(ctx context.Context, in MarkFailedInput) error {
	if in.ExperimentID == "" {
		return nonRetryable(ErrTypeValidation, ErrMissingExperimentID, "invalid input")
	}
	if err := a.svc.MarkFailed(ctx, in.ExperimentID, in.Message); err != nil {
		return classify("mark failed failed", err)
	}
	a.emitProgress(ctx, in.ExperimentID, domain.NewErrorEvent(in.ExperimentID, errorMessage(in.Message)))
	return nil
}
