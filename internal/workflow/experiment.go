package workflow

import (
	"errors"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/ahrav/go-sweep/internal/activity"
	"github.com/ahrav/go-sweep/internal/domain"
	"github.com/ahrav/go-sweep/internal/generation"
)

// ProgressQuery is the query name answered with the workflow's Progress.
const ProgressQuery = "progress"

// DefaultMaxConcurrency bounds in-flight generation activities when the
// input leaves it unset.
const DefaultMaxConcurrency = 5

// DefaultActivityTimeout bounds a single activity attempt.
const DefaultActivityTimeout = 2 * time.Minute

// ExperimentInput describes a prepared experiment.
type ExperimentInput struct {
	ExperimentID   string                  `json:"experimentId"`
	Prompt         string                  `json:"prompt"`
	Tasks          []domain.GenerationTask `json:"tasks"`
	MaxConcurrency int                     `json:"maxConcurrency,omitempty"`
	// ActivityTimeout bounds each activity attempt; zero uses the default.
	ActivityTimeout time.Duration `json:"activityTimeout,omitempty"`
}

// Validate checks the input before any activity runs.
func (in ExperimentInput) Validate() error {
	switch {
	case in.ExperimentID == "":
		return domain.NewValidationError("experimentId", "experimentId is required")
	case in.Prompt == "":
		return domain.NewValidationError("prompt", "prompt is required")
	case len(in.Tasks) == 0:
		return domain.NewValidationError("tasks", "at least one task is required")
	case in.MaxConcurrency < 0:
		return domain.NewValidationError("maxConcurrency", "maxConcurrency must not be negative")
	}
	return nil
}

// ExperimentOutput is the result of a completed experiment.
type ExperimentOutput struct {
	ExperimentID string                  `json:"experimentId"`
	Status       domain.ExperimentStatus `json:"status"`
	Complete     domain.CompletePayload  `json:"complete"`
}

// Progress is the query view of a running experiment.
type Progress struct {
	Stage     domain.ProgressType `json:"stage"`
	Total     int                 `json:"total"`
	Completed int                 `json:"completed"`
	Failed    int                 `json:"failed"`
}

// activities is only used to name activity methods.
var activities *activity.Activities

// ExperimentWorkflow runs the experiment described by in. Failed
// generations are recorded as failed responses; only errors that exhaust
// their retries fail the experiment.
func ExperimentWorkflow(ctx workflow.Context, in ExperimentInput) (*ExperimentOutput, error) {
	if err := in.Validate(); err != nil {
		return nil, temporal.NewNonRetryableApplicationError(
			"invalid experiment input",
			activity.ErrTypeValidation,
			err,
		)
	}

	progress := Progress{Stage: domain.ProgressStarted, Total: len(in.Tasks)}
	if err := workflow.SetQueryHandler(ctx, ProgressQuery, func() (Progress, error) {
		return progress, nil
	}); err != nil {
		return nil, err
	}

	ctx = workflow.WithActivityOptions(ctx, activityOptions(in.ActivityTimeout))
	logger := workflow.GetLogger(ctx)

	err := workflow.ExecuteActivity(ctx, activities.MarkProcessing, activity.MarkProcessingInput{
		ExperimentID: in.ExperimentID,
		Total:        len(in.Tasks),
	}).Get(ctx, nil)
	if err != nil {
		return nil, fail(ctx, in.ExperimentID, &progress, err)
	}
	progress.Stage = domain.ProgressProcessing

	if err := runTasks(ctx, in, &progress); err != nil {
		return nil, fail(ctx, in.ExperimentID, &progress, err)
	}
	progress.Stage = domain.ProgressResponsesGenerated

	err = workflow.ExecuteActivity(ctx, activities.ReportProgress, activity.ReportProgressInput{
		ExperimentID: in.ExperimentID,
		Completed:    progress.Completed,
		Failed:       progress.Failed,
	}).Get(ctx, nil)
	if err != nil {
		logger.Warn("progress report failed", "experiment_id", in.ExperimentID, "error", err)
	}

	var final activity.FinalizeOutput
	err = workflow.ExecuteActivity(ctx, activities.FinalizeExperiment, activity.FinalizeInput{
		ExperimentID: in.ExperimentID,
	}).Get(ctx, &final)
	if err != nil {
		return nil, fail(ctx, in.ExperimentID, &progress, err)
	}
	progress.Stage = domain.ProgressComplete

	logger.Info("experiment completed",
		"experiment_id", in.ExperimentID,
		"completed", progress.Completed,
		"failed", progress.Failed)
	return &ExperimentOutput{
		ExperimentID: in.ExperimentID,
		Status:       final.Status,
		Complete:     final.Complete,
	}, nil
}

// runTasks keeps at most MaxConcurrency generation activities in flight and
// returns after every one has settled. The first activity error is returned.
func runTasks(ctx workflow.Context, in ExperimentInput, progress *Progress) error {
	limit := in.MaxConcurrency
	if limit <= 0 {
		limit = DefaultMaxConcurrency
	}

	selector := workflow.NewSelector(ctx)
	var (
		pending  int
		firstErr error
	)
	settle := func(f workflow.Future) {
		pending--
		var out activity.GenerateResponseOutput
		if err := f.Get(ctx, &out); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return
		}
		if out.Status == domain.ResponseSuccess {
			progress.Completed++
		} else {
			progress.Failed++
		}
	}

	for i, task := range in.Tasks {
		for pending >= limit {
			selector.Select(ctx)
		}
		f := workflow.ExecuteActivity(ctx, activities.GenerateResponse, activity.GenerateResponseInput{
			ExperimentID: in.ExperimentID,
			ResponseID:   generation.ResponseID(in.ExperimentID, i),
			Prompt:       in.Prompt,
			Task:         task,
		})
		selector.AddFuture(f, settle)
		pending++
	}
	for pending > 0 {
		selector.Select(ctx)
	}
	return firstErr
}

// fail marks the experiment failed on a disconnected context so that it
// runs even when the workflow is cancelled, then returns cause.
func fail(ctx workflow.Context, experimentID string, progress *Progress, cause error) error {
	progress.Stage = domain.ProgressError

	msg := cause.Error()
	var appErr *temporal.ApplicationError
	if errors.As(cause, &appErr) {
		msg = appErr.Error()
	}

	dctx, _ := workflow.NewDisconnectedContext(ctx)
	err := workflow.ExecuteActivity(dctx, activities.MarkFailed, activity.MarkFailedInput{
		ExperimentID: experimentID,
		Message:      msg,
	}).Get(dctx, nil)
	if err != nil {
		workflow.GetLogger(ctx).Error("failed to mark experiment failed",
			"experiment_id", experimentID,
			"error", err)
	}
	return cause
}

func activityOptions(timeout time.Duration) workflow.ActivityOptions {
	if timeout <= 0 {
		timeout = DefaultActivityTimeout
	}
	return workflow.ActivityOptions{
		StartToCloseTimeout: timeout,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    time.Minute,
			MaximumAttempts:    3,
			NonRetryableErrorTypes: []string{
				activity.ErrTypeValidation,
				activity.ErrTypeNotFound,
				activity.ErrTypeInvalidTransition,
			},
		},
	}
}
