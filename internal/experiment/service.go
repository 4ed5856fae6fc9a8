// Package experiment orchestrates parameter sweeps: it prepares an
// experiment, fans its generation tasks out over a bounded pool, aggregates
// the persisted responses and drives the experiment through its lifecycle
// while reporting progress at four fixed checkpoints.
//
// It also serves the read side: details, paginated listing, the metrics
// report, deletion and export.
package experiment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ahrav/go-sweep/internal/aggregation"
	"github.com/ahrav/go-sweep/internal/domain"
	"github.com/ahrav/go-sweep/internal/generation"
	"github.com/ahrav/go-sweep/internal/llm"
	"github.com/ahrav/go-sweep/internal/storage"
)

// DefaultMaxConcurrentCalls bounds in-flight generation tasks per sweep when
// no limit is configured.
const DefaultMaxConcurrentCalls = 5

// Options tunes the service.
type Options struct {
	// MaxCombinations caps the number of tasks in one sweep.
	MaxCombinations int
	// MaxConcurrentCalls caps in-flight generation tasks per sweep.
	MaxConcurrentCalls int
	// DefaultModel is used when a request names no model.
	DefaultModel string
	// MaxTokens is the completion budget per generation; zero defers to the
	// client.
	MaxTokens int
}

func (o Options) withDefaults() Options {
	if o.MaxCombinations <= 0 {
		o.MaxCombinations = generation.DefaultMaxCombinations
	}
	if o.MaxConcurrentCalls <= 0 {
		o.MaxConcurrentCalls = DefaultMaxConcurrentCalls
	}
	if o.DefaultModel == "" {
		o.DefaultModel = llm.DefaultModel
	}
	return o
}

// Service runs and inspects experiments.
type Service struct {
	store    storage.Store
	executor *generation.Executor
	opts     Options
	logger   *slog.Logger
	metrics  llm.Metrics
	now      func() time.Time
	active   atomic.Int64
}

// NewService wires a service. Nil logger and metrics fall back to
// slog.Default and llm.NoOpMetrics.
func NewService(
	store storage.Store,
	client llm.Client,
	opts Options,
	logger *slog.Logger,
	metrics llm.Metrics,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = llm.NewNoOpMetrics()
	}
	opts = opts.withDefaults()
	return &Service{
		store: store,
		executor: generation.NewExecutor(client, store,
			generation.WithLogger(logger),
			generation.WithMaxTokens(opts.MaxTokens),
			generation.WithObserver(responseObserver{metrics: metrics})),
		opts:    opts,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// Options returns the effective options.
func (s *Service) Options() Options { return s.opts }

// Prepare validates req, expands it into tasks, enforces the combination cap
// and creates the experiment in the pending state. Nothing is persisted when
// validation fails.
func (s *Service) Prepare(
	ctx context.Context,
	req domain.CreateExperimentRequest,
) (*domain.Experiment, []domain.GenerationTask, error) {
	if err := req.Validate(); err != nil {
		return nil, nil, err
	}

	model := req.Model
	if model == "" {
		model = s.opts.DefaultModel
	}
	tasks := generation.Combinations(req.Parameters, model)
	if err := generation.CheckCombinationLimit(len(tasks), s.opts.MaxCombinations); err != nil {
		return nil, nil, err
	}

	exp := domain.NewExperiment(req, model, s.now())
	id, err := s.store.CreateExperiment(ctx, exp)
	if err != nil {
		return nil, nil, fmt.Errorf("create experiment: %w", err)
	}
	exp.ID = id

	s.logger.Info("experiment created",
		"experiment_id", id,
		"combinations", len(tasks),
		"model", model)
	return exp, tasks, nil
}

// Run prepares and executes an experiment, reporting progress through
// onProgress. A failure after creation marks the experiment failed; every
// failure emits an error event and is returned.
func (s *Service) Run(
	ctx context.Context,
	req domain.CreateExperimentRequest,
	onProgress domain.ProgressFunc,
) (*domain.Experiment, error) {
	exp, tasks, err := s.Prepare(ctx, req)
	if err != nil {
		s.logger.Warn("experiment rejected", "error", err)
		onProgress.Emit(domain.NewErrorEvent("", err))
		return nil, err
	}
	onProgress.Emit(domain.NewStartedEvent(exp.ID, len(tasks)))

	return s.Execute(ctx, exp, tasks, onProgress)
}

// Execute runs a prepared experiment from the processing checkpoint to
// completion.
func (s *Service) Execute(
	ctx context.Context,
	exp *domain.Experiment,
	tasks []domain.GenerationTask,
	onProgress domain.ProgressFunc,
) (*domain.Experiment, error) {
	start := s.now()
	s.trackActive(1)
	defer s.trackActive(-1)

	if err := s.MarkProcessing(ctx, exp.ID); err != nil {
		return nil, s.fail(ctx, exp.ID, err, onProgress)
	}
	onProgress.Emit(domain.NewProcessingEvent(len(tasks)))

	succeeded, failed, err := s.sweep(ctx, exp, tasks)
	if err != nil {
		return nil, s.fail(ctx, exp.ID, err, onProgress)
	}
	onProgress.Emit(domain.NewResponsesGeneratedEvent(succeeded, failed))

	final, summary, err := s.Finalize(ctx, exp.ID)
	if err != nil {
		return nil, s.fail(ctx, exp.ID, err, onProgress)
	}

	payload := CompletionPayload(final.ID, summary)
	onProgress.Emit(domain.NewCompleteEvent(payload))

	s.recordExperiment(domain.StatusCompleted, start)
	s.logger.Info("experiment completed",
		"experiment_id", final.ID,
		"succeeded", payload.CompletedResponses,
		"failed", payload.FailedResponses,
		"average_score", payload.AverageScore)
	return final, nil
}

// sweep runs every task with at most MaxConcurrentCalls in flight and waits
// for all of them. Provider failures are recorded as failed responses; only
// persistence failures are returned, after every task has settled.
func (s *Service) sweep(
	ctx context.Context,
	exp *domain.Experiment,
	tasks []domain.GenerationTask,
) (succeeded, failed int, err error) {
	var (
		g  errgroup.Group
		mu sync.Mutex
	)
	g.SetLimit(s.opts.MaxConcurrentCalls)

	for _, task := range tasks {
		g.Go(func() error {
			resp, err := s.ExecuteTask(ctx, exp.ID, exp.Prompt, task)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			if resp.Succeeded() {
				succeeded++
			} else {
				failed++
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return 0, 0, err
	}
	return succeeded, failed, nil
}

// MarkProcessing moves a pending experiment to processing. An experiment
// already processing is left as is.
func (s *Service) MarkProcessing(ctx context.Context, experimentID string) error {
	err := s.store.UpdateExperiment(ctx, experimentID, domain.Processing())
	if err == nil {
		return nil
	}
	if _, ok := s.alreadyIn(ctx, experimentID, domain.StatusProcessing, err); ok {
		return nil
	}
	return fmt.Errorf("mark experiment %s processing: %w", experimentID, err)
}

// ExecuteTask runs one generation task and persists its response.
func (s *Service) ExecuteTask(
	ctx context.Context,
	experimentID, prompt string,
	task domain.GenerationTask,
) (*domain.Response, error) {
	return s.executor.Execute(ctx, experimentID, prompt, task)
}

// ExecuteTaskOnce runs one generation task under a caller-chosen response
// id. Repeating the call returns the stored response instead of adding
// another one.
func (s *Service) ExecuteTaskOnce(
	ctx context.Context,
	experimentID, responseID, prompt string,
	task domain.GenerationTask,
) (*domain.Response, error) {
	return s.executor.ExecuteOnce(ctx, experimentID, responseID, prompt, task)
}

// Finalize aggregates the persisted responses in storage order, records the
// results and completes the experiment. Finalizing a completed experiment
// returns it with the same summary.
func (s *Service) Finalize(
	ctx context.Context,
	experimentID string,
) (*domain.Experiment, aggregation.Summary, error) {
	responses, err := s.store.ListResponses(ctx, experimentID)
	if err != nil {
		return nil, aggregation.Summary{}, fmt.Errorf("list responses for %s: %w", experimentID, err)
	}

	summary := aggregation.Aggregate(responses)
	if err := s.store.UpdateExperiment(ctx, experimentID, domain.Completed(summary.Results())); err != nil {
		if done, ok := s.alreadyIn(ctx, experimentID, domain.StatusCompleted, err); ok {
			return done, summary, nil
		}
		return nil, aggregation.Summary{}, fmt.Errorf("complete experiment %s: %w", experimentID, err)
	}

	final, err := s.store.GetExperiment(ctx, experimentID)
	if err != nil {
		return nil, aggregation.Summary{}, fmt.Errorf("reload experiment %s: %w", experimentID, err)
	}
	return final, summary, nil
}

// CompletionPayload builds the complete checkpoint payload from summary.
func CompletionPayload(experimentID string, summary aggregation.Summary) domain.CompletePayload {
	results := summary.Results()
	return domain.CompletePayload{
		ExperimentID:       experimentID,
		CompletedResponses: results.CompletedResponses,
		FailedResponses:    results.FailedResponses,
		BestScore:          results.BestScore,
		AverageScore:       results.AverageScore,
		BestResponse:       summary.BestResponse,
	}
}

// MarkFailed moves an experiment to failed with message. An experiment
// already failed keeps its first message.
func (s *Service) MarkFailed(ctx context.Context, experimentID, message string) error {
	err := s.store.UpdateExperiment(ctx, experimentID, domain.Failed(message))
	if err == nil {
		return nil
	}
	if _, ok := s.alreadyIn(ctx, experimentID, domain.StatusFailed, err); ok {
		return nil
	}
	return fmt.Errorf("mark experiment %s failed: %w", experimentID, err)
}

// alreadyIn reports whether err refused a transition into status because
// the experiment already holds it, returning the stored experiment.
func (s *Service) alreadyIn(
	ctx context.Context,
	experimentID string,
	status domain.ExperimentStatus,
	err error,
) (*domain.Experiment, bool) {
	if !errors.Is(err, domain.ErrInvalidTransition) {
		return nil, false
	}
	exp, getErr := s.store.GetExperiment(ctx, experimentID)
	if getErr != nil || exp.Status != status {
		return nil, false
	}
	return exp, true
}

// fail records err on the experiment, emits the error event and returns err.
func (s *Service) fail(ctx context.Context, experimentID string, err error, onProgress domain.ProgressFunc) error {
	s.logger.Error("experiment failed", "experiment_id", experimentID, "error", err)

	if markErr := s.MarkFailed(context.WithoutCancel(ctx), experimentID, err.Error()); markErr != nil {
		s.logger.Error("failed to record experiment failure",
			"experiment_id", experimentID,
			"error", markErr)
	}
	s.metrics.IncrementCounter(MetricExperimentsTotal,
		map[string]string{"status": string(domain.StatusFailed)}, 1)

	onProgress.Emit(domain.NewErrorEvent(experimentID, err))
	return err
}

func (s *Service) trackActive(delta int64) {
	s.metrics.SetGauge(MetricExperimentsActive, nil, float64(s.active.Add(delta)))
}

func (s *Service) recordExperiment(status domain.ExperimentStatus, start time.Time) {
	tags := map[string]string{"status": string(status)}
	s.metrics.IncrementCounter(MetricExperimentsTotal, tags, 1)
	s.metrics.RecordHistogram(MetricExperimentDuration, tags, float64(s.now().Sub(start).Milliseconds()))
}
