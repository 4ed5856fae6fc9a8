package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/ahrav/go-sweep/internal/domain"
	"github.com/ahrav/go-sweep/internal/llm"
	"github.com/ahrav/go-sweep/internal/scoring"
	"github.com/ahrav/go-sweep/internal/storage"
)

// ResponseStore persists and looks up responses. storage.Store satisfies it.
type ResponseStore interface {
	AddResponse(ctx context.Context, experimentID string, resp *domain.Response) (string, error)
	GetResponse(ctx context.Context, experimentID, responseID string) (*domain.Response, error)
}

// responseIDSpace namespaces the name-based UUIDs of ResponseID.
var responseIDSpace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:go-sweep:response"))

// ResponseID derives the stable id of the task at index within an
// experiment. The same inputs always yield the same id.
func ResponseID(experimentID string, index int) string {
	return uuid.NewSHA1(responseIDSpace, fmt.Appendf(nil, "%s/%d", experimentID, index)).String()
}

// ScoreFunc turns a prompt and a generated text into quality metrics.
type ScoreFunc func(prompt, response string) domain.QualityMetrics

// Executor runs one generation task: generate, score, persist.
type Executor struct {
	client    llm.Client
	store     ResponseStore
	score     ScoreFunc
	observer  Observer
	logger    *slog.Logger
	maxTokens int
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithScorer replaces the default quality scorer.
func WithScorer(fn ScoreFunc) ExecutorOption { return func(e *Executor) { e.score = fn } }

// WithObserver registers an observer for persisted responses.
func WithObserver(o Observer) ExecutorOption { return func(e *Executor) { e.observer = o } }

// WithLogger sets the executor logger.
func WithLogger(l *slog.Logger) ExecutorOption { return func(e *Executor) { e.logger = l } }

// WithMaxTokens sets the completion token budget passed to the provider.
// Zero defers to the client default.
func WithMaxTokens(n int) ExecutorOption { return func(e *Executor) { e.maxTokens = n } }

// NewExecutor creates an Executor that scores with scoring.Calculate.
func NewExecutor(client llm.Client, store ResponseStore, opts ...ExecutorOption) *Executor {
	e := &Executor{
		client:   client,
		store:    store,
		score:    scoring.Calculate,
		observer: NoOpObserver{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs task against prompt and persists the outcome under
// experimentID. A provider failure is recorded as a failed response and is
// not returned as an error; only a persistence failure is.
func (e *Executor) Execute(
	ctx context.Context,
	experimentID, prompt string,
	task domain.GenerationTask,
) (*domain.Response, error) {
	if strings.TrimSpace(experimentID) == "" {
		return nil, &Error{Type: ErrorValidation, Message: "experiment id is required"}
	}

	resp, err := e.persist(ctx, experimentID, e.Generate(ctx, prompt, task))
	if err != nil {
		return nil, err
	}
	e.observer.ObserveResponse(resp)
	return resp, nil
}

// ExecuteOnce is Execute keyed by responseID. When a response is already
// stored under responseID the provider is not called again and the stored
// response is returned, so repeated attempts leave exactly one response.
func (e *Executor) ExecuteOnce(
	ctx context.Context,
	experimentID, responseID, prompt string,
	task domain.GenerationTask,
) (*domain.Response, error) {
	if strings.TrimSpace(experimentID) == "" {
		return nil, &Error{Type: ErrorValidation, Message: "experiment id is required"}
	}
	if strings.TrimSpace(responseID) == "" {
		return nil, &Error{Type: ErrorValidation, Message: "response id is required"}
	}

	stored, err := e.store.GetResponse(ctx, experimentID, responseID)
	switch {
	case err == nil:
		e.logger.Info("response already recorded",
			"experiment_id", experimentID,
			"response_id", responseID)
		return stored, nil
	case !errors.Is(err, storage.ErrResponseNotFound):
		return nil, storageError("failed to load response", err)
	}

	resp := e.Generate(ctx, prompt, task)
	resp.ID = responseID
	if _, err := e.persist(ctx, experimentID, resp); err != nil {
		return nil, err
	}

	// A concurrent attempt may have won the write; report what was kept.
	stored, err = e.store.GetResponse(ctx, experimentID, responseID)
	if err != nil {
		return nil, storageError("failed to reload response", err)
	}
	e.observer.ObserveResponse(stored)
	return stored, nil
}

func (e *Executor) persist(ctx context.Context, experimentID string, resp *domain.Response) (*domain.Response, error) {
	id, err := e.store.AddResponse(ctx, experimentID, resp)
	if err != nil {
		return nil, storageError("failed to persist response", err)
	}
	resp.ID = id
	resp.ExperimentID = experimentID
	return resp, nil
}

func storageError(msg string, cause error) *Error {
	return &Error{Type: ErrorStorage, Message: msg, Cause: cause, Retryable: true}
}

// Generate calls the provider and scores the result without persisting it.
// The returned response is always non-nil.
func (e *Executor) Generate(ctx context.Context, prompt string, task domain.GenerationTask) *domain.Response {
	result, err := e.client.Generate(ctx, llm.GenerateRequest{
		Prompt:      prompt,
		Temperature: task.Temperature,
		TopP:        task.TopP,
		Model:       task.Model,
		MaxTokens:   e.maxTokens,
	})
	if err != nil {
		e.logger.Warn("generation failed",
			"temperature", task.Temperature,
			"top_p", task.TopP,
			"model", task.Model,
			"error", err)
		return &domain.Response{
			Parameters: task,
			Status:     domain.ResponseFailed,
			Error:      err.Error(),
		}
	}

	metrics := e.score(prompt, result.Text)
	params := task
	if params.Model == "" {
		params.Model = result.Model
	}
	return &domain.Response{
		Text:       result.Text,
		Parameters: params,
		TokensUsed: result.TokensUsed,
		LatencyMs:  result.LatencyMs,
		Metrics:    &metrics,
		Status:     domain.ResponseSuccess,
	}
}
