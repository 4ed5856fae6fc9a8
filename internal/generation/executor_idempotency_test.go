package generation

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-sweep/internal/domain"
	"github.com/ahrav/go-sweep/internal/llm"
	"github.com/ahrav/go-sweep/internal/storage"
)

func TestResponseID(t *testing.T) {
	t.Run("same input produces same id", func(t *testing.T) {
		assert.Equal(t, ResponseID("exp-1", 3), ResponseID("exp-1", 3))
	})

	t.Run("index and experiment both distinguish ids", func(t *testing.T) {
		seen := map[string]bool{}
		for _, exp := range []string{"exp-1", "exp-2"} {
			for i := range 25 {
				id := ResponseID(exp, i)
				assert.False(t, seen[id], "duplicate id for %s/%d", exp, i)
				seen[id] = true
			}
		}
	})

	t.Run("ids are uuids", func(t *testing.T) {
		assert.Len(t, ResponseID("exp-1", 0), 36)
	})
}

func TestExecuteOnce_RepeatedAttemptKeepsOneResponse(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	expID := createExperiment(t, store)
	client := answering(testAnswer)

	observed := 0
	exec := NewExecutor(client, store,
		WithObserver(ObserverFunc(func(*domain.Response) { observed++ })))

	task := domain.GenerationTask{Temperature: 0.7, TopP: 0.9, Model: "m"}
	respID := ResponseID(expID, 0)

	first, err := exec.ExecuteOnce(ctx, expID, respID, testPrompt, task)
	require.NoError(t, err)
	second, err := exec.ExecuteOnce(ctx, expID, respID, testPrompt, task)
	require.NoError(t, err)

	assert.Equal(t, respID, first.ID)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.Text, second.Text)
	assert.Len(t, client.requests, 1, "a recorded task does not call the provider again")
	assert.Equal(t, 1, observed)

	stored, err := store.ListResponses(ctx, expID)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, respID, stored[0].ID)
}

func TestExecuteOnce_RetryReportsStoredOutcome(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	expID := createExperiment(t, store)
	respID := ResponseID(expID, 1)

	_, err := store.AddResponse(ctx, expID, &domain.Response{
		ID:         respID,
		Parameters: domain.GenerationTask{Temperature: 0.3, TopP: 1},
		Status:     domain.ResponseFailed,
		Error:      "groq error (status 503): overloaded",
	})
	require.NoError(t, err)

	client := answering(testAnswer)
	resp, err := NewExecutor(client, store).
		ExecuteOnce(ctx, expID, respID, testPrompt, domain.GenerationTask{Temperature: 0.3, TopP: 1})
	require.NoError(t, err)

	assert.Equal(t, domain.ResponseFailed, resp.Status, "the first recorded outcome stands")
	assert.Empty(t, client.requests)
}

func TestExecuteOnce_DistinctTasks(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	expID := createExperiment(t, store)
	exec := NewExecutor(answering(testAnswer), store)

	tasks := []domain.GenerationTask{
		{Temperature: 0.5, TopP: 0.9},
		{Temperature: 0.5, TopP: 0.9},
	}
	for i, task := range tasks {
		_, err := exec.ExecuteOnce(ctx, expID, ResponseID(expID, i), testPrompt, task)
		require.NoError(t, err)
	}

	stored, err := store.ListResponses(ctx, expID)
	require.NoError(t, err)
	assert.Len(t, stored, 2, "duplicate parameter points are still separate tasks")
}

func TestExecuteOnce_InvalidInput(t *testing.T) {
	tests := []struct {
		name         string
		experimentID string
		responseID   string
	}{
		{name: "missing experiment id", experimentID: "", responseID: "r"},
		{name: "missing response id", experimentID: "exp-1", responseID: " "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := answering(testAnswer)
			_, err := NewExecutor(client, storage.NewMemoryStore()).
				ExecuteOnce(context.Background(), tt.experimentID, tt.responseID, testPrompt, domain.GenerationTask{})

			var genErr *Error
			require.ErrorAs(t, err, &genErr)
			assert.Equal(t, ErrorValidation, genErr.Type)
			assert.Empty(t, client.requests)
		})
	}
}

// lookupFailStore fails every response lookup.
type lookupFailStore struct{ storage.Store }

func (lookupFailStore) GetResponse(context.Context, string, string) (*domain.Response, error) {
	return nil, errors.New("connection refused")
}

func TestExecuteOnce_LookupFailureIsRetryable(t *testing.T) {
	client := &stubClient{fn: func(llm.GenerateRequest) (*llm.GenerateResult, error) {
		t.Fatal("provider must not be called when the lookup fails")
		return nil, nil
	}}
	_, err := NewExecutor(client, lookupFailStore{storage.NewMemoryStore()}).
		ExecuteOnce(context.Background(), "exp-1", "r-1", testPrompt, domain.GenerationTask{})

	require.Error(t, err)
	assert.True(t, IsRetryable(err))
	assert.Contains(t, err.Error(), "failed to load response")
}

func TestExecuteOnce_PersistFailure(t *testing.T) {
	cause := errors.New("disk full")
	_, err := NewExecutor(answering(testAnswer), failingWriter{err: cause}).
		ExecuteOnce(context.Background(), "exp-1", "r-1", testPrompt, domain.GenerationTask{Temperature: 0.5, TopP: 0.5})

	require.ErrorIs(t, err, cause)
	assert.True(t, IsRetryable(err))
}
