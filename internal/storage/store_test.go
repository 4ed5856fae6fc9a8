package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-sweep/internal/domain"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newExperiment(id string, createdAt time.Time) *domain.Experiment {
	exp := domain.NewExperiment(domain.CreateExperimentRequest{
		Prompt: "Explain quantum computing with detailed examples",
		Parameters: domain.ParameterRanges{
			Temperatures: []float64{0.3, 0.7},
			TopP:         []float64{0.9},
		},
	}, "mixtral-8x7b-32768", createdAt)
	exp.ID = id
	return exp
}

func successResponse(temp float64, score float64) *domain.Response {
	return &domain.Response{
		Text:       "Quantum computers use qubits.",
		Parameters: domain.LLMParameters{Temperature: temp, TopP: 0.9, Model: "m"},
		TokensUsed: 20,
		LatencyMs:  150,
		Status:     domain.ResponseSuccess,
		Metrics: &domain.QualityMetrics{
			OverallScore: score,
			Details: domain.MetricDetails{
				WordCount:      4,
				PromptKeywords: []string{"quantum"},
				SharedKeywords: []string{"quantum"},
			},
		},
	}
}

// runStoreContract exercises the behaviour every Store backend must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("create and get", func(t *testing.T) {
		s := newStore(t)
		exp := newExperiment("", baseTime)

		id, err := s.CreateExperiment(ctx, exp)
		require.NoError(t, err)
		require.NotEmpty(t, id)
		assert.Empty(t, exp.ID, "input must not be mutated")

		got, err := s.GetExperiment(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, id, got.ID)
		assert.Equal(t, domain.StatusPending, got.Status)
		assert.Equal(t, 2, got.TotalResponses)
		assert.Equal(t, []float64{0.3, 0.7}, got.Parameters.Temperatures)
		assert.True(t, got.CreatedAt.Equal(baseTime))
	})

	t.Run("get unknown", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetExperiment(ctx, "missing")
		require.ErrorIs(t, err, domain.ErrNotFound)
		assert.Equal(t, "Experiment missing not found", err.Error())
	})

	t.Run("update lifecycle", func(t *testing.T) {
		s := newStore(t)
		id, err := s.CreateExperiment(ctx, newExperiment("exp-1", baseTime))
		require.NoError(t, err)

		require.NoError(t, s.UpdateExperiment(ctx, id, domain.Processing()))
		best := 0.75
		require.NoError(t, s.UpdateExperiment(ctx, id, domain.Completed(domain.ExperimentResults{
			CompletedResponses: 2,
			BestResponseID:     "r1",
			BestScore:          &best,
			AverageScore:       0.6,
			ScoreDistribution:  domain.ScoreDistribution{Min: 0.45, Max: 0.75, Mean: 0.6, Median: 0.75, StdDev: 0.15},
		})))

		got, err := s.GetExperiment(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusCompleted, got.Status)
		assert.Equal(t, "r1", got.BestResponseID)
		require.NotNil(t, got.BestScore)
		assert.InDelta(t, 0.75, *got.BestScore, 1e-9)
		require.NotNil(t, got.ScoreDistribution)
		assert.InDelta(t, 0.15, got.ScoreDistribution.StdDev, 1e-9)

		err = s.UpdateExperiment(ctx, id, domain.Failed("late"))
		require.ErrorIs(t, err, domain.ErrInvalidTransition)

		err = s.UpdateExperiment(ctx, "missing", domain.Processing())
		require.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("list pagination newest first", func(t *testing.T) {
		s := newStore(t)
		for i := range 5 {
			_, err := s.CreateExperiment(ctx, newExperiment(fmt.Sprintf("exp-%d", i), baseTime.Add(time.Duration(i)*time.Second)))
			require.NoError(t, err)
		}

		page, err := s.ListExperiments(ctx, 2, "")
		require.NoError(t, err)
		assert.Equal(t, []string{"exp-4", "exp-3"}, ids(page))
		assert.True(t, page.HasMore)
		assert.Equal(t, "exp-3", page.NextCursor)

		page, err = s.ListExperiments(ctx, 2, page.NextCursor)
		require.NoError(t, err)
		assert.Equal(t, []string{"exp-2", "exp-1"}, ids(page))
		assert.True(t, page.HasMore)

		page, err = s.ListExperiments(ctx, 2, page.NextCursor)
		require.NoError(t, err)
		assert.Equal(t, []string{"exp-0"}, ids(page))
		assert.False(t, page.HasMore)
		assert.Empty(t, page.NextCursor)

		page, err = s.ListExperiments(ctx, 0, "")
		require.NoError(t, err)
		assert.Len(t, page.Experiments, 5)
		assert.False(t, page.HasMore)

		_, err = s.ListExperiments(ctx, 2, "nope")
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("list ties ordered by id", func(t *testing.T) {
		s := newStore(t)
		for _, id := range []string{"b", "c", "a"} {
			_, err := s.CreateExperiment(ctx, newExperiment(id, baseTime))
			require.NoError(t, err)
		}
		page, err := s.ListExperiments(ctx, 10, "")
		require.NoError(t, err)
		assert.Equal(t, []string{"c", "b", "a"}, ids(page))

		page, err = s.ListExperiments(ctx, 1, "c")
		require.NoError(t, err)
		assert.Equal(t, []string{"b"}, ids(page))
	})

	t.Run("list empty", func(t *testing.T) {
		s := newStore(t)
		page, err := s.ListExperiments(ctx, 10, "")
		require.NoError(t, err)
		assert.Empty(t, page.Experiments)
		assert.False(t, page.HasMore)
	})

	t.Run("responses keep insertion order", func(t *testing.T) {
		s := newStore(t)
		id, err := s.CreateExperiment(ctx, newExperiment("exp-r", baseTime))
		require.NoError(t, err)

		r1, err := s.AddResponse(ctx, id, successResponse(0.3, 0.5))
		require.NoError(t, err)
		failed := &domain.Response{
			Parameters: domain.LLMParameters{Temperature: 0.7, TopP: 0.9, Model: "m"},
			Status:     domain.ResponseFailed,
			Error:      "rate limited",
		}
		r2, err := s.AddResponse(ctx, id, failed)
		require.NoError(t, err)
		assert.NotEqual(t, r1, r2)

		got, err := s.ListResponses(ctx, id)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, r1, got[0].ID)
		assert.Equal(t, id, got[0].ExperimentID)
		require.NotNil(t, got[0].Metrics)
		assert.InDelta(t, 0.5, got[0].Metrics.OverallScore, 1e-9)
		assert.Equal(t, 4, got[0].Metrics.Details.WordCount)
		assert.Nil(t, got[0].Metrics.Details.PromptKeywords, "keyword lists are not persisted")
		assert.Equal(t, r2, got[1].ID)
		assert.Equal(t, domain.ResponseFailed, got[1].Status)
		assert.Nil(t, got[1].Metrics)
		assert.Equal(t, "rate limited", got[1].Error)

		_, err = s.AddResponse(ctx, "missing", successResponse(0.3, 0.5))
		assert.ErrorIs(t, err, domain.ErrNotFound)

		none, err := s.ListResponses(ctx, "missing")
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("response ids are idempotent", func(t *testing.T) {
		s := newStore(t)
		id, err := s.CreateExperiment(ctx, newExperiment("exp-i", baseTime))
		require.NoError(t, err)

		first := successResponse(0.3, 0.8)
		first.ID = "resp-fixed"
		got, err := s.AddResponse(ctx, id, first)
		require.NoError(t, err)
		assert.Equal(t, "resp-fixed", got)

		retry := &domain.Response{
			ID:         "resp-fixed",
			Parameters: domain.LLMParameters{Temperature: 0.3, TopP: 0.9, Model: "m"},
			Status:     domain.ResponseFailed,
			Error:      "timeout",
		}
		got, err = s.AddResponse(ctx, id, retry)
		require.NoError(t, err)
		assert.Equal(t, "resp-fixed", got)

		all, err := s.ListResponses(ctx, id)
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.Equal(t, domain.ResponseSuccess, all[0].Status, "the first write wins")

		stored, err := s.GetResponse(ctx, id, "resp-fixed")
		require.NoError(t, err)
		assert.Equal(t, id, stored.ExperimentID)
		require.NotNil(t, stored.Metrics)
		assert.InDelta(t, 0.8, stored.Metrics.OverallScore, 1e-9)

		_, err = s.GetResponse(ctx, id, "resp-other")
		assert.ErrorIs(t, err, ErrResponseNotFound)
		_, err = s.GetResponse(ctx, "missing", "resp-fixed")
		assert.ErrorIs(t, err, ErrResponseNotFound)

		require.NoError(t, s.DeleteAllResponses(ctx, id))
		_, err = s.GetResponse(ctx, id, "resp-fixed")
		assert.ErrorIs(t, err, ErrResponseNotFound)
	})

	t.Run("concurrent appends", func(t *testing.T) {
		s := newStore(t)
		id, err := s.CreateExperiment(ctx, newExperiment("exp-c", baseTime))
		require.NoError(t, err)

		const n = 20
		var wg sync.WaitGroup
		errs := make(chan error, n)
		for i := range n {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := s.AddResponse(ctx, id, successResponse(float64(i)/10, 0.5)); err != nil {
					errs <- err
				}
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		got, err := s.ListResponses(ctx, id)
		require.NoError(t, err)
		assert.Len(t, got, n)
	})

	t.Run("delete", func(t *testing.T) {
		s := newStore(t)
		id, err := s.CreateExperiment(ctx, newExperiment("exp-d", baseTime))
		require.NoError(t, err)
		keep, err := s.CreateExperiment(ctx, newExperiment("exp-keep", baseTime.Add(time.Second)))
		require.NoError(t, err)
		_, err = s.AddResponse(ctx, id, successResponse(0.3, 0.5))
		require.NoError(t, err)
		_, err = s.AddResponse(ctx, keep, successResponse(0.3, 0.5))
		require.NoError(t, err)

		err = s.DeleteExperiment(ctx, id)
		require.True(t, errors.Is(err, ErrHasResponses))

		require.NoError(t, s.DeleteAllResponses(ctx, id))
		require.NoError(t, s.DeleteExperiment(ctx, id))

		_, err = s.GetExperiment(ctx, id)
		assert.ErrorIs(t, err, domain.ErrNotFound)
		page, err := s.ListExperiments(ctx, 10, "")
		require.NoError(t, err)
		assert.Equal(t, []string{"exp-keep"}, ids(page))

		kept, err := s.ListResponses(ctx, keep)
		require.NoError(t, err)
		assert.Len(t, kept, 1)

		assert.ErrorIs(t, s.DeleteExperiment(ctx, id), domain.ErrNotFound)
		assert.NoError(t, s.DeleteAllResponses(ctx, id), "deleting nothing succeeds")
	})
}

func ids(page *ExperimentPage) []string {
	out := make([]string, 0, len(page.Experiments))
	for _, e := range page.Experiments {
		out = append(out, e.ID)
	}
	return out
}

func TestNormalizeLimit(t *testing.T) {
	assert.Equal(t, DefaultListLimit, NormalizeLimit(0))
	assert.Equal(t, DefaultListLimit, NormalizeLimit(-3))
	assert.Equal(t, 7, NormalizeLimit(7))
	assert.Equal(t, MaxListLimit, NormalizeLimit(1000))
}
