package experiment

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ahrav/go-sweep/internal/aggregation"
	"github.com/ahrav/go-sweep/internal/domain"
	"github.com/ahrav/go-sweep/internal/export"
	"github.com/ahrav/go-sweep/internal/storage"
)

// Preview lengths in runes.
const (
	listPreviewLength    = 200
	metricsPreviewLength = 100
	previewEllipsis      = "..."
)

// listFetchConcurrency bounds best-response lookups while building a page.
const listFetchConcurrency = 8

// ListItem is one row of an experiment listing.
type ListItem struct {
	ID             string                  `json:"id"`
	Prompt         string                  `json:"prompt"`
	CreatedAt      time.Time               `json:"createdAt"`
	Status         domain.ExperimentStatus `json:"status"`
	TotalResponses int                     `json:"totalResponses"`
	AverageScore   float64                 `json:"averageScore"`
	BestResponse   *BestPreview            `json:"bestResponse"`
}

// BestPreview summarizes an experiment's best response.
type BestPreview struct {
	ResponseText string               `json:"responseText"`
	OverallScore float64              `json:"overallScore"`
	Parameters   domain.LLMParameters `json:"parameters"`
}

// ListPage is one page of experiments, newest first.
type ListPage struct {
	Experiments []ListItem `json:"experiments"`
	HasMore     bool       `json:"hasMore"`
	// NextCursor is nil on the last page.
	NextCursor *string `json:"nextCursor"`
}

// MetricsReport is the per-experiment analytics view.
type MetricsReport struct {
	ExperimentID    string                 `json:"experimentId"`
	Prompt          string                 `json:"prompt"`
	Summary         MetricsSummary         `json:"summary"`
	MetricBreakdown domain.MetricBreakdown `json:"metricBreakdown"`
	Responses       []ResponsePreview      `json:"responses"`
}

// MetricsSummary aggregates the successful responses. TotalResponses counts
// successes only.
type MetricsSummary struct {
	TotalResponses    int                               `json:"totalResponses"`
	AverageScore      float64                           `json:"averageScore"`
	BestScore         float64                           `json:"bestScore"`
	WorstScore        float64                           `json:"worstScore"`
	ScoreDistribution [aggregation.HistogramBuckets]int `json:"scoreDistribution"`
}

// ResponsePreview is a successful response with truncated text.
type ResponsePreview struct {
	ID              string                 `json:"id"`
	Parameters      domain.LLMParameters   `json:"parameters"`
	Metrics         *domain.QualityMetrics `json:"metrics"`
	ResponsePreview string                 `json:"responsePreview"`
}

// Get returns an experiment with its responses in storage order.
func (s *Service) Get(ctx context.Context, id string) (*domain.ExperimentDetails, error) {
	exp, err := s.store.GetExperiment(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get experiment %s: %w", id, err)
	}
	responses, err := s.store.ListResponses(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list responses for %s: %w", id, err)
	}
	if responses == nil {
		responses = []domain.Response{}
	}

	return &domain.ExperimentDetails{
		Experiment:   exp,
		Responses:    responses,
		BestResponse: findResponse(responses, exp.BestResponseID),
	}, nil
}

// List returns a page of experiments. limit is clamped to [1, 100] with a
// default of 20.
func (s *Service) List(ctx context.Context, limit int, cursor string) (*ListPage, error) {
	page, err := s.store.ListExperiments(ctx, storage.NormalizeLimit(limit), cursor)
	if err != nil {
		return nil, fmt.Errorf("list experiments: %w", err)
	}

	items := make([]ListItem, len(page.Experiments))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(listFetchConcurrency)
	for i := range page.Experiments {
		exp := &page.Experiments[i]
		items[i] = ListItem{
			ID:             exp.ID,
			Prompt:         exp.Prompt,
			CreatedAt:      exp.CreatedAt,
			Status:         exp.Status,
			TotalResponses: exp.TotalResponses,
			AverageScore:   exp.AverageScore,
		}
		if exp.BestResponseID == "" {
			continue
		}
		g.Go(func() error {
			responses, err := s.store.ListResponses(gctx, exp.ID)
			if err != nil {
				return fmt.Errorf("list responses for %s: %w", exp.ID, err)
			}
			if best := findResponse(responses, exp.BestResponseID); best != nil {
				items[i].BestResponse = &BestPreview{
					ResponseText: truncate(best.Text, listPreviewLength, false),
					OverallScore: best.OverallScore(),
					Parameters:   best.Parameters,
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := &ListPage{Experiments: items, HasMore: page.HasMore}
	if page.HasMore {
		next := page.NextCursor
		out.NextCursor = &next
	}
	return out, nil
}

// Metrics builds the analytics report for an experiment. Scores are computed
// from the successful responses; with none, every score is zero.
func (s *Service) Metrics(ctx context.Context, id string) (*MetricsReport, error) {
	details, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	summary := aggregation.Aggregate(details.Responses)
	report := &MetricsReport{
		ExperimentID: id,
		Prompt:       details.Experiment.Prompt,
		Summary: MetricsSummary{
			TotalResponses:    summary.SuccessfulResponses,
			AverageScore:      summary.AverageScore,
			BestScore:         summary.BestScore,
			WorstScore:        summary.WorstScore,
			ScoreDistribution: summary.Histogram,
		},
		MetricBreakdown: summary.Breakdown,
		Responses:       make([]ResponsePreview, 0, summary.SuccessfulResponses),
	}
	for i := range details.Responses {
		r := &details.Responses[i]
		if !r.Succeeded() {
			continue
		}
		report.Responses = append(report.Responses, ResponsePreview{
			ID:              r.ID,
			Parameters:      r.Parameters,
			Metrics:         r.Metrics,
			ResponsePreview: truncate(r.Text, metricsPreviewLength, true),
		})
	}
	return report, nil
}

// Delete removes an experiment and all of its responses.
func (s *Service) Delete(ctx context.Context, id string) error {
	if _, err := s.store.GetExperiment(ctx, id); err != nil {
		return fmt.Errorf("get experiment %s: %w", id, err)
	}
	if err := s.store.DeleteAllResponses(ctx, id); err != nil {
		return fmt.Errorf("delete responses for %s: %w", id, err)
	}
	if err := s.store.DeleteExperiment(ctx, id); err != nil {
		return fmt.Errorf("delete experiment %s: %w", id, err)
	}
	s.logger.Info("experiment deleted", "experiment_id", id)
	return nil
}

// Export renders an experiment in format.
func (s *Service) Export(ctx context.Context, id string, format export.Format) (*export.Document, error) {
	details, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return export.Render(format, details)
}

func findResponse(responses []domain.Response, id string) *domain.Response {
	if id == "" {
		return nil
	}
	for i := range responses {
		if responses[i].ID == id {
			return &responses[i]
		}
	}
	return nil
}

// truncate cuts s to n runes. The ellipsis is appended when s was cut, or
// always when force is set.
func truncate(s string, n int, force bool) string {
	r := []rune(s)
	if len(r) <= n {
		if force {
			return s + previewEllipsis
		}
		return s
	}
	return string(r[:n]) + previewEllipsis
}
