package experiment

import (
	"github.com/ahrav/go-sweep/internal/domain"
	"github.com/ahrav/go-sweep/internal/llm"
)

// Metric names recorded by the service.
const (
	MetricExperimentsTotal   = "sweep.experiments.total"
	MetricExperimentDuration = "sweep.experiment.duration_ms"
	MetricResponsesTotal     = "sweep.responses.total"
	MetricResponseScore      = "sweep.response.overall_score"
	MetricExperimentsActive  = "sweep.experiments.active"
)

// responseObserver turns persisted responses into metrics.
type responseObserver struct {
	metrics llm.Metrics
}

func (o responseObserver) ObserveResponse(resp *domain.Response) {
	tags := map[string]string{
		"model":  resp.Parameters.Model,
		"status": string(resp.Status),
	}
	o.metrics.IncrementCounter(MetricResponsesTotal, tags, 1)
	if !resp.Succeeded() {
		return
	}
	o.metrics.RecordHistogram(MetricResponseScore,
		map[string]string{"model": resp.Parameters.Model}, resp.OverallScore())
}
