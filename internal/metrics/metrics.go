// Package metrics exports sweep and provider measurements to Prometheus.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ahrav/go-sweep/internal/experiment"
	"github.com/ahrav/go-sweep/internal/llm"
)

const namespace = "sweep"

// Recorder maps named measurements onto Prometheus collectors. It satisfies
// llm.Metrics, so the provider middleware and the experiment service can
// both report through it. Unknown names are dropped.
type Recorder struct {
	experimentsTotal   *prometheus.CounterVec
	experimentDuration *prometheus.HistogramVec
	experimentsActive  prometheus.Gauge
	responsesTotal     *prometheus.CounterVec
	responseScore      *prometheus.HistogramVec
	requestsTotal      *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	tokensTotal        *prometheus.CounterVec
}

var _ llm.Metrics = (*Recorder)(nil)

// NewRecorder creates the collectors and registers them with reg.
func NewRecorder(reg prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{
		experimentsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "experiments_total",
				Help:      "Total number of finished experiments",
			},
			[]string{"status"}, // status: completed, failed
		),
		experimentDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "experiment_duration_seconds",
				Help:      "Duration of experiment sweeps in seconds",
				Buckets:   []float64{1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"status"},
		),
		experimentsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "experiments_active",
				Help:      "Number of sweeps currently running",
			},
		),
		responsesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "responses_total",
				Help:      "Total number of persisted responses",
			},
			[]string{"model", "status"}, // status: success, failed
		),
		responseScore: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "response_overall_score",
				Help:      "Overall quality score of successful responses",
				Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
			},
			[]string{"model"},
		),
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "generation_requests_total",
				Help:      "Total number of provider generation calls",
			},
			[]string{"model", "status"}, // status: success, error
		),
		requestLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "generation_latency_seconds",
				Help:      "Latency of provider generation calls in seconds",
				Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"model"},
		),
		tokensTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tokens_used_total",
				Help:      "Total tokens consumed by generation calls",
			},
			[]string{"model"},
		),
	}

	for _, c := range r.collectors() {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}
	return r, nil
}

func (r *Recorder) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		r.experimentsTotal,
		r.experimentDuration,
		r.experimentsActive,
		r.responsesTotal,
		r.responseScore,
		r.requestsTotal,
		r.requestLatency,
		r.tokensTotal,
	}
}

// IncrementCounter adds value to the counter behind name.
func (r *Recorder) IncrementCounter(name string, tags map[string]string, value float64) {
	switch name {
	case experiment.MetricExperimentsTotal:
		r.experimentsTotal.WithLabelValues(tags["status"]).Add(value)
	case experiment.MetricResponsesTotal:
		r.responsesTotal.WithLabelValues(tags["model"], tags["status"]).Add(value)
	case llm.MetricRequestsSuccess:
		r.requestsTotal.WithLabelValues(tags["model"], "success").Add(value)
	case llm.MetricRequestsErrors:
		r.requestsTotal.WithLabelValues(tags["model"], "error").Add(value)
	case llm.MetricTokensTotal:
		r.tokensTotal.WithLabelValues(tags["model"]).Add(value)
	}
}

// RecordHistogram observes value on the histogram behind name. Durations
// arrive in milliseconds and are exported in seconds.
func (r *Recorder) RecordHistogram(name string, tags map[string]string, value float64) {
	switch name {
	case experiment.MetricExperimentDuration:
		r.experimentDuration.WithLabelValues(tags["status"]).Observe(value / 1000)
	case experiment.MetricResponseScore:
		r.responseScore.WithLabelValues(tags["model"]).Observe(value)
	case llm.MetricRequestDuration:
		r.requestLatency.WithLabelValues(tags["model"]).Observe(value / 1000)
	}
}

// SetGauge sets the gauge behind name.
func (r *Recorder) SetGauge(name string, _ map[string]string, value float64) {
	if name == experiment.MetricExperimentsActive {
		r.experimentsActive.Set(value)
	}
}
