package llm

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Metric names recorded by the logging middleware.
const (
	MetricRequestsTotal   = "llm.requests.total"
	MetricRequestsSuccess = "llm.requests.success"
	MetricRequestsErrors  = "llm.requests.errors"
	MetricRequestDuration = "llm.request.duration_ms"
	MetricTokensTotal     = "llm.tokens.total"
)

// responsePreviewLength caps response text in logs.
const responsePreviewLength = 200

// Metrics provides observability data collection for LLM operations.
// Tags carry dimensions such as provider, model and error type.
type Metrics interface {
	IncrementCounter(name string, tags map[string]string, value float64)
	RecordHistogram(name string, tags map[string]string, value float64)
	SetGauge(name string, tags map[string]string, value float64)
}

// NoOpMetrics discards all measurements.
type NoOpMetrics struct{}

// NewNoOpMetrics creates a no-op metrics collector.
func NewNoOpMetrics() *NoOpMetrics { return &NoOpMetrics{} }

func (n *NoOpMetrics) IncrementCounter(_ string, _ map[string]string, _ float64) {}

func (n *NoOpMetrics) RecordHistogram(_ string, _ map[string]string, _ float64) {}

func (n *NoOpMetrics) SetGauge(_ string, _ map[string]string, _ float64) {}

// LoggingMiddleware logs the request lifecycle and records request metrics.
type LoggingMiddleware struct {
	logger        *slog.Logger
	metrics       Metrics
	provider      string
	redactPrompts bool
}

// NewLoggingMiddleware creates observability middleware. Nil logger and
// metrics fall back to slog.Default and NoOpMetrics.
func NewLoggingMiddleware(provider string, redactPrompts bool, logger *slog.Logger, metrics Metrics) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = NewNoOpMetrics()
	}
	lm := &LoggingMiddleware{
		logger:        logger,
		metrics:       metrics,
		provider:      provider,
		redactPrompts: redactPrompts,
	}
	return lm.Middleware
}

// Middleware wraps next with logging and metrics.
func (m *LoggingMiddleware) Middleware(next Handler) Handler {
	return HandlerFunc(func(ctx context.Context, req *Request) (*Response, error) {
		if req.RequestID == "" {
			req.RequestID = uuid.New().String()
		}
		tags := map[string]string{"provider": m.provider, "model": req.Model}

		m.logRequest(ctx, req)
		m.metrics.IncrementCounter(MetricRequestsTotal, tags, 1)

		start := time.Now()
		resp, err := next.Handle(ctx, req)
		duration := time.Since(start)

		m.metrics.RecordHistogram(MetricRequestDuration, tags, float64(duration.Milliseconds()))
		if err != nil {
			m.handleError(ctx, req, err, duration, tags)
			return nil, err
		}
		m.handleSuccess(ctx, req, resp, duration, tags)
		return resp, nil
	})
}

func (m *LoggingMiddleware) logRequest(ctx context.Context, req *Request) {
	fields := []any{
		"request_id", req.RequestID,
		"provider", m.provider,
		"model", req.Model,
		"temperature", req.Temperature,
		"top_p", req.TopP,
		"max_tokens", req.MaxTokens,
	}
	if m.redactPrompts {
		fields = append(fields, "prompt_length", len(req.Prompt))
	} else {
		fields = append(fields, "prompt", req.Prompt)
	}
	m.logger.DebugContext(ctx, "LLM request started", fields...)
}

func (m *LoggingMiddleware) handleError(
	ctx context.Context,
	req *Request,
	err error,
	duration time.Duration,
	tags map[string]string,
) {
	errorType := ClassifyError(err)
	errorTags := copyTags(tags)
	errorTags["error_type"] = string(errorType)
	m.metrics.IncrementCounter(MetricRequestsErrors, errorTags, 1)

	m.logger.WarnContext(ctx, "LLM request failed",
		"request_id", req.RequestID,
		"provider", m.provider,
		"model", req.Model,
		"temperature", req.Temperature,
		"top_p", req.TopP,
		"duration_ms", duration.Milliseconds(),
		"error_type", errorType,
		"error", err.Error(),
	)
}

func (m *LoggingMiddleware) handleSuccess(
	ctx context.Context,
	req *Request,
	resp *Response,
	duration time.Duration,
	tags map[string]string,
) {
	m.metrics.IncrementCounter(MetricRequestsSuccess, tags, 1)
	m.metrics.IncrementCounter(MetricTokensTotal, tags, float64(resp.TotalTokens))

	fields := []any{
		"request_id", req.RequestID,
		"provider", m.provider,
		"model", req.Model,
		"duration_ms", duration.Milliseconds(),
		"latency_ms", resp.LatencyMs,
		"finish_reason", resp.FinishReason,
		"total_tokens", resp.TotalTokens,
		"provider_request_id", resp.ProviderRequestID,
	}
	if m.redactPrompts {
		fields = append(fields, "response_length", len(resp.Text))
	} else {
		fields = append(fields, "response_preview", preview(resp.Text, responsePreviewLength))
	}
	m.logger.DebugContext(ctx, "LLM request completed", fields...)
}

// preview truncates s to at most n bytes on a rune boundary.
func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }

// copyTags prevents tag mutation between metric calls.
func copyTags(original map[string]string) map[string]string {
	tagsCopy := make(map[string]string, len(original)+1)
	for k, v := range original {
		tagsCopy[k] = v
	}
	return tagsCopy
}
