package llm

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

// Ping parameters mirror a minimal real generation.
const (
	pingPrompt      = "Hello"
	pingTemperature = 0.7
	pingTopP        = 0.9
	pingMaxTokens   = 10
)

// GenerateRequest asks for one completion.
type GenerateRequest struct {
	Prompt      string
	Temperature float64
	TopP        float64
	// Model falls back to the configured default when empty.
	Model string
	// MaxTokens falls back to the configured default when zero.
	MaxTokens int
}

// GenerateResult is one completion.
type GenerateResult struct {
	Text       string
	TokensUsed int
	LatencyMs  int64
	Model      string
}

// Client generates text. Implementations must be safe for concurrent use.
type Client interface {
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error)
	Ping(ctx context.Context) error
}

type options struct {
	httpClient  *http.Client
	logger      *slog.Logger
	metrics     Metrics
	middlewares []Middleware
}

// Option configures the HTTP client.
type Option func(*options)

// WithHTTPClient overrides the default pooled HTTP client.
func WithHTTPClient(c *http.Client) Option { return func(o *options) { o.httpClient = c } }

// WithLogger sets the logger used by the logging middleware.
func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

// WithMetrics sets the metrics recorder used by the logging middleware.
func WithMetrics(m Metrics) Option { return func(o *options) { o.metrics = m } }

// WithMiddleware appends middleware inside the built-in chain, closest to the
// HTTP call.
func WithMiddleware(mw ...Middleware) Option {
	return func(o *options) { o.middlewares = append(o.middlewares, mw...) }
}

// HTTPClient is the Client backed by an OpenAI-compatible HTTP API.
type HTTPClient struct {
	cfg     Config
	handler Handler
}

// NewClient builds the client and its middleware chain: logging and metrics
// outermost, then the circuit breaker, then rate limiting, then any extra
// middleware, then the HTTP call.
func NewClient(cfg Config, opts ...Option) (*HTTPClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}
	cfg = cfg.withDefaults()

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.httpClient == nil {
		o.httpClient = newHTTPClient()
	}

	core := &httpHandler{client: o.httpClient, adapter: newOpenAIAdapter(cfg)}
	chain := append([]Middleware{
		NewLoggingMiddleware(cfg.Provider, cfg.RedactPrompts, o.logger, o.metrics),
		NewCircuitBreakerMiddleware(cfg.CircuitBreaker, o.logger),
		NewRateLimitMiddleware(cfg.RateLimit),
	}, o.middlewares...)

	return &HTTPClient{cfg: cfg, handler: Chain(core, chain...)}, nil
}

// Generate requests a completion. Provider and transport failures are
// returned as errors; the client never retries.
func (c *HTTPClient) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, ErrEmptyPrompt
	}
	if req.Temperature < 0 || req.Temperature > 2 || req.TopP < 0 || req.TopP > 1 {
		return nil, fmt.Errorf("%w: temperature=%v top_p=%v", ErrInvalidParams, req.Temperature, req.TopP)
	}
	model := req.Model
	if model == "" {
		model = c.cfg.DefaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.cfg.DefaultMaxTokens
	}

	if c.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer cancel()
	}

	resp, err := c.handler.Handle(ctx, &Request{
		Prompt:      req.Prompt,
		Model:       model,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return nil, err
	}

	return &GenerateResult{
		Text:       resp.Text,
		TokensUsed: resp.TotalTokens,
		LatencyMs:  resp.LatencyMs,
		Model:      model,
	}, nil
}

// Ping verifies connectivity with a tiny generation.
func (c *HTTPClient) Ping(ctx context.Context) error {
	_, err := c.Generate(ctx, GenerateRequest{
		Prompt:      pingPrompt,
		Temperature: pingTemperature,
		TopP:        pingTopP,
		MaxTokens:   pingMaxTokens,
	})
	return err
}

// DefaultModel returns the model used when a request names none.
func (c *HTTPClient) DefaultModel() string { return c.cfg.DefaultModel }
