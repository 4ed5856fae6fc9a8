// Package llm provides the HTTP client for OpenAI-compatible chat completion
// providers used to generate sweep responses.
package llm

import (
	"net/http"
	"time"
)

// Provider defaults. The base URL targets Groq's OpenAI-compatible API.
const (
	DefaultBaseURL        = "https://api.groq.com/openai/v1"
	DefaultModel          = "mixtral-8x7b-32768"
	DefaultMaxTokens      = 1024
	DefaultRequestTimeout = 30 * time.Second
	DefaultProviderName   = "groq"
)

// HTTP transport constants.
const (
	DefaultMaxIdleConns       = 100
	DefaultIdleTimeoutSeconds = 90
	DefaultTLSTimeoutSeconds  = 10
)

// Config holds provider settings for the client.
type Config struct {
	// Provider labels logs and metrics.
	Provider string `json:"provider"`
	BaseURL  string `json:"base_url"`
	APIKey   string `json:"-"`

	DefaultModel     string `json:"default_model"`
	DefaultMaxTokens int    `json:"default_max_tokens"`

	// RequestTimeout bounds a single generation call, including rate-limit
	// waiting. Zero disables the per-request timeout.
	RequestTimeout time.Duration `json:"request_timeout"`

	// RateLimit throttles outbound requests per model.
	RateLimit RateLimitConfig `json:"rate_limit"`

	// CircuitBreaker fails fast during provider outages.
	CircuitBreaker CircuitBreakerConfig `json:"circuit_breaker"`

	// RedactPrompts logs prompt length instead of prompt text.
	RedactPrompts bool `json:"redact_prompts"`

	// Headers are added to every request.
	Headers map[string]string `json:"headers,omitempty"`
}

// RateLimitConfig configures the token-bucket limiter. A zero
// RequestsPerSecond disables limiting.
type RateLimitConfig struct {
	RequestsPerSecond float64 `json:"requests_per_second"`
	Burst             int     `json:"burst"`
}

// Enabled reports whether requests should be throttled.
func (c RateLimitConfig) Enabled() bool { return c.RequestsPerSecond > 0 }

// CircuitBreakerConfig configures the provider circuit breaker. A zero
// FailureThreshold disables it.
type CircuitBreakerConfig struct {
	FailureThreshold int           `json:"failure_threshold"`
	SuccessThreshold int           `json:"success_threshold"`
	HalfOpenProbes   int           `json:"half_open_probes"`
	OpenTimeout      time.Duration `json:"open_timeout"`
}

// Enabled reports whether the breaker should be installed.
func (c CircuitBreakerConfig) Enabled() bool { return c.FailureThreshold > 0 }

// DefaultConfig returns a configuration targeting the default provider.
// APIKey must still be supplied.
func DefaultConfig() Config {
	return Config{
		Provider:         DefaultProviderName,
		BaseURL:          DefaultBaseURL,
		DefaultModel:     DefaultModel,
		DefaultMaxTokens: DefaultMaxTokens,
		RequestTimeout:   DefaultRequestTimeout,
		RedactPrompts:    true,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Provider == "" {
		c.Provider = d.Provider
	}
	if c.BaseURL == "" {
		c.BaseURL = d.BaseURL
	}
	if c.DefaultModel == "" {
		c.DefaultModel = d.DefaultModel
	}
	if c.DefaultMaxTokens <= 0 {
		c.DefaultMaxTokens = d.DefaultMaxTokens
	}
	if c.RateLimit.Enabled() && c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = 1
	}
	return c
}

func newHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        DefaultMaxIdleConns,
			MaxIdleConnsPerHost: DefaultMaxIdleConns,
			IdleConnTimeout:     DefaultIdleTimeoutSeconds * time.Second,
			TLSHandshakeTimeout: DefaultTLSTimeoutSeconds * time.Second,
		},
	}
}
