// Package config loads go-sweep settings from YAML and the environment.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/ahrav/go-sweep/internal/experiment"
	"github.com/ahrav/go-sweep/internal/llm"
	"github.com/ahrav/go-sweep/internal/storage"
)

// ErrMissingAPIKey is returned by RequireAPIKey when no provider key is set.
var ErrMissingAPIKey = errors.New("GROQ_API_KEY is required")

// searchPaths are tried in order when Load is given no path.
var searchPaths = []string{"sweep.yaml", "sweep.yml", "config/sweep.yaml"}

// Config is the full application configuration.
type Config struct {
	Env         string            `yaml:"env"`
	Server      ServerConfig      `yaml:"server"`
	LLM         LLMConfig         `yaml:"llm"`
	Experiments ExperimentsConfig `yaml:"experiments"`
	Store       storage.Config    `yaml:"store"`
	Temporal    TemporalConfig    `yaml:"temporal"`
	Log         LogConfig         `yaml:"log"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port       int    `yaml:"port" validate:"min=1,max=65535"`
	CORSOrigin string `yaml:"cors_origin"`
}

// LLMConfig configures the generation provider.
type LLMConfig struct {
	Provider       string         `yaml:"provider" validate:"required"`
	BaseURL        string         `yaml:"base_url" validate:"required,url"`
	APIKey         string         `yaml:"api_key"`
	DefaultModel   string         `yaml:"default_model" validate:"required"`
	MaxTokens      int            `yaml:"max_tokens" validate:"min=1"`
	RequestTimeout time.Duration  `yaml:"request_timeout" validate:"gt=0"`
	RedactPrompts  bool           `yaml:"redact_prompts"`
	RateLimit      RateLimit      `yaml:"rate_limit"`
	CircuitBreaker CircuitBreaker `yaml:"circuit_breaker"`
}

// RateLimit throttles provider calls per model. Zero disables it.
type RateLimit struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" validate:"min=0"`
	Burst             int     `yaml:"burst" validate:"min=0"`
}

// CircuitBreaker fails provider calls fast after consecutive outages. A zero
// failure threshold disables it.
type CircuitBreaker struct {
	FailureThreshold int           `yaml:"failure_threshold" validate:"min=0"`
	SuccessThreshold int           `yaml:"success_threshold" validate:"min=0"`
	HalfOpenProbes   int           `yaml:"half_open_probes" validate:"min=0"`
	OpenTimeout      time.Duration `yaml:"open_timeout" validate:"min=0"`
}

// ExperimentsConfig bounds sweeps.
type ExperimentsConfig struct {
	MaxCombinations    int `yaml:"max_combinations" validate:"min=1"`
	MaxConcurrentCalls int `yaml:"max_concurrent_calls" validate:"min=1"`
}

// TemporalConfig locates the Temporal frontend used by the worker and submit
// commands.
type TemporalConfig struct {
	HostPort  string `yaml:"host_port" validate:"required"`
	Namespace string `yaml:"namespace" validate:"required"`
	TaskQueue string `yaml:"task_queue" validate:"required"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() *Config {
	return &Config{
		Env: "development",
		Server: ServerConfig{
			Port:       3001,
			CORSOrigin: "http://localhost:3000",
		},
		LLM: LLMConfig{
			Provider:       llm.DefaultProviderName,
			BaseURL:        llm.DefaultBaseURL,
			DefaultModel:   llm.DefaultModel,
			MaxTokens:      llm.DefaultMaxTokens,
			RequestTimeout: llm.DefaultRequestTimeout,
			RedactPrompts:  true,
		},
		Experiments: ExperimentsConfig{
			MaxCombinations:    20,
			MaxConcurrentCalls: experiment.DefaultMaxConcurrentCalls,
		},
		Store: storage.Config{
			Driver:     storage.DriverMemory,
			SQLitePath: "sweep.db",
			Redis:      storage.RedisConfig{Addr: "localhost:6379", Prefix: "sweep"},
		},
		Temporal: TemporalConfig{
			HostPort:  "localhost:7233",
			Namespace: "default",
			TaskQueue: "sweep-experiments",
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads the YAML file at path, applies environment overrides and
// validates the result. An empty path searches the default locations and
// falls back to DefaultConfig when none exists.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, path, err := readConfigFile(path)
	if err != nil {
		return nil, err
	}
	if data != nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func readConfigFile(path string) ([]byte, string, error) {
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, path, fmt.Errorf("read config file: %w", err)
		}
		return data, path, nil
	}
	for _, name := range searchPaths {
		data, err := os.ReadFile(name)
		if err == nil {
			return data, name, nil
		}
	}
	return nil, "", nil
}

// ApplyEnv overrides fields from environment variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	integer := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", key, v, err)
		}
		*dst = n
		return nil
	}

	str("APP_ENV", &c.Env)
	str("GROQ_API_KEY", &c.LLM.APIKey)
	str("LLM_BASE_URL", &c.LLM.BaseURL)
	str("DEFAULT_MODEL", &c.LLM.DefaultModel)
	str("CORS_ORIGIN", &c.Server.CORSOrigin)
	str("STORE_DRIVER", &c.Store.Driver)
	str("SQLITE_PATH", &c.Store.SQLitePath)
	str("REDIS_ADDR", &c.Store.Redis.Addr)
	str("REDIS_PASSWORD", &c.Store.Redis.Password)
	str("TEMPORAL_HOST_PORT", &c.Temporal.HostPort)
	str("TEMPORAL_NAMESPACE", &c.Temporal.Namespace)
	str("TEMPORAL_TASK_QUEUE", &c.Temporal.TaskQueue)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)

	var timeoutMs int
	for key, dst := range map[string]*int{
		"PORT":                       &c.Server.Port,
		"MAX_CONCURRENT_LLM_CALLS":   &c.Experiments.MaxConcurrentCalls,
		"MAX_PARAMETER_COMBINATIONS": &c.Experiments.MaxCombinations,
		"REDIS_DB":                   &c.Store.Redis.DB,
		"REQUEST_TIMEOUT_MS":         &timeoutMs,
	} {
		if err := integer(key, dst); err != nil {
			return err
		}
	}
	if timeoutMs != 0 {
		c.LLM.RequestTimeout = time.Duration(timeoutMs) * time.Millisecond
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints. The API key is not required here; see
// RequireAPIKey.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// RequireAPIKey fails when no provider key is configured.
func (c *Config) RequireAPIKey() error {
	if strings.TrimSpace(c.LLM.APIKey) == "" {
		return ErrMissingAPIKey
	}
	return nil
}

// LLMClientConfig converts the provider settings for llm.NewClient.
func (c *Config) LLMClientConfig() llm.Config {
	return llm.Config{
		Provider:         c.LLM.Provider,
		BaseURL:          c.LLM.BaseURL,
		APIKey:           c.LLM.APIKey,
		DefaultModel:     c.LLM.DefaultModel,
		DefaultMaxTokens: c.LLM.MaxTokens,
		RequestTimeout:   c.LLM.RequestTimeout,
		RedactPrompts:    c.LLM.RedactPrompts,
		RateLimit: llm.RateLimitConfig{
			RequestsPerSecond: c.LLM.RateLimit.RequestsPerSecond,
			Burst:             c.LLM.RateLimit.Burst,
		},
		CircuitBreaker: llm.CircuitBreakerConfig{
			FailureThreshold: c.LLM.CircuitBreaker.FailureThreshold,
			SuccessThreshold: c.LLM.CircuitBreaker.SuccessThreshold,
			HalfOpenProbes:   c.LLM.CircuitBreaker.HalfOpenProbes,
			OpenTimeout:      c.LLM.CircuitBreaker.OpenTimeout,
		},
	}
}

// ExperimentOptions converts the sweep settings for experiment.NewService.
func (c *Config) ExperimentOptions() experiment.Options {
	return experiment.Options{
		MaxCombinations:    c.Experiments.MaxCombinations,
		MaxConcurrentCalls: c.Experiments.MaxConcurrentCalls,
		DefaultModel:       c.LLM.DefaultModel,
		MaxTokens:          c.LLM.MaxTokens,
	}
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string { return fmt.Sprintf(":%d", c.Server.Port) }

// NewLogger builds the root logger described by Log.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(c.Log.Level)}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
