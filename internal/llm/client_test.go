package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedRequest struct {
	auth string
	body chatRequest
}

func newTestServer(t *testing.T, status int, reply string) (*httptest.Server, *capturedRequest) {
	t.Helper()
	captured := &capturedRequest{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		captured.auth = r.Header.Get("Authorization")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&captured.body))
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("x-request-id", "req-123")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)
	return srv, captured
}

func newTestClient(t *testing.T, baseURL string, mutate ...func(*Config)) *HTTPClient {
	t.Helper()
	cfg := DefaultConfig()
	cfg.APIKey = "test-key"
	cfg.BaseURL = baseURL
	for _, m := range mutate {
		m(&cfg)
	}
	c, err := NewClient(cfg)
	require.NoError(t, err)
	return c
}

const okReply = `{
	"id": "chatcmpl-1",
	"model": "mixtral-8x7b-32768",
	"choices": [{"index": 0, "message": {"role": "assistant", "content": "Quantum bits."}, "finish_reason": "stop"}],
	"usage": {"prompt_tokens": 12, "completion_tokens": 3, "total_tokens": 15}
}`

func TestNewClient_RequiresAPIKey(t *testing.T) {
	_, err := NewClient(DefaultConfig())
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}

func TestHTTPClient_Generate(t *testing.T) {
	srv, captured := newTestServer(t, http.StatusOK, okReply)
	c := newTestClient(t, srv.URL)

	res, err := c.Generate(context.Background(), GenerateRequest{
		Prompt:      "Explain quantum computing",
		Temperature: 0.7,
		TopP:        0.9,
	})
	require.NoError(t, err)

	assert.Equal(t, "Quantum bits.", res.Text)
	assert.Equal(t, 15, res.TokensUsed)
	assert.Equal(t, DefaultModel, res.Model)
	assert.GreaterOrEqual(t, res.LatencyMs, int64(0))

	assert.Equal(t, "Bearer test-key", captured.auth)
	assert.Equal(t, DefaultModel, captured.body.Model)
	assert.InDelta(t, 0.7, captured.body.Temperature, 1e-9)
	assert.InDelta(t, 0.9, captured.body.TopP, 1e-9)
	assert.Equal(t, DefaultMaxTokens, captured.body.MaxTokens)
	require.Len(t, captured.body.Messages, 1)
	assert.Equal(t, chatMessage{Role: "user", Content: "Explain quantum computing"}, captured.body.Messages[0])
}

func TestHTTPClient_GenerateExplicitModelAndTokens(t *testing.T) {
	srv, captured := newTestServer(t, http.StatusOK, okReply)
	c := newTestClient(t, srv.URL+"/")

	res, err := c.Generate(context.Background(), GenerateRequest{
		Prompt: "hi", Temperature: 0, TopP: 1, Model: "llama3-8b-8192", MaxTokens: 64,
	})
	require.NoError(t, err)
	assert.Equal(t, "llama3-8b-8192", res.Model)
	assert.Equal(t, "llama3-8b-8192", captured.body.Model)
	assert.Equal(t, 64, captured.body.MaxTokens)
}

func TestHTTPClient_GenerateRejectsBadInput(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
	}))
	t.Cleanup(srv.Close)
	c := newTestClient(t, srv.URL)

	tests := []struct {
		name string
		req  GenerateRequest
		want error
	}{
		{name: "empty prompt", req: GenerateRequest{Prompt: "  ", TopP: 1}, want: ErrEmptyPrompt},
		{name: "temperature too high", req: GenerateRequest{Prompt: "x", Temperature: 2.1, TopP: 1}, want: ErrInvalidParams},
		{name: "negative top-p", req: GenerateRequest{Prompt: "x", TopP: -0.1}, want: ErrInvalidParams},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Generate(context.Background(), tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Zero(t, calls.Load())
}

func TestHTTPClient_GenerateProviderErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantType  ErrorType
		wantMsg   string
		retryable bool
	}{
		{
			name:     "invalid key",
			status:   http.StatusUnauthorized,
			body:     `{"error":{"message":"Invalid API Key","type":"invalid_request_error","code":"invalid_api_key"}}`,
			wantType: ErrorTypeAuth,
			wantMsg:  "Invalid API Key",
		},
		{
			name:      "rate limited",
			status:    http.StatusTooManyRequests,
			body:      `{"error":{"message":"Rate limit reached","type":"tokens","code":"rate_limit_exceeded"}}`,
			wantType:  ErrorTypeRateLimit,
			wantMsg:   "Rate limit reached",
			retryable: true,
		},
		{
			name:      "plain text outage",
			status:    http.StatusBadGateway,
			body:      "bad gateway\n",
			wantType:  ErrorTypeProvider,
			wantMsg:   "bad gateway",
			retryable: true,
		},
		{
			name:     "unknown model",
			status:   http.StatusNotFound,
			body:     `{"error":{"message":"model not found"}}`,
			wantType: ErrorTypeValidation,
			wantMsg:  "model not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newTestServer(t, tt.status, tt.body)
			c := newTestClient(t, srv.URL)

			_, err := c.Generate(context.Background(), GenerateRequest{Prompt: "x", TopP: 1})
			require.Error(t, err)

			var pe *ProviderError
			require.True(t, errors.As(err, &pe))
			assert.Equal(t, tt.status, pe.StatusCode)
			assert.Equal(t, tt.wantType, pe.Type)
			assert.Equal(t, tt.wantMsg, pe.Message)
			assert.Equal(t, DefaultProviderName, pe.Provider)
			assert.Equal(t, tt.retryable, IsRetryable(err))
		})
	}
}

func TestHTTPClient_GenerateNoChoices(t *testing.T) {
	srv, _ := newTestServer(t, http.StatusOK, `{"choices":[],"usage":{"total_tokens":0}}`)
	c := newTestClient(t, srv.URL)

	_, err := c.Generate(context.Background(), GenerateRequest{Prompt: "x", TopP: 1})
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestHTTPClient_GenerateTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})
	c := newTestClient(t, srv.URL, func(cfg *Config) { cfg.RequestTimeout = 50 * time.Millisecond })

	_, err := c.Generate(context.Background(), GenerateRequest{Prompt: "x", TopP: 1})
	require.Error(t, err)
	assert.Equal(t, ErrorTypeTimeout, ClassifyError(err))
}

func TestHTTPClient_Ping(t *testing.T) {
	srv, captured := newTestServer(t, http.StatusOK, okReply)
	c := newTestClient(t, srv.URL)

	require.NoError(t, c.Ping(context.Background()))
	assert.Equal(t, "Hello", captured.body.Messages[0].Content)
	assert.Equal(t, 10, captured.body.MaxTokens)
	assert.InDelta(t, 0.7, captured.body.Temperature, 1e-9)
	assert.InDelta(t, 0.9, captured.body.TopP, 1e-9)
}

func TestHTTPClient_WithMiddlewareRunsInsideChain(t *testing.T) {
	srv, _ := newTestServer(t, http.StatusOK, okReply)
	var seenID string
	cfg := DefaultConfig()
	cfg.APIKey = "k"
	cfg.BaseURL = srv.URL
	c, err := NewClient(cfg, WithMiddleware(func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, req *Request) (*Response, error) {
			seenID = req.RequestID
			return next.Handle(ctx, req)
		})
	}))
	require.NoError(t, err)

	_, err = c.Generate(context.Background(), GenerateRequest{Prompt: "x", TopP: 1})
	require.NoError(t, err)
	assert.NotEmpty(t, seenID, "logging middleware assigns request ids before inner middleware")
}
