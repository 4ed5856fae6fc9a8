package llm

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Request is a normalized generation request flowing through the
// middleware pipeline.
type Request struct {
	// RequestID correlates log lines for one call.
	RequestID   string
	Prompt      string
	Model       string
	Temperature float64
	TopP        float64
	MaxTokens   int
}

// Response is the normalized provider reply.
type Response struct {
	Text              string
	FinishReason      string
	PromptTokens      int
	CompletionTokens  int
	TotalTokens       int
	LatencyMs         int64
	ProviderRequestID string
}

// Handler processes LLM requests through a composable middleware pipeline.
type Handler interface {
	Handle(ctx context.Context, req *Request) (*Response, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(context.Context, *Request) (*Response, error)

// Handle implements the Handler interface.
func (f HandlerFunc) Handle(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// Middleware transforms a Handler into an enhanced Handler.
type Middleware func(Handler) Handler

// Chain builds a middleware pipeline around a core handler. The first
// middleware is outermost.
func Chain(h Handler, middlewares ...Middleware) Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// httpHandler is the core handler that makes the provider HTTP call.
type httpHandler struct {
	client  *http.Client
	adapter *openAIAdapter
}

// Handle implements Handler by calling the provider. Latency covers the
// round trip only, not time spent waiting in middleware.
func (h *httpHandler) Handle(ctx context.Context, req *Request) (*Response, error) {
	httpReq, err := h.adapter.Build(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	start := time.Now()
	httpResp, err := h.client.Do(httpReq)
	latency := time.Since(start)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	resp, err := h.adapter.Parse(httpResp)
	if err != nil {
		return nil, err
	}
	resp.LatencyMs = latency.Milliseconds()
	return resp, nil
}
