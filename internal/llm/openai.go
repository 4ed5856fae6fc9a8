package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// openAIAdapter speaks the OpenAI chat/completions format, which Groq and
// other compatible providers accept unchanged.
type openAIAdapter struct {
	provider string
	endpoint string
	apiKey   string
	headers  map[string]string
}

func newOpenAIAdapter(cfg Config) *openAIAdapter {
	return &openAIAdapter{
		provider: cfg.Provider,
		endpoint: strings.TrimRight(cfg.BaseURL, "/") + "/chat/completions",
		apiKey:   cfg.APIKey,
		headers:  cfg.Headers,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	TopP        float64       `json:"top_p"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int         `json:"index"`
		Message chatMessage `json:"message"`
		// FinishReason is "stop", "length" or a provider specific value.
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Build constructs a chat completion request with the prompt as the single
// user message.
func (a *openAIAdapter) Build(ctx context.Context, req *Request) (*http.Request, error) {
	body, err := json.Marshal(chatRequest{
		Model:       req.Model,
		Messages:    []chatMessage{{Role: "user", Content: req.Prompt}},
		Temperature: req.Temperature,
		TopP:        req.TopP,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)
	if req.RequestID != "" {
		httpReq.Header.Set("X-Request-ID", req.RequestID)
	}
	for k, v := range a.headers {
		httpReq.Header.Set(k, v)
	}
	return httpReq, nil
}

// Parse extracts text and usage from a chat completion response.
func (a *openAIAdapter) Parse(httpResp *http.Response) (*Response, error) {
	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, a.parseError(httpResp.StatusCode, body)
	}

	var resp chatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrEmptyResponse
	}

	return &Response{
		Text:              resp.Choices[0].Message.Content,
		FinishReason:      resp.Choices[0].FinishReason,
		PromptTokens:      resp.Usage.PromptTokens,
		CompletionTokens:  resp.Usage.CompletionTokens,
		TotalTokens:       resp.Usage.TotalTokens,
		ProviderRequestID: httpResp.Header.Get("x-request-id"),
	}, nil
}

// parseError converts an error body to a ProviderError, falling back to the
// raw body when it is not the standard error envelope.
func (a *openAIAdapter) parseError(statusCode int, body []byte) error {
	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    string `json:"code"`
		} `json:"error"`
	}

	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		code := errResp.Error.Code
		if code == "" {
			code = errResp.Error.Type
		}
		return &ProviderError{
			Provider:   a.provider,
			StatusCode: statusCode,
			Message:    errResp.Error.Message,
			Code:       code,
			Type:       classifyErrorType(statusCode, code),
		}
	}

	return &ProviderError{
		Provider:   a.provider,
		StatusCode: statusCode,
		Message:    strings.TrimSpace(string(body)),
		Type:       classifyErrorType(statusCode, ""),
	}
}
