package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// ErrorType categorizes provider failures.
type ErrorType string

const (
	ErrorTypeTimeout    ErrorType = "timeout"
	ErrorTypeRateLimit  ErrorType = "rate_limit"
	ErrorTypeNetwork    ErrorType = "network"
	ErrorTypeProvider   ErrorType = "provider_unavailable"
	ErrorTypeValidation ErrorType = "validation_failed"
	ErrorTypeAuth       ErrorType = "authentication"
	ErrorTypePermission ErrorType = "permission_denied"
	ErrorTypeQuota      ErrorType = "quota_exceeded"
	ErrorTypeCanceled   ErrorType = "canceled"
	ErrorTypeCircuit    ErrorType = "circuit_open"
	ErrorTypeUnknown    ErrorType = "unknown"
)

// Sentinel errors for client-side failures.
var (
	ErrEmptyPrompt   = errors.New("prompt cannot be empty")
	ErrMissingAPIKey = errors.New("provider API key is required")
	ErrInvalidParams = errors.New("invalid generation parameters")
	ErrEmptyResponse = errors.New("provider returned no choices")
	ErrRateLimitWait = errors.New("rate limit wait aborted")
	ErrCircuitOpen   = errors.New("provider circuit breaker is open")
)

// serverErrorStatus is the first HTTP status treated as a provider outage.
const serverErrorStatus = http.StatusInternalServerError

// ProviderError is a failure reported by the provider API.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
	Code       string
	Type       ErrorType
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s error (status %d): %s", e.Provider, e.StatusCode, e.Message)
}

// IsRetryable reports whether the failure is transient. The sweep never
// retries, but Temporal activities use this to pick the error kind.
func (e *ProviderError) IsRetryable() bool {
	switch e.Type {
	case ErrorTypeTimeout, ErrorTypeRateLimit, ErrorTypeNetwork, ErrorTypeProvider:
		return true
	default:
		return false
	}
}

// ClassifyError maps any client error onto an ErrorType.
func ClassifyError(err error) ErrorType {
	if err == nil {
		return ""
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Type
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorTypeTimeout
	case errors.Is(err, context.Canceled):
		return ErrorTypeCanceled
	case errors.Is(err, ErrRateLimitWait):
		return ErrorTypeRateLimit
	case errors.Is(err, ErrCircuitOpen):
		return ErrorTypeCircuit
	case errors.Is(err, ErrEmptyPrompt), errors.Is(err, ErrInvalidParams):
		return ErrorTypeValidation
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ErrorTypeTimeout
		}
		return ErrorTypeNetwork
	}
	return ErrorTypeUnknown
}

// IsRetryable reports whether err is worth retrying at a higher layer.
func IsRetryable(err error) bool {
	switch ClassifyError(err) {
	case ErrorTypeTimeout, ErrorTypeRateLimit, ErrorTypeNetwork, ErrorTypeProvider:
		return true
	default:
		return false
	}
}

// classifyErrorType determines ErrorType from HTTP status and provider error
// codes, preferring the provider's code when it is specific.
func classifyErrorType(statusCode int, errorCode string) ErrorType {
	lowerCode := strings.ToLower(errorCode)
	switch {
	case strings.Contains(lowerCode, "rate") || strings.Contains(lowerCode, "limit"):
		return ErrorTypeRateLimit
	case strings.Contains(lowerCode, "timeout"):
		return ErrorTypeTimeout
	case strings.Contains(lowerCode, "auth") || strings.Contains(lowerCode, "api_key"):
		return ErrorTypeAuth
	case strings.Contains(lowerCode, "permission") || strings.Contains(lowerCode, "forbidden"):
		return ErrorTypePermission
	case strings.Contains(lowerCode, "quota"):
		return ErrorTypeQuota
	}

	switch statusCode {
	case http.StatusTooManyRequests:
		return ErrorTypeRateLimit
	case http.StatusUnauthorized:
		return ErrorTypeAuth
	case http.StatusForbidden:
		return ErrorTypePermission
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return ErrorTypeTimeout
	case http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity:
		return ErrorTypeValidation
	default:
		if statusCode >= serverErrorStatus {
			return ErrorTypeProvider
		}
		return ErrorTypeUnknown
	}
}
