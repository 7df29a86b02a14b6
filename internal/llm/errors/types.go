// Package errors defines the error taxonomy of the model-call client.
// Provider failures are classified into ErrorType categories that decide
// whether a call is retried.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrorType classifies a provider failure.
type ErrorType string

const (
	// ErrorTypeTimeout indicates the request exceeded its deadline.
	ErrorTypeTimeout ErrorType = "timeout"

	// ErrorTypeRateLimit indicates the provider throttled the request.
	ErrorTypeRateLimit ErrorType = "rate_limit"

	// ErrorTypeNetwork indicates a transport level failure.
	ErrorTypeNetwork ErrorType = "network"

	// ErrorTypeProvider indicates the provider failed on its side (5xx).
	ErrorTypeProvider ErrorType = "provider_unavailable"

	// ErrorTypeAuth indicates missing or rejected credentials.
	ErrorTypeAuth ErrorType = "authentication"

	// ErrorTypePermission indicates the credentials lack access.
	ErrorTypePermission ErrorType = "permission_denied"

	// ErrorTypeValidation indicates the provider rejected the request body.
	ErrorTypeValidation ErrorType = "validation_failed"

	// ErrorTypeUnknown is everything else.
	ErrorTypeUnknown ErrorType = "unknown"
)

// Sentinel errors.
var (
	// ErrUnknownProvider is returned when no adapter is configured for a provider.
	ErrUnknownProvider = errors.New("unknown provider")

	// ErrInvalidResponse is returned when a provider response cannot be decoded.
	ErrInvalidResponse = errors.New("invalid provider response")

	// ErrImageLayout is returned when the image markers of a prompt do not
	// fit the images supplied with it.
	ErrImageLayout = errors.New("image markers do not match images")

	// ErrMaxRetriesExceeded wraps the last error once every attempt failed.
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")
)

// ServerErrorStatusThreshold is the first HTTP status treated as a provider failure.
const ServerErrorStatusThreshold = 500

// ProviderError is a classified failure returned by a provider.
type ProviderError struct {
	Provider   string    `json:"provider"`
	StatusCode int       `json:"status_code"`
	Message    string    `json:"message"`
	Code       string    `json:"code"`
	Type       ErrorType `json:"type"`
	RetryAfter int       `json:"retry_after"` // seconds
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s error (status %d): %s", e.Provider, e.StatusCode, e.Message)
}

// IsRetryable reports whether the failure is transient.
func (e *ProviderError) IsRetryable() bool {
	switch e.Type {
	case ErrorTypeTimeout, ErrorTypeRateLimit, ErrorTypeNetwork, ErrorTypeProvider:
		return true
	default:
		return false
	}
}

// GetRetryAfter returns the provider's requested wait, or zero.
func (e *ProviderError) GetRetryAfter() time.Duration {
	if e.RetryAfter > 0 {
		return time.Duration(e.RetryAfter) * time.Second
	}
	return 0
}

// Classify determines the ErrorType from an HTTP status and a provider
// error code. The code wins when it is specific.
func Classify(statusCode int, errorCode string) ErrorType {
	lowerCode := strings.ToLower(errorCode)
	switch {
	case strings.Contains(lowerCode, "rate") || strings.Contains(lowerCode, "limit") ||
		strings.Contains(lowerCode, "resource_exhausted"):
		return ErrorTypeRateLimit
	case strings.Contains(lowerCode, "timeout") || strings.Contains(lowerCode, "deadline"):
		return ErrorTypeTimeout
	case strings.Contains(lowerCode, "auth"):
		return ErrorTypeAuth
	case strings.Contains(lowerCode, "permission") || strings.Contains(lowerCode, "forbidden"):
		return ErrorTypePermission
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
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return ErrorTypeValidation
	default:
		if statusCode >= ServerErrorStatusThreshold {
			return ErrorTypeProvider
		}
		return ErrorTypeUnknown
	}
}

// IsRetryableError reports whether err is worth another attempt: transient
// provider errors, deadlines and network failures.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return provErr.IsRetryable()
	}

	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	return isNetworkError(err)
}

// RetryAfter returns the wait requested by err, or zero.
func RetryAfter(err error) time.Duration {
	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return provErr.GetRetryAfter()
	}
	return 0
}

func isNetworkError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		var netErr net.Error
		if errors.As(urlErr.Err, &netErr) {
			return netErr.Timeout()
		}
		return networkMessage(urlErr.Err.Error())
	}

	return networkMessage(err.Error())
}

var networkIndicators = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"no such host",
	"network is unreachable",
	"i/o timeout",
	"unexpected eof",
}

func networkMessage(msg string) bool {
	lowered := strings.ToLower(msg)
	for _, indicator := range networkIndicators {
		if strings.Contains(lowered, indicator) {
			return true
		}
	}
	return false
}
