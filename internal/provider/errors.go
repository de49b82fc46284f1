package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// ProviderError is a failed call to an outside collaborator (partner webhook, order or price service).
// Transient marks failures worth another attempt.
type ProviderError struct {
	Service    string
	StatusCode int
	Message    string
	Transient  bool
	Cause      error
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "<nil>"
	}

	service := e.Service
	if service == "" {
		service = "provider"
	}
	parts := []string{service + " error"}
	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, ": ")
}

func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// StatusCodeOf extracts the HTTP status carried by a ProviderError anywhere in err's chain.
func StatusCodeOf(err error) (int, bool) {
	var providerErr *ProviderError
	if errors.As(err, &providerErr) && providerErr.StatusCode > 0 {
		return providerErr.StatusCode, true
	}
	return 0, false
}

// IsTransient reports whether an error should be retried.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr.Transient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

// requestFailed wraps a transport-level failure (no HTTP answer at all).
func requestFailed(service string, err error) *ProviderError {
	return &ProviderError{
		Service:   service,
		Message:   "request failed",
		Transient: !errors.Is(err, context.Canceled),
		Cause:     err,
	}
}

// unexpectedStatus wraps a non-2xx answer; 429 and 5xx are transient.
func unexpectedStatus(service string, statusCode int, body string) *ProviderError {
	message := fmt.Sprintf("returned status %d", statusCode)
	if body != "" {
		message += ": " + body
	}
	return &ProviderError{
		Service:    service,
		StatusCode: statusCode,
		Message:    message,
		Transient:  isTransientHTTPStatus(statusCode),
	}
}

func isSuccessStatus(statusCode int) bool {
	return statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || (statusCode >= http.StatusInternalServerError && statusCode <= 599)
}
