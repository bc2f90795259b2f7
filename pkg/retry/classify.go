package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ClassifiedError carries an explicit retryability verdict that overrides
// all classification heuristics.
type ClassifiedError struct {
	Err       error
	Retryable bool
}

func (e *ClassifiedError) Error() string { return e.Err.Error() }
func (e *ClassifiedError) Unwrap() error { return e.Err }

// Retryable tags err as explicitly retryable.
func Retryable(err error) error {
	return &ClassifiedError{Err: err, Retryable: true}
}

// NonRetryable tags err as explicitly non-retryable.
func NonRetryable(err error) error {
	return &ClassifiedError{Err: err, Retryable: false}
}

// HTTPError represents an HTTP-style failure from an upstream dependency.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("http %d", e.StatusCode)
}

func NewHTTPError(statusCode int, message string) *HTTPError {
	return &HTTPError{StatusCode: statusCode, Message: message}
}

// Classify determines whether err is worth retrying.
// Returns the verdict and a short reason label for logging.
func Classify(err error) (bool, string) {
	if err == nil {
		return false, ""
	}

	// An explicit flag wins over every heuristic.
	var classified *ClassifiedError
	if errors.As(err, &classified) {
		if classified.Retryable {
			return true, "explicit_retryable"
		}
		return false, "explicit_non_retryable"
	}

	// HTTP-style status codes.
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.StatusCode >= 500:
			return true, "http_5xx"
		case httpErr.StatusCode == 429:
			return true, "http_429"
		case httpErr.StatusCode == 400 || httpErr.StatusCode == 401 ||
			httpErr.StatusCode == 403 || httpErr.StatusCode == 404:
			return false, "http_4xx"
		}
		return true, "http_other"
	}

	// Context cancellation means the caller gave up.
	if errors.Is(err, context.Canceled) {
		return false, "context_canceled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true, "timeout"
	}

	// Network-class errors are transient.
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true, "dns_error"
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return true, "network_timeout"
		}
		return true, "network_error"
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true, "network_error"
	}

	errStr := err.Error()
	if strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "timeout") {
		return true, "network_error"
	}

	// Unknown errors default to retryable; permanent failures are expected
	// to be tagged or to carry a status code.
	return true, "unknown"
}
