package retry_test

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"

	"notifyhub/pkg/retry"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
		reason    string
	}{
		{"nil", nil, false, ""},
		{"explicit retryable wraps 404", retry.Retryable(retry.NewHTTPError(404, "nope")), true, "explicit_retryable"},
		{"explicit non-retryable wraps 500", retry.NonRetryable(retry.NewHTTPError(500, "boom")), false, "explicit_non_retryable"},
		{"http 500", retry.NewHTTPError(500, "internal"), true, "http_5xx"},
		{"http 503", retry.NewHTTPError(503, "unavailable"), true, "http_5xx"},
		{"http 429", retry.NewHTTPError(429, "slow down"), true, "http_429"},
		{"http 400", retry.NewHTTPError(400, "bad request"), false, "http_4xx"},
		{"http 401", retry.NewHTTPError(401, "unauthorized"), false, "http_4xx"},
		{"http 404", retry.NewHTTPError(404, "not found"), false, "http_4xx"},
		{"http 409", retry.NewHTTPError(409, "conflict"), true, "http_other"},
		{"wrapped http error", fmt.Errorf("trigger failed: %w", retry.NewHTTPError(502, "bad gateway")), true, "http_5xx"},
		{"context canceled", context.Canceled, false, "context_canceled"},
		{"deadline exceeded", context.DeadlineExceeded, true, "timeout"},
		{"dns error", &net.DNSError{Err: "no such host", Name: "provider.local"}, true, "dns_error"},
		{"connection refused string", errors.New("dial tcp: connection refused"), true, "network_error"},
		{"unknown", errors.New("something odd"), true, "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			retryable, reason := retry.Classify(tt.err)
			assert.Equal(t, tt.retryable, retryable)
			assert.Equal(t, tt.reason, reason)
		})
	}
}

func TestClassifiedErrorUnwrap(t *testing.T) {
	inner := retry.NewHTTPError(404, "gone")
	tagged := retry.NonRetryable(inner)

	var httpErr *retry.HTTPError
	assert.True(t, errors.As(tagged, &httpErr))
	assert.Equal(t, 404, httpErr.StatusCode)
}
