package provider_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notifyhub/config"
	"notifyhub/internal/model"
	"notifyhub/internal/provider"
	"notifyhub/pkg/retry"
)

func TestWorkflowID(t *testing.T) {
	assert.Equal(t, "billing-push", provider.WorkflowID("billing", model.ChannelPush))
	assert.Equal(t, "system-in_app", provider.WorkflowID("system", model.ChannelInApp))
}

func newClient(baseURL string) *provider.HTTPClient {
	return provider.NewHTTPClient(config.ProviderConfig{
		BaseURL: baseURL,
		APIKey:  "test-key",
		Timeout: time.Second,
	})
}

func TestTriggerWorkflowSuccess(t *testing.T) {
	var gotPath, gotAuth, gotIdemKey string
	var gotReq provider.TriggerRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotIdemKey = r.Header.Get("Idempotency-Key")
		_ = json.NewDecoder(r.Body).Decode(&gotReq)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(provider.TriggerResponse{DeliveryID: "d-42"})
	}))
	defer srv.Close()

	client := newClient(srv.URL)
	recipientID := uuid.New()

	resp, err := client.TriggerWorkflow(context.Background(), provider.TriggerRequest{
		WorkflowID:     "billing-push",
		Recipients:     []uuid.UUID{recipientID},
		Payload:        provider.Payload{Title: "Invoice ready", Type: "billing"},
		IdempotencyKey: "batch-1",
	})

	require.NoError(t, err)
	assert.Equal(t, "d-42", resp.DeliveryID)

	assert.Equal(t, "/v1/workflows/billing-push/trigger", gotPath)
	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Equal(t, "batch-1", gotIdemKey)
	require.Len(t, gotReq.Recipients, 1)
	assert.Equal(t, recipientID, gotReq.Recipients[0])
}

func TestTriggerWorkflowServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "provider overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newClient(srv.URL).TriggerWorkflow(context.Background(), provider.TriggerRequest{
		WorkflowID: "billing-push",
	})

	var httpErr *retry.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusServiceUnavailable, httpErr.StatusCode)

	retryable, _ := retry.Classify(err)
	assert.True(t, retryable)
}

func TestTriggerWorkflowClientError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such workflow", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newClient(srv.URL).TriggerWorkflow(context.Background(), provider.TriggerRequest{
		WorkflowID: "missing",
	})

	var httpErr *retry.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusNotFound, httpErr.StatusCode)

	retryable, _ := retry.Classify(err)
	assert.False(t, retryable)
}

func TestTriggerWorkflowEmptyDeliveryID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	_, err := newClient(srv.URL).TriggerWorkflow(context.Background(), provider.TriggerRequest{
		WorkflowID: "billing-push",
	})

	require.Error(t, err)
	retryable, _ := retry.Classify(err)
	assert.False(t, retryable, "a malformed provider response is not worth retrying")
}
