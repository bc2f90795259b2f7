package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"notifyhub/config"
	"notifyhub/pkg/metrics"
	"notifyhub/pkg/retry"
)

// HTTPClient calls the provider's workflow-trigger API over HTTP.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewHTTPClient(cfg config.ProviderConfig) *HTTPClient {
	return &HTTPClient{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

func (c *HTTPClient) TriggerWorkflow(ctx context.Context, req TriggerRequest) (*TriggerResponse, error) {
	start := time.Now()

	b, err := json.Marshal(req)
	if err != nil {
		return nil, retry.NonRetryable(fmt.Errorf("failed to marshal trigger request: %w", err))
	}

	url := fmt.Sprintf("%s/v1/workflows/%s/trigger", c.baseURL, req.WorkflowID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, retry.NonRetryable(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	if req.IdempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		metrics.RecordProviderCallLatency(req.WorkflowID, "network_error", time.Since(start))
		return nil, err
	}
	defer resp.Body.Close()

	metrics.RecordProviderCallLatency(req.WorkflowID, fmt.Sprintf("%d", resp.StatusCode), time.Since(start))

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, retry.NewHTTPError(resp.StatusCode, string(body))
	}

	var trigger TriggerResponse
	if err := json.NewDecoder(resp.Body).Decode(&trigger); err != nil {
		return nil, retry.NonRetryable(fmt.Errorf("failed to decode trigger response: %w", err))
	}
	if trigger.DeliveryID == "" {
		return nil, retry.NonRetryable(fmt.Errorf("provider returned empty delivery_id"))
	}

	return &trigger, nil
}
