package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"notifyhub/internal/model"
)

// DependencyKey identifies the provider for circuit breaking.
const DependencyKey = "notification-provider"

// Payload is the channel-independent notification content sent to the
// provider. It is built once per batch; only the recipient list varies.
type Payload struct {
	Title     string         `json:"title"`
	Body      string         `json:"body"`
	Type      string         `json:"type"`
	Priority  string         `json:"priority"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// TriggerRequest fans a workflow out to a recipient batch.
type TriggerRequest struct {
	WorkflowID string      `json:"workflow_id"`
	Recipients []uuid.UUID `json:"recipients"`
	Payload    Payload     `json:"payload"`
	// IdempotencyKey is stable across batch retry attempts so an idempotent
	// provider can collapse duplicate sends.
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// TriggerResponse carries the provider's batch delivery id.
type TriggerResponse struct {
	DeliveryID string `json:"delivery_id"`
}

// Client is the external workflow-trigger operation, consumed as a black box.
type Client interface {
	TriggerWorkflow(ctx context.Context, req TriggerRequest) (*TriggerResponse, error)
}

// WorkflowID derives the provider workflow deterministically from the
// notification type and channel.
func WorkflowID(notificationType string, channel model.Channel) string {
	return fmt.Sprintf("%s-%s", notificationType, channel)
}
