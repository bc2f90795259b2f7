package mq

import (
	"time"

	"github.com/google/uuid"
)

// Routing keys on the notifications exchange.
const (
	RoutingKeyDispatchRequested = "notification.dispatch.requested"
	RoutingKeyDeliveryStatus    = "notification.delivery.status"
	RoutingKeyNotificationSent  = "notification.sent"
	RoutingKeyNotificationFail  = "notification.failed"
	RoutingKeyNotificationRead  = "notification.read"
)

// NotificationDispatchRequestedPayload asks the engine to fan a notification
// out to a recipient batch on one channel.
type NotificationDispatchRequestedPayload struct {
	NotificationID uuid.UUID   `json:"notification_id"`
	RecipientIDs   []uuid.UUID `json:"recipient_ids"`
	Channel        string      `json:"channel"`
	TraceID        string      `json:"trace_id,omitempty"`
	RequestedAt    time.Time   `json:"requested_at"`
}

// DeliveryStatusUpdatedPayload carries a provider delivery-webhook callback,
// bridged onto the MQ by the inbound gateway.
type DeliveryStatusUpdatedPayload struct {
	DeliveryID   string    `json:"delivery_id"`
	Status       string    `json:"status"` // delivered / failed
	ErrorMessage string    `json:"error_message,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
	TraceID      string    `json:"trace_id,omitempty"`
}

// NotificationSentPayload announces a successfully dispatched batch.
type NotificationSentPayload struct {
	NotificationID uuid.UUID `json:"notification_id"`
	Channel        string    `json:"channel"`
	DeliveryID     string    `json:"delivery_id"`
	RecipientCount int       `json:"recipient_count"`
	SentAt         time.Time `json:"sent_at"`
	TraceID        string    `json:"trace_id,omitempty"`
}

// NotificationFailedPayload announces a batch that exhausted its retries.
type NotificationFailedPayload struct {
	NotificationID uuid.UUID `json:"notification_id"`
	Channel        string    `json:"channel"`
	Error          string    `json:"error"`
	ErrorCode      string    `json:"error_code"`
	RecipientCount int       `json:"recipient_count"`
	TraceID        string    `json:"trace_id,omitempty"`
}

// NotificationReadPayload announces a recipient reading a delivery record.
type NotificationReadPayload struct {
	RecordID       uuid.UUID `json:"record_id"`
	NotificationID uuid.UUID `json:"notification_id"`
	RecipientID    uuid.UUID `json:"recipient_id"`
	ReadAt         time.Time `json:"read_at"`
	TraceID        string    `json:"trace_id,omitempty"`
}
