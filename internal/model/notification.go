package model

import (
	"time"

	"github.com/google/uuid"
)

// Channel is a delivery channel supported by the external provider.
type Channel string

const (
	ChannelPush  Channel = "push"
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelInApp Channel = "in_app"
)

// Priority of a notification, denormalized onto every delivery record.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// NotificationStatus is the coarse lifecycle of a logical notification.
type NotificationStatus string

const (
	NotificationDraft     NotificationStatus = "draft"
	NotificationScheduled NotificationStatus = "scheduled"
	NotificationSending   NotificationStatus = "sending"
	NotificationSent      NotificationStatus = "sent"
	NotificationFailed    NotificationStatus = "failed"
)

// Target specifies who a notification goes to: explicit user ids,
// roles, or both.
type Target struct {
	UserIDs []uuid.UUID `json:"user_ids,omitempty"`
	Roles   []string    `json:"roles,omitempty"`
}

// Notification is the logical notification aggregate. It is composed
// elsewhere; this engine consumes it read-only apart from its coarse
// lifecycle status and per-recipient delivery marks.
type Notification struct {
	ID          uuid.UUID
	Title       string
	Body        string
	Type        string
	Priority    Priority
	Channels    []Channel
	Target      Target
	Data        map[string]any
	Status      NotificationStatus
	ScheduledAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// RecipientDelivery marks per-recipient dispatch outcome on the aggregate.
type RecipientDelivery struct {
	NotificationID uuid.UUID
	RecipientID    uuid.UUID
	Channel        Channel
	Sent           bool
	Error          string
	UpdatedAt      time.Time
}
