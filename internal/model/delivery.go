package model

import (
	"time"

	"github.com/google/uuid"
)

// DeliveryStatus is the per-recipient delivery state.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliverySent      DeliveryStatus = "sent"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryRead      DeliveryStatus = "read"
	DeliveryFailed    DeliveryStatus = "failed"
	DeliveryClicked   DeliveryStatus = "clicked"
)

// deliveryTransitions is the closed transition table. Transitions only move
// forward, except that failed records may loop on failed or re-enter the
// dispatch path on a retry.
var deliveryTransitions = map[DeliveryStatus][]DeliveryStatus{
	DeliveryPending:   {DeliverySent, DeliveryFailed},
	DeliverySent:      {DeliveryDelivered, DeliveryRead, DeliveryFailed},
	DeliveryDelivered: {DeliveryRead, DeliveryClicked},
	DeliveryRead:      {DeliveryClicked},
	DeliveryFailed:    {DeliveryFailed, DeliveryPending, DeliverySent},
	DeliveryClicked:   {},
}

// CanTransitionTo reports whether the state machine admits s -> next.
func (s DeliveryStatus) CanTransitionTo(next DeliveryStatus) bool {
	for _, allowed := range deliveryTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsValid reports whether s is a known delivery status.
func (s DeliveryStatus) IsValid() bool {
	_, ok := deliveryTransitions[s]
	return ok
}

// DeliveryRecord is one per-recipient-per-channel unit of delivery state.
// Title, body, type and priority are denormalized from the notification so
// history reads need no join. Records are never deleted; archived is a flag
// orthogonal to status.
type DeliveryRecord struct {
	ID             uuid.UUID
	RecipientID    uuid.UUID
	NotificationID uuid.UUID
	Title          string
	Body           string
	Type           string
	Priority       Priority
	Channel        Channel
	Data           map[string]any
	Status         DeliveryStatus
	SentAt         *time.Time
	DeliveredAt    *time.Time
	ReadAt         *time.Time
	ErrorMessage   string
	ErrorCode      string
	RetryCount     int
	DeliveryID     string
	Archived       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// DeliveryResult is the per-recipient outcome of one dispatch batch.
type DeliveryResult struct {
	RecipientID uuid.UUID
	RecordID    uuid.UUID
	Success     bool
	DeliveryID  string
	Error       string
}
