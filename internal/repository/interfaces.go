package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"notifyhub/internal/model"
)

// MaxPageSize is the hard cap applied to list queries regardless of the
// requested limit.
const MaxPageSize = 100

// ListFilter narrows a recipient's delivery history. Nil/zero fields are
// ignored. SortBy/SortOrder participate in cache fingerprinting; the store
// only admits whitelisted values.
type ListFilter struct {
	Status    *model.DeliveryStatus
	Channel   *model.Channel
	Type      string
	StartDate *time.Time
	EndDate   *time.Time
	Limit     int
	Offset    int
	SortBy    string
	SortOrder string
}

// StatusExtra carries the optional fields merged into a record alongside a
// status transition.
type StatusExtra struct {
	SentAt       *time.Time
	DeliveredAt  *time.Time
	ReadAt       *time.Time
	ErrorMessage *string
	ErrorCode    *string
	RetryCount   *int
	DeliveryID   *string
}

// Statistics is the aggregate view of one recipient's delivery records.
type Statistics struct {
	Total      int64
	Unread     int64
	Read       int64
	ByType     map[string]int64
	ByPriority map[string]int64
}

// DeliveryStore persists per-recipient-per-channel delivery records.
// All reads are scoped to the requesting recipient.
type DeliveryStore interface {
	Save(ctx context.Context, rec *model.DeliveryRecord) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.DeliveryRecord, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status model.DeliveryStatus, extra StatusExtra) error
	UpdateByDeliveryID(ctx context.Context, deliveryID string, status model.DeliveryStatus, errorMessage string) (int64, error)
	ListByRecipient(ctx context.Context, recipientID uuid.UUID, filter ListFilter) ([]*model.DeliveryRecord, error)
	CountByRecipient(ctx context.Context, recipientID uuid.UUID, status *model.DeliveryStatus) (int64, error)
	MarkAllRead(ctx context.Context, recipientID uuid.UUID, limit int, readAt time.Time) (int64, error)
	SetArchived(ctx context.Context, id uuid.UUID) (bool, error)
	GetStatistics(ctx context.Context, recipientID uuid.UUID, startDate, endDate *time.Time) (*Statistics, error)
}

// NotificationStore persists the logical notification aggregate's coarse
// lifecycle and per-recipient delivery marks.
type NotificationStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Notification, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status model.NotificationStatus) error
	MarkRecipientDelivery(ctx context.Context, mark model.RecipientDelivery) error
	ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]*model.Notification, error)
}
