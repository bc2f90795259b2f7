package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"notifyhub/internal/model"
	"notifyhub/pkg/metrics"
)

const notificationTable = "notifications"

// NotificationRepository is the pgx-backed NotificationStore.
type NotificationRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewNotificationRepository(db *pgxpool.Pool, logger *zap.Logger) *NotificationRepository {
	return &NotificationRepository{db: db, logger: logger}
}

func (r *NotificationRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Notification, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQueryDuration("get", notificationTable, time.Since(start)) }()

	query := `
		SELECT id, title, body, type, priority, channels, target, data, status,
		       scheduled_at, created_at, updated_at
		FROM notifications
		WHERE id = $1
	`

	n, err := scanNotification(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get notification: %w", err)
	}
	return n, nil
}

func (r *NotificationRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status model.NotificationStatus) error {
	start := time.Now()
	defer func() { metrics.RecordDBQueryDuration("update_status", notificationTable, time.Since(start)) }()

	ct, err := r.db.Exec(ctx, `
		UPDATE notifications
		SET status = $2, updated_at = NOW()
		WHERE id = $1
	`, id, status)
	if err != nil {
		return fmt.Errorf("failed to update notification status: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}

// MarkRecipientDelivery upserts the per-recipient dispatch outcome on the
// aggregate.
func (r *NotificationRepository) MarkRecipientDelivery(ctx context.Context, mark model.RecipientDelivery) error {
	start := time.Now()
	defer func() {
		metrics.RecordDBQueryDuration("mark_recipient_delivery", "notification_recipient_deliveries", time.Since(start))
	}()

	_, err := r.db.Exec(ctx, `
		INSERT INTO notification_recipient_deliveries (notification_id, recipient_id, channel, sent, error, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (notification_id, recipient_id, channel) DO UPDATE SET
			sent = EXCLUDED.sent,
			error = EXCLUDED.error,
			updated_at = NOW()
	`, mark.NotificationID, mark.RecipientID, mark.Channel, mark.Sent, nullIfEmpty(mark.Error))
	if err != nil {
		return fmt.Errorf("failed to mark recipient delivery: %w", err)
	}
	return nil
}

// ListDueScheduled returns scheduled notifications whose time has come,
// oldest first.
func (r *NotificationRepository) ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]*model.Notification, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQueryDuration("list_due_scheduled", notificationTable, time.Since(start)) }()

	query := `
		SELECT id, title, body, type, priority, channels, target, data, status,
		       scheduled_at, created_at, updated_at
		FROM notifications
		WHERE status = 'scheduled' AND scheduled_at IS NOT NULL AND scheduled_at <= $1
		ORDER BY scheduled_at ASC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list due notifications: %w", err)
	}
	defer rows.Close()

	var notifications []*model.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		notifications = append(notifications, n)
	}

	return notifications, rows.Err()
}

func scanNotification(row rowScanner) (*model.Notification, error) {
	var n model.Notification
	var channels []string
	var targetJSON, dataJSON []byte

	err := row.Scan(
		&n.ID, &n.Title, &n.Body, &n.Type, &n.Priority, &channels,
		&targetJSON, &dataJSON, &n.Status, &n.ScheduledAt,
		&n.CreatedAt, &n.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	for _, c := range channels {
		n.Channels = append(n.Channels, model.Channel(c))
	}
	if len(targetJSON) > 0 {
		if err := json.Unmarshal(targetJSON, &n.Target); err != nil {
			return nil, fmt.Errorf("failed to unmarshal target: %w", err)
		}
	}
	if len(dataJSON) > 0 {
		if err := json.Unmarshal(dataJSON, &n.Data); err != nil {
			return nil, fmt.Errorf("failed to unmarshal data: %w", err)
		}
	}

	return &n, nil
}
