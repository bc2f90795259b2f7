package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"notifyhub/internal/model"
	"notifyhub/pkg/metrics"
)

const deliveryTable = "user_notifications"

// DeliveryRepository is the pgx-backed DeliveryStore.
type DeliveryRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewDeliveryRepository(db *pgxpool.Pool, logger *zap.Logger) *DeliveryRepository {
	return &DeliveryRepository{db: db, logger: logger}
}

const deliveryColumns = `
	id, recipient_id, notification_id, title, body, type, priority, channel,
	data, status, sent_at, delivered_at, read_at, error_message, error_code,
	retry_count, delivery_id, archived, created_at, updated_at`

// Save upserts a delivery record by id.
func (r *DeliveryRepository) Save(ctx context.Context, rec *model.DeliveryRecord) error {
	start := time.Now()
	defer func() { metrics.RecordDBQueryDuration("save", deliveryTable, time.Since(start)) }()

	dataJSON, err := json.Marshal(rec.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal record data: %w", err)
	}

	query := `
		INSERT INTO user_notifications (
			id, recipient_id, notification_id, title, body, type, priority, channel,
			data, status, sent_at, delivered_at, read_at, error_message, error_code,
			retry_count, delivery_id, archived
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			body = EXCLUDED.body,
			type = EXCLUDED.type,
			priority = EXCLUDED.priority,
			channel = EXCLUDED.channel,
			data = EXCLUDED.data,
			status = EXCLUDED.status,
			sent_at = EXCLUDED.sent_at,
			delivered_at = EXCLUDED.delivered_at,
			read_at = EXCLUDED.read_at,
			error_message = EXCLUDED.error_message,
			error_code = EXCLUDED.error_code,
			retry_count = EXCLUDED.retry_count,
			delivery_id = EXCLUDED.delivery_id,
			archived = EXCLUDED.archived,
			updated_at = NOW()
		RETURNING created_at, updated_at
	`

	err = r.db.QueryRow(ctx, query,
		rec.ID, rec.RecipientID, rec.NotificationID, rec.Title, rec.Body,
		rec.Type, rec.Priority, rec.Channel, dataJSON, rec.Status,
		rec.SentAt, rec.DeliveredAt, rec.ReadAt,
		nullIfEmpty(rec.ErrorMessage), nullIfEmpty(rec.ErrorCode),
		rec.RetryCount, nullIfEmpty(rec.DeliveryID), rec.Archived,
	).Scan(&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save delivery record: %w", err)
	}

	metrics.IncrementDeliveryStatus(string(rec.Status))
	return nil
}

// GetByID fetches a single record.
func (r *DeliveryRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.DeliveryRecord, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQueryDuration("get", deliveryTable, time.Since(start)) }()

	query := `SELECT ` + deliveryColumns + ` FROM user_notifications WHERE id = $1`

	rec, err := scanDelivery(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get delivery record: %w", err)
	}
	return rec, nil
}

// UpdateStatus transitions a record, merging extra fields and bumping
// updated_at. Illegal transitions are rejected with ErrInvalidTransition.
func (r *DeliveryRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status model.DeliveryStatus, extra StatusExtra) error {
	start := time.Now()
	defer func() { metrics.RecordDBQueryDuration("update_status", deliveryTable, time.Since(start)) }()

	if !status.IsValid() {
		return fmt.Errorf("%w: unknown status %q", model.ErrInvalidTransition, status)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var current model.DeliveryStatus
	err = tx.QueryRow(ctx, `SELECT status FROM user_notifications WHERE id = $1 FOR UPDATE`, id).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.ErrNotFound
		}
		return fmt.Errorf("failed to lock delivery record: %w", err)
	}

	if !current.CanTransitionTo(status) {
		return fmt.Errorf("%w: %s -> %s", model.ErrInvalidTransition, current, status)
	}

	set := []string{"status = $2", "updated_at = NOW()"}
	args := []any{id, status}
	appendSet := func(column string, value any) {
		args = append(args, value)
		set = append(set, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if extra.SentAt != nil {
		appendSet("sent_at", *extra.SentAt)
	}
	if extra.DeliveredAt != nil {
		appendSet("delivered_at", *extra.DeliveredAt)
	}
	if extra.ReadAt != nil {
		appendSet("read_at", *extra.ReadAt)
	}
	if extra.ErrorMessage != nil {
		appendSet("error_message", *extra.ErrorMessage)
	}
	if extra.ErrorCode != nil {
		appendSet("error_code", *extra.ErrorCode)
	}
	if extra.RetryCount != nil {
		appendSet("retry_count", *extra.RetryCount)
	}
	if extra.DeliveryID != nil {
		appendSet("delivery_id", *extra.DeliveryID)
	}

	query := fmt.Sprintf("UPDATE user_notifications SET %s WHERE id = $1", strings.Join(set, ", "))
	if _, err := tx.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update delivery record: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit status update: %w", err)
	}

	metrics.IncrementDeliveryStatus(string(status))
	return nil
}

// UpdateByDeliveryID applies a provider webhook outcome to every record
// sharing the batch delivery id. Only records whose current status admits
// the transition are touched. Returns the number of updated records.
func (r *DeliveryRepository) UpdateByDeliveryID(ctx context.Context, deliveryID string, status model.DeliveryStatus, errorMessage string) (int64, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQueryDuration("update_by_delivery_id", deliveryTable, time.Since(start)) }()

	var tag int64
	switch status {
	case model.DeliveryDelivered:
		ct, err := r.db.Exec(ctx, `
			UPDATE user_notifications
			SET status = 'delivered', delivered_at = NOW(), updated_at = NOW()
			WHERE delivery_id = $1 AND status = 'sent'
		`, deliveryID)
		if err != nil {
			return 0, fmt.Errorf("failed to mark delivered by delivery_id: %w", err)
		}
		tag = ct.RowsAffected()
	case model.DeliveryFailed:
		ct, err := r.db.Exec(ctx, `
			UPDATE user_notifications
			SET status = 'failed', error_message = $2, updated_at = NOW()
			WHERE delivery_id = $1 AND status IN ('pending', 'sent')
		`, deliveryID, nullIfEmpty(errorMessage))
		if err != nil {
			return 0, fmt.Errorf("failed to mark failed by delivery_id: %w", err)
		}
		tag = ct.RowsAffected()
	default:
		return 0, fmt.Errorf("%w: webhook status %q", model.ErrInvalidTransition, status)
	}

	if tag > 0 {
		metrics.IncrementDeliveryStatus(string(status))
	}
	return tag, nil
}

// ListByRecipient returns a recipient's records newest-first. The limit is
// clamped to MaxPageSize.
func (r *DeliveryRepository) ListByRecipient(ctx context.Context, recipientID uuid.UUID, filter ListFilter) ([]*model.DeliveryRecord, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQueryDuration("list", deliveryTable, time.Since(start)) }()

	query, args := buildListQuery(recipientID, filter)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list delivery records: %w", err)
	}
	defer rows.Close()

	var records []*model.DeliveryRecord
	for rows.Next() {
		rec, err := scanDelivery(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan delivery record: %w", err)
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

// CountByRecipient counts a recipient's records, optionally by status.
// Archived records are excluded.
func (r *DeliveryRepository) CountByRecipient(ctx context.Context, recipientID uuid.UUID, status *model.DeliveryStatus) (int64, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQueryDuration("count", deliveryTable, time.Since(start)) }()

	query := `SELECT COUNT(*) FROM user_notifications WHERE recipient_id = $1 AND archived = FALSE`
	args := []any{recipientID}
	if status != nil {
		query += ` AND status = $2`
		args = append(args, *status)
	}

	var count int64
	if err := r.db.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count delivery records: %w", err)
	}
	return count, nil
}

// MarkAllRead transitions up to limit of the recipient's readable records
// to read in one statement and returns how many actually changed.
func (r *DeliveryRepository) MarkAllRead(ctx context.Context, recipientID uuid.UUID, limit int, readAt time.Time) (int64, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQueryDuration("mark_all_read", deliveryTable, time.Since(start)) }()

	ct, err := r.db.Exec(ctx, `
		UPDATE user_notifications
		SET status = 'read', read_at = $2, updated_at = $2
		WHERE id IN (
			SELECT id FROM user_notifications
			WHERE recipient_id = $1 AND status IN ('sent', 'delivered') AND archived = FALSE
			ORDER BY created_at DESC
			LIMIT $3
		)
	`, recipientID, readAt, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to mark all as read: %w", err)
	}

	changed := ct.RowsAffected()
	if changed > 0 {
		metrics.IncrementDeliveryStatus(string(model.DeliveryRead))
	}
	return changed, nil
}

// SetArchived flips the archived flag. The flag is orthogonal to status.
// Returns whether the record actually changed; archiving an already
// archived record is an idempotent no-op.
func (r *DeliveryRepository) SetArchived(ctx context.Context, id uuid.UUID) (bool, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQueryDuration("archive", deliveryTable, time.Since(start)) }()

	ct, err := r.db.Exec(ctx, `
		UPDATE user_notifications
		SET archived = TRUE, updated_at = NOW()
		WHERE id = $1 AND archived = FALSE
	`, id)
	if err != nil {
		return false, fmt.Errorf("failed to archive delivery record: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

// GetStatistics computes total/unread/read counts and by-type/by-priority
// breakdowns in a single aggregation pass using grouping sets.
func (r *DeliveryRepository) GetStatistics(ctx context.Context, recipientID uuid.UUID, startDate, endDate *time.Time) (*Statistics, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQueryDuration("statistics", deliveryTable, time.Since(start)) }()

	query := `
		SELECT type, priority,
		       COUNT(*) AS total,
		       COUNT(*) FILTER (WHERE status = 'read') AS read_count
		FROM user_notifications
		WHERE recipient_id = $1 AND archived = FALSE
	`
	args := []any{recipientID}
	if startDate != nil {
		args = append(args, *startDate)
		query += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if endDate != nil {
		args = append(args, *endDate)
		query += fmt.Sprintf(" AND created_at <= $%d", len(args))
	}
	query += ` GROUP BY GROUPING SETS ((), (type), (priority))`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query statistics: %w", err)
	}
	defer rows.Close()

	stats := &Statistics{
		ByType:     make(map[string]int64),
		ByPriority: make(map[string]int64),
	}
	for rows.Next() {
		var typ, priority *string
		var total, readCount int64
		if err := rows.Scan(&typ, &priority, &total, &readCount); err != nil {
			return nil, fmt.Errorf("failed to scan statistics row: %w", err)
		}
		switch {
		case typ == nil && priority == nil:
			stats.Total = total
			stats.Read = readCount
			stats.Unread = total - readCount
		case typ != nil:
			stats.ByType[*typ] = total
		case priority != nil:
			stats.ByPriority[*priority] = total
		}
	}

	return stats, rows.Err()
}

// buildListQuery assembles the filtered history query. Split out so the
// clamping and filter handling can be tested without a database.
func buildListQuery(recipientID uuid.UUID, filter ListFilter) (string, []any) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + deliveryColumns + ` FROM user_notifications WHERE recipient_id = $1 AND archived = FALSE`)
	args := []any{recipientID}

	appendCond := func(cond string, value any) {
		args = append(args, value)
		sb.WriteString(fmt.Sprintf(" AND %s $%d", cond, len(args)))
	}

	if filter.Status != nil {
		appendCond("status =", *filter.Status)
	}
	if filter.Channel != nil {
		appendCond("channel =", *filter.Channel)
	}
	if filter.Type != "" {
		appendCond("type =", filter.Type)
	}
	if filter.StartDate != nil {
		appendCond("created_at >=", *filter.StartDate)
	}
	if filter.EndDate != nil {
		appendCond("created_at <=", *filter.EndDate)
	}

	sortBy := "created_at"
	if filter.SortBy == "sent_at" || filter.SortBy == "read_at" {
		sortBy = filter.SortBy
	}
	sortOrder := "DESC"
	if strings.EqualFold(filter.SortOrder, "asc") {
		sortOrder = "ASC"
	}
	sb.WriteString(fmt.Sprintf(" ORDER BY %s %s", sortBy, sortOrder))

	limit := filter.Limit
	if limit <= 0 || limit > MaxPageSize {
		limit = MaxPageSize
	}
	args = append(args, limit)
	sb.WriteString(fmt.Sprintf(" LIMIT $%d", len(args)))

	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		sb.WriteString(fmt.Sprintf(" OFFSET $%d", len(args)))
	}

	return sb.String(), args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDelivery(row rowScanner) (*model.DeliveryRecord, error) {
	var rec model.DeliveryRecord
	var dataJSON []byte
	var errMsg, errCode, deliveryID *string

	err := row.Scan(
		&rec.ID, &rec.RecipientID, &rec.NotificationID, &rec.Title, &rec.Body,
		&rec.Type, &rec.Priority, &rec.Channel, &dataJSON, &rec.Status,
		&rec.SentAt, &rec.DeliveredAt, &rec.ReadAt,
		&errMsg, &errCode, &rec.RetryCount, &deliveryID, &rec.Archived,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(dataJSON) > 0 {
		if err := json.Unmarshal(dataJSON, &rec.Data); err != nil {
			return nil, fmt.Errorf("failed to unmarshal record data: %w", err)
		}
	}
	if errMsg != nil {
		rec.ErrorMessage = *errMsg
	}
	if errCode != nil {
		rec.ErrorCode = *errCode
	}
	if deliveryID != nil {
		rec.DeliveryID = *deliveryID
	}

	return &rec, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
