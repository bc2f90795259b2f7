package readstate

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	mqcontracts "notifyhub/contracts/mq"
	"notifyhub/internal/cache"
	"notifyhub/internal/model"
	"notifyhub/internal/repository"
	"notifyhub/pkg/logger"
	"notifyhub/pkg/outbox"
	"notifyhub/pkg/trace"
)

// markAllBatchLimit bounds how many records a single MarkAllAsRead call
// transitions.
const markAllBatchLimit = 1000

// MarkReadResult reports the outcome of MarkAsRead. AlreadyRead is true
// when the call was an idempotent no-op and ReadAt is the original time.
type MarkReadResult struct {
	ReadAt      time.Time
	AlreadyRead bool
}

// BulkResult reports how many records a bulk command actually changed.
type BulkResult struct {
	UpdatedCount int64
	Timestamp    time.Time
}

// Service processes idempotent read-state commands. Every command
// re-validates ownership before mutation; ownership violations abort bulk
// batches entirely before any write.
type Service struct {
	db         *pgxpool.Pool
	deliveries repository.DeliveryStore
	cache      *cache.NotificationCache
	outboxRepo *outbox.Repository
	logger     *zap.Logger
}

func NewService(
	db *pgxpool.Pool,
	deliveries repository.DeliveryStore,
	notificationCache *cache.NotificationCache,
	log *zap.Logger,
) *Service {
	return &Service{
		db:         db,
		deliveries: deliveries,
		cache:      notificationCache,
		outboxRepo: outbox.NewRepository(db),
		logger:     log,
	}
}

// MarkAsRead transitions one record to read. Calling it again returns the
// original readAt without a second write.
func (s *Service) MarkAsRead(ctx context.Context, recordID, recipientID uuid.UUID) (*MarkReadResult, error) {
	rec, err := s.deliveries.GetByID(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if rec.RecipientID != recipientID {
		return nil, fmt.Errorf("%w: record %s does not belong to recipient", model.ErrForbidden, recordID)
	}

	if rec.Status == model.DeliveryRead {
		readAt := time.Now()
		if rec.ReadAt != nil {
			readAt = *rec.ReadAt
		}
		return &MarkReadResult{ReadAt: readAt, AlreadyRead: true}, nil
	}

	now := time.Now()
	err = s.deliveries.UpdateStatus(ctx, recordID, model.DeliveryRead, repository.StatusExtra{ReadAt: &now})
	if err != nil {
		return nil, err
	}

	s.emitRead(ctx, rec, now)
	s.cache.InvalidateRecipient(ctx, recipientID)

	logger.WithTrace(ctx, s.logger).Info("Marked notification as read",
		zap.String("record_id", recordID.String()),
		zap.String("recipient_id", recipientID.String()),
	)

	return &MarkReadResult{ReadAt: now}, nil
}

// MarkAllAsRead transitions every readable record of the recipient, up to
// the batch limit. Caches are invalidated only when something changed.
func (s *Service) MarkAllAsRead(ctx context.Context, recipientID uuid.UUID) (*BulkResult, error) {
	now := time.Now()

	changed, err := s.deliveries.MarkAllRead(ctx, recipientID, markAllBatchLimit, now)
	if err != nil {
		return nil, err
	}

	if changed > 0 {
		s.cache.InvalidateRecipient(ctx, recipientID)
	}

	logger.WithTrace(ctx, s.logger).Info("Marked all notifications as read",
		zap.String("recipient_id", recipientID.String()),
		zap.Int64("updated", changed),
	)

	return &BulkResult{UpdatedCount: changed, Timestamp: now}, nil
}

// BulkMarkAsRead marks the given records read. Any record owned by a
// different recipient aborts the whole batch with ErrForbidden before any
// write; already-read records do not count toward UpdatedCount.
func (s *Service) BulkMarkAsRead(ctx context.Context, recipientID uuid.UUID, ids []uuid.UUID) (*BulkResult, error) {
	records, err := s.loadOwnedBatch(ctx, recipientID, ids)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	var changed int64
	// Invalidate for whatever was persisted, even if a later write in the
	// loop fails: the cache must never be stale relative to partial
	// persistence.
	defer func() {
		if changed > 0 {
			s.cache.InvalidateRecipient(ctx, recipientID)
		}
	}()

	for _, rec := range records {
		if rec.Status == model.DeliveryRead {
			continue
		}
		err := s.deliveries.UpdateStatus(ctx, rec.ID, model.DeliveryRead, repository.StatusExtra{ReadAt: &now})
		if err != nil {
			return nil, fmt.Errorf("bulk mark-as-read failed at record %s: %w", rec.ID, err)
		}
		s.emitRead(ctx, rec, now)
		changed++
	}

	return &BulkResult{UpdatedCount: changed, Timestamp: now}, nil
}

// BulkArchive archives the given records under the same ownership and
// idempotency rules as BulkMarkAsRead.
func (s *Service) BulkArchive(ctx context.Context, recipientID uuid.UUID, ids []uuid.UUID) (*BulkResult, error) {
	records, err := s.loadOwnedBatch(ctx, recipientID, ids)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	var changed int64
	defer func() {
		if changed > 0 {
			s.cache.InvalidateRecipient(ctx, recipientID)
		}
	}()

	for _, rec := range records {
		didChange, err := s.deliveries.SetArchived(ctx, rec.ID)
		if err != nil {
			return nil, fmt.Errorf("bulk archive failed at record %s: %w", rec.ID, err)
		}
		if didChange {
			changed++
		}
	}

	return &BulkResult{UpdatedCount: changed, Timestamp: now}, nil
}

// loadOwnedBatch loads every record and validates ownership before any
// mutation. Missing and foreign records are reported distinctly.
func (s *Service) loadOwnedBatch(ctx context.Context, recipientID uuid.UUID, ids []uuid.UUID) ([]*model.DeliveryRecord, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("at least one record id is required")
	}

	records := make([]*model.DeliveryRecord, 0, len(ids))
	for _, id := range ids {
		rec, err := s.deliveries.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if rec.RecipientID != recipientID {
			return nil, fmt.Errorf("%w: record %s does not belong to recipient", model.ErrForbidden, id)
		}
		records = append(records, rec)
	}
	return records, nil
}

// emitRead writes a notification.read domain event through the outbox.
// Event emission is best-effort relative to the state change.
func (s *Service) emitRead(ctx context.Context, rec *model.DeliveryRecord, readAt time.Time) {
	log := logger.WithTrace(ctx, s.logger)

	payload := mqcontracts.NotificationReadPayload{
		RecordID:       rec.ID,
		NotificationID: rec.NotificationID,
		RecipientID:    rec.RecipientID,
		ReadAt:         readAt,
		TraceID:        trace.FromContext(ctx),
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		log.Error("Failed to begin outbox transaction", zap.Error(err))
		return
	}
	defer tx.Rollback(ctx)

	aggregateID := rec.NotificationID.String()
	if err := outbox.InsertEventInTx(ctx, tx, s.outboxRepo, "notification", &aggregateID, mqcontracts.RoutingKeyNotificationRead, payload); err != nil {
		log.Error("Failed to insert notification.read outbox event", zap.Error(err))
		return
	}

	if err := tx.Commit(ctx); err != nil {
		log.Error("Failed to commit outbox event", zap.Error(err))
	}
}
