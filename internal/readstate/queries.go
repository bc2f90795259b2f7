package readstate

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"notifyhub/internal/cache"
	"notifyhub/internal/model"
	"notifyhub/internal/repository"
	"notifyhub/pkg/logger"
)

// QueryService serves read-optimized, cache-accelerated views of delivery
// state. The cache is checked first; on miss the authoritative store is
// queried and the cache populated. Cache failures never surface to callers.
type QueryService struct {
	deliveries repository.DeliveryStore
	cache      *cache.NotificationCache
	logger     *zap.Logger
}

func NewQueryService(
	deliveries repository.DeliveryStore,
	notificationCache *cache.NotificationCache,
	log *zap.Logger,
) *QueryService {
	return &QueryService{
		deliveries: deliveries,
		cache:      notificationCache,
		logger:     log,
	}
}

// GetHistory returns one page of the recipient's delivery history,
// newest-first. Page is 1-based; the page size is clamped by the store.
func (q *QueryService) GetHistory(ctx context.Context, recipientID uuid.UUID, page, limit int, filter repository.ListFilter) ([]*model.DeliveryRecord, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 || limit > repository.MaxPageSize {
		limit = repository.MaxPageSize
	}

	if records, ok := q.cache.GetHistory(ctx, recipientID, page, limit, filter); ok {
		return records, nil
	}

	filter.Limit = limit
	filter.Offset = (page - 1) * limit

	records, err := q.deliveries.ListByRecipient(ctx, recipientID, filter)
	if err != nil {
		return nil, err
	}

	q.cache.SetHistory(ctx, recipientID, page, limit, filter, records)

	logger.WithTrace(ctx, q.logger).Debug("Served history from store",
		zap.String("recipient_id", recipientID.String()),
		zap.Int("page", page),
		zap.Int("count", len(records)),
	)
	return records, nil
}

// GetUnreadCount returns the recipient's unread notification count.
func (q *QueryService) GetUnreadCount(ctx context.Context, recipientID uuid.UUID) (int64, error) {
	if count, ok := q.cache.GetUnreadCount(ctx, recipientID); ok {
		return count, nil
	}

	stats, err := q.deliveries.GetStatistics(ctx, recipientID, nil, nil)
	if err != nil {
		return 0, err
	}

	q.cache.SetUnreadCount(ctx, recipientID, stats.Unread)
	return stats.Unread, nil
}

// GetStatistics returns the recipient's aggregate delivery statistics.
// Statistics are computed in a single aggregation pass and not cached:
// they are an infrequent admin-style read.
func (q *QueryService) GetStatistics(ctx context.Context, recipientID uuid.UUID, filter repository.ListFilter) (*repository.Statistics, error) {
	return q.deliveries.GetStatistics(ctx, recipientID, filter.StartDate, filter.EndDate)
}
