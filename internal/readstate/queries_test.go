package readstate_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"notifyhub/config"
	"notifyhub/internal/cache"
	"notifyhub/internal/model"
	"notifyhub/internal/readstate"
	"notifyhub/internal/repository"
)

func newTestQueryService(t *testing.T, store *memoryDeliveryStore) *readstate.QueryService {
	t.Helper()
	rdb := goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond})
	t.Cleanup(func() { _ = rdb.Close() })
	notificationCache := cache.NewNotificationCache(rdb, config.CacheConfig{}, zap.NewNop())
	return readstate.NewQueryService(store, notificationCache, zap.NewNop())
}

func TestGetHistoryFallsThroughToStore(t *testing.T) {
	store := newMemoryDeliveryStore()
	recipient := uuid.New()
	store.listReturn = []*model.DeliveryRecord{
		storedRecord(recipient, model.DeliverySent),
		storedRecord(recipient, model.DeliveryRead),
	}

	svc := newTestQueryService(t, store)

	records, err := svc.GetHistory(context.Background(), recipient, 2, 25, repository.ListFilter{})
	require.NoError(t, err)
	assert.Len(t, records, 2)
	assert.Equal(t, 1, store.listCalls)

	// Page and limit translate into the store's offset pagination.
	assert.Equal(t, 25, store.lastFilter.Limit)
	assert.Equal(t, 25, store.lastFilter.Offset)
}

func TestGetHistoryNormalizesPaging(t *testing.T) {
	store := newMemoryDeliveryStore()
	svc := newTestQueryService(t, store)

	_, err := svc.GetHistory(context.Background(), uuid.New(), 0, 0, repository.ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, repository.MaxPageSize, store.lastFilter.Limit)
	assert.Equal(t, 0, store.lastFilter.Offset)

	_, err = svc.GetHistory(context.Background(), uuid.New(), 1, 500, repository.ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, repository.MaxPageSize, store.lastFilter.Limit)
}

func TestGetUnreadCountFallsThroughToStore(t *testing.T) {
	store := newMemoryDeliveryStore()
	store.statsReturn = &repository.Statistics{Total: 10, Unread: 4, Read: 6}

	svc := newTestQueryService(t, store)

	count, err := svc.GetUnreadCount(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Equal(t, int64(4), count)
}

func TestGetStatistics(t *testing.T) {
	store := newMemoryDeliveryStore()
	store.statsReturn = &repository.Statistics{
		Total:  3,
		Unread: 1,
		Read:   2,
		ByType: map[string]int64{"billing": 3},
	}

	svc := newTestQueryService(t, store)

	stats, err := svc.GetStatistics(context.Background(), uuid.New(), repository.ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Total)
	assert.Equal(t, int64(3), stats.ByType["billing"])
}
