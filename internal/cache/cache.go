package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"notifyhub/config"
	"notifyhub/internal/model"
	"notifyhub/internal/repository"
	"notifyhub/pkg/metrics"
)

// Key patterns:
// - notifications:history:{recipient}:{page}:{limit}:{fingerprint} - 5m TTL
// - notifications:unread:{recipient}                               - 2m TTL

// NotificationCache is the cache-aside layer over delivery-state reads.
// It is never authoritative: read and write failures on the acceleration
// paths are logged and treated as misses, never surfaced to callers.
type NotificationCache struct {
	client *goredis.Client
	cfg    config.CacheConfig
	logger *zap.Logger
}

func NewNotificationCache(client *goredis.Client, cfg config.CacheConfig, logger *zap.Logger) *NotificationCache {
	if cfg.HistoryTTL == 0 {
		cfg.HistoryTTL = 5 * time.Minute
	}
	if cfg.UnreadTTL == 0 {
		cfg.UnreadTTL = 2 * time.Minute
	}
	return &NotificationCache{client: client, cfg: cfg, logger: logger}
}

// FilterFingerprint derives a deterministic fingerprint of a history filter.
// Zero-valued fields are stripped and the remaining pairs sorted, so two
// semantically identical filters hash identically regardless of how they
// were assembled.
func FilterFingerprint(filter repository.ListFilter) string {
	pairs := map[string]string{}
	if filter.Status != nil {
		pairs["status"] = string(*filter.Status)
	}
	if filter.Channel != nil {
		pairs["channel"] = string(*filter.Channel)
	}
	if filter.Type != "" {
		pairs["type"] = filter.Type
	}
	if filter.StartDate != nil {
		pairs["startDate"] = filter.StartDate.UTC().Format(time.RFC3339)
	}
	if filter.EndDate != nil {
		pairs["endDate"] = filter.EndDate.UTC().Format(time.RFC3339)
	}
	if filter.SortBy != "" {
		pairs["sortBy"] = filter.SortBy
	}
	if filter.SortOrder != "" {
		pairs["sortOrder"] = filter.SortOrder
	}

	keys := make([]string, 0, len(pairs))
	for k := range pairs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(pairs[k])
		sb.WriteByte('&')
	}

	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:8])
}

func historyKey(recipientID uuid.UUID, page, limit int, fingerprint string) string {
	return fmt.Sprintf("notifications:history:%s:%d:%d:%s", recipientID, page, limit, fingerprint)
}

func unreadKey(recipientID uuid.UUID) string {
	return fmt.Sprintf("notifications:unread:%s", recipientID)
}

// GetHistory returns a cached history page, or (nil, false) on miss.
func (c *NotificationCache) GetHistory(ctx context.Context, recipientID uuid.UUID, page, limit int, filter repository.ListFilter) ([]*model.DeliveryRecord, bool) {
	key := historyKey(recipientID, page, limit, FilterFingerprint(filter))

	data, err := c.client.Get(ctx, key).Result()
	if err == goredis.Nil {
		metrics.IncrementCacheLookup("history", "miss")
		return nil, false
	}
	if err != nil {
		metrics.IncrementCacheLookup("history", "error")
		c.logger.Warn("History cache read failed, falling through", zap.String("key", key), zap.Error(err))
		return nil, false
	}

	var records []*model.DeliveryRecord
	if err := json.Unmarshal([]byte(data), &records); err != nil {
		metrics.IncrementCacheLookup("history", "error")
		c.logger.Warn("History cache entry corrupt, falling through", zap.String("key", key), zap.Error(err))
		return nil, false
	}

	metrics.IncrementCacheLookup("history", "hit")
	return records, true
}

// SetHistory populates a history page after a genuine miss.
func (c *NotificationCache) SetHistory(ctx context.Context, recipientID uuid.UUID, page, limit int, filter repository.ListFilter, records []*model.DeliveryRecord) {
	key := historyKey(recipientID, page, limit, FilterFingerprint(filter))

	data, err := json.Marshal(records)
	if err != nil {
		c.logger.Warn("Failed to marshal history cache entry", zap.String("key", key), zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, key, data, c.cfg.HistoryTTL).Err(); err != nil {
		c.logger.Warn("History cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// GetUnreadCount returns the cached unread count, or (0, false) on miss.
func (c *NotificationCache) GetUnreadCount(ctx context.Context, recipientID uuid.UUID) (int64, bool) {
	key := unreadKey(recipientID)

	count, err := c.client.Get(ctx, key).Int64()
	if err == goredis.Nil {
		metrics.IncrementCacheLookup("unread", "miss")
		return 0, false
	}
	if err != nil {
		metrics.IncrementCacheLookup("unread", "error")
		c.logger.Warn("Unread cache read failed, falling through", zap.String("key", key), zap.Error(err))
		return 0, false
	}

	metrics.IncrementCacheLookup("unread", "hit")
	return count, true
}

// SetUnreadCount populates the unread count after a genuine miss.
func (c *NotificationCache) SetUnreadCount(ctx context.Context, recipientID uuid.UUID, count int64) {
	key := unreadKey(recipientID)
	if err := c.client.Set(ctx, key, count, c.cfg.UnreadTTL).Err(); err != nil {
		c.logger.Warn("Unread cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// InvalidateRecipient removes every cached projection for a recipient: the
// unread count plus all paginated history variants (pattern delete, since
// the filter space is too large to enumerate). Errors are logged, never
// returned: invalidation must not block the originating command.
func (c *NotificationCache) InvalidateRecipient(ctx context.Context, recipientID uuid.UUID) {
	keys := []string{unreadKey(recipientID)}

	pattern := fmt.Sprintf("notifications:history:%s:*", recipientID)
	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		c.logger.Warn("History cache scan failed during invalidation",
			zap.String("recipient_id", recipientID.String()),
			zap.Error(err),
		)
	}

	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.logger.Warn("Cache invalidation failed",
			zap.String("recipient_id", recipientID.String()),
			zap.Int("keys", len(keys)),
			zap.Error(err),
		)
		return
	}

	c.logger.Debug("Invalidated recipient caches",
		zap.String("recipient_id", recipientID.String()),
		zap.Int("keys", len(keys)),
	)
}

// --- Generic key/value helpers ---
//
// Unlike the read-acceleration paths above, these are explicit cache
// management calls and re-raise errors to the caller.

func (c *NotificationCache) GetJSON(ctx context.Context, key string, dest any) (bool, error) {
	data, err := c.client.Get(ctx, key).Result()
	if err == goredis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(data), dest); err != nil {
		return false, err
	}
	return true, nil
}

func (c *NotificationCache) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, data, ttl).Err()
}

func (c *NotificationCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

// TTL reports the remaining lifetime of a key.
func (c *NotificationCache) TTL(ctx context.Context, key string) (time.Duration, error) {
	return c.client.TTL(ctx, key).Result()
}

// Ping checks redis availability.
func (c *NotificationCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
