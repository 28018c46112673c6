// Package cache implements the Redis dedup cache in front of the
// newsletter store.
package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"ingest_server/core/port/out"
)

const (
	seenKeyPrefix = "ingest:seen:"

	// Seen entries only shortcut a repository lookup; eviction is
	// harmless because the repository remains the source of truth.
	defaultSeenTTL = 30 * 24 * time.Hour
)

// RedisSeenCache marks ingested message ids in Redis so repeat runs
// skip them without a database round trip.
type RedisSeenCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisSeenCache creates a seen cache on an existing client.
func NewRedisSeenCache(client *redis.Client) *RedisSeenCache {
	return &RedisSeenCache{client: client, ttl: defaultSeenTTL}
}

func seenKey(messageID string) string {
	return seenKeyPrefix + messageID
}

// Seen reports whether messageID was marked in a previous run.
func (c *RedisSeenCache) Seen(ctx context.Context, messageID string) (bool, error) {
	n, err := c.client.Exists(ctx, seenKey(messageID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkSeen records messageID after a successful persist.
func (c *RedisSeenCache) MarkSeen(ctx context.Context, messageID string) error {
	return c.client.Set(ctx, seenKey(messageID), "1", c.ttl).Err()
}

// Forget evicts the entry so a forced re-ingest starts clean.
func (c *RedisSeenCache) Forget(ctx context.Context, messageID string) error {
	return c.client.Del(ctx, seenKey(messageID)).Err()
}

var _ out.SeenCache = (*RedisSeenCache)(nil)

// NoopSeenCache stands in when Redis is not configured. Every lookup
// misses, so dedup runs entirely against the repository.
type NoopSeenCache struct{}

func (NoopSeenCache) Seen(ctx context.Context, messageID string) (bool, error) { return false, nil }
func (NoopSeenCache) MarkSeen(ctx context.Context, messageID string) error     { return nil }
func (NoopSeenCache) Forget(ctx context.Context, messageID string) error       { return nil }

var _ out.SeenCache = NoopSeenCache{}
