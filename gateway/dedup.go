package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const dedupTTL = time.Hour

// Deduper is a best-effort fast path in front of the transactional
// idempotency store. A hit lets us skip the database round trip; a miss or
// a Redis failure just falls through to the real guard.
type Deduper interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Mark(ctx context.Context, eventID string) error
}

// RedisDeduper keys processed webhook events in Redis with a TTL.
type RedisDeduper struct {
	client *redis.Client
}

func NewRedisDeduper(client *redis.Client) *RedisDeduper {
	return &RedisDeduper{client: client}
}

func (d *RedisDeduper) Seen(ctx context.Context, eventID string) (bool, error) {
	n, err := d.client.Exists(ctx, d.key(eventID)).Result()
	if err != nil {
		return false, fmt.Errorf("gateway: dedup check: %w", err)
	}
	return n > 0, nil
}

func (d *RedisDeduper) Mark(ctx context.Context, eventID string) error {
	return d.client.Set(ctx, d.key(eventID), "1", dedupTTL).Err()
}

func (d *RedisDeduper) key(eventID string) string {
	return "gateway:event:" + eventID
}
