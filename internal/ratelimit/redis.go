package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/reachmetrics/reachmetrics-api/internal/xerrors"
)

// RedisStore keeps fixed-window counters in Redis so limits hold across
// instances of a horizontally-scaled deployment.
//
// INCR and PEXPIRE run in a pipeline; the key's TTL doubles as the
// window clock, so windowStart is recovered from the remaining TTL
// rather than stored separately.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects a store over client. prefix namespaces keys so
// counters don't collide with other users of the same Redis.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) Incr(ctx context.Context, key string, window time.Duration) (int, time.Time, error) {
	k := s.prefix + ":" + key

	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.ExpireNX(ctx, k, window)
	ttl := pipe.PTTL(ctx, k)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, time.Time{}, xerrors.Wrap(err, "redis incr")
	}

	count := int(incr.Val())
	remaining := ttl.Val()
	if remaining < 0 || remaining > window {
		remaining = window
	}
	windowStart := time.Now().Add(remaining - window)
	return count, windowStart, nil
}
