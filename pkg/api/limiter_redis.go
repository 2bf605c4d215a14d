package api

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiterStore shares rate-limit buckets across replicas with a
// fixed-window counter per actor and second.
type RedisLimiterStore struct {
	client *redis.Client
	limit  int
	prefix string
}

// NewRedisLimiterStore connects to addr. limit is the per-second request
// budget per actor.
func NewRedisLimiterStore(addr string, limit int) *RedisLimiterStore {
	return &RedisLimiterStore{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		limit:  limit,
		prefix: "dg:ratelimit",
	}
}

// Allow implements LimiterStore.
func (s *RedisLimiterStore) Allow(ctx context.Context, actor string) (bool, error) {
	window := time.Now().Unix()
	key := fmt.Sprintf("%s:%s:%d", s.prefix, actor, window)

	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, 2*time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("rate limit window update: %w", err)
	}
	return incr.Val() <= int64(s.limit), nil
}

// Close releases the client.
func (s *RedisLimiterStore) Close() error {
	return s.client.Close()
}
