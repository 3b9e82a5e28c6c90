package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "ratelimit"

// RedisCounter shares window counts between gateway replicas.
type RedisCounter struct {
	client redis.Cmdable
	prefix string
}

// NewRedisCounter constructs a counter whose keys are namespaced by prefix.
func NewRedisCounter(client redis.Cmdable, prefix string) (*RedisCounter, error) {
	if client == nil {
		return nil, errors.New("ratelimit: nil redis client")
	}
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisCounter{client: client, prefix: prefix}, nil
}

// Increment runs INCR and PEXPIREAT in one transaction so the key never
// outlives its window.
func (c *RedisCounter) Increment(ctx context.Context, key string, windowStart time.Time, window time.Duration) (int64, error) {
	redisKey := fmt.Sprintf("%s:%s:%d", c.prefix, key, windowStart.Unix())

	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.PExpireAt(ctx, redisKey, windowStart.Add(window))
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("redis incr: %w", err)
	}
	return incr.Val(), nil
}
