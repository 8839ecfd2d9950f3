package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter shares rate state across gateway instances using a
// fixed one-minute window counter per key.
type RedisLimiter struct {
	client *redis.Client
}

// NewRedisLimiter creates a limiter over an existing redis client.
func NewRedisLimiter(client *redis.Client) *RedisLimiter {
	return &RedisLimiter{client: client}
}

// Allow checks and consumes one request for the key.
func (l *RedisLimiter) Allow(ctx context.Context, key string, rpm, burst int) (*Decision, error) {
	if rpm <= 0 {
		return &Decision{Allowed: true, Limit: 0}, nil
	}

	now := time.Now()
	window := now.Truncate(time.Minute)
	redisKey := fmt.Sprintf("aegis:rl:%s:%d", key, window.Unix())
	reset := window.Add(time.Minute)

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.ExpireNX(ctx, redisKey, 2*time.Minute)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("rate limit check: %w", err)
	}

	count := int(incr.Val())
	limit := rpm + burst

	decision := &Decision{
		Allowed:   count <= limit,
		Limit:     rpm,
		Remaining: maxInt(0, limit-count),
		Reset:     reset,
	}
	if !decision.Allowed {
		decision.RetryAfter = time.Until(reset)
	}
	return decision, nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
