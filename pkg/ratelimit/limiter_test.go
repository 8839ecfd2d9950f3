package ratelimit

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLimiterBurstAndDenial(t *testing.T) {
	limiter := NewMemoryLimiter()
	ctx := context.Background()

	// Burst of 3 admits three immediate requests.
	for i := 0; i < 3; i++ {
		d, err := limiter.Allow(ctx, "k", 60, 3)
		require.NoError(t, err)
		assert.True(t, d.Allowed, "request %d", i)
	}

	d, err := limiter.Allow(ctx, "k", 60, 3)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Greater(t, d.RetryAfter.Seconds(), 0.0)
}

func TestMemoryLimiterKeysIsolated(t *testing.T) {
	limiter := NewMemoryLimiter()
	ctx := context.Background()

	d, _ := limiter.Allow(ctx, "a", 60, 1)
	require.True(t, d.Allowed)
	d, _ = limiter.Allow(ctx, "a", 60, 1)
	require.False(t, d.Allowed)

	// A different key has its own bucket.
	d, _ = limiter.Allow(ctx, "b", 60, 1)
	assert.True(t, d.Allowed)
}

func TestZeroRPMUnlimited(t *testing.T) {
	limiter := NewMemoryLimiter()
	d, err := limiter.Allow(context.Background(), "k", 0, 0)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestRedisLimiterWindow(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	limiter := NewRedisLimiter(client)
	ctx := context.Background()

	// rpm 2 + burst 1 admits three within the window.
	for i := 0; i < 3; i++ {
		d, err := limiter.Allow(ctx, "k", 2, 1)
		require.NoError(t, err)
		assert.True(t, d.Allowed, "request %d", i)
	}

	d, err := limiter.Allow(ctx, "k", 2, 1)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Greater(t, d.RetryAfter.Seconds(), 0.0)
	assert.False(t, d.Reset.IsZero())
}

func TestRedisLimiterSharedAcrossInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	a := NewRedisLimiter(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	b := NewRedisLimiter(redis.NewClient(&redis.Options{Addr: mr.Addr()}))

	d, err := a.Allow(ctx, "k", 1, 0)
	require.NoError(t, err)
	require.True(t, d.Allowed)

	// The second instance sees the consumed budget.
	d, err = b.Allow(ctx, "k", 1, 0)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
}
