package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed bool

	// Limit is the sustained requests-per-minute budget checked.
	Limit int

	// Remaining approximates the requests left in the current window.
	Remaining int

	// Reset is when the budget fully replenishes.
	Reset time.Time

	// RetryAfter is how long the caller should wait; set when denied.
	RetryAfter time.Duration
}

// Limiter admits requests against a keyed budget.
type Limiter interface {
	// Allow checks and consumes one request for the key at the given
	// requests-per-minute budget.
	Allow(ctx context.Context, key string, rpm, burst int) (*Decision, error)
}

// MemoryLimiter keeps one token bucket per key in process memory.
type MemoryLimiter struct {
	mu      sync.Mutex
	buckets map[string]*memoryBucket
}

type memoryBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewMemoryLimiter creates an in-process limiter.
func NewMemoryLimiter() *MemoryLimiter {
	l := &MemoryLimiter{
		buckets: make(map[string]*memoryBucket),
	}
	return l
}

// Allow checks and consumes one request for the key.
func (l *MemoryLimiter) Allow(ctx context.Context, key string, rpm, burst int) (*Decision, error) {
	if rpm <= 0 {
		return &Decision{Allowed: true, Limit: 0}, nil
	}
	if burst <= 0 {
		burst = 1
	}

	l.mu.Lock()
	bucket, ok := l.buckets[key]
	if !ok {
		bucket = &memoryBucket{
			limiter: rate.NewLimiter(rate.Limit(float64(rpm)/60.0), burst),
		}
		l.buckets[key] = bucket
		l.maybeSweepLocked()
	}
	bucket.lastSeen = time.Now()
	l.mu.Unlock()

	now := time.Now()
	tokens := bucket.limiter.TokensAt(now)
	allowed := bucket.limiter.Allow()

	remaining := int(tokens)
	if allowed && remaining > 0 {
		remaining--
	}

	decision := &Decision{
		Allowed:   allowed,
		Limit:     rpm,
		Remaining: remaining,
		Reset:     now.Add(refillDuration(rpm, burst, tokens)),
	}
	if !allowed {
		// Time until one token is available.
		decision.RetryAfter = time.Duration(float64(time.Minute) / float64(rpm))
	}
	return decision, nil
}

// refillDuration estimates when the bucket is full again.
func refillDuration(rpm, burst int, tokens float64) time.Duration {
	missing := float64(burst) - tokens
	if missing <= 0 {
		return 0
	}
	perToken := float64(time.Minute) / float64(rpm)
	return time.Duration(missing * perToken)
}

// maybeSweepLocked evicts buckets idle for over an hour. Called with the
// map lock held, on bucket creation, so sweep cost amortizes to zero on
// the steady-state path.
func (l *MemoryLimiter) maybeSweepLocked() {
	if len(l.buckets) < 10000 {
		return
	}
	cutoff := time.Now().Add(-time.Hour)
	for key, bucket := range l.buckets {
		if bucket.lastSeen.Before(cutoff) {
			delete(l.buckets, key)
		}
	}
}
