package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSettings() TenantSettings {
	return TenantSettings{
		Enabled:             true,
		SimilarityThreshold: 0.97,
		TTL:                 time.Hour,
		MaxEntries:          100,
	}
}

func newTestEngine() *Engine {
	return NewEngine(HashingEmbedder{}, nil, nil)
}

func TestExactMatchHit(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	settings := testSettings()

	e.Insert(ctx, "t1", "gpt-4o", "what is the capital of France?",
		[]byte(`{"content":"Paris","finish_reason":"stop"}`), 10, 2, settings)

	result := e.Lookup(ctx, "t1", "gpt-4o", "what is the capital of France?", settings)
	require.True(t, result.Hit)
	assert.Equal(t, "exact", result.Source)
	assert.Equal(t, 1.0, result.Similarity)

	// Whitespace normalization still hits the exact index.
	result = e.Lookup(ctx, "t1", "gpt-4o", "what  is the capital   of France?", settings)
	require.True(t, result.Hit)
	assert.Equal(t, "exact", result.Source)
}

func TestSimilarityThresholdEnforced(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	settings := testSettings()

	e.Insert(ctx, "t1", "gpt-4o", "summarize the quarterly revenue report for finance",
		[]byte(`{"content":"...","finish_reason":"stop"}`), 10, 50, settings)

	// A clearly different prompt misses.
	result := e.Lookup(ctx, "t1", "gpt-4o", "write a haiku about mountains", settings)
	assert.False(t, result.Hit)
	assert.Less(t, result.Similarity, settings.SimilarityThreshold)
}

func TestHitReportsSimilarityAboveThreshold(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	settings := testSettings()

	prompt := "list the planets of the solar system in order"
	e.Insert(ctx, "t1", "gpt-4o", prompt,
		[]byte(`{"content":"...","finish_reason":"stop"}`), 10, 30, settings)

	// Delete the exact index entry path by changing only whitespace is
	// still exact; force the semantic path with a trailing word and a
	// generous threshold.
	loose := settings
	loose.SimilarityThreshold = 0.5
	result := e.Lookup(ctx, "t1", "gpt-4o", prompt+" please", loose)
	if result.Hit {
		assert.GreaterOrEqual(t, result.Similarity, loose.SimilarityThreshold)
		assert.Equal(t, "semantic", result.Source)
	}
}

func TestTenantIsolation(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	settings := testSettings()

	e.Insert(ctx, "t1", "gpt-4o", "shared prompt",
		[]byte(`{"content":"tenant one data","finish_reason":"stop"}`), 5, 5, settings)

	result := e.Lookup(ctx, "t2", "gpt-4o", "shared prompt", settings)
	assert.False(t, result.Hit, "entries must never cross tenants")
}

func TestTTLExpiry(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	settings := testSettings()
	settings.TTL = -time.Minute // already expired at insert

	e.Insert(ctx, "t1", "gpt-4o", "ephemeral",
		[]byte(`{"content":"stale data","finish_reason":"stop"}`), 5, 5, settings)

	result := e.Lookup(ctx, "t1", "gpt-4o", "ephemeral", settings)
	assert.False(t, result.Hit)

	// The sweeper removes it entirely.
	e.Insert(ctx, "t1", "gpt-4o", "ephemeral two",
		[]byte(`{"content":"stale data","finish_reason":"stop"}`), 5, 5, settings)
	removed := e.Sweep()
	assert.GreaterOrEqual(t, removed, 1)
	assert.Equal(t, 0, e.Len("t1"))
}

func TestLRUEvictionWithinBudget(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	settings := testSettings()
	settings.MaxEntries = 3

	prompts := []string{"alpha one", "beta two", "gamma three", "delta four"}
	for _, p := range prompts {
		e.Insert(ctx, "t1", "gpt-4o", p,
			[]byte(`{"content":"............","finish_reason":"stop"}`), 5, 5, settings)
	}

	assert.Equal(t, 3, e.Len("t1"))

	// The oldest entry was evicted.
	result := e.Lookup(ctx, "t1", "gpt-4o", "alpha one", settings)
	assert.False(t, result.Hit)
	result = e.Lookup(ctx, "t1", "gpt-4o", "delta four", settings)
	assert.True(t, result.Hit)
}

func TestDegenerateResponsesNotCached(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	settings := testSettings()

	e.Insert(ctx, "t1", "gpt-4o", "prompt", []byte(`{}`), 5, 5, settings)
	assert.Equal(t, 0, e.Len("t1"), "short responses must not be cached")
}

func TestFlush(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	settings := testSettings()

	e.Insert(ctx, "t1", "gpt-4o", "prompt one",
		[]byte(`{"content":"............","finish_reason":"stop"}`), 5, 5, settings)
	require.Equal(t, 1, e.Len("t1"))

	e.Flush("t1")
	assert.Equal(t, 0, e.Len("t1"))
}

func TestDisabledCacheBypasses(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	settings := testSettings()
	settings.Enabled = false

	e.Insert(ctx, "t1", "gpt-4o", "prompt",
		[]byte(`{"content":"............","finish_reason":"stop"}`), 5, 5, settings)
	result := e.Lookup(ctx, "t1", "gpt-4o", "prompt", settings)
	assert.False(t, result.Hit)
	assert.Equal(t, 0, e.Len("t1"))
}
