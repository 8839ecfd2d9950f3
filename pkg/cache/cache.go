package cache

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// TenantSettings are the per-tenant cache parameters.
type TenantSettings struct {
	Enabled             bool
	SimilarityThreshold float64
	TTL                 time.Duration
	MaxEntries          int
}

// Entry is one cached prompt→response pair.
type Entry struct {
	Tenant     string
	Model      string
	PromptHash string
	Embedding  []float32

	// Response is the stored upstream response body.
	Response []byte

	PromptTokens     int
	CompletionTokens int

	CreatedAt time.Time
	ExpiresAt time.Time

	// Threshold records the similarity threshold in force at insert time.
	Threshold float64

	element *list.Element
}

// LookupResult is the outcome of a cache query.
type LookupResult struct {
	Hit        bool
	Entry      *Entry
	Similarity float64

	// Source is "exact" or "semantic".
	Source string
}

// minCachedResponseLength guards against caching degenerate responses.
const minCachedResponseLength = 10

// Engine is the in-process semantic cache. Namespaces are per tenant;
// a lookup never touches another tenant's entries.
type Engine struct {
	embedder Embedder
	logger   *slog.Logger

	// ModelTTLOverrides extends or shortens the TTL per model alias.
	modelTTLs map[string]time.Duration

	mu         sync.RWMutex
	namespaces map[string]*namespace

	hits   atomic.Int64
	misses atomic.Int64
}

// namespace holds one tenant's entries and their LRU order.
type namespace struct {
	entries map[string]*Entry // keyed by prompt hash
	lru     *list.List        // front = most recent
}

// NewEngine creates a cache engine over the given embedder.
func NewEngine(embedder Embedder, modelTTLs map[string]time.Duration, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		embedder:   embedder,
		logger:     logger.With("component", "cache"),
		modelTTLs:  modelTTLs,
		namespaces: make(map[string]*namespace),
	}
}

// PromptHash returns the cache key of a normalized prompt.
func PromptHash(model, prompt string) string {
	normalized := model + "\x00" + strings.Join(strings.Fields(prompt), " ")
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// Lookup searches the tenant's namespace for the prompt. The exact-hash
// index is consulted before the vector scan. Expired entries are treated
// as misses and removed. Embedding failures degrade to a miss; the cache
// never fails a request.
func (e *Engine) Lookup(ctx context.Context, tenant, model, prompt string, settings TenantSettings) *LookupResult {
	if !settings.Enabled {
		return &LookupResult{}
	}

	now := time.Now()
	hash := PromptHash(model, prompt)

	// Exact-match fast path.
	e.mu.Lock()
	ns := e.namespaces[tenant]
	if ns != nil {
		if entry, ok := ns.entries[hash]; ok {
			if now.Before(entry.ExpiresAt) {
				ns.lru.MoveToFront(entry.element)
				e.mu.Unlock()
				e.hits.Add(1)
				return &LookupResult{Hit: true, Entry: entry, Similarity: 1.0, Source: "exact"}
			}
			e.removeLocked(ns, entry)
		}
	}
	e.mu.Unlock()

	// Semantic path.
	embedding, err := e.embedder.Embed(ctx, prompt)
	if err != nil {
		e.logger.DebugContext(ctx, "cache embedding failed, bypassing", "error", err)
		e.misses.Add(1)
		return &LookupResult{}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	ns = e.namespaces[tenant]
	if ns == nil {
		e.misses.Add(1)
		return &LookupResult{}
	}

	var best *Entry
	bestSim := 0.0
	for _, entry := range ns.entries {
		if entry.Model != model || now.After(entry.ExpiresAt) {
			continue
		}
		if sim := cosine(embedding, entry.Embedding); sim > bestSim {
			best, bestSim = entry, sim
		}
	}

	if best == nil || bestSim < settings.SimilarityThreshold {
		e.misses.Add(1)
		return &LookupResult{Similarity: bestSim}
	}

	ns.lru.MoveToFront(best.element)
	e.hits.Add(1)
	return &LookupResult{Hit: true, Entry: best, Similarity: bestSim, Source: "semantic"}
}

// Insert stores a response. Degenerate responses are rejected so a
// transient upstream failure cannot poison the cache.
func (e *Engine) Insert(ctx context.Context, tenant, model, prompt string, response []byte, promptTokens, completionTokens int, settings TenantSettings) {
	if !settings.Enabled || len(response) < minCachedResponseLength {
		return
	}

	embedding, err := e.embedder.Embed(ctx, prompt)
	if err != nil {
		e.logger.DebugContext(ctx, "cache insert embedding failed", "error", err)
		return
	}

	ttl := settings.TTL
	if override, ok := e.modelTTLs[model]; ok {
		ttl = override
	}

	now := time.Now()
	entry := &Entry{
		Tenant:           tenant,
		Model:            model,
		PromptHash:       PromptHash(model, prompt),
		Embedding:        embedding,
		Response:         response,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		CreatedAt:        now,
		ExpiresAt:        now.Add(ttl),
		Threshold:        settings.SimilarityThreshold,
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	ns := e.namespaces[tenant]
	if ns == nil {
		ns = &namespace{
			entries: make(map[string]*Entry),
			lru:     list.New(),
		}
		e.namespaces[tenant] = ns
	}

	if existing, ok := ns.entries[entry.PromptHash]; ok {
		e.removeLocked(ns, existing)
	}

	entry.element = ns.lru.PushFront(entry)
	ns.entries[entry.PromptHash] = entry

	// LRU eviction within the tenant budget.
	for settings.MaxEntries > 0 && ns.lru.Len() > settings.MaxEntries {
		oldest := ns.lru.Back()
		if oldest == nil {
			break
		}
		e.removeLocked(ns, oldest.Value.(*Entry))
	}
}

// Flush drops every entry for a tenant.
func (e *Engine) Flush(tenant string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.namespaces, tenant)
}

// Sweep removes expired entries across all tenants. Run periodically.
func (e *Engine) Sweep() int {
	now := time.Now()
	removed := 0

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, ns := range e.namespaces {
		for _, entry := range ns.entries {
			if now.After(entry.ExpiresAt) {
				e.removeLocked(ns, entry)
				removed++
			}
		}
	}
	return removed
}

// Stats returns lifetime hit and miss counts.
func (e *Engine) Stats() (hits, misses int64) {
	return e.hits.Load(), e.misses.Load()
}

// Len returns the entry count for a tenant.
func (e *Engine) Len(tenant string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if ns := e.namespaces[tenant]; ns != nil {
		return len(ns.entries)
	}
	return 0
}

func (e *Engine) removeLocked(ns *namespace, entry *Entry) {
	delete(ns.entries, entry.PromptHash)
	if entry.element != nil {
		ns.lru.Remove(entry.element)
		entry.element = nil
	}
}
