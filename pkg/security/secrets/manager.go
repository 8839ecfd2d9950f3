package secrets

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// CacheConfig configures the manager's secret cache.
type CacheConfig struct {
	Enabled bool
	TTL     time.Duration
	MaxSize int
}

type cacheEntry struct {
	value     string
	expiresAt time.Time
}

// Manager orchestrates multiple secret providers with priority-based
// fallback and a request-path TTL cache.
//
// Providers are tried in the order given; the first that supports a name
// and returns a value wins. Lookups are bounded by the caller's context.
type Manager struct {
	providers []Provider

	cacheCfg CacheConfig
	mu       sync.RWMutex
	cache    map[string]*cacheEntry
}

// NewManager creates a secret manager with the given providers.
func NewManager(providers []Provider, cacheCfg CacheConfig) *Manager {
	if cacheCfg.TTL == 0 {
		cacheCfg.TTL = 5 * time.Minute
	}
	if cacheCfg.MaxSize == 0 {
		cacheCfg.MaxSize = 1024
	}
	return &Manager{
		providers: providers,
		cacheCfg:  cacheCfg,
		cache:     make(map[string]*cacheEntry),
	}
}

// GetSecret resolves a secret reference. References may be written either
// as a bare name or as ${NAME}; both resolve identically.
func (m *Manager) GetSecret(ctx context.Context, ref string) (string, error) {
	name := normalizeRef(ref)
	if name == "" {
		return "", fmt.Errorf("empty secret reference")
	}

	if value, ok := m.cached(name); ok {
		return value, nil
	}

	var lastErr error
	for _, provider := range m.providers {
		if !provider.Supports(name) {
			continue
		}

		value, err := provider.GetSecret(ctx, name)
		if err != nil {
			lastErr = err
			slog.Debug("secret provider miss",
				"provider", provider.Name(),
				"name", redactName(name),
			)
			continue
		}

		m.store(name, value)
		return value, nil
	}

	if lastErr != nil {
		return "", fmt.Errorf("failed to get secret %q: %w", redactName(name), lastErr)
	}
	return "", fmt.Errorf("secret not found: %q (no provider supports this secret)", redactName(name))
}

func (m *Manager) cached(name string) (string, bool) {
	if !m.cacheCfg.Enabled {
		return "", false
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.cache[name]
	if !ok || time.Now().After(entry.expiresAt) {
		return "", false
	}
	return entry.value, true
}

func (m *Manager) store(name, value string) {
	if !m.cacheCfg.Enabled {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Evict an arbitrary entry when full; the cache is small and TTL-bound.
	if len(m.cache) >= m.cacheCfg.MaxSize {
		for k := range m.cache {
			delete(m.cache, k)
			break
		}
	}

	m.cache[name] = &cacheEntry{
		value:     value,
		expiresAt: time.Now().Add(m.cacheCfg.TTL),
	}
}

// Invalidate drops a cached secret, forcing the next lookup to hit the backend.
func (m *Manager) Invalidate(ref string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cache, normalizeRef(ref))
}

// normalizeRef strips the optional ${...} wrapper from a secret reference.
func normalizeRef(ref string) string {
	ref = strings.TrimSpace(ref)
	if strings.HasPrefix(ref, "${") && strings.HasSuffix(ref, "}") {
		ref = ref[2 : len(ref)-1]
	}
	return ref
}

// redactName shortens a secret name for diagnostics. Names can themselves
// hint at infrastructure layout, so only a prefix is logged.
func redactName(name string) string {
	if len(name) <= 8 {
		return name
	}
	return name[:8] + "..."
}
