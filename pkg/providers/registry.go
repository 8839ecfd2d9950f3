package providers

import (
	"fmt"
	"sync"
)

// Factory builds a connector adapter from its configuration.
// Adapter packages register themselves at init time.
type Factory func(config Config, keys KeyResolver) (Provider, error)

var (
	factoriesMu sync.RWMutex
	factories   = make(map[string]Factory)
)

// RegisterFactory registers an adapter factory under a kind name.
func RegisterFactory(kind string, factory Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[kind] = factory
}

// Registry holds the configured connectors by name.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry builds connectors from the given configurations.
func NewRegistry(configs []Config, keys KeyResolver) (*Registry, error) {
	r := &Registry{
		providers: make(map[string]Provider, len(configs)),
	}

	for _, cfg := range configs {
		factoriesMu.RLock()
		factory, ok := factories[cfg.Kind]
		factoriesMu.RUnlock()
		if !ok {
			return nil, &ConfigError{
				Provider: cfg.Name,
				Field:    "kind",
				Message:  fmt.Sprintf("no adapter registered for kind %q", cfg.Kind),
			}
		}

		provider, err := factory(cfg, keys)
		if err != nil {
			return nil, fmt.Errorf("building provider %s: %w", cfg.Name, err)
		}
		r.providers[cfg.Name] = provider
	}

	return r, nil
}

// Get returns a connector by name, or nil.
func (r *Registry) Get(name string) Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.providers[name]
}

// All returns every configured connector.
func (r *Registry) All() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, p)
	}
	return out
}

// ForModel returns connectors advertising the model alias.
func (r *Registry) ForModel(alias string) []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Provider
	for _, p := range r.providers {
		cfg := p.Config()
		if cfg.Model(alias) != nil {
			out = append(out, p)
		}
	}
	return out
}

// Close closes every connector.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for _, p := range r.providers {
		if err := p.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
