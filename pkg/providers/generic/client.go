package generic

import (
	"strato-hq/aegis/pkg/providers"
	"strato-hq/aegis/pkg/providers/openai"
)

func init() {
	providers.RegisterFactory("generic", func(cfg providers.Config, keys providers.KeyResolver) (providers.Provider, error) {
		return NewProvider(cfg, keys)
	})
}

// Provider is the generic OpenAI-compatible connector adapter.
type Provider struct {
	*openai.Provider
}

// NewProvider creates a generic adapter. The base URL is mandatory and
// the API key reference is optional; local models typically run without
// authentication.
func NewProvider(cfg providers.Config, keys providers.KeyResolver) (*Provider, error) {
	if cfg.BaseURL == "" {
		return nil, &providers.ConfigError{
			Provider: cfg.Name,
			Field:    "base_url",
			Message:  "base URL is required for generic providers",
		}
	}

	// Self-hosted endpoints are eligible for data-classified traffic.
	cfg.SelfHosted = true

	inner, err := openai.NewProvider(cfg, keys)
	if err != nil {
		return nil, err
	}

	return &Provider{Provider: inner}, nil
}

// Kind returns "generic".
func (p *Provider) Kind() string {
	return "generic"
}
