package anthropic

import (
	"context"
	"net/http"
	"strings"

	"strato-hq/aegis/pkg/providers"
)

// anthropicVersion pins the Messages API revision.
const anthropicVersion = "2023-06-01"

func init() {
	providers.RegisterFactory("anthropic", func(cfg providers.Config, keys providers.KeyResolver) (providers.Provider, error) {
		return NewProvider(cfg, keys)
	})
}

// Provider is the Anthropic-family connector adapter.
type Provider struct {
	*providers.HTTPProvider
}

// NewProvider creates an Anthropic adapter.
func NewProvider(cfg providers.Config, keys providers.KeyResolver) (*Provider, error) {
	if cfg.Name == "" {
		return nil, &providers.ConfigError{Provider: "anthropic", Field: "name", Message: "provider name is required"}
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.anthropic.com"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &Provider{
		HTTPProvider: providers.NewHTTPProvider(cfg, keys),
	}, nil
}

// Kind returns "anthropic".
func (p *Provider) Kind() string {
	return "anthropic"
}

// SendCompletion performs a non-streaming messages call.
func (p *Provider) SendCompletion(ctx context.Context, req *providers.CompletionRequest) (*providers.CompletionResponse, error) {
	headers, err := p.authHeaders(ctx)
	if err != nil {
		return nil, err
	}

	wire := transformRequest(req, p.upstreamModel(req.Model))
	wire.Stream = false

	var resp anthropicResponse
	url := p.Config().BaseURL + "/v1/messages"
	if err := p.DoJSONRequest(ctx, http.MethodPost, url, wire, &resp, headers); err != nil {
		return nil, err
	}

	return transformResponse(&resp), nil
}

// StreamCompletion opens a streaming messages call.
func (p *Provider) StreamCompletion(ctx context.Context, req *providers.CompletionRequest) (providers.StreamReader, error) {
	headers, err := p.authHeaders(ctx)
	if err != nil {
		return nil, err
	}
	headers["Accept"] = "text/event-stream"

	wire := transformRequest(req, p.upstreamModel(req.Model))
	wire.Stream = true

	url := p.Config().BaseURL + "/v1/messages"
	return newStreamReader(ctx, p.HTTPProvider, url, wire, headers)
}

// Embed returns a ConfigError; the Anthropic API does not serve
// embeddings.
func (p *Provider) Embed(ctx context.Context, req *providers.EmbeddingRequest) (*providers.EmbeddingResponse, error) {
	return nil, &providers.ConfigError{
		Provider: p.Name(),
		Field:    "embeddings",
		Message:  "anthropic connectors do not serve embeddings",
	}
}

// Probe checks reachability with a minimal messages call carrying a
// one-token budget.
func (p *Provider) Probe(ctx context.Context) error {
	headers, err := p.authHeaders(ctx)
	if err != nil {
		return err
	}

	probe := &anthropicRequest{
		Model:     p.probeModel(),
		MaxTokens: 1,
		Messages:  []anthropicMessage{{Role: "user", Content: "ping"}},
	}

	var resp anthropicResponse
	return p.DoJSONRequest(ctx, http.MethodPost, p.Config().BaseURL+"/v1/messages", probe, &resp, headers)
}

func (p *Provider) probeModel() string {
	cfg := p.Config()
	if len(cfg.Models) > 0 {
		if cfg.Models[0].UpstreamName != "" {
			return cfg.Models[0].UpstreamName
		}
		return cfg.Models[0].Name
	}
	return "claude-3-5-haiku-latest"
}

func (p *Provider) authHeaders(ctx context.Context) (map[string]string, error) {
	key, err := p.APIKey(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"x-api-key":         key,
		"anthropic-version": anthropicVersion,
	}, nil
}

func (p *Provider) upstreamModel(alias string) string {
	cfg := p.Config()
	if m := cfg.Model(alias); m != nil && m.UpstreamName != "" {
		return m.UpstreamName
	}
	return alias
}
