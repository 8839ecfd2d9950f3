package openai

import (
	"context"
	"net/http"
	"strings"

	"strato-hq/aegis/pkg/providers"
)

func init() {
	providers.RegisterFactory("openai", func(cfg providers.Config, keys providers.KeyResolver) (providers.Provider, error) {
		return NewProvider(cfg, keys)
	})
}

// Provider is the OpenAI-family connector adapter.
type Provider struct {
	*providers.HTTPProvider
}

// NewProvider creates an OpenAI adapter.
func NewProvider(cfg providers.Config, keys providers.KeyResolver) (*Provider, error) {
	if cfg.Name == "" {
		return nil, &providers.ConfigError{Provider: "openai", Field: "name", Message: "provider name is required"}
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &Provider{
		HTTPProvider: providers.NewHTTPProvider(cfg, keys),
	}, nil
}

// Kind returns "openai".
func (p *Provider) Kind() string {
	return "openai"
}

// SendCompletion performs a non-streaming chat completion call.
func (p *Provider) SendCompletion(ctx context.Context, req *providers.CompletionRequest) (*providers.CompletionResponse, error) {
	headers, err := p.authHeaders(ctx)
	if err != nil {
		return nil, err
	}

	wire := transformRequest(req, p.upstreamModel(req.Model))
	wire.Stream = false
	wire.StreamOptions = nil

	var resp openaiResponse
	url := p.Config().BaseURL + "/chat/completions"
	if err := p.DoJSONRequest(ctx, http.MethodPost, url, wire, &resp, headers); err != nil {
		return nil, err
	}

	return transformResponse(&resp), nil
}

// StreamCompletion opens a streaming chat completion call.
func (p *Provider) StreamCompletion(ctx context.Context, req *providers.CompletionRequest) (providers.StreamReader, error) {
	headers, err := p.authHeaders(ctx)
	if err != nil {
		return nil, err
	}
	headers["Accept"] = "text/event-stream"

	wire := transformRequest(req, p.upstreamModel(req.Model))
	wire.Stream = true

	url := p.Config().BaseURL + "/chat/completions"
	return newStreamReader(ctx, p.HTTPProvider, url, wire, headers)
}

// Embed computes embeddings.
func (p *Provider) Embed(ctx context.Context, req *providers.EmbeddingRequest) (*providers.EmbeddingResponse, error) {
	headers, err := p.authHeaders(ctx)
	if err != nil {
		return nil, err
	}

	wire := &openaiEmbeddingRequest{
		Model: p.upstreamModel(req.Model),
		Input: req.Input,
	}

	var resp openaiEmbeddingResponse
	url := p.Config().BaseURL + "/embeddings"
	if err := p.DoJSONRequest(ctx, http.MethodPost, url, wire, &resp, headers); err != nil {
		return nil, err
	}

	out := &providers.EmbeddingResponse{
		Model: resp.Model,
		Usage: providers.TokenUsage{
			PromptTokens: resp.Usage.PromptTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
	}
	out.Embeddings = make([][]float32, len(resp.Data))
	for _, d := range resp.Data {
		if d.Index >= 0 && d.Index < len(out.Embeddings) {
			out.Embeddings[d.Index] = d.Embedding
		}
	}
	return out, nil
}

// Probe checks reachability via the models listing endpoint.
func (p *Provider) Probe(ctx context.Context) error {
	headers, err := p.authHeaders(ctx)
	if err != nil {
		return err
	}

	resp, err := p.DoRequest(ctx, http.MethodGet, p.Config().BaseURL+"/models", nil, headers)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (p *Provider) authHeaders(ctx context.Context) (map[string]string, error) {
	key, err := p.APIKey(ctx)
	if err != nil {
		return nil, err
	}
	headers := make(map[string]string, 1)
	if key != "" {
		headers["Authorization"] = "Bearer " + key
	}
	return headers, nil
}

// upstreamModel maps a client model alias to the provider-side name.
func (p *Provider) upstreamModel(alias string) string {
	cfg := p.Config()
	if m := cfg.Model(alias); m != nil && m.UpstreamName != "" {
		return m.UpstreamName
	}
	return alias
}
