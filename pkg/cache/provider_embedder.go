package cache

import (
	"context"
	"fmt"

	"strato-hq/aegis/pkg/providers"
)

// ProviderEmbedder computes embeddings through an upstream connector.
type ProviderEmbedder struct {
	provider providers.Provider
	model    string
}

// NewProviderEmbedder creates an embedder over the given connector and
// embedding model.
func NewProviderEmbedder(provider providers.Provider, model string) *ProviderEmbedder {
	return &ProviderEmbedder{provider: provider, model: model}
}

// Embed requests one embedding from the connector.
func (e *ProviderEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.provider.Embed(ctx, &providers.EmbeddingRequest{
		Model: e.model,
		Input: []string{text},
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) == 0 {
		return nil, fmt.Errorf("connector %s returned no embedding", e.provider.Name())
	}
	return resp.Embeddings[0], nil
}
