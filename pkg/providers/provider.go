package providers

import "context"

// Provider is the uniform contract every connector adapter implements.
//
// All methods accept a context for cancellation and deadline control and
// must return promptly when it is cancelled.
type Provider interface {
	// SendCompletion performs a non-streaming completion call.
	SendCompletion(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)

	// StreamCompletion opens a streaming completion call and returns a
	// reader over the upstream chunks. The caller must Close the reader;
	// closing it tears down the upstream connection.
	StreamCompletion(ctx context.Context, req *CompletionRequest) (StreamReader, error)

	// Embed computes embeddings. Connectors whose models do not advertise
	// the embeddings capability return a ConfigError.
	Embed(ctx context.Context, req *EmbeddingRequest) (*EmbeddingResponse, error)

	// Probe performs a lightweight reachability check.
	Probe(ctx context.Context) error

	// Name returns the connector's configured name.
	Name() string

	// Kind returns the adapter kind ("openai", "anthropic", "generic").
	Kind() string

	// Config returns the connector configuration.
	Config() Config

	// Health returns the connector's health tracker.
	Health() *HealthTracker

	// Close releases adapter resources.
	Close() error
}

// StreamReader yields streaming chunks one at a time.
type StreamReader interface {
	// Read returns the next chunk. It returns nil, io.EOF when the stream
	// ends normally and nil, err on failure or context cancellation.
	Read(ctx context.Context) (*StreamChunk, error)

	// Close tears down the stream and the upstream connection.
	Close() error
}

// KeyResolver resolves a connector's API key by reference.
// The secret store manager satisfies this.
type KeyResolver interface {
	GetSecret(ctx context.Context, ref string) (string, error)
}
