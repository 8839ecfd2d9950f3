// Package openai implements the connector adapter for the OpenAI API
// family: chat completions (streaming and non-streaming) and embeddings.
// The generic adapter reuses it for any OpenAI-compatible endpoint.
package openai
