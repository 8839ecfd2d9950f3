// Package types defines the OpenAI-compatible wire surface: request and
// response payloads for chat completions, legacy completions and
// embeddings, the streaming chunk format, the gateway extension object,
// and the error envelope with its status mapping.
package types
