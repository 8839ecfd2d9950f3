// Package generic adapts any self-hosted OpenAI-compatible endpoint
// (vLLM, Ollama, LM Studio and similar) by reusing the openai adapter
// with relaxed credential requirements.
package generic
