// Package providers defines the uniform connector contract for upstream
// LLM providers and the shared HTTP machinery behind the concrete
// adapters (openai, anthropic, generic OpenAI-compatible).
//
// Connectors resolve their API keys by reference through the secret store
// at dispatch time; keys never appear in configuration or logs. Health is
// tracked per connector by a three-state machine (healthy, degraded,
// down) fed by request outcomes and background probes.
package providers
