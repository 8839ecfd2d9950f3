// Package anthropic implements the connector adapter for the Anthropic
// Messages API, normalizing its system-prompt handling, event-typed SSE
// stream and usage reporting to the gateway's agnostic contract.
package anthropic
