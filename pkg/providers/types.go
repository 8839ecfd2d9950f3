package providers

import "time"

// Message represents a single message in a conversation.
// It is provider-agnostic and transformed to provider-specific formats.
type Message struct {
	// Role identifies the message sender (system, user, assistant, tool)
	Role string `json:"role"`

	// Content is the message text content
	Content string `json:"content"`

	// Name is an optional sender name
	Name string `json:"name,omitempty"`

	// ToolCalls contains tool calls made by the assistant
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID references the tool call a "tool" message responds to
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// ToolCall represents a function/tool call request from the model.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall represents a specific function invocation.
type FunctionCall struct {
	Name string `json:"name"`

	// Arguments is a JSON string containing the function arguments
	Arguments string `json:"arguments"`
}

// Tool represents a tool definition the model can call.
type Tool struct {
	Type     string             `json:"type"`
	Function FunctionDefinition `json:"function"`
}

// FunctionDefinition defines a callable function.
type FunctionDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// TokenUsage tracks token consumption for a request.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// CompletionRequest is the provider-agnostic completion request.
type CompletionRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`

	Temperature      float64  `json:"temperature,omitempty"`
	MaxTokens        int      `json:"max_tokens,omitempty"`
	TopP             float64  `json:"top_p,omitempty"`
	Stream           bool     `json:"stream,omitempty"`
	Tools            []Tool   `json:"tools,omitempty"`
	ToolChoice       any      `json:"tool_choice,omitempty"`
	Stop             []string `json:"stop,omitempty"`
	PresencePenalty  float64  `json:"presence_penalty,omitempty"`
	FrequencyPenalty float64  `json:"frequency_penalty,omitempty"`
	User             string   `json:"user,omitempty"`
}

// CompletionResponse is the normalized completion response.
type CompletionResponse struct {
	ID           string     `json:"id"`
	Model        string     `json:"model"`
	Content      string     `json:"content"`
	FinishReason string     `json:"finish_reason"`
	Usage        TokenUsage `json:"usage"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`
	Created      int64      `json:"created"`
}

// StreamChunk is one increment of a streaming response.
type StreamChunk struct {
	// Delta is the content fragment carried by this chunk; empty for
	// bookkeeping events (role announcements, usage reports).
	Delta string `json:"delta"`

	// ToolCallDelta carries incremental tool-call arguments when present.
	ToolCallDelta *ToolCall `json:"tool_call_delta,omitempty"`

	// FinishReason is set on the final content chunk.
	FinishReason string `json:"finish_reason,omitempty"`

	// Usage is set when the provider reports authoritative counts,
	// typically on the last event of the stream.
	Usage *TokenUsage `json:"usage,omitempty"`
}

// EmbeddingRequest asks for embeddings of one or more inputs.
type EmbeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// EmbeddingResponse carries the resulting vectors in input order.
type EmbeddingResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float32 `json:"embeddings"`
	Usage      TokenUsage  `json:"usage"`
}

// Capability names a model feature a connector can advertise.
type Capability string

const (
	CapabilityStreaming  Capability = "streaming"
	CapabilityTools      Capability = "tools"
	CapabilityVision     Capability = "vision"
	CapabilityEmbeddings Capability = "embeddings"
)

// ModelInfo describes one model a connector advertises.
type ModelInfo struct {
	// Name is the alias clients request.
	Name string

	// UpstreamName is the identifier sent to the provider.
	UpstreamName string

	InputPricePer1M  float64
	OutputPricePer1M float64
	ContextWindow    int
	Capabilities     []Capability
}

// HasCapability reports whether the model advertises cap.
func (m *ModelInfo) HasCapability(cap Capability) bool {
	for _, c := range m.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}

// Config is the runtime configuration of one connector.
type Config struct {
	Name string

	// Kind selects the adapter: "openai", "anthropic", "generic".
	Kind string

	BaseURL string

	// APIKeyRef is resolved through the secret store at dispatch time.
	APIKeyRef string

	// Priority orders connectors for default routing; lower wins.
	Priority int

	// Regions the connector serves from.
	Regions []string

	Models []ModelInfo

	Timeout     time.Duration
	DialTimeout time.Duration

	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration

	// RequestsPerMinute and TokensPerMinute bound traffic to this
	// connector. Zero means unlimited.
	RequestsPerMinute int
	TokensPerMinute   int

	ProbeInterval  time.Duration
	RecoveryProbes int

	// SelfHosted marks connectors eligible for data-classified traffic.
	SelfHosted bool
}

// Model returns the advertised model with the given alias, or nil.
func (c *Config) Model(alias string) *ModelInfo {
	for i := range c.Models {
		if c.Models[i].Name == alias {
			return &c.Models[i]
		}
	}
	return nil
}

// ServesRegion reports whether the connector's region set intersects the
// allowed set. An empty allowed set means no residency constraint.
func (c *Config) ServesRegion(allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, want := range allowed {
		for _, have := range c.Regions {
			if want == have {
				return true
			}
		}
	}
	return false
}
