package types

// ChatMessage is one message of a chat completion request. Content is
// either a string or a multimodal part array, per the OpenAI format.
type ChatMessage struct {
	Role       string     `json:"role"`
	Content    any        `json:"content"`
	Name       string     `json:"name,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall mirrors the OpenAI tool call shape.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall carries a function name and its JSON-encoded arguments.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Tool mirrors the OpenAI tool definition shape.
type Tool struct {
	Type     string             `json:"type"`
	Function FunctionDefinition `json:"function"`
}

// FunctionDefinition describes a callable function.
type FunctionDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// ChatCompletionRequest is the /v1/chat/completions payload.
type ChatCompletionRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`

	Temperature      *float64 `json:"temperature,omitempty"`
	MaxTokens        *int     `json:"max_tokens,omitempty"`
	TopP             *float64 `json:"top_p,omitempty"`
	N                *int     `json:"n,omitempty"`
	Stream           bool     `json:"stream,omitempty"`
	Stop             []string `json:"stop,omitempty"`
	PresencePenalty  *float64 `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float64 `json:"frequency_penalty,omitempty"`
	User             string   `json:"user,omitempty"`
	Tools            []Tool   `json:"tools,omitempty"`
	ToolChoice       any      `json:"tool_choice,omitempty"`

	// Extension is the optional gateway extension object.
	Extension *RequestExtension `json:"aegis,omitempty"`
}

// CompletionRequest is the legacy /v1/completions payload.
type CompletionRequest struct {
	Model       string   `json:"model"`
	Prompt      any      `json:"prompt"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	Stream      bool     `json:"stream,omitempty"`
	Stop        []string `json:"stop,omitempty"`
	User        string   `json:"user,omitempty"`

	Extension *RequestExtension `json:"aegis,omitempty"`
}

// EmbeddingsRequest is the /v1/embeddings payload.
type EmbeddingsRequest struct {
	Model string `json:"model"`
	Input any    `json:"input"`
	User  string `json:"user,omitempty"`

	Extension *RequestExtension `json:"aegis,omitempty"`
}

// RequestExtension carries the optional gateway controls a client may
// attach to any request. All fields are optional.
type RequestExtension struct {
	// RoutingStrategy hints "priority", "cost" or "latency".
	RoutingStrategy string `json:"routing_strategy,omitempty"`

	// FallbackModels extends the failover chain.
	FallbackModels []string `json:"fallback_models,omitempty"`

	// CacheEnabled opts this request into the semantic cache.
	CacheEnabled *bool `json:"cache_enabled,omitempty"`

	// CacheTTLSeconds overrides the tenant TTL for entries this request
	// populates.
	CacheTTLSeconds int `json:"cache_ttl_seconds,omitempty"`

	// FeatureTag labels the request for cost attribution.
	FeatureTag string `json:"feature_tag,omitempty"`

	// BudgetGroup overrides the wallet the request draws from, subject
	// to the actor's tenant.
	BudgetGroup string `json:"budget_group,omitempty"`

	// DataClassification is explicit caller-set classification metadata.
	DataClassification string `json:"data_classification,omitempty"`

	// DryRun evaluates routing and policy without dispatching.
	DryRun bool `json:"dry_run,omitempty"`
}
