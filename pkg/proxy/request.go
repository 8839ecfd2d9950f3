package proxy

import (
	"encoding/json"
	"fmt"
	"strings"

	"strato-hq/aegis/pkg/metering"
	"strato-hq/aegis/pkg/providers"
	"strato-hq/aegis/pkg/proxy/types"
)

// ParseChatCompletionRequest decodes and validates a chat payload.
func ParseChatCompletionRequest(body []byte) (*types.ChatCompletionRequest, error) {
	var req types.ChatCompletionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("malformed JSON body: %w", err)
	}
	if req.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("messages must not be empty")
	}
	return &req, nil
}

// ParseCompletionRequest decodes and validates a legacy completion payload.
func ParseCompletionRequest(body []byte) (*types.CompletionRequest, error) {
	var req types.CompletionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("malformed JSON body: %w", err)
	}
	if req.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if req.Prompt == nil {
		return nil, fmt.Errorf("prompt is required")
	}
	return &req, nil
}

// ParseEmbeddingsRequest decodes and validates an embeddings payload.
func ParseEmbeddingsRequest(body []byte) (*types.EmbeddingsRequest, error) {
	var req types.EmbeddingsRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("malformed JSON body: %w", err)
	}
	if req.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if req.Input == nil {
		return nil, fmt.Errorf("input is required")
	}
	return &req, nil
}

// MessageText flattens message content to text. Multimodal arrays
// contribute their text parts; image parts are skipped.
func MessageText(content any) string {
	switch v := content.(type) {
	case string:
		return v
	case []any:
		var parts []string
		for _, part := range v {
			m, ok := part.(map[string]any)
			if !ok {
				continue
			}
			if m["type"] == "text" {
				if text, ok := m["text"].(string); ok {
					parts = append(parts, text)
				}
			}
		}
		return strings.Join(parts, " ")
	default:
		return ""
	}
}

// PromptText concatenates all message text for scanning, caching and
// token estimation.
func PromptText(req *types.ChatCompletionRequest) string {
	var sb strings.Builder
	for i, msg := range req.Messages {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(msg.Role)
		sb.WriteString(": ")
		sb.WriteString(MessageText(msg.Content))
	}
	return sb.String()
}

// PromptStrings extracts the prompt list of a legacy completion request.
func PromptStrings(prompt any) []string {
	switch v := prompt.(type) {
	case string:
		return []string{v}
	case []any:
		var out []string
		for _, p := range v {
			if s, ok := p.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// InputStrings extracts the input list of an embeddings request.
func InputStrings(input any) []string {
	return PromptStrings(input)
}

// ToProviderRequest converts a chat payload to the provider-agnostic
// request.
func ToProviderRequest(req *types.ChatCompletionRequest) *providers.CompletionRequest {
	out := &providers.CompletionRequest{
		Model:      req.Model,
		Stream:     req.Stream,
		Stop:       req.Stop,
		User:       req.User,
		ToolChoice: req.ToolChoice,
	}
	if req.Temperature != nil {
		out.Temperature = *req.Temperature
	}
	if req.MaxTokens != nil {
		out.MaxTokens = *req.MaxTokens
	}
	if req.TopP != nil {
		out.TopP = *req.TopP
	}
	if req.PresencePenalty != nil {
		out.PresencePenalty = *req.PresencePenalty
	}
	if req.FrequencyPenalty != nil {
		out.FrequencyPenalty = *req.FrequencyPenalty
	}

	out.Messages = make([]providers.Message, 0, len(req.Messages))
	for _, msg := range req.Messages {
		pm := providers.Message{
			Role:       msg.Role,
			Content:    MessageText(msg.Content),
			Name:       msg.Name,
			ToolCallID: msg.ToolCallID,
		}
		for _, tc := range msg.ToolCalls {
			pm.ToolCalls = append(pm.ToolCalls, providers.ToolCall{
				ID:   tc.ID,
				Type: tc.Type,
				Function: providers.FunctionCall{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
		}
		out.Messages = append(out.Messages, pm)
	}

	for _, tool := range req.Tools {
		out.Tools = append(out.Tools, providers.Tool{
			Type: tool.Type,
			Function: providers.FunctionDefinition{
				Name:        tool.Function.Name,
				Description: tool.Function.Description,
				Parameters:  tool.Function.Parameters,
			},
		})
	}

	return out
}

// MeteringMessages converts chat messages to the metering shape.
func MeteringMessages(req *types.ChatCompletionRequest) []metering.Message {
	out := make([]metering.Message, 0, len(req.Messages))
	for _, msg := range req.Messages {
		out = append(out, metering.Message{
			Role:    msg.Role,
			Content: MessageText(msg.Content),
			Name:    msg.Name,
		})
	}
	return out
}
