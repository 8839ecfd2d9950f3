package proxy

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"strato-hq/aegis/pkg/providers"
	"strato-hq/aegis/pkg/proxy/types"
)

// Augmentation mirror headers. The same data rides in the response body's
// extension object.
const (
	HeaderProviderUsed   = "X-Aegis-Provider"
	HeaderModelRequested = "X-Aegis-Model-Requested"
	HeaderModelUsed      = "X-Aegis-Model-Used"
	HeaderRoutingReason  = "X-Aegis-Routing-Reason"
	HeaderCost           = "X-Aegis-Cost"
	HeaderCacheHit       = "X-Aegis-Cache-Hit"
	HeaderWalletBalance  = "X-Aegis-Wallet-Balance"
	HeaderPolicyActions  = "X-Aegis-Policy-Actions"
)

// WriteJSONResponse writes a JSON body with the given status.
func WriteJSONResponse(w http.ResponseWriter, status int, body any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(body)
}

// WriteErrorResponse writes an error envelope with its mapped status.
func WriteErrorResponse(w http.ResponseWriter, resp *types.ErrorResponse) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(types.StatusFor(resp.Error.Code))
	return json.NewEncoder(w).Encode(resp)
}

// MirrorExtension copies the augmentation into response headers. Must be
// called before the first body byte.
func MirrorExtension(w http.ResponseWriter, ext *types.ResponseExtension) {
	if ext == nil {
		return
	}
	if ext.ProviderUsed != "" {
		w.Header().Set(HeaderProviderUsed, ext.ProviderUsed)
	}
	if ext.ModelRequested != "" {
		w.Header().Set(HeaderModelRequested, ext.ModelRequested)
	}
	if ext.ModelUsed != "" {
		w.Header().Set(HeaderModelUsed, ext.ModelUsed)
	}
	if ext.RoutingReason != "" {
		w.Header().Set(HeaderRoutingReason, ext.RoutingReason)
	}
	w.Header().Set(HeaderCost, strconv.FormatFloat(ext.Cost, 'f', 6, 64))
	w.Header().Set(HeaderCacheHit, strconv.FormatBool(ext.CacheHit))
	w.Header().Set(HeaderWalletBalance, strconv.FormatFloat(ext.WalletBalance, 'f', 6, 64))
	if len(ext.PolicyActions) > 0 {
		actions := ""
		for i, a := range ext.PolicyActions {
			if i > 0 {
				actions += ","
			}
			actions += a
		}
		w.Header().Set(HeaderPolicyActions, actions)
	}
}

// FormatChatCompletionResponse shapes a provider response as the OpenAI
// chat completion body. modelAlias is the client-facing model name.
func FormatChatCompletionResponse(resp *providers.CompletionResponse, modelAlias, responseID string) *types.ChatCompletionResponse {
	out := &types.ChatCompletionResponse{
		ID:      responseID,
		Object:  "chat.completion",
		Created: resp.Created,
		Model:   modelAlias,
		Usage: types.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}

	message := types.ChatMessage{
		Role:    "assistant",
		Content: resp.Content,
	}
	for _, tc := range resp.ToolCalls {
		message.ToolCalls = append(message.ToolCalls, types.ToolCall{
			ID:   tc.ID,
			Type: tc.Type,
			Function: types.FunctionCall{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		})
	}

	out.Choices = []types.ChatChoice{{
		Index:        0,
		Message:      message,
		FinishReason: resp.FinishReason,
	}}

	return out
}

// SetSSEHeaders prepares the response for server-sent events.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// WriteSSEChunk writes one data frame and flushes it.
func WriteSSEChunk(w http.ResponseWriter, chunk any) (int, error) {
	data, err := json.Marshal(chunk)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal SSE chunk: %w", err)
	}

	n, err := fmt.Fprintf(w, "data: %s\n\n", data)
	if err != nil {
		return n, err
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	return n, nil
}

// WriteSSEDone writes the stream terminator.
func WriteSSEDone(w http.ResponseWriter) error {
	_, err := fmt.Fprint(w, "data: [DONE]\n\n")
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	return err
}

// WriteSSEError writes an error envelope as a terminal stream event.
func WriteSSEError(w http.ResponseWriter, resp *types.ErrorResponse) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: error\ndata: %s\n\n", data)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	return err
}
