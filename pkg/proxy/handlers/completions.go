package handlers

import (
	"context"
	"net/http"
	"strings"

	"strato-hq/aegis/pkg/metering"
	"strato-hq/aegis/pkg/proxy"
	"strato-hq/aegis/pkg/proxy/middleware"
	"strato-hq/aegis/pkg/proxy/types"
)

// CompletionsHandler serves the legacy /v1/completions endpoint by
// converting prompts into single-turn chat requests and reshaping the
// result. Streaming is served through /v1/chat/completions; the legacy
// endpoint answers streaming requests with an explicit error rather than
// a silently different frame format.
type CompletionsHandler struct {
	chat *ChatHandler
}

// NewCompletionsHandler creates the legacy completions handler.
func NewCompletionsHandler(deps *Deps) *CompletionsHandler {
	return &CompletionsHandler{chat: NewChatHandler(deps)}
}

// ServeHTTP implements http.Handler.
func (h *CompletionsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	if r.Method != http.MethodPost {
		proxy.WriteErrorResponse(w, types.NewError(types.CodeInvalidRequest,
			"method not allowed, use POST", correlationID))
		return
	}

	body := middleware.GetBody(ctx)
	legacyReq, err := proxy.ParseCompletionRequest(body)
	if err != nil {
		proxy.WriteErrorResponse(w, types.NewError(types.CodeInvalidRequest, err.Error(), correlationID))
		return
	}

	if legacyReq.Stream {
		proxy.WriteErrorResponse(w, types.NewError(types.CodeInvalidRequest,
			"streaming is served by /v1/chat/completions", correlationID))
		return
	}

	prompts := proxy.PromptStrings(legacyReq.Prompt)
	if len(prompts) == 0 {
		proxy.WriteErrorResponse(w, types.NewError(types.CodeInvalidRequest,
			"prompt must be a string or array of strings", correlationID))
		return
	}

	chatReq := &types.ChatCompletionRequest{
		Model: legacyReq.Model,
		Messages: []types.ChatMessage{
			{Role: "user", Content: strings.Join(prompts, "\n")},
		},
		MaxTokens:   legacyReq.MaxTokens,
		Temperature: legacyReq.Temperature,
		TopP:        legacyReq.TopP,
		Stop:        legacyReq.Stop,
		User:        legacyReq.User,
		Extension:   legacyReq.Extension,
	}

	recorder := &captureWriter{header: make(http.Header)}
	h.chat.serveParsed(w, r, chatReq, recorder)
}

// serveParsed runs the chat pipeline for an already-parsed request,
// reshaping the body as a legacy completion when capture is non-nil.
func (c *ChatHandler) serveParsed(w http.ResponseWriter, r *http.Request, chatReq *types.ChatCompletionRequest, capture *captureWriter) {
	ctx := r.Context()

	state, errResp := c.prepareParsed(ctx, chatReq)
	if errResp != nil {
		proxy.WriteErrorResponse(w, errResp)
		return
	}

	if errResp := c.evaluatePolicy(ctx, state); errResp != nil {
		c.recordRejection(state, errResp.Error.Code)
		proxy.WriteErrorResponse(w, errResp)
		return
	}
	if errResp := c.route(ctx, state); errResp != nil {
		c.recordRejection(state, errResp.Error.Code)
		proxy.WriteErrorResponse(w, errResp)
		return
	}
	if state.ext.DryRun {
		c.writeDryRun(w, state)
		return
	}

	// Run the non-streaming path into the capture, then reshape.
	c.serveOnce(capture, r, state)

	if capture.status != 0 && capture.status != http.StatusOK {
		copyCapture(w, capture)
		return
	}

	var chatResp types.ChatCompletionResponse
	if err := capture.decode(&chatResp); err != nil {
		proxy.WriteErrorResponse(w, types.NewError(types.CodeInternalError,
			"response reshaping failed", state.correlationID))
		return
	}

	legacy := &types.CompletionResponse{
		ID:      strings.Replace(chatResp.ID, "chatcmpl-", "cmpl-", 1),
		Object:  "text_completion",
		Created: chatResp.Created,
		Model:   chatResp.Model,
		Usage:   chatResp.Usage,
	}
	for _, choice := range chatResp.Choices {
		legacy.Choices = append(legacy.Choices, types.CompletionChoice{
			Index:        choice.Index,
			Text:         proxy.MessageText(choice.Message.Content),
			FinishReason: choice.FinishReason,
		})
	}
	legacy.Extension = chatResp.Extension

	for name, values := range capture.header {
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	proxy.WriteJSONResponse(w, http.StatusOK, legacy)
}

// prepareParsed builds request state from an already-parsed payload.
func (c *ChatHandler) prepareParsed(ctx context.Context, chatReq *types.ChatCompletionRequest) (*requestState, *types.ErrorResponse) {
	correlationID := middleware.GetCorrelationID(ctx)

	principal := middleware.GetPrincipal(ctx)
	if principal == nil {
		return nil, types.NewError(types.CodeAuthenticationFailed, "missing principal", correlationID)
	}

	state := &requestState{
		correlationID: correlationID,
		tenant:        principal.Tenant,
		actor:         principal.Actor,
		team:          principal.Team,
		chatReq:       chatReq,
		promptText:    proxy.PromptText(chatReq),
		arrival:       middleware.GetArrival(ctx),
	}
	if chatReq.Extension != nil {
		state.ext = *chatReq.Extension
	}
	state.feature = state.ext.FeatureTag
	state.walletID = effectiveWallet(ctx, state.ext.BudgetGroup)
	state.estimatedPrompt = metering.EstimateMessages(proxy.MeteringMessages(chatReq))

	return state, nil
}
