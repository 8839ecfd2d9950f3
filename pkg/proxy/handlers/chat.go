package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"strato-hq/aegis/pkg/analytics"
	"strato-hq/aegis/pkg/ledger"
	"strato-hq/aegis/pkg/metering"
	"strato-hq/aegis/pkg/policy"
	"strato-hq/aegis/pkg/providers"
	"strato-hq/aegis/pkg/proxy"
	"strato-hq/aegis/pkg/proxy/middleware"
	"strato-hq/aegis/pkg/proxy/types"
	"strato-hq/aegis/pkg/routing"
	"strato-hq/aegis/pkg/security/scan"
	"strato-hq/aegis/pkg/wallet"
)

// ChatHandler serves /v1/chat/completions.
type ChatHandler struct {
	deps *Deps
}

// NewChatHandler creates the chat completions handler.
func NewChatHandler(deps *Deps) *ChatHandler {
	return &ChatHandler{deps: deps}
}

// requestState threads the per-request data through the pipeline stages.
type requestState struct {
	correlationID string
	tenant        string
	actor         string
	team          string
	feature       string
	walletID      string

	chatReq    *types.ChatCompletionRequest
	ext        types.RequestExtension
	promptText string

	estimatedPrompt int

	decision     *policy.Decision
	routeReq     *routing.Request
	route        *routing.Decision
	policyTouch  bool // policy redacted or rerouted: cache is off-limits
	arrival      time.Time
}

// ServeHTTP implements http.Handler.
func (h *ChatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodPost {
		proxy.WriteErrorResponse(w, types.NewError(types.CodeInvalidRequest,
			"method not allowed, use POST", middleware.GetCorrelationID(ctx)))
		return
	}

	state, errResp := h.prepare(ctx)
	if errResp != nil {
		proxy.WriteErrorResponse(w, errResp)
		return
	}

	// Policy evaluation with the scan summary.
	if errResp := h.evaluatePolicy(ctx, state); errResp != nil {
		h.recordRejection(state, errResp.Error.Code)
		proxy.WriteErrorResponse(w, errResp)
		return
	}

	// Semantic cache. Never serves when policy redacted or rerouted.
	if !state.chatReq.Stream && !state.policyTouch {
		if served := h.tryCache(ctx, w, state); served {
			return
		}
	}

	// Routing.
	if errResp := h.route(ctx, state); errResp != nil {
		h.recordRejection(state, errResp.Error.Code)
		proxy.WriteErrorResponse(w, errResp)
		return
	}

	// Dry-run requests stop before dispatch.
	if state.ext.DryRun {
		h.writeDryRun(w, state)
		return
	}

	if state.chatReq.Stream {
		h.serveStream(w, r, state)
		return
	}
	h.serveOnce(w, r, state)
}

// prepare parses the buffered body and builds the request state.
func (h *ChatHandler) prepare(ctx context.Context) (*requestState, *types.ErrorResponse) {
	body := middleware.GetBody(ctx)
	chatReq, err := proxy.ParseChatCompletionRequest(body)
	if err != nil {
		return nil, types.NewError(types.CodeInvalidRequest, err.Error(), middleware.GetCorrelationID(ctx))
	}
	return h.prepareParsed(ctx, chatReq)
}

// evaluatePolicy runs the bounded evaluator and applies its decision.
func (h *ChatHandler) evaluatePolicy(ctx context.Context, state *requestState) *types.ErrorResponse {
	report := middleware.GetScanReport(ctx)

	input := &policy.Input{
		Tenant:             state.tenant,
		Actor:              state.actor,
		Team:               state.team,
		Model:              state.chatReq.Model,
		FeatureTag:         state.feature,
		DataClassification: state.ext.DataClassification,
		EstimatedTokens:    state.estimatedPrompt,
	}
	fillScanSummary(input, report)

	decision, err := h.deps.Policy.Evaluate(ctx, input)
	if err != nil {
		return types.NewError(types.CodePolicyDenied, "policy evaluation unavailable", state.correlationID)
	}
	state.decision = decision

	switch decision.Action {
	case policy.ActionDeny:
		return types.NewError(types.CodePolicyDenied, "request denied by policy", state.correlationID)
	case policy.ActionReroute:
		if decision.RerouteModel != "" {
			state.chatReq.Model = decision.RerouteModel
		}
		state.policyTouch = true
	case policy.ActionRedact:
		state.policyTouch = true
	}
	return nil
}

// tryCache serves a cached response when one clears the tenant threshold.
func (h *ChatHandler) tryCache(ctx context.Context, w http.ResponseWriter, state *requestState) bool {
	deps := h.deps
	settings := deps.cacheSettings(state.tenant, state.ext.CacheEnabled, state.ext.CacheTTLSeconds)
	if !settings.Enabled {
		return false
	}

	lookupCtx, cancel := context.WithTimeout(ctx, deps.CacheLookupTimeout)
	defer cancel()

	result := deps.Cache.Lookup(lookupCtx, state.tenant, state.chatReq.Model, state.promptText, settings)
	deps.Metrics.ObserveCache(state.tenant, result.Hit)
	if !result.Hit {
		return false
	}

	var stored struct {
		Content      string `json:"content"`
		FinishReason string `json:"finish_reason"`
	}
	if err := json.Unmarshal(result.Entry.Response, &stored); err != nil {
		deps.Logger.WarnContext(ctx, "cached response unreadable, treating as miss", "error", err)
		return false
	}

	resp := &types.ChatCompletionResponse{
		ID:      "chatcmpl-" + state.correlationID,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   state.chatReq.Model,
		Choices: []types.ChatChoice{{
			Index:        0,
			Message:      types.ChatMessage{Role: "assistant", Content: stored.Content},
			FinishReason: stored.FinishReason,
		}},
		Usage: types.Usage{
			PromptTokens:     result.Entry.PromptTokens,
			CompletionTokens: result.Entry.CompletionTokens,
			TotalTokens:      result.Entry.PromptTokens + result.Entry.CompletionTokens,
		},
	}

	ext := h.extension(ctx, state, "", state.chatReq.Model, "cache_hit", 0)
	ext.CacheHit = true
	ext.CacheSimilarity = result.Similarity
	resp.Extension = ext

	proxy.MirrorExtension(w, ext)
	proxy.WriteJSONResponse(w, http.StatusOK, resp)

	h.deps.Ledger.Append(context.WithoutCancel(ctx), &ledger.Record{
		Tenant:          state.tenant,
		CorrelationID:   state.correlationID,
		Kind:            ledger.EventRequest,
		Actor:           state.actor,
		FeatureTag:      state.feature,
		ModelRequested:  state.chatReq.Model,
		ModelUsed:       state.chatReq.Model,
		RoutingReason:   "cache_hit",
		InputTokens:     result.Entry.PromptTokens,
		OutputTokens:    result.Entry.CompletionTokens,
		CacheHit:        true,
		CacheSimilarity: result.Similarity,
		FinishReason:    stored.FinishReason,
		PolicyActions:   h.policyActions(state),
		LatencyMS:       time.Since(state.arrival).Milliseconds(),
	})

	return true
}

// route builds the routing request and selects candidates.
func (h *ChatHandler) route(ctx context.Context, state *requestState) *types.ErrorResponse {
	deps := h.deps

	state.routeReq = &routing.Request{
		CorrelationID:      state.correlationID,
		Tenant:             state.tenant,
		Team:               state.team,
		Actor:              state.actor,
		Model:              state.chatReq.Model,
		FeatureTag:         state.feature,
		DataClassification: state.ext.DataClassification,
		ResidencyRegions:   deps.tenant(state.tenant).ResidencyRegions,
		WalletUtilization:  deps.walletUtilization(ctx, state.walletID),
		EstimatedTokens:    state.estimatedPrompt,
		Streaming:          state.chatReq.Stream,
		RequireSelfHosted:  state.decision != nil && state.decision.RequireSelfHosted,
		StrategyHint:       routing.Strategy(state.ext.RoutingStrategy),
		FallbackModels:     state.ext.FallbackModels,
	}

	route, err := deps.Router.Select(state.routeReq)
	if err != nil {
		return proxy.MapError(err, state.correlationID)
	}
	if route.Blocked {
		code := types.ErrorCode(route.BlockCode)
		msg := route.BlockMessage
		if msg == "" {
			msg = "request blocked by routing rule " + route.RuleID
		}
		return types.NewError(code, msg, state.correlationID)
	}

	state.route = route
	if state.decision != nil && state.decision.Action == policy.ActionReroute {
		state.route.Reason = state.decision.Reason
	}
	return nil
}

// serveOnce executes the non-streaming path.
func (h *ChatHandler) serveOnce(w http.ResponseWriter, r *http.Request, state *requestState) {
	ctx := r.Context()
	deps := h.deps

	primary := state.route.Candidates[0]
	reserveCost := deps.Costs.EstimateCost(primary.Provider.Name(), state.route.Model,
		state.estimatedPrompt, maxTokensOf(state.chatReq))

	var reservation *wallet.Reservation
	if state.walletID != "" {
		var err error
		reservation, err = deps.Wallets.Reserve(ctx, state.walletID, reserveCost)
		if err != nil {
			if wallet.IsInsufficient(err) {
				deps.Metrics.AddWalletRejection(state.tenant)
			}
			errResp := proxy.MapError(err, state.correlationID)
			h.recordRejection(state, errResp.Error.Code)
			proxy.WriteErrorResponse(w, errResp)
			return
		}
	}

	providerReq := proxy.ToProviderRequest(state.chatReq)
	result, err := deps.Router.Execute(ctx, state.route, providerReq)
	if err != nil {
		// Nothing was consumed; the reservation returns in full.
		if reservation != nil {
			if relErr := deps.Wallets.Release(context.WithoutCancel(ctx), reservation); relErr != nil {
				deps.Logger.ErrorContext(ctx, "reservation release failed", "error", relErr)
			}
		}
		errResp := proxy.MapError(err, state.correlationID)
		h.recordRejection(state, errResp.Error.Code)
		proxy.WriteErrorResponse(w, errResp)
		return
	}

	usage := h.settledUsage(result.Response.Usage, state, result.Model.Name, result.Response.Content)
	cost := deps.Costs.Cost(result.Provider.Name(), result.Model.Name, usage)

	// Settlement: wallet commit strictly precedes the ledger append.
	settleCtx := context.WithoutCancel(ctx)
	if reservation != nil {
		if err := deps.Wallets.Commit(settleCtx, reservation, cost); err != nil {
			deps.Logger.ErrorContext(ctx, "wallet commit failed", "error", err)
		}
	}

	h.deps.Ledger.Append(settleCtx, &ledger.Record{
		Tenant:         state.tenant,
		CorrelationID:  state.correlationID,
		Kind:           ledger.EventRequest,
		Actor:          state.actor,
		FeatureTag:     state.feature,
		ModelRequested: state.chatReq.Model,
		ModelUsed:      result.Model.Name,
		ProviderUsed:   result.Provider.Name(),
		RoutingReason:  state.route.Reason,
		InputTokens:    usage.PromptTokens,
		OutputTokens:   usage.CompletionTokens,
		Cost:           cost,
		LatencyMS:      time.Since(state.arrival).Milliseconds(),
		FinishReason:   result.Response.FinishReason,
		PolicyActions:  h.policyActions(state),
		FailoverCount:  result.Failovers,
		ExperimentArm:  state.route.ExperimentArm,
		DryRunRules:    state.route.DryRunRules,
	})

	h.publishAnalytics(state, result.Provider.Name(), result.Model.Name, usage, cost, "")

	deps.Metrics.ObserveRequest(state.tenant, state.chatReq.Model, "ok", time.Since(state.arrival))
	deps.Metrics.ObserveUpstream(result.Provider.Name(), result.Latency)
	deps.Metrics.AddFailovers(state.tenant, result.Failovers)
	deps.Metrics.AddUsage(state.tenant, usage.PromptTokens, usage.CompletionTokens, cost)

	// Populate the cache on success, unless policy touched the request.
	if !state.policyTouch {
		settings := deps.cacheSettings(state.tenant, state.ext.CacheEnabled, state.ext.CacheTTLSeconds)
		if settings.Enabled && result.Response.FinishReason != "error" {
			stored, _ := json.Marshal(map[string]string{
				"content":       result.Response.Content,
				"finish_reason": result.Response.FinishReason,
			})
			deps.Cache.Insert(settleCtx, state.tenant, state.chatReq.Model, state.promptText,
				stored, usage.PromptTokens, usage.CompletionTokens, settings)
		}
	}

	ext := h.extension(ctx, state, result.Provider.Name(), result.Model.Name, state.route.Reason, cost)
	ext.ExperimentArm = state.route.ExperimentArm

	resp := proxy.FormatChatCompletionResponse(result.Response, state.chatReq.Model, "chatcmpl-"+state.correlationID)
	resp.Extension = ext

	proxy.MirrorExtension(w, ext)
	if err := proxy.WriteJSONResponse(w, http.StatusOK, resp); err != nil {
		deps.Logger.ErrorContext(ctx, "failed to write response", "error", err)
	}
}

// fillScanSummary copies the scan report into the policy input.
func fillScanSummary(input *policy.Input, report *scan.Report) {
	if report == nil {
		return
	}
	input.InjectionScore = report.InjectionScore
	for _, f := range report.Findings {
		switch f.Category {
		case scan.CategoryPII:
			input.PIITypes = append(input.PIITypes, string(f.Type))
		case scan.CategorySecret:
			input.SecretDetected = true
		}
	}
}

// settledUsage returns provider-reported usage, falling back to a
// tokenizer count when the provider omitted it.
func (h *ChatHandler) settledUsage(reported providers.TokenUsage, state *requestState, modelUsed, content string) metering.Usage {
	if reported.PromptTokens > 0 || reported.CompletionTokens > 0 || reported.TotalTokens > 0 {
		usage := metering.Usage{
			PromptTokens:     reported.PromptTokens,
			CompletionTokens: reported.CompletionTokens,
			TotalTokens:      reported.TotalTokens,
		}
		if usage.TotalTokens == 0 {
			usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
		}
		return usage
	}

	prompt := h.deps.Counter.CountMessages(modelUsed, proxy.MeteringMessages(state.chatReq))
	completion := h.deps.Counter.CountText(modelUsed, content)
	return metering.Usage{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      prompt + completion,
	}
}

// maxTokensOf returns the client's max_tokens bound, zero when unset.
func maxTokensOf(req *types.ChatCompletionRequest) int {
	if req.MaxTokens != nil {
		return *req.MaxTokens
	}
	return 0
}

// writeDryRun answers a dry-run request with the routing decision only.
func (h *ChatHandler) writeDryRun(w http.ResponseWriter, state *requestState) {
	primary := state.route.Candidates[0]
	ext := &types.ResponseExtension{
		CorrelationID:  state.correlationID,
		ProviderUsed:   primary.Provider.Name(),
		ModelRequested: state.chatReq.Model,
		ModelUsed:      state.route.Model,
		RoutingReason:  state.route.Reason,
		PolicyActions:  h.policyActions(state),
		ExperimentArm:  state.route.ExperimentArm,
	}
	proxy.MirrorExtension(w, ext)
	proxy.WriteJSONResponse(w, http.StatusOK, map[string]any{
		"object": "aegis.dry_run",
		"aegis":  ext,
	})
}

// extension assembles the response augmentation with the post-request
// wallet balance.
func (h *ChatHandler) extension(ctx context.Context, state *requestState, provider, modelUsed, reason string, cost float64) *types.ResponseExtension {
	ext := &types.ResponseExtension{
		CorrelationID:  state.correlationID,
		ProviderUsed:   provider,
		ModelRequested: state.chatReq.Model,
		ModelUsed:      modelUsed,
		RoutingReason:  reason,
		Cost:           cost,
		PolicyActions:  h.policyActions(state),
	}
	if state.walletID != "" {
		if balance, err := h.deps.Wallets.Balance(context.WithoutCancel(ctx), state.walletID); err == nil {
			ext.WalletBalance = balance.EffectiveAvailable
		}
	}
	return ext
}

// policyActions lists the policy actions applied, for reporting.
func (h *ChatHandler) policyActions(state *requestState) []string {
	if state.decision == nil {
		return nil
	}
	return state.decision.ActionsTaken
}

// recordRejection appends the rejection entry for refused requests.
func (h *ChatHandler) recordRejection(state *requestState, code types.ErrorCode) {
	h.deps.Ledger.Append(context.Background(), &ledger.Record{
		Tenant:         state.tenant,
		CorrelationID:  state.correlationID,
		Kind:           ledger.EventRejection,
		Actor:          state.actor,
		FeatureTag:     state.feature,
		ModelRequested: state.chatReq.Model,
		ErrorCode:      string(code),
		PolicyActions:  h.policyActions(state),
		LatencyMS:      time.Since(state.arrival).Milliseconds(),
	})
	h.deps.Metrics.ObserveRequest(state.tenant, state.chatReq.Model, string(code), time.Since(state.arrival))
}

// publishAnalytics emits the usage event; the sink never fails a request.
func (h *ChatHandler) publishAnalytics(state *requestState, provider, modelUsed string, usage metering.Usage, cost float64, errorCode string) {
	h.deps.Analytics.Publish(&analytics.Event{
		Tenant:         state.tenant,
		Actor:          state.actor,
		Team:           state.team,
		CorrelationID:  state.correlationID,
		FeatureTag:     state.feature,
		ModelRequested: state.chatReq.Model,
		ModelUsed:      modelUsed,
		ProviderUsed:   provider,
		InputTokens:    usage.PromptTokens,
		OutputTokens:   usage.CompletionTokens,
		Cost:           cost,
		LatencyMS:      time.Since(state.arrival).Milliseconds(),
		ErrorCode:      errorCode,
	})
}
