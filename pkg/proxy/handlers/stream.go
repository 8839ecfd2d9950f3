package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"strato-hq/aegis/pkg/ledger"
	"strato-hq/aegis/pkg/metering"
	"strato-hq/aegis/pkg/providers"
	"strato-hq/aegis/pkg/proxy"
	"strato-hq/aegis/pkg/proxy/types"
	"strato-hq/aegis/pkg/routing"
	"strato-hq/aegis/pkg/wallet"
)

// streamAccounting is the per-stream bookkeeping record.
type streamAccounting struct {
	ChunksSent       int
	BytesSent        int
	TokensEstimated  int
	ClientDisconnect bool
	FinishReason     string

	// reportedUsage holds the provider's authoritative counts when a
	// usage frame arrived before the stream ended.
	reportedUsage *providers.TokenUsage

	// contentSent accumulates forwarded content; used only when the
	// tokenizer fallback settles the bill.
	contentSent []byte
}

// serveStream executes the streaming path.
//
// Failover happens only while opening the stream. Once the first byte
// reaches the client the stream is sealed on error: metering finalizes on
// what was sent and the client receives a terminal error event.
func (h *ChatHandler) serveStream(w http.ResponseWriter, r *http.Request, state *requestState) {
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
	providerReq.Stream = true

	opened, err := deps.Router.OpenStream(ctx, state.route, providerReq)
	if err != nil {
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
	defer opened.Reader.Close()

	// Pre-flight: augmentation headers and the SSE content type must go
	// out before the first chunk.
	ext := h.extension(ctx, state, opened.Provider.Name(), opened.Model.Name, state.route.Reason, 0)
	ext.ExperimentArm = state.route.ExperimentArm
	proxy.MirrorExtension(w, ext)
	proxy.SetSSEHeaders(w)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}

	acct := &streamAccounting{}
	responseID := "chatcmpl-" + state.correlationID
	streamStart := time.Now()

	h.pump(ctx, w, opened, state, acct, responseID)

	// Terminal: settle regardless of how the stream ended.
	h.settleStream(ctx, state, opened, reservation, acct, streamStart)
}

// pump is the single-loop reader/writer: every iteration reads one
// upstream chunk, writes it to the client, updates accounting and checks
// cancellation.
func (h *ChatHandler) pump(ctx context.Context, w http.ResponseWriter, opened *streamOpened, state *requestState, acct *streamAccounting, responseID string) {
	deps := h.deps
	wroteRole := false

	for {
		// Client cancellation wins over pending upstream reads.
		select {
		case <-ctx.Done():
			acct.ClientDisconnect = true
			acct.FinishReason = "client_disconnect"
			deps.Metrics.AddClientDisconnect(state.tenant)
			return
		default:
		}

		chunk, err := opened.Reader.Read(ctx)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				if acct.FinishReason == "" {
					acct.FinishReason = "stop"
				}
				proxy.WriteSSEDone(w)
			case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
				acct.ClientDisconnect = true
				acct.FinishReason = "client_disconnect"
				deps.Metrics.AddClientDisconnect(state.tenant)
			default:
				// Mid-stream upstream error: seal the partial response.
				acct.FinishReason = "error"
				deps.Logger.ErrorContext(ctx, "mid-stream upstream error",
					"provider", opened.Provider.Name(),
					"chunks_sent", acct.ChunksSent,
					"error", err,
				)
				proxy.WriteSSEError(w, proxy.MapError(err, state.correlationID))
			}
			return
		}

		if chunk.Usage != nil {
			acct.reportedUsage = chunk.Usage
		}
		if chunk.FinishReason != "" {
			acct.FinishReason = chunk.FinishReason
		}

		frame := buildChunkFrame(chunk, state.chatReq.Model, responseID, &wroteRole)
		if frame == nil {
			continue
		}

		n, err := proxy.WriteSSEChunk(w, frame)
		if err != nil {
			// A failed client write is a disconnect.
			acct.ClientDisconnect = true
			acct.FinishReason = "client_disconnect"
			deps.Metrics.AddClientDisconnect(state.tenant)
			return
		}

		acct.ChunksSent++
		acct.BytesSent += n
		if chunk.Delta != "" {
			// Conservative character-count heuristic; replaced by the
			// provider's usage frame at settlement when one arrives.
			acct.TokensEstimated += metering.EstimateText(chunk.Delta)
			acct.contentSent = append(acct.contentSent, chunk.Delta...)
		}
	}
}

// streamOpened is an alias for the router's open-stream result.
type streamOpened = routing.StreamResult

// settleStream finalizes wallet, ledger, analytics and cache for a
// terminated stream, in that order.
func (h *ChatHandler) settleStream(ctx context.Context, state *requestState, opened *streamOpened, reservation *wallet.Reservation, acct *streamAccounting, streamStart time.Time) {
	deps := h.deps
	settleCtx := context.WithoutCancel(ctx)

	usage := h.streamUsage(state, opened.Model.Name, acct)
	cost := deps.Costs.Cost(opened.Provider.Name(), opened.Model.Name, usage)

	// Nothing reached the client and the stream never started billing:
	// release instead of committing.
	if acct.ChunksSent == 0 && acct.ClientDisconnect {
		if reservation != nil {
			if err := deps.Wallets.Release(settleCtx, reservation); err != nil {
				deps.Logger.ErrorContext(ctx, "reservation release failed", "error", err)
			}
		}
		cost = 0
		usage = metering.Usage{}
	} else if reservation != nil {
		// Wallet commit strictly precedes the ledger append.
		if err := deps.Wallets.Commit(settleCtx, reservation, cost); err != nil {
			deps.Logger.ErrorContext(ctx, "wallet commit failed", "error", err)
		}
	}

	errorCode := ""
	if acct.FinishReason == "error" {
		errorCode = string(types.CodeUpstreamUnavailable)
	}

	deps.Ledger.Append(settleCtx, &ledger.Record{
		Tenant:         state.tenant,
		CorrelationID:  state.correlationID,
		Kind:           ledger.EventRequest,
		Actor:          state.actor,
		FeatureTag:     state.feature,
		ModelRequested: state.chatReq.Model,
		ModelUsed:      opened.Model.Name,
		ProviderUsed:   opened.Provider.Name(),
		RoutingReason:  state.route.Reason,
		InputTokens:    usage.PromptTokens,
		OutputTokens:   usage.CompletionTokens,
		Cost:           cost,
		LatencyMS:      time.Since(state.arrival).Milliseconds(),
		FinishReason:   acct.FinishReason,
		ErrorCode:      errorCode,
		PolicyActions:  h.policyActions(state),
		FailoverCount:  opened.Failovers,
		ExperimentArm:  state.route.ExperimentArm,
		DryRunRules:    state.route.DryRunRules,
	})

	h.publishAnalytics(state, opened.Provider.Name(), opened.Model.Name, usage, cost, errorCode)

	deps.Metrics.ObserveRequest(state.tenant, state.chatReq.Model, acct.FinishReason, time.Since(state.arrival))
	deps.Metrics.ObserveUpstream(opened.Provider.Name(), time.Since(streamStart))
	deps.Metrics.AddFailovers(state.tenant, opened.Failovers)
	deps.Metrics.AddUsage(state.tenant, usage.PromptTokens, usage.CompletionTokens, cost)
	opened.Provider.Health().RecordLatency(time.Since(streamStart))

	// Only streams that completed normally populate the cache.
	if acct.FinishReason == "stop" && !state.policyTouch {
		settings := deps.cacheSettings(state.tenant, state.ext.CacheEnabled, state.ext.CacheTTLSeconds)
		if settings.Enabled {
			stored, _ := json.Marshal(map[string]string{
				"content":       string(acct.contentSent),
				"finish_reason": "stop",
			})
			deps.Cache.Insert(settleCtx, state.tenant, state.chatReq.Model, state.promptText,
				stored, usage.PromptTokens, usage.CompletionTokens, settings)
		}
	}
}

// streamUsage resolves the settled usage of a stream: the provider's
// authoritative counts when reported, otherwise the prompt estimate plus
// the per-chunk estimate of what was actually forwarded.
func (h *ChatHandler) streamUsage(state *requestState, modelUsed string, acct *streamAccounting) metering.Usage {
	if acct.reportedUsage != nil && !acct.ClientDisconnect {
		usage := metering.Usage{
			PromptTokens:     acct.reportedUsage.PromptTokens,
			CompletionTokens: acct.reportedUsage.CompletionTokens,
			TotalTokens:      acct.reportedUsage.TotalTokens,
		}
		if usage.TotalTokens == 0 {
			usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
		}
		return usage
	}

	// Partial stream: bill the prompt plus the forwarded content only,
	// using the conservative running estimate. Joined-content counts from
	// EstimateText stay within tokenizer variance for billing purposes.
	prompt := state.estimatedPrompt
	completion := acct.TokensEstimated
	if len(acct.contentSent) > 0 {
		// Re-estimating over the joined content removes the per-chunk
		// rounding inflation.
		completion = metering.EstimateText(string(acct.contentSent))
	}
	return metering.Usage{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      prompt + completion,
	}
}

// buildChunkFrame shapes one upstream chunk as an OpenAI streaming frame.
// The first content frame carries the assistant role announcement.
func buildChunkFrame(chunk *providers.StreamChunk, modelAlias, responseID string, wroteRole *bool) *types.ChatCompletionChunk {
	delta := types.ChunkDelta{Content: chunk.Delta}
	if !*wroteRole {
		delta.Role = "assistant"
		*wroteRole = true
	}
	if chunk.ToolCallDelta != nil {
		delta.ToolCalls = []types.ToolCall{{
			ID:   chunk.ToolCallDelta.ID,
			Type: chunk.ToolCallDelta.Type,
			Function: types.FunctionCall{
				Name:      chunk.ToolCallDelta.Function.Name,
				Arguments: chunk.ToolCallDelta.Function.Arguments,
			},
		}}
	}

	var finish *string
	if chunk.FinishReason != "" {
		f := chunk.FinishReason
		finish = &f
	}

	if chunk.Delta == "" && finish == nil && delta.ToolCalls == nil && chunk.Usage == nil {
		return nil
	}

	frame := &types.ChatCompletionChunk{
		ID:      responseID,
		Object:  "chat.completion.chunk",
		Created: time.Now().Unix(),
		Model:   modelAlias,
		Choices: []types.ChunkChoice{{
			Index:        0,
			Delta:        delta,
			FinishReason: finish,
		}},
	}
	if chunk.Usage != nil {
		frame.Usage = &types.Usage{
			PromptTokens:     chunk.Usage.PromptTokens,
			CompletionTokens: chunk.Usage.CompletionTokens,
			TotalTokens:      chunk.Usage.TotalTokens,
		}
	}
	return frame
}
