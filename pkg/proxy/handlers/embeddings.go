package handlers

import (
	"context"
	"net/http"
	"time"

	"strato-hq/aegis/pkg/analytics"
	"strato-hq/aegis/pkg/ledger"
	"strato-hq/aegis/pkg/metering"
	"strato-hq/aegis/pkg/providers"
	"strato-hq/aegis/pkg/proxy"
	"strato-hq/aegis/pkg/proxy/middleware"
	"strato-hq/aegis/pkg/proxy/types"
	"strato-hq/aegis/pkg/routing"
	"strato-hq/aegis/pkg/wallet"
)

// EmbeddingsHandler serves /v1/embeddings.
type EmbeddingsHandler struct {
	deps *Deps
}

// NewEmbeddingsHandler creates the embeddings handler.
func NewEmbeddingsHandler(deps *Deps) *EmbeddingsHandler {
	return &EmbeddingsHandler{deps: deps}
}

// ServeHTTP implements http.Handler.
func (h *EmbeddingsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	deps := h.deps
	correlationID := middleware.GetCorrelationID(ctx)
	arrival := middleware.GetArrival(ctx)

	if r.Method != http.MethodPost {
		proxy.WriteErrorResponse(w, types.NewError(types.CodeInvalidRequest,
			"method not allowed, use POST", correlationID))
		return
	}

	principal := middleware.GetPrincipal(ctx)
	if principal == nil {
		proxy.WriteErrorResponse(w, types.NewError(types.CodeAuthenticationFailed,
			"missing principal", correlationID))
		return
	}

	req, err := proxy.ParseEmbeddingsRequest(middleware.GetBody(ctx))
	if err != nil {
		proxy.WriteErrorResponse(w, types.NewError(types.CodeInvalidRequest, err.Error(), correlationID))
		return
	}

	inputs := proxy.InputStrings(req.Input)
	if len(inputs) == 0 {
		proxy.WriteErrorResponse(w, types.NewError(types.CodeInvalidRequest,
			"input must be a string or array of strings", correlationID))
		return
	}

	var ext types.RequestExtension
	if req.Extension != nil {
		ext = *req.Extension
	}
	walletID := effectiveWallet(ctx, ext.BudgetGroup)

	estimated := 0
	for _, in := range inputs {
		estimated += metering.EstimateText(in)
	}

	route, err := deps.Router.Select(&routing.Request{
		CorrelationID:    correlationID,
		Tenant:           principal.Tenant,
		Team:             principal.Team,
		Actor:            principal.Actor,
		Model:            req.Model,
		FeatureTag:       ext.FeatureTag,
		ResidencyRegions: deps.tenant(principal.Tenant).ResidencyRegions,
		EstimatedTokens:  estimated,
		Embeddings:       true,
	})
	if err != nil {
		proxy.WriteErrorResponse(w, proxy.MapError(err, correlationID))
		return
	}
	if route.Blocked {
		proxy.WriteErrorResponse(w, types.NewError(types.ErrorCode(route.BlockCode),
			"request blocked by routing rule "+route.RuleID, correlationID))
		return
	}

	primary := route.Candidates[0]
	reserveCost := deps.Costs.EstimateCost(primary.Provider.Name(), route.Model, estimated, 1)

	var reservation *wallet.Reservation
	if walletID != "" {
		reservation, err = deps.Wallets.Reserve(ctx, walletID, reserveCost)
		if err != nil {
			if wallet.IsInsufficient(err) {
				deps.Metrics.AddWalletRejection(principal.Tenant)
			}
			proxy.WriteErrorResponse(w, proxy.MapError(err, correlationID))
			return
		}
	}

	resp, provider, embErr := h.execute(ctx, route, &providers.EmbeddingRequest{
		Model: route.Model,
		Input: inputs,
	})

	settleCtx := context.WithoutCancel(ctx)
	if embErr != nil {
		if reservation != nil {
			if relErr := deps.Wallets.Release(settleCtx, reservation); relErr != nil {
				deps.Logger.ErrorContext(ctx, "reservation release failed", "error", relErr)
			}
		}
		proxy.WriteErrorResponse(w, proxy.MapError(embErr, correlationID))
		return
	}

	usage := metering.Usage{
		PromptTokens: resp.Usage.PromptTokens,
		TotalTokens:  resp.Usage.TotalTokens,
	}
	if usage.PromptTokens == 0 {
		usage.PromptTokens = estimated
		usage.TotalTokens = estimated
	}
	cost := deps.Costs.Cost(provider, route.Model, usage)

	if reservation != nil {
		if err := deps.Wallets.Commit(settleCtx, reservation, cost); err != nil {
			deps.Logger.ErrorContext(ctx, "wallet commit failed", "error", err)
		}
	}

	deps.Ledger.Append(settleCtx, &ledger.Record{
		Tenant:         principal.Tenant,
		CorrelationID:  correlationID,
		Kind:           ledger.EventRequest,
		Actor:          principal.Actor,
		FeatureTag:     ext.FeatureTag,
		ModelRequested: req.Model,
		ModelUsed:      route.Model,
		ProviderUsed:   provider,
		RoutingReason:  route.Reason,
		InputTokens:    usage.PromptTokens,
		Cost:           cost,
		LatencyMS:      time.Since(arrival).Milliseconds(),
	})

	deps.Analytics.Publish(&analytics.Event{
		Tenant:        principal.Tenant,
		Actor:         principal.Actor,
		CorrelationID: correlationID,
		ModelUsed:     route.Model,
		ProviderUsed:  provider,
		InputTokens:   usage.PromptTokens,
		Cost:          cost,
		LatencyMS:     time.Since(arrival).Milliseconds(),
	})
	deps.Metrics.ObserveRequest(principal.Tenant, req.Model, "ok", time.Since(arrival))
	deps.Metrics.AddUsage(principal.Tenant, usage.PromptTokens, 0, cost)

	out := &types.EmbeddingsResponse{
		Object: "list",
		Model:  req.Model,
		Usage: types.Usage{
			PromptTokens: usage.PromptTokens,
			TotalTokens:  usage.TotalTokens,
		},
	}
	for i, vec := range resp.Embeddings {
		out.Data = append(out.Data, types.EmbeddingItem{
			Object:    "embedding",
			Index:     i,
			Embedding: vec,
		})
	}

	respExt := &types.ResponseExtension{
		CorrelationID:  correlationID,
		ProviderUsed:   provider,
		ModelRequested: req.Model,
		ModelUsed:      route.Model,
		RoutingReason:  route.Reason,
		Cost:           cost,
	}
	if walletID != "" {
		if balance, err := deps.Wallets.Balance(settleCtx, walletID); err == nil {
			respExt.WalletBalance = balance.EffectiveAvailable
		}
	}
	out.Extension = respExt

	proxy.MirrorExtension(w, respExt)
	proxy.WriteJSONResponse(w, http.StatusOK, out)
}

// execute walks the candidate chain for an embeddings call.
func (h *EmbeddingsHandler) execute(ctx context.Context, route *routing.Decision, req *providers.EmbeddingRequest) (*providers.EmbeddingResponse, string, error) {
	var lastErr error
	lastProvider := ""

	for _, candidate := range route.Candidates {
		lastProvider = candidate.Provider.Name()
		req.Model = candidate.Model.Name

		resp, err := candidate.Provider.Embed(ctx, req)
		if err == nil {
			return resp, candidate.Provider.Name(), nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, lastProvider, ctx.Err()
		}
	}

	return nil, lastProvider, &routing.ErrChainExhausted{LastProvider: lastProvider, Cause: lastErr}
}
