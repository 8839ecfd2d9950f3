package handlers

import (
	"net/http"

	"strato-hq/aegis/pkg/ledger"
	"strato-hq/aegis/pkg/proxy"
	"strato-hq/aegis/pkg/proxy/middleware"
	"strato-hq/aegis/pkg/proxy/types"
)

// AnalyticsHandler serves GET /v1/analytics/cost: the tenant's aggregated
// cost breakdown from the ledger, filterable by model, provider, actor
// and feature tag.
type AnalyticsHandler struct {
	deps *Deps
}

// NewAnalyticsHandler creates the cost analytics handler.
func NewAnalyticsHandler(deps *Deps) *AnalyticsHandler {
	return &AnalyticsHandler{deps: deps}
}

// costBucket is one aggregation row.
type costBucket struct {
	Requests     int     `json:"requests"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	Cost         float64 `json:"cost"`
	CacheHits    int     `json:"cache_hits"`
}

// ServeHTTP implements http.Handler.
func (h *AnalyticsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	if r.Method != http.MethodGet {
		proxy.WriteErrorResponse(w, types.NewError(types.CodeInvalidRequest,
			"method not allowed, use GET", correlationID))
		return
	}

	principal := middleware.GetPrincipal(ctx)
	if principal == nil {
		proxy.WriteErrorResponse(w, types.NewError(types.CodeAuthenticationFailed,
			"missing principal", correlationID))
		return
	}

	query := r.URL.Query()
	filterModel := query.Get("model")
	filterProvider := query.Get("provider")
	filterActor := query.Get("actor")
	filterFeature := query.Get("feature")
	groupBy := query.Get("group_by")
	if groupBy == "" {
		groupBy = "model"
	}

	records, err := h.deps.Ledger.List(ctx, principal.Tenant, 0)
	if err != nil {
		proxy.WriteErrorResponse(w, proxy.MapError(err, correlationID))
		return
	}

	buckets := make(map[string]*costBucket)
	total := &costBucket{}
	for _, rec := range records {
		if rec.Kind != ledger.EventRequest {
			continue
		}
		if filterModel != "" && rec.ModelUsed != filterModel {
			continue
		}
		if filterProvider != "" && rec.ProviderUsed != filterProvider {
			continue
		}
		if filterActor != "" && rec.Actor != filterActor {
			continue
		}
		if filterFeature != "" && rec.FeatureTag != filterFeature {
			continue
		}

		key := bucketKey(groupBy, rec)
		bucket, ok := buckets[key]
		if !ok {
			bucket = &costBucket{}
			buckets[key] = bucket
		}

		for _, b := range []*costBucket{bucket, total} {
			b.Requests++
			b.InputTokens += rec.InputTokens
			b.OutputTokens += rec.OutputTokens
			b.Cost += rec.Cost
			if rec.CacheHit {
				b.CacheHits++
			}
		}
	}

	proxy.WriteJSONResponse(w, http.StatusOK, map[string]any{
		"object":   "aegis.cost_report",
		"tenant":   principal.Tenant,
		"group_by": groupBy,
		"total":    total,
		"buckets":  buckets,
	})
}

func bucketKey(groupBy string, rec *ledger.Record) string {
	switch groupBy {
	case "provider":
		return rec.ProviderUsed
	case "actor":
		return rec.Actor
	case "feature":
		return rec.FeatureTag
	default:
		return rec.ModelUsed
	}
}
