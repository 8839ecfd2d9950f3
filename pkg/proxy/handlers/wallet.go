package handlers

import (
	"net/http"
	"time"

	"strato-hq/aegis/pkg/proxy"
	"strato-hq/aegis/pkg/proxy/middleware"
	"strato-hq/aegis/pkg/proxy/types"
)

// WalletHandler serves GET /v1/wallet/balance for the calling actor's
// effective wallet chain.
type WalletHandler struct {
	deps *Deps
}

// NewWalletHandler creates the wallet balance handler.
func NewWalletHandler(deps *Deps) *WalletHandler {
	return &WalletHandler{deps: deps}
}

// ServeHTTP implements http.Handler.
func (h *WalletHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	if r.Method != http.MethodGet {
		proxy.WriteErrorResponse(w, types.NewError(types.CodeInvalidRequest,
			"method not allowed, use GET", correlationID))
		return
	}

	principal := middleware.GetPrincipal(ctx)
	if principal == nil || principal.WalletID == "" {
		proxy.WriteErrorResponse(w, types.NewError(types.CodeInvalidRequest,
			"no wallet is bound to this actor", correlationID))
		return
	}

	balance, err := h.deps.Wallets.Balance(ctx, principal.WalletID)
	if err != nil {
		proxy.WriteErrorResponse(w, proxy.MapError(err, correlationID))
		return
	}

	resp := &types.WalletBalanceResponse{
		WalletID:           balance.WalletID,
		HardLimit:          balance.HardLimit,
		Overdraft:          balance.Overdraft,
		Spent:              balance.Spent,
		Reserved:           balance.Reserved,
		EffectiveAvailable: balance.EffectiveAvailable,
		Utilization:        balance.Utilization,
	}

	// Burn-rate forecast from the tenant's recent ledger: average spend
	// per hour over the last records projects the depletion time.
	if forecast := h.forecast(r, balance.EffectiveAvailable); !forecast.IsZero() {
		resp.ForecastDepletion = forecast.Format(time.RFC3339)
	}

	proxy.WriteJSONResponse(w, http.StatusOK, resp)
}

// forecast estimates depletion time from recent ledger records.
func (h *WalletHandler) forecast(r *http.Request, available float64) time.Time {
	principal := middleware.GetPrincipal(r.Context())
	records, err := h.deps.Ledger.List(r.Context(), principal.Tenant, 200)
	if err != nil || len(records) < 2 {
		return time.Time{}
	}

	var spend float64
	var first, last time.Time
	for _, rec := range records {
		if rec.Cost <= 0 {
			continue
		}
		spend += rec.Cost
		if first.IsZero() || rec.Timestamp.Before(first) {
			first = rec.Timestamp
		}
		if rec.Timestamp.After(last) {
			last = rec.Timestamp
		}
	}

	window := last.Sub(first)
	if spend <= 0 || window <= 0 {
		return time.Time{}
	}

	perHour := spend / window.Hours()
	if perHour <= 0 {
		return time.Time{}
	}
	hoursLeft := available / perHour
	return time.Now().Add(time.Duration(hoursLeft * float64(time.Hour)))
}
