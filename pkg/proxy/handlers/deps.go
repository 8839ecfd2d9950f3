package handlers

import (
	"context"
	"log/slog"
	"time"

	"strato-hq/aegis/pkg/analytics"
	"strato-hq/aegis/pkg/cache"
	"strato-hq/aegis/pkg/config"
	"strato-hq/aegis/pkg/ledger"
	"strato-hq/aegis/pkg/metering"
	"strato-hq/aegis/pkg/policy"
	"strato-hq/aegis/pkg/proxy/middleware"
	"strato-hq/aegis/pkg/routing"
	"strato-hq/aegis/pkg/telemetry/metrics"
	"strato-hq/aegis/pkg/wallet"
)

// Deps wires the subsystems the handlers orchestrate.
type Deps struct {
	Logger *slog.Logger

	Router  *routing.Router
	Wallets *wallet.Service
	Ledger  *ledger.Recorder
	Cache   *cache.Engine
	Policy  policy.Evaluator

	Counter *metering.Counter
	Costs   *metering.CostEngine

	Analytics *analytics.Sink
	Metrics   *metrics.Collector

	// Tenants indexes tenant configuration by id.
	Tenants map[string]config.TenantConfig

	// CacheLookupTimeout bounds one cache lookup; the cache is bypassed
	// on expiry.
	CacheLookupTimeout time.Duration

	// PolicyEngine is the in-process rule engine behind Policy, exposed
	// for the administrative endpoint. Nil when an external evaluator is
	// configured.
	PolicyEngine *policy.Engine
}

// tenant returns the tenant configuration, zero-valued when unknown.
func (d *Deps) tenant(id string) config.TenantConfig {
	if t, ok := d.Tenants[id]; ok {
		return t
	}
	return config.TenantConfig{ID: id}
}

// cacheSettings resolves the effective cache settings for a request:
// tenant configuration overridden by the request extension.
func (d *Deps) cacheSettings(tenantID string, extEnabled *bool, extTTLSeconds int) cache.TenantSettings {
	t := d.tenant(tenantID)
	settings := cache.TenantSettings{
		Enabled:             t.Cache.Enabled,
		SimilarityThreshold: t.Cache.SimilarityThreshold,
		TTL:                 t.Cache.TTL,
		MaxEntries:          t.Cache.MaxEntries,
	}
	if extEnabled != nil {
		settings.Enabled = *extEnabled
	}
	if extTTLSeconds > 0 {
		settings.TTL = time.Duration(extTTLSeconds) * time.Second
	}
	return settings
}

// walletUtilization reads the actor wallet's utilization for routing
// rules; errors degrade to zero rather than failing the request.
func (d *Deps) walletUtilization(ctx context.Context, walletID string) float64 {
	if walletID == "" {
		return 0
	}
	w, err := d.Wallets.Get(ctx, walletID)
	if err != nil {
		return 0
	}
	return w.Utilization()
}

// effectiveWallet resolves the wallet a request draws from.
func effectiveWallet(ctx context.Context, budgetGroup string) string {
	principal := middleware.GetPrincipal(ctx)
	if principal == nil {
		return ""
	}
	if budgetGroup != "" {
		return budgetGroup
	}
	return principal.WalletID
}
