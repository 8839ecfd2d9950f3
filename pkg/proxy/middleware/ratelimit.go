package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"strato-hq/aegis/pkg/proxy/types"
	"strato-hq/aegis/pkg/ratelimit"
)

// Rate-limit response headers, sent on every response.
const (
	RateLimitLimitHeader     = "X-RateLimit-Limit"
	RateLimitRemainingHeader = "X-RateLimit-Remaining"
	RateLimitResetHeader     = "X-RateLimit-Reset"
	RateLimitPolicyHeader    = "X-RateLimit-Policy"
)

// RateLimitConfig carries the limiter budgets.
type RateLimitConfig struct {
	TenantRPM int
	ActorRPM  int
	Burst     int
	PolicyID  string
}

// RateLimit enforces the per-tenant and per-actor token buckets. The
// stricter of the two decisions is reported in response headers.
func RateLimit(limiter ratelimit.Limiter, cfg RateLimitConfig, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := GetPrincipal(r.Context())
			if principal == nil {
				writeError(w, r, types.CodeAuthenticationFailed, "missing principal")
				return
			}

			tenantDec, err := limiter.Allow(r.Context(), "tenant:"+principal.Tenant, cfg.TenantRPM, cfg.Burst)
			if err != nil {
				// Limiter backend outage: admit rather than refuse.
				logger.WarnContext(r.Context(), "rate limiter unavailable, admitting", "error", err)
				next.ServeHTTP(w, r)
				return
			}

			actorDec, err := limiter.Allow(r.Context(), "actor:"+principal.Tenant+":"+principal.Actor, cfg.ActorRPM, cfg.Burst)
			if err != nil {
				logger.WarnContext(r.Context(), "rate limiter unavailable, admitting", "error", err)
				next.ServeHTTP(w, r)
				return
			}

			// Report the tighter budget.
			reported := actorDec
			if tenantDec.Remaining < actorDec.Remaining {
				reported = tenantDec
			}
			w.Header().Set(RateLimitLimitHeader, strconv.Itoa(reported.Limit))
			w.Header().Set(RateLimitRemainingHeader, strconv.Itoa(reported.Remaining))
			w.Header().Set(RateLimitResetHeader, strconv.FormatInt(reported.Reset.Unix(), 10))
			w.Header().Set(RateLimitPolicyHeader, cfg.PolicyID)

			if !tenantDec.Allowed || !actorDec.Allowed {
				denied := tenantDec
				if !actorDec.Allowed {
					denied = actorDec
				}
				retryAfter := int(denied.RetryAfter.Seconds()) + 1
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				writeError(w, r, types.CodeRateLimited,
					fmt.Sprintf("rate limit of %d requests per minute exceeded", denied.Limit))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
