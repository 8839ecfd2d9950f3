package middleware

import (
	"net/http"

	"strato-hq/aegis/pkg/proxy/types"
	"strato-hq/aegis/pkg/security/auth"
	"strato-hq/aegis/pkg/telemetry/logging"
)

// Authentication headers.
const (
	APIKeyHeader       = "X-API-Key"
	OrganizationHeader = "X-Organization"
	TeamHeader         = "X-Team"
	FeatureHeader      = "X-Feature"
	PriorityHeader     = "X-Priority"
)

// Auth resolves the caller's credentials to a principal and enriches the
// context with tenant, actor and the optional team/feature/priority
// headers. Requests without valid credentials short-circuit with 401.
func Auth(authenticator *auth.Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			credential := r.Header.Get("Authorization")
			if credential == "" {
				credential = r.Header.Get(APIKeyHeader)
			}

			principal, err := authenticator.Authenticate(r.Context(), credential)
			if err != nil {
				writeError(w, r, types.CodeAuthenticationFailed, "missing or invalid credentials")
				return
			}

			// Service accounts belonging to multiple tenants may override
			// their tenant; users may not.
			if org := r.Header.Get(OrganizationHeader); org != "" && principal.Kind == auth.ActorServiceAccount {
				principal.Tenant = org
			}
			if team := r.Header.Get(TeamHeader); team != "" {
				principal.Team = team
			}

			ctx := WithPrincipal(r.Context(), principal)
			ctx = logging.WithTenant(ctx, principal.Tenant)
			ctx = logging.WithActor(ctx, principal.Actor)
			if principal.Team != "" {
				ctx = logging.WithTeam(ctx, principal.Team)
			}
			if feature := r.Header.Get(FeatureHeader); feature != "" {
				ctx = logging.WithFeature(ctx, feature)
			}
			if priority := r.Header.Get(PriorityHeader); priority != "" {
				ctx = WithPriority(ctx, priority)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
