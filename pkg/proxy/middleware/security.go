package middleware

import (
	"log/slog"
	"net/http"

	"strato-hq/aegis/pkg/proxy/types"
	"strato-hq/aegis/pkg/security/scan"
)

// IncidentSink receives detection incidents. The notification fan-out
// lives outside the core; a nil sink only logs.
type IncidentSink interface {
	RecordIncidents(incidents []scan.Incident)
}

// QuarantineQueue receives payloads held for review instead of being
// dispatched.
type QuarantineQueue interface {
	Enqueue(tenant, correlationID string, body []byte)
}

// SecurityScan runs the payload scanner over the buffered body and
// applies the resolved action: redaction rewrites the buffered body,
// block answers 422, quarantine holds the request and answers 422.
// Incidents carry finding types and severities, never matched content.
func SecurityScan(scanner *scan.Scanner, incidents IncidentSink, quarantine QuarantineQueue, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body := GetBody(r.Context())
			if len(body) == 0 {
				next.ServeHTTP(w, r)
				return
			}

			report := scanner.Scan(string(body))
			ctx := WithScanReport(r.Context(), report)

			if report.HasFindings() {
				principal := GetPrincipal(ctx)
				tenant := ""
				if principal != nil {
					tenant = principal.Tenant
				}
				recs := scan.Incidents(tenant, GetCorrelationID(ctx), report)
				if incidents != nil {
					incidents.RecordIncidents(recs)
				}
				logger.InfoContext(ctx, "security scan findings",
					"count", len(report.Findings),
					"action", string(report.Action),
					"injection_score", report.InjectionScore,
				)

				switch report.Action {
				case scan.ActionBlock:
					writeError(w, r.WithContext(ctx), types.CodeSecurityViolation,
						"request blocked by security policy")
					return

				case scan.ActionQuarantine:
					if quarantine != nil {
						quarantine.Enqueue(tenant, GetCorrelationID(ctx), body)
					}
					writeError(w, r.WithContext(ctx), types.CodeSecurityViolation,
						"request held for review")
					return

				case scan.ActionRedact:
					ctx = WithBody(ctx, []byte(report.Redacted))
				}
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
