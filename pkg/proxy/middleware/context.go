package middleware

import (
	"context"
	"net/http"
	"time"

	"strato-hq/aegis/pkg/security/auth"
	"strato-hq/aegis/pkg/security/scan"
	"strato-hq/aegis/pkg/telemetry/logging"
)

type contextKey string

const (
	principalKey  contextKey = "principal"
	bodyKey       contextKey = "buffered_body"
	scanReportKey contextKey = "scan_report"
	arrivalKey    contextKey = "arrival_time"
	priorityKey   contextKey = "priority"
)

// WithPrincipal stores the authenticated principal.
func WithPrincipal(ctx context.Context, p *auth.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// GetPrincipal returns the authenticated principal, or nil.
func GetPrincipal(ctx context.Context) *auth.Principal {
	if p, ok := ctx.Value(principalKey).(*auth.Principal); ok {
		return p
	}
	return nil
}

// WithBody stores the buffered (possibly redacted) request body.
func WithBody(ctx context.Context, body []byte) context.Context {
	return context.WithValue(ctx, bodyKey, body)
}

// GetBody returns the buffered request body.
func GetBody(ctx context.Context) []byte {
	if b, ok := ctx.Value(bodyKey).([]byte); ok {
		return b
	}
	return nil
}

// WithScanReport stores the security scan report.
func WithScanReport(ctx context.Context, report *scan.Report) context.Context {
	return context.WithValue(ctx, scanReportKey, report)
}

// GetScanReport returns the security scan report, or nil.
func GetScanReport(ctx context.Context) *scan.Report {
	if r, ok := ctx.Value(scanReportKey).(*scan.Report); ok {
		return r
	}
	return nil
}

// WithArrival stores the request arrival timestamp.
func WithArrival(ctx context.Context, at time.Time) context.Context {
	return context.WithValue(ctx, arrivalKey, at)
}

// GetArrival returns the request arrival timestamp.
func GetArrival(ctx context.Context) time.Time {
	if t, ok := ctx.Value(arrivalKey).(time.Time); ok {
		return t
	}
	return time.Time{}
}

// WithPriority stores the client-declared priority.
func WithPriority(ctx context.Context, priority string) context.Context {
	return context.WithValue(ctx, priorityKey, priority)
}

// GetPriority returns the client-declared priority.
func GetPriority(ctx context.Context) string {
	if p, ok := ctx.Value(priorityKey).(string); ok {
		return p
	}
	return ""
}

// GetCorrelationID returns the request correlation id.
func GetCorrelationID(ctx context.Context) string {
	return logging.GetCorrelationID(ctx)
}

// Chain composes middlewares outermost-first.
func Chain(h http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}
