package middleware

import (
	"io"
	"net/http"
	"strings"
)

// Gateway identity headers injected on every response.
const (
	GatewayHeader        = "X-Gateway"
	GatewayVersionHeader = "X-Gateway-Version"
)

// strippedRequestHeaders are provider-facing headers clients must not
// set: upstream credentials, SDK telemetry and provider version pins.
// The gateway owns all of these.
var strippedRequestHeaders = []string{
	"Openai-Organization",
	"Openai-Project",
	"Openai-Beta",
	"Anthropic-Version",
	"Anthropic-Beta",
	"X-Api-Version",
	"X-Upstream-Authorization",
}

// strippedHeaderPrefixes removes SDK telemetry families wholesale.
var strippedHeaderPrefixes = []string{
	"X-Stainless-",
}

// maxBodyBytes caps the buffered request body.
const maxBodyBytes = 10 << 20

// Headers normalizes the request surface: strips provider-specific
// headers, ensures content negotiation headers, and buffers the body so
// later pipeline stages can scan and rewrite it. The response direction
// injects the gateway identity; upstream headers never propagate because
// responses are re-emitted, not proxied header-for-header.
func Headers(version string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, h := range strippedRequestHeaders {
				r.Header.Del(h)
			}
			for name := range r.Header {
				for _, prefix := range strippedHeaderPrefixes {
					if strings.HasPrefix(name, prefix) {
						r.Header.Del(name)
					}
				}
			}

			if r.Header.Get("Accept") == "" {
				r.Header.Set("Accept", "application/json")
			}
			if r.Method == http.MethodPost && r.Header.Get("Content-Type") == "" {
				r.Header.Set("Content-Type", "application/json")
			}

			w.Header().Set(GatewayHeader, "aegis")
			w.Header().Set(GatewayVersionHeader, version)

			// Buffer the body for the scan and wallet stages.
			if r.Body != nil && r.Method == http.MethodPost {
				body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
				r.Body.Close()
				if err == nil && len(body) <= maxBodyBytes {
					r = r.WithContext(WithBody(r.Context(), body))
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}
