package middleware

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"strato-hq/aegis/pkg/telemetry/logging"
)

// CorrelationIDHeader is the inbound/outbound correlation header.
const CorrelationIDHeader = "X-Correlation-ID"

// Correlation assigns a correlation id when the client did not send one
// and threads it into the context, logs and response headers.
func Correlation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(CorrelationIDHeader)
		if id == "" {
			id = uuid.New().String()
		}

		ctx := logging.WithCorrelationID(r.Context(), id)
		ctx = WithArrival(ctx, time.Now())

		w.Header().Set(CorrelationIDHeader, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
