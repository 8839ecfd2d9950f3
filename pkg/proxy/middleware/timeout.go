package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"strato-hq/aegis/pkg/proxy/types"
)

// RequestTimeoutHeader lets clients set an explicit deadline in seconds,
// capped at the configured maximum.
const RequestTimeoutHeader = "X-Request-Timeout"

// Timeout resolves the effective request deadline (client header capped
// at max, else the default), wraps the remaining pipeline in a
// cancellable context, and on expiry emits a timeout envelope while
// suppressing any later writes from the still-running handler.
func Timeout(defaultTimeout, maxTimeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			timeout := defaultTimeout
			if raw := r.Header.Get(RequestTimeoutHeader); raw != "" {
				if seconds, err := strconv.Atoi(raw); err == nil && seconds > 0 {
					timeout = time.Duration(seconds) * time.Second
				}
			}
			if timeout > maxTimeout {
				timeout = maxTimeout
			}

			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()

			guarded := &guardedWriter{inner: w}
			done := make(chan struct{})

			go func() {
				defer close(done)
				next.ServeHTTP(guarded, r.WithContext(ctx))
			}()

			select {
			case <-done:
				return

			case <-ctx.Done():
				if ctx.Err() != context.DeadlineExceeded {
					// Client went away; nothing left to write to.
					<-done
					return
				}

				if guarded.timeOut() {
					resp := types.NewError(types.CodeTimeout,
						"request deadline exceeded", GetCorrelationID(r.Context()))
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(types.StatusFor(types.CodeTimeout))
					_ = json.NewEncoder(w).Encode(resp)
				}

				// The handler observes ctx.Done() and unwinds; its writes
				// are discarded by the guard.
				<-done
			}
		})
	}
}

// guardedWriter serializes writes and discards them after timeout.
type guardedWriter struct {
	mu       sync.Mutex
	inner    http.ResponseWriter
	started  bool
	timedOut bool
}

// timeOut marks the writer expired. Returns false when the handler
// already started the response; the envelope cannot be written then.
func (g *guardedWriter) timeOut() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.timedOut = true
	return !g.started
}

// Header returns the response headers.
func (g *guardedWriter) Header() http.Header {
	return g.inner.Header()
}

// WriteHeader writes the status line unless the deadline already fired.
func (g *guardedWriter) WriteHeader(status int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.timedOut {
		return
	}
	g.started = true
	g.inner.WriteHeader(status)
}

// Write writes body bytes unless the deadline already fired.
func (g *guardedWriter) Write(p []byte) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.timedOut {
		return len(p), nil
	}
	g.started = true
	return g.inner.Write(p)
}

// Flush forwards to the underlying flusher for streaming responses.
func (g *guardedWriter) Flush() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.timedOut {
		return
	}
	if f, ok := g.inner.(http.Flusher); ok {
		f.Flush()
	}
}
