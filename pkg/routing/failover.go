package routing

import (
	"context"
	"time"

	"strato-hq/aegis/pkg/providers"
)

// Per-connector retry schedule for upstream 5xx.
var retryBackoff = []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}

// Result is the outcome of an executed (possibly failed-over) call.
type Result struct {
	Response *providers.CompletionResponse

	// Provider and Model identify the connector that served the request.
	Provider providers.Provider
	Model    *providers.ModelInfo

	// Failovers counts connector advances within the request.
	Failovers int

	Latency time.Duration
}

// StreamResult is the outcome of opening a streaming call.
type StreamResult struct {
	Reader   providers.StreamReader
	Provider providers.Provider
	Model    *providers.ModelInfo

	Failovers int
}

// Execute runs a non-streaming call down the failover chain.
//
// On 429 the next connector is tried immediately. On 5xx the same
// connector is retried up to three times with exponential backoff before
// advancing. On timeout or network error the chain advances immediately.
// Auth and client-shaped errors are not retried anywhere.
func (r *Router) Execute(ctx context.Context, decision *Decision, req *providers.CompletionRequest) (*Result, error) {
	var lastErr error
	var lastProvider string
	failovers := 0

	for i, candidate := range decision.Candidates {
		if i > 0 {
			failovers++
		}
		lastProvider = candidate.Provider.Name()
		req.Model = candidate.Model.Name

		resp, latency, err := r.attempt(ctx, candidate, req)
		if err == nil {
			return &Result{
				Response:  resp,
				Provider:  candidate.Provider,
				Model:     candidate.Model,
				Failovers: failovers,
				Latency:   latency,
			}, nil
		}
		lastErr = err

		if !advanceable(err) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		r.logger.WarnContext(ctx, "advancing failover chain",
			"provider", candidate.Provider.Name(),
			"model", candidate.Model.Name,
			"position", i,
			"error", err,
		)
	}

	return nil, &ErrChainExhausted{LastProvider: lastProvider, Cause: lastErr}
}

// attempt runs one candidate with the per-connector 5xx retry schedule.
func (r *Router) attempt(ctx context.Context, candidate Candidate, req *providers.CompletionRequest) (*providers.CompletionResponse, time.Duration, error) {
	var lastErr error

	for try := 0; ; try++ {
		start := time.Now()
		resp, err := candidate.Provider.SendCompletion(ctx, req)
		latency := time.Since(start)

		if err == nil {
			candidate.Provider.Health().RecordLatency(latency)
			return resp, latency, nil
		}
		lastErr = err

		if !providers.IsServerError(err) || try >= len(retryBackoff) {
			return nil, latency, lastErr
		}

		select {
		case <-ctx.Done():
			return nil, latency, ctx.Err()
		case <-time.After(retryBackoff[try]):
		}
	}
}

// OpenStream opens a streaming call, advancing down the chain until a
// reader is obtained. Once the reader exists, mid-stream errors are the
// caller's to seal; failover never resumes a started stream.
func (r *Router) OpenStream(ctx context.Context, decision *Decision, req *providers.CompletionRequest) (*StreamResult, error) {
	var lastErr error
	var lastProvider string
	failovers := 0

	for i, candidate := range decision.Candidates {
		if i > 0 {
			failovers++
		}
		lastProvider = candidate.Provider.Name()
		req.Model = candidate.Model.Name

		reader, err := r.openAttempt(ctx, candidate, req)
		if err == nil {
			return &StreamResult{
				Reader:    reader,
				Provider:  candidate.Provider,
				Model:     candidate.Model,
				Failovers: failovers,
			}, nil
		}
		lastErr = err

		if !advanceable(err) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		r.logger.WarnContext(ctx, "advancing failover chain",
			"provider", candidate.Provider.Name(),
			"model", candidate.Model.Name,
			"position", i,
			"streaming", true,
			"error", err,
		)
	}

	return nil, &ErrChainExhausted{LastProvider: lastProvider, Cause: lastErr}
}

func (r *Router) openAttempt(ctx context.Context, candidate Candidate, req *providers.CompletionRequest) (providers.StreamReader, error) {
	var lastErr error

	for try := 0; ; try++ {
		reader, err := candidate.Provider.StreamCompletion(ctx, req)
		if err == nil {
			return reader, nil
		}
		lastErr = err

		if !providers.IsServerError(err) || try >= len(retryBackoff) {
			return nil, lastErr
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryBackoff[try]):
		}
	}
}

// advanceable reports whether an error justifies trying the next
// connector. Credential and request-shaped failures would fail everywhere
// identically, so the chain stops on them.
func advanceable(err error) bool {
	switch {
	case providers.IsRateLimit(err),
		providers.IsServerError(err),
		providers.IsTimeout(err),
		providers.IsNetwork(err):
		return true
	default:
		return false
	}
}
