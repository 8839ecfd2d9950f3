package proxy

import (
	"context"
	"errors"

	"strato-hq/aegis/pkg/policy"
	"strato-hq/aegis/pkg/providers"
	"strato-hq/aegis/pkg/proxy/types"
	"strato-hq/aegis/pkg/routing"
	"strato-hq/aegis/pkg/wallet"
)

// MapError converts an internal error into the client error envelope.
func MapError(err error, correlationID string) *types.ErrorResponse {
	switch {
	case err == nil:
		return nil

	case wallet.IsInsufficient(err):
		return types.NewError(types.CodeWalletExhausted,
			"budget exhausted for the effective wallet chain", correlationID)

	case errors.Is(err, policy.ErrDenied):
		return types.NewError(types.CodePolicyDenied,
			"request denied by policy", correlationID)

	case errors.Is(err, routing.ErrNoCandidates):
		return types.NewError(types.CodeUpstreamUnavailable,
			"no connector can serve the requested model", correlationID)

	case errors.Is(err, context.DeadlineExceeded):
		return types.NewError(types.CodeTimeout,
			"request deadline exceeded", correlationID)

	default:
		var exhausted *routing.ErrChainExhausted
		if errors.As(err, &exhausted) {
			resp := types.NewError(types.CodeUpstreamExhausted,
				"all upstream connectors failed", correlationID)
			return resp.WithDetails(map[string]any{
				"last_provider": exhausted.LastProvider,
				"last_error":    summarize(exhausted.Cause),
			})
		}

		var authErr *providers.AuthError
		if errors.As(err, &authErr) {
			// Upstream rejected the gateway's credential; the client
			// cannot fix this.
			return types.NewError(types.CodeUpstreamUnavailable,
				"upstream connector rejected gateway credentials", correlationID)
		}

		if providers.IsTimeout(err) {
			return types.NewError(types.CodeTimeout, "upstream timed out", correlationID)
		}
		if providers.IsRateLimit(err) || providers.IsServerError(err) || providers.IsNetwork(err) {
			return types.NewError(types.CodeUpstreamUnavailable,
				"upstream connector unavailable", correlationID)
		}

		return types.NewError(types.CodeInternalError, "internal server error", correlationID)
	}
}

// summarize keeps upstream error text short enough for the envelope.
func summarize(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if len(msg) > 300 {
		msg = msg[:300] + "..."
	}
	return msg
}
