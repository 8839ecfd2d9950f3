package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"strato-hq/aegis/pkg/metering"
	"strato-hq/aegis/pkg/proxy/types"
	"strato-hq/aegis/pkg/wallet"
)

// minimalRequest is the slice of the payload the precheck needs.
type minimalRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content any    `json:"content"`
	} `json:"messages"`
	Prompt    any  `json:"prompt"`
	MaxTokens *int `json:"max_tokens"`

	Extension *struct {
		BudgetGroup string `json:"budget_group"`
	} `json:"aegis"`
}

// WalletCheck rejects requests whose effective wallet chain has no room
// for the minimum cost estimate: the prompt priced as input plus a single
// output token. The full reservation happens at dispatch.
func WalletCheck(wallets *wallet.Service, costs *metering.CostEngine, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := GetPrincipal(r.Context())
			body := GetBody(r.Context())
			if principal == nil || principal.WalletID == "" || len(body) == 0 {
				next.ServeHTTP(w, r)
				return
			}

			var req minimalRequest
			if err := json.Unmarshal(body, &req); err != nil {
				// Malformed payloads fail later with a proper envelope.
				next.ServeHTTP(w, r)
				return
			}

			walletID := principal.WalletID
			if req.Extension != nil && req.Extension.BudgetGroup != "" {
				walletID = req.Extension.BudgetGroup
			}

			promptTokens := estimatePrompt(&req)
			minCost := costs.EstimateCost("", req.Model, promptTokens, 1)

			if err := wallets.Check(r.Context(), walletID, minCost); err != nil {
				if wallet.IsInsufficient(err) {
					writeError(w, r, types.CodeWalletExhausted, "budget exhausted for the effective wallet chain")
					return
				}
				logger.ErrorContext(r.Context(), "wallet precheck failed", "error", err)
				writeError(w, r, types.CodeInternalError, "wallet service unavailable")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func estimatePrompt(req *minimalRequest) int {
	var messages []metering.Message
	for _, m := range req.Messages {
		if content, ok := m.Content.(string); ok {
			messages = append(messages, metering.Message{Role: m.Role, Content: content})
		}
	}
	if len(messages) > 0 {
		return metering.EstimateMessages(messages)
	}
	if prompt, ok := req.Prompt.(string); ok {
		return metering.EstimateText(prompt)
	}
	return 0
}
