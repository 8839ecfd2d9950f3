package middleware

import (
	"encoding/json"
	"net/http"

	"strato-hq/aegis/pkg/proxy/types"
)

// writeError writes an error envelope with its mapped status.
func writeError(w http.ResponseWriter, r *http.Request, code types.ErrorCode, message string) {
	resp := types.NewError(code, message, GetCorrelationID(r.Context()))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(types.StatusFor(code))
	_ = json.NewEncoder(w).Encode(resp)
}
