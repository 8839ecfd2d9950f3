package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"

	"strato-hq/aegis/pkg/policy"
	"strato-hq/aegis/pkg/proxy"
	"strato-hq/aegis/pkg/proxy/middleware"
	"strato-hq/aegis/pkg/proxy/types"
	"strato-hq/aegis/pkg/routing"
)

// RoutesHandler serves POST /v1/routes: replaces the active routing rule
// set. Administrative payloads reject unknown fields.
type RoutesHandler struct {
	deps *Deps
}

// NewRoutesHandler creates the routing administration handler.
func NewRoutesHandler(deps *Deps) *RoutesHandler {
	return &RoutesHandler{deps: deps}
}

// routesPayload is the administrative rule set body.
type routesPayload struct {
	Rules []routing.Rule `json:"rules"`
}

// ServeHTTP implements http.Handler.
func (h *RoutesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	correlationID := middleware.GetCorrelationID(r.Context())

	if r.Method != http.MethodPost {
		proxy.WriteErrorResponse(w, types.NewError(types.CodeInvalidRequest,
			"method not allowed, use POST", correlationID))
		return
	}

	var payload routesPayload
	if err := decodeStrict(middleware.GetBody(r.Context()), &payload); err != nil {
		proxy.WriteErrorResponse(w, types.NewError(types.CodeInvalidRequest, err.Error(), correlationID))
		return
	}

	h.deps.Router.ReplaceRules(payload.Rules)
	proxy.WriteJSONResponse(w, http.StatusOK, map[string]any{
		"object": "aegis.routes",
		"count":  len(payload.Rules),
	})
}

// PoliciesHandler serves POST /v1/policies: replaces the in-process
// policy rule set. Returns 503 when an external evaluator is configured.
type PoliciesHandler struct {
	deps *Deps
}

// NewPoliciesHandler creates the policy administration handler.
func NewPoliciesHandler(deps *Deps) *PoliciesHandler {
	return &PoliciesHandler{deps: deps}
}

// policiesPayload is the administrative policy set body.
type policiesPayload struct {
	Rules []policy.Rule `json:"rules"`
}

// ServeHTTP implements http.Handler.
func (h *PoliciesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	correlationID := middleware.GetCorrelationID(r.Context())

	if r.Method != http.MethodPost {
		proxy.WriteErrorResponse(w, types.NewError(types.CodeInvalidRequest,
			"method not allowed, use POST", correlationID))
		return
	}

	if h.deps.PolicyEngine == nil {
		proxy.WriteErrorResponse(w, types.NewError(types.CodeUpstreamUnavailable,
			"policies are managed by an external evaluator", correlationID))
		return
	}

	var payload policiesPayload
	if err := decodeStrict(middleware.GetBody(r.Context()), &payload); err != nil {
		proxy.WriteErrorResponse(w, types.NewError(types.CodeInvalidRequest, err.Error(), correlationID))
		return
	}

	h.deps.PolicyEngine.Replace(payload.Rules)
	proxy.WriteJSONResponse(w, http.StatusOK, map[string]any{
		"object": "aegis.policies",
		"count":  len(payload.Rules),
	})
}

// decodeStrict unmarshals administrative payloads, rejecting unknown
// fields. Client-call payloads stay permissive for SDK compatibility;
// administrative ones do not.
func decodeStrict(body []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
