package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"strato-hq/aegis/pkg/metering"
	"strato-hq/aegis/pkg/proxy/types"
	"strato-hq/aegis/pkg/ratelimit"
	"strato-hq/aegis/pkg/security/auth"
	"strato-hq/aegis/pkg/security/scan"
	"strato-hq/aegis/pkg/wallet"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestCorrelationAssignsID(t *testing.T) {
	var seen string
	h := Correlation(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetCorrelationID(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if seen == "" {
		t.Fatal("correlation id must be assigned")
	}
	if rec.Header().Get(CorrelationIDHeader) != seen {
		t.Fatal("correlation id must be mirrored into the response header")
	}
}

func TestCorrelationKeepsClientID(t *testing.T) {
	var seen string
	h := Correlation(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetCorrelationID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(CorrelationIDHeader, "client-supplied")
	h.ServeHTTP(httptest.NewRecorder(), req)

	if seen != "client-supplied" {
		t.Fatalf("client correlation id must be kept, got %q", seen)
	}
}

func TestAuthRejectsMissingCredentials(t *testing.T) {
	authenticator := auth.NewAuthenticator(auth.Config{
		Keys: []auth.KeyEntry{{Key: "sk-aegis-good", Principal: auth.Principal{Tenant: "t1", Actor: "u1"}}},
	})
	h := Auth(authenticator)(okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
	var envelope types.ErrorResponse
	json.Unmarshal(rec.Body.Bytes(), &envelope)
	if envelope.Error.Code != types.CodeAuthenticationFailed {
		t.Fatalf("code = %s", envelope.Error.Code)
	}
}

func TestAuthResolvesPrincipal(t *testing.T) {
	authenticator := auth.NewAuthenticator(auth.Config{
		Keys: []auth.KeyEntry{{
			Key:       "sk-aegis-good",
			Principal: auth.Principal{Tenant: "t1", Actor: "u1", WalletID: "w1", Kind: auth.ActorUser},
		}},
	})

	var principal *auth.Principal
	h := Auth(authenticator)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal = GetPrincipal(r.Context())
	}))

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Bearer sk-aegis-good")
	req.Header.Set(TeamHeader, "growth")
	h.ServeHTTP(httptest.NewRecorder(), req)

	if principal == nil || principal.Tenant != "t1" || principal.Team != "growth" {
		t.Fatalf("principal = %+v", principal)
	}
}

func TestUserCannotOverrideTenant(t *testing.T) {
	authenticator := auth.NewAuthenticator(auth.Config{
		Keys: []auth.KeyEntry{{
			Key:       "sk-user",
			Principal: auth.Principal{Tenant: "t1", Actor: "u1", Kind: auth.ActorUser},
		}},
	})

	var principal *auth.Principal
	h := Auth(authenticator)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal = GetPrincipal(r.Context())
	}))

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Bearer sk-user")
	req.Header.Set(OrganizationHeader, "t2")
	h.ServeHTTP(httptest.NewRecorder(), req)

	if principal.Tenant != "t1" {
		t.Fatalf("user principals must not switch tenants, got %s", principal.Tenant)
	}
}

func withPrincipal(req *http.Request, p *auth.Principal) *http.Request {
	return req.WithContext(WithPrincipal(req.Context(), p))
}

func TestRateLimitHeadersAndDenial(t *testing.T) {
	limiter := ratelimit.NewMemoryLimiter()
	h := RateLimit(limiter, RateLimitConfig{
		TenantRPM: 60, ActorRPM: 2, Burst: 1, PolicyID: "default",
	}, nil)(okHandler())

	principal := &auth.Principal{Tenant: "t1", Actor: "u1"}

	// The burst admits the first request and reports headers.
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, withPrincipal(httptest.NewRequest(http.MethodPost, "/", nil), principal))
	if rec.Code != http.StatusOK {
		t.Fatalf("first request status = %d", rec.Code)
	}
	if rec.Header().Get(RateLimitLimitHeader) == "" ||
		rec.Header().Get(RateLimitResetHeader) == "" ||
		rec.Header().Get(RateLimitPolicyHeader) != "default" {
		t.Fatalf("rate limit headers missing: %v", rec.Header())
	}

	// Exhaust the actor bucket.
	denied := false
	for i := 0; i < 5; i++ {
		rec = httptest.NewRecorder()
		h.ServeHTTP(rec, withPrincipal(httptest.NewRequest(http.MethodPost, "/", nil), principal))
		if rec.Code == http.StatusTooManyRequests {
			denied = true
			if rec.Header().Get("Retry-After") == "" {
				t.Fatal("429 must carry Retry-After")
			}
			var envelope types.ErrorResponse
			json.Unmarshal(rec.Body.Bytes(), &envelope)
			if envelope.Error.Code != types.CodeRateLimited {
				t.Fatalf("code = %s", envelope.Error.Code)
			}
			break
		}
	}
	if !denied {
		t.Fatal("actor bucket was never exhausted")
	}
}

func TestHeadersStripAndInject(t *testing.T) {
	var inner http.Header
	var body []byte
	h := Headers("1.2.3")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inner = r.Header
		body = GetBody(r.Context())
	}))

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"model":"m"}`))
	req.Header.Set("Openai-Organization", "org-123")
	req.Header.Set("X-Stainless-Runtime", "node")
	req.Header.Set("Anthropic-Version", "2023-06-01")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	for _, name := range []string{"Openai-Organization", "X-Stainless-Runtime", "Anthropic-Version"} {
		if inner.Get(name) != "" {
			t.Errorf("header %s must be stripped", name)
		}
	}
	if inner.Get("Accept") == "" {
		t.Error("accept header must be ensured")
	}
	if rec.Header().Get(GatewayHeader) != "aegis" || rec.Header().Get(GatewayVersionHeader) != "1.2.3" {
		t.Error("gateway identity headers must be injected")
	}
	if string(body) != `{"model":"m"}` {
		t.Errorf("body not buffered: %q", body)
	}
}

func TestTimeoutHeaderClampedToMax(t *testing.T) {
	var deadline time.Time
	h := Timeout(2*time.Second, 5*time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		deadline, _ = r.Context().Deadline()
	}))

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set(RequestTimeoutHeader, "3600") // one hour, above the cap
	h.ServeHTTP(httptest.NewRecorder(), req)

	if remaining := time.Until(deadline); remaining > 5*time.Minute+time.Second {
		t.Fatalf("deadline must clamp to five minutes, got %s", remaining)
	}
}

func TestTimeoutEmitsEnvelope(t *testing.T) {
	h := Timeout(20*time.Millisecond, time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Overrun the deadline, then attempt a late write; the guard
		// must discard it.
		time.Sleep(150 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))

	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("status = %d", rec.Code)
	}
	var envelope types.ErrorResponse
	json.Unmarshal(rec.Body.Bytes(), &envelope)
	if envelope.Error.Code != types.CodeTimeout {
		t.Fatalf("code = %s", envelope.Error.Code)
	}
}

func TestSecurityScanBlocks(t *testing.T) {
	scanner := scan.NewScanner(scan.Config{SecretAction: scan.ActionBlock})
	h := SecurityScan(scanner, nil, nil, nil)(okHandler())

	body := `{"messages":[{"content":"key is sk-abcdefghijklmnopqrstuvwxyz123456"}]}`
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req = req.WithContext(WithBody(req.Context(), []byte(body)))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestSecurityScanRedactsBody(t *testing.T) {
	scanner := scan.NewScanner(scan.Config{PIIAction: scan.ActionRedact})

	var forwarded []byte
	h := SecurityScan(scanner, nil, nil, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		forwarded = GetBody(r.Context())
	}))

	body := `{"messages":[{"content":"Email me at alice@example.com"}]}`
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req = req.WithContext(WithBody(req.Context(), []byte(body)))
	h.ServeHTTP(httptest.NewRecorder(), req)

	if !strings.Contains(string(forwarded), "[EMAIL_1]") {
		t.Fatalf("body must be redacted, got %s", forwarded)
	}
	if strings.Contains(string(forwarded), "alice@example.com") {
		t.Fatal("original address must not survive redaction")
	}
}

func TestWalletCheckRejectsExhausted(t *testing.T) {
	store := wallet.NewMemoryStore()
	store.Create(context.Background(), &wallet.Wallet{
		ID: "w1", Tenant: "t1", Kind: wallet.KindUser, HardLimit: 0.000001,
	})
	wallets := wallet.NewService(store, wallet.ServiceConfig{})

	prices := metering.NewPriceTable()
	prices.Set(metering.ModelPrice{Provider: "p", Model: "gpt-4o", InputPer1M: 1000, OutputPer1M: 1000})
	costs := metering.NewCostEngine(prices)

	h := WalletCheck(wallets, costs, nil)(okHandler())

	body := `{"model":"gpt-4o","messages":[{"role":"user","content":"` + strings.Repeat("long prompt ", 100) + `"}]}`
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	ctx := WithPrincipal(req.Context(), &auth.Principal{Tenant: "t1", Actor: "u1", WalletID: "w1"})
	ctx = WithBody(ctx, []byte(body))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req.WithContext(ctx))

	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("status = %d", rec.Code)
	}
	var envelope types.ErrorResponse
	json.Unmarshal(rec.Body.Bytes(), &envelope)
	if envelope.Error.Code != types.CodeWalletExhausted {
		t.Fatalf("code = %s", envelope.Error.Code)
	}
}
