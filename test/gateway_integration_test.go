//go:build integration

package test

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"strato-hq/aegis/pkg/config"
	"strato-hq/aegis/pkg/proxy/types"
	"strato-hq/aegis/pkg/server"
)

// fakeUpstream serves the OpenAI-compatible surface the generic
// connector speaks, both streaming and non-streaming.
func fakeUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/chat/completions":
			var req struct {
				Stream bool `json:"stream"`
			}
			body := new(bytes.Buffer)
			body.ReadFrom(r.Body)
			json.Unmarshal(body.Bytes(), &req)

			if req.Stream {
				w.Header().Set("Content-Type", "text/event-stream")
				for _, delta := range []string{"Hello", " from", " upstream"} {
					fmt.Fprintf(w, `data: {"id":"x","choices":[{"index":0,"delta":{"content":%q}}]}`+"\n\n", delta)
				}
				fmt.Fprint(w, `data: {"id":"x","choices":[{"index":0,"delta":{},"finish_reason":"stop"}],"usage":{"prompt_tokens":9,"completion_tokens":3,"total_tokens":12}}`+"\n\n")
				fmt.Fprint(w, "data: [DONE]\n\n")
				return
			}

			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"id":"up-1","model":"gpt-4o","created":1700000000,
				"choices":[{"index":0,"message":{"role":"assistant","content":"Hello from upstream"},"finish_reason":"stop"}],
				"usage":{"prompt_tokens":9,"completion_tokens":4,"total_tokens":13}}`)

		case "/models":
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"object":"list","data":[]}`)

		default:
			http.NotFound(w, r)
		}
	}))
}

func gatewayConfig(upstreamURL string) *config.Config {
	cfg := &config.Config{
		Auth: config.AuthConfig{
			APIKeys: []config.APIKeyConfig{
				{Key: "sk-it-user", Tenant: "t1", Actor: "u1", WalletID: "w-user", Kind: "user"},
				{Key: "sk-it-broke", Tenant: "t1", Actor: "u2", WalletID: "w-broke", Kind: "user"},
			},
		},
		Tenants: []config.TenantConfig{{ID: "t1"}},
		Providers: []config.ProviderConfig{{
			Name:     "selfhosted-1",
			Kind:     "generic",
			BaseURL:  upstreamURL,
			Priority: 1,
			Models: []config.ModelConfig{{
				Name:             "gpt-4o",
				InputPricePer1M:  2.5,
				OutputPricePer1M: 10,
				ContextWindow:    128000,
				Capabilities:     []string{"streaming", "tools"},
			}},
		}},
		Wallet: config.WalletConfig{
			Wallets: []config.WalletNodeConfig{
				{ID: "w-org", Tenant: "t1", Kind: "organization", HardLimit: 10000},
				{ID: "w-user", Tenant: "t1", Parent: "w-org", Kind: "user", HardLimit: 1000},
				{ID: "w-broke", Tenant: "t1", Parent: "w-org", Kind: "user", HardLimit: 0.0000001},
			},
		},
	}
	config.ApplyDefaults(cfg)
	return cfg
}

func newGateway(t *testing.T, upstreamURL string) *httptest.Server {
	t.Helper()

	srv, err := server.New(gatewayConfig(upstreamURL))
	if err != nil {
		t.Fatalf("assembling gateway: %v", err)
	}
	gw := httptest.NewServer(srv.Handler())
	t.Cleanup(gw.Close)
	return gw
}

func postChat(t *testing.T, gw *httptest.Server, key, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, gw.URL+"/v1/chat/completions", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

const chatBody = `{"model":"gpt-4o","messages":[{"role":"user","content":"Say hello."}]}`

func TestGatewayChatCompletion(t *testing.T) {
	upstream := fakeUpstream(t)
	defer upstream.Close()
	gw := newGateway(t, upstream.URL)

	resp := postChat(t, gw, "sk-it-user", chatBody)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var chat types.ChatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(chat.Choices) != 1 || chat.Choices[0].Message.Content != "Hello from upstream" {
		t.Fatalf("choices = %+v", chat.Choices)
	}
	if chat.Extension == nil || chat.Extension.ProviderUsed != "selfhosted-1" {
		t.Fatalf("extension = %+v", chat.Extension)
	}

	// Augmentation mirror headers and correlation id.
	if resp.Header.Get("X-Aegis-Provider") != "selfhosted-1" {
		t.Errorf("provider header = %q", resp.Header.Get("X-Aegis-Provider"))
	}
	if resp.Header.Get("X-Correlation-ID") == "" {
		t.Error("correlation id header missing")
	}
	if resp.Header.Get("X-RateLimit-Limit") == "" || resp.Header.Get("X-RateLimit-Reset") == "" {
		t.Error("rate limit headers missing")
	}
	if resp.Header.Get("X-Gateway") != "aegis" {
		t.Errorf("gateway header = %q", resp.Header.Get("X-Gateway"))
	}
}

func TestGatewayStreaming(t *testing.T) {
	upstream := fakeUpstream(t)
	defer upstream.Close()
	gw := newGateway(t, upstream.URL)

	body := `{"model":"gpt-4o","stream":true,"messages":[{"role":"user","content":"Say hello."}]}`
	resp := postChat(t, gw, "sk-it-user", body)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("content type = %q", ct)
	}

	var content string
	sawDone := false
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			sawDone = true
			break
		}
		var frame types.ChatCompletionChunk
		if err := json.Unmarshal([]byte(data), &frame); err != nil {
			t.Fatalf("bad frame %q: %v", data, err)
		}
		if len(frame.Choices) > 0 {
			content += frame.Choices[0].Delta.Content
		}
	}

	if content != "Hello from upstream" {
		t.Errorf("streamed content = %q", content)
	}
	if !sawDone {
		t.Error("stream must terminate with [DONE]")
	}
}

func TestGatewayAuthAndWalletRefusals(t *testing.T) {
	upstream := fakeUpstream(t)
	defer upstream.Close()
	gw := newGateway(t, upstream.URL)

	// No credentials.
	resp, err := http.Post(gw.URL+"/v1/chat/completions", "application/json", strings.NewReader(chatBody))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous status = %d", resp.StatusCode)
	}

	// Exhausted wallet chain.
	resp = postChat(t, gw, "sk-it-broke", chatBody)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("exhausted wallet status = %d", resp.StatusCode)
	}
	var envelope types.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if envelope.Error.Code != types.CodeWalletExhausted {
		t.Fatalf("code = %s", envelope.Error.Code)
	}
}

func TestGatewayWalletBalance(t *testing.T) {
	upstream := fakeUpstream(t)
	defer upstream.Close()
	gw := newGateway(t, upstream.URL)

	// Spend something first so the balance moves.
	resp := postChat(t, gw, "sk-it-user", chatBody)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("chat status = %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, gw.URL+"/v1/wallet/balance", nil)
	req.Header.Set("Authorization", "Bearer sk-it-user")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("balance status = %d", resp.StatusCode)
	}

	var balance types.WalletBalanceResponse
	if err := json.NewDecoder(resp.Body).Decode(&balance); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if balance.WalletID != "w-user" || balance.HardLimit != 1000 {
		t.Fatalf("balance = %+v", balance)
	}
	// The wallet commit lands before the chat response is written, so the
	// charge is visible without waiting.
	if balance.Spent <= 0 {
		t.Fatalf("spent = %f, expected a settled charge", balance.Spent)
	}
}
