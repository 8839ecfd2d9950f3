package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"strato-hq/aegis/pkg/providers"
)

type staticKeys struct{}

func (staticKeys) GetSecret(ctx context.Context, ref string) (string, error) {
	return "test-key", nil
}

func newTestProvider(t *testing.T, upstream *httptest.Server) *Provider {
	t.Helper()
	p, err := NewProvider(providers.Config{
		Name:      "openai-test",
		BaseURL:   upstream.URL,
		APIKeyRef: "openai-api-key",
		Models:    []providers.ModelInfo{{Name: "gpt-4o"}},
	}, staticKeys{})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	return p
}

func TestStreamCompletionParsesChunks(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("authorization = %q", got)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, `data: {"id":"x","choices":[{"index":0,"delta":{"role":"assistant","content":"Hel"}}]}`+"\n\n")
		fmt.Fprint(w, ": keepalive comment\n\n")
		fmt.Fprint(w, `data: {"id":"x","choices":[{"index":0,"delta":{"content":"lo"}}]}`+"\n\n")
		fmt.Fprint(w, `data: {"id":"x","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`+"\n\n")
		fmt.Fprint(w, `data: {"id":"x","choices":[],"usage":{"prompt_tokens":7,"completion_tokens":2,"total_tokens":9}}`+"\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer upstream.Close()

	p := newTestProvider(t, upstream)
	defer p.Close()

	reader, err := p.StreamCompletion(context.Background(), &providers.CompletionRequest{
		Model:    "gpt-4o",
		Messages: []providers.Message{{Role: "user", Content: "hi"}},
		Stream:   true,
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	defer reader.Close()

	var content string
	var finish string
	var usage *providers.TokenUsage

	for {
		chunk, err := reader.Read(context.Background())
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		content += chunk.Delta
		if chunk.FinishReason != "" {
			finish = chunk.FinishReason
		}
		if chunk.Usage != nil {
			usage = chunk.Usage
		}
	}

	if content != "Hello" {
		t.Errorf("content = %q", content)
	}
	if finish != "stop" {
		t.Errorf("finish = %q", finish)
	}
	if usage == nil || usage.TotalTokens != 9 {
		t.Errorf("usage = %+v", usage)
	}
}

func TestStreamCompletionCancellation(t *testing.T) {
	release := make(chan struct{})
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, `data: {"id":"x","choices":[{"index":0,"delta":{"content":"a"}}]}`+"\n\n")
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-release // hold the stream open
	}))
	defer upstream.Close()
	defer close(release)

	p := newTestProvider(t, upstream)
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	reader, err := p.StreamCompletion(ctx, &providers.CompletionRequest{
		Model:    "gpt-4o",
		Messages: []providers.Message{{Role: "user", Content: "hi"}},
		Stream:   true,
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	defer reader.Close()

	if _, err := reader.Read(ctx); err != nil {
		t.Fatalf("first read: %v", err)
	}

	cancel()
	_, err = reader.Read(ctx)
	if err == nil {
		t.Fatal("expected cancellation to interrupt the read")
	}
}

func TestSendCompletionNormalizesResponse(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"cmpl-1","model":"gpt-4o","created":1700000000,
			"choices":[{"index":0,"message":{"role":"assistant","content":"hi there"},"finish_reason":"stop"}],
			"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}}`)
	}))
	defer upstream.Close()

	p := newTestProvider(t, upstream)
	defer p.Close()

	resp, err := p.SendCompletion(context.Background(), &providers.CompletionRequest{
		Model:    "gpt-4o",
		Messages: []providers.Message{{Role: "user", Content: "hello"}},
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if resp.Content != "hi there" || resp.FinishReason != "stop" {
		t.Errorf("resp = %+v", resp)
	}
	if resp.Usage.TotalTokens != 5 {
		t.Errorf("usage = %+v", resp.Usage)
	}
}

func TestRateLimitClassified(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"slow down"}}`)
	}))
	defer upstream.Close()

	p := newTestProvider(t, upstream)
	defer p.Close()

	_, err := p.SendCompletion(context.Background(), &providers.CompletionRequest{
		Model:    "gpt-4o",
		Messages: []providers.Message{{Role: "user", Content: "hello"}},
	})
	if !providers.IsRateLimit(err) {
		t.Fatalf("expected rate limit error, got %v", err)
	}
}
