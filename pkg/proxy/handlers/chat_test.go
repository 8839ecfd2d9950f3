package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"strato-hq/aegis/pkg/analytics"
	"strato-hq/aegis/pkg/cache"
	"strato-hq/aegis/pkg/config"
	"strato-hq/aegis/pkg/ledger"
	"strato-hq/aegis/pkg/metering"
	"strato-hq/aegis/pkg/policy"
	"strato-hq/aegis/pkg/providers"
	"strato-hq/aegis/pkg/proxy/middleware"
	"strato-hq/aegis/pkg/proxy/types"
	"strato-hq/aegis/pkg/routing"
	"strato-hq/aegis/pkg/security/auth"
	"strato-hq/aegis/pkg/telemetry/logging"
	"strato-hq/aegis/pkg/telemetry/metrics"
	"strato-hq/aegis/pkg/wallet"
)

// scriptedProvider is a canned connector for handler tests.
type scriptedProvider struct {
	cfg    providers.Config
	health *providers.HealthTracker

	mu           sync.Mutex
	calls        int
	response     *providers.CompletionResponse
	streamChunks []providers.StreamChunk
}

func (f *scriptedProvider) SendCompletion(ctx context.Context, req *providers.CompletionRequest) (*providers.CompletionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.response, nil
}

func (f *scriptedProvider) StreamCompletion(ctx context.Context, req *providers.CompletionRequest) (providers.StreamReader, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return &scriptedStream{chunks: f.streamChunks}, nil
}

func (f *scriptedProvider) Embed(ctx context.Context, req *providers.EmbeddingRequest) (*providers.EmbeddingResponse, error) {
	return nil, &providers.ConfigError{Provider: f.cfg.Name, Field: "embeddings", Message: "not scripted"}
}

func (f *scriptedProvider) Probe(ctx context.Context) error     { return nil }
func (f *scriptedProvider) Name() string                        { return f.cfg.Name }
func (f *scriptedProvider) Kind() string                        { return "scripted" }
func (f *scriptedProvider) Config() providers.Config            { return f.cfg }
func (f *scriptedProvider) Health() *providers.HealthTracker    { return f.health }
func (f *scriptedProvider) Close() error                        { return nil }

func (f *scriptedProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type scriptedStream struct {
	chunks []providers.StreamChunk
	pos    int
	closed bool
}

func (s *scriptedStream) Read(ctx context.Context) (*providers.StreamChunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.closed || s.pos >= len(s.chunks) {
		return nil, io.EOF
	}
	chunk := s.chunks[s.pos]
	s.pos++
	return &chunk, nil
}

func (s *scriptedStream) Close() error {
	s.closed = true
	return nil
}

var (
	scriptedMu sync.Mutex
	scripted   map[string]*scriptedProvider
)

func init() {
	providers.RegisterFactory("scripted", func(cfg providers.Config, keys providers.KeyResolver) (providers.Provider, error) {
		scriptedMu.Lock()
		defer scriptedMu.Unlock()
		return scripted[cfg.Name], nil
	})
}

// fixture bundles the assembled handler dependencies.
type fixture struct {
	deps     *Deps
	provider *scriptedProvider
	wallets  *wallet.Service
	store    *wallet.MemoryStore
	recorder *ledger.Recorder
}

func newFixture(t *testing.T, walletLimit float64) *fixture {
	t.Helper()

	provider := &scriptedProvider{
		cfg: providers.Config{
			Name:     "upstream-1",
			Priority: 1,
			Models: []providers.ModelInfo{{
				Name:             "gpt-4o",
				InputPricePer1M:  2.5,
				OutputPricePer1M: 10,
				Capabilities:     []providers.Capability{providers.CapabilityStreaming},
			}},
		},
		health: providers.NewHealthTracker("upstream-1", 5),
		response: &providers.CompletionResponse{
			ID:           "up-1",
			Model:        "gpt-4o",
			Content:      "The capital of France is Paris.",
			FinishReason: "stop",
			Usage:        providers.TokenUsage{PromptTokens: 20, CompletionTokens: 8, TotalTokens: 28},
		},
	}

	scriptedMu.Lock()
	scripted = map[string]*scriptedProvider{"upstream-1": provider}
	scriptedMu.Unlock()

	providerCfg := provider.cfg
	providerCfg.Kind = "scripted"
	registry, err := providers.NewRegistry([]providers.Config{providerCfg}, nil)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}

	store := wallet.NewMemoryStore()
	if err := store.Create(context.Background(), &wallet.Wallet{
		ID: "w1", Tenant: "t1", Kind: wallet.KindUser, HardLimit: walletLimit,
	}); err != nil {
		t.Fatalf("seed wallet: %v", err)
	}
	wallets := wallet.NewService(store, wallet.ServiceConfig{})

	recorder := ledger.NewRecorder(ledger.NewMemoryStorage(), ledger.Config{})

	prices := metering.NewPriceTable()
	prices.Set(metering.ModelPrice{Provider: "upstream-1", Model: "gpt-4o", InputPer1M: 2.5, OutputPer1M: 10})

	deps := &Deps{
		Logger:  slog.Default(),
		Router:  routing.NewRouter(registry, routing.StrategyPriority, nil, nil),
		Wallets: wallets,
		Ledger:  recorder,
		Cache:   cache.NewEngine(cache.HashingEmbedder{}, nil, nil),
		Policy: &policy.Bounded{
			Inner:   policy.NewEngine(nil),
			Timeout: 100 * time.Millisecond,
		},
		Counter:   metering.NewCounter(),
		Costs:     metering.NewCostEngine(prices),
		Analytics: analytics.NewSink(analytics.NewJSONLinesWriter(io.Discard), 64, nil),
		Metrics:   metrics.NewCollector(),
		Tenants: map[string]config.TenantConfig{
			"t1": {
				ID: "t1",
				Cache: config.TenantCacheConfig{
					Enabled:             true,
					SimilarityThreshold: 0.97,
					TTL:                 time.Hour,
					MaxEntries:          100,
				},
			},
		},
		CacheLookupTimeout: 50 * time.Millisecond,
	}

	return &fixture{deps: deps, provider: provider, wallets: wallets, store: store, recorder: recorder}
}

// request builds a chat request with the pipeline context prepared.
func chatRequest(t *testing.T, body string, stream bool) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	ctx := req.Context()
	ctx = logging.WithCorrelationID(ctx, "corr-test-1")
	ctx = middleware.WithPrincipal(ctx, &auth.Principal{
		Tenant: "t1", Actor: "u1", WalletID: "w1", Kind: auth.ActorUser,
	})
	ctx = middleware.WithBody(ctx, []byte(body))
	ctx = middleware.WithArrival(ctx, time.Now())
	if stream {
		var cancel context.CancelFunc
		ctx, cancel = context.WithCancel(ctx)
		t.Cleanup(cancel)
	}
	return req.WithContext(ctx)
}

const simpleBody = `{"model":"gpt-4o","messages":[
	{"role":"system","content":"You are concise."},
	{"role":"user","content":"What is the capital of France?"},
	{"role":"user","content":"One word."}
]}`

// drainLedger waits for async ledger writes and lists the chain.
func drainLedger(t *testing.T, f *fixture) []*ledger.Record {
	t.Helper()
	f.recorder.Close()
	records, err := f.recorder.List(context.Background(), "t1", 0)
	if err != nil {
		t.Fatalf("listing ledger: %v", err)
	}
	return records
}

func TestSimpleChatCompletion(t *testing.T) {
	f := newFixture(t, 10000)
	handler := NewChatHandler(f.deps)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, chatRequest(t, simpleBody, false))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if f.provider.callCount() != 1 {
		t.Fatalf("expected one upstream call, got %d", f.provider.callCount())
	}

	var resp types.ChatCompletionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Choices[0].Message.Content != "The capital of France is Paris." {
		t.Fatalf("content = %v", resp.Choices[0].Message.Content)
	}
	if resp.Extension == nil || resp.Extension.ProviderUsed != "upstream-1" || resp.Extension.CacheHit {
		t.Fatalf("extension = %+v", resp.Extension)
	}

	// Wallet spent is exactly the computed cost.
	expectedCost := f.deps.Costs.Cost("upstream-1", "gpt-4o",
		metering.Usage{PromptTokens: 20, CompletionTokens: 8, TotalTokens: 28})
	w, _ := f.store.Get(context.Background(), "w1")
	if w.Spent != expectedCost {
		t.Fatalf("wallet spent = %f, want %f", w.Spent, expectedCost)
	}
	if w.Reserved != 0 {
		t.Fatalf("reservation not settled: reserved = %f", w.Reserved)
	}

	// Exactly one ledger record, matching the correlation id and cost.
	records := drainLedger(t, f)
	if len(records) != 1 {
		t.Fatalf("expected one ledger record, got %d", len(records))
	}
	r := records[0]
	if r.CorrelationID != "corr-test-1" || r.Cost != expectedCost || r.CacheHit {
		t.Fatalf("ledger record = %+v", r)
	}
	if err := ledger.Verify(records); err != nil {
		t.Fatalf("chain: %v", err)
	}
}

func TestCacheIdempotence(t *testing.T) {
	f := newFixture(t, 10000)
	handler := NewChatHandler(f.deps)

	// First request dispatches upstream and populates the cache.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, chatRequest(t, simpleBody, false))
	if rec.Code != http.StatusOK {
		t.Fatalf("first status = %d", rec.Code)
	}

	// The identical request within TTL is served from cache.
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, chatRequest(t, simpleBody, false))
	if rec.Code != http.StatusOK {
		t.Fatalf("second status = %d", rec.Code)
	}

	if f.provider.callCount() != 1 {
		t.Fatalf("expected one upstream dispatch total, got %d", f.provider.callCount())
	}

	var resp types.ChatCompletionResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Extension == nil || !resp.Extension.CacheHit {
		t.Fatalf("second response must be a cache hit, extension = %+v", resp.Extension)
	}
	if resp.Extension.CacheSimilarity < 0.97 {
		t.Fatalf("hit similarity %f below threshold", resp.Extension.CacheSimilarity)
	}

	records := drainLedger(t, f)
	if len(records) != 2 {
		t.Fatalf("expected two ledger records, got %d", len(records))
	}
	if !records[1].CacheHit {
		t.Fatal("second ledger record must be a cache hit")
	}
}

func TestWalletExhaustedRejection(t *testing.T) {
	f := newFixture(t, 0.0000001)
	handler := NewChatHandler(f.deps)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, chatRequest(t, simpleBody, false))

	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("status = %d", rec.Code)
	}
	if f.provider.callCount() != 0 {
		t.Fatal("an exhausted wallet must not dispatch upstream")
	}

	// Wallet state unchanged; the only ledger entry is the rejection.
	w, _ := f.store.Get(context.Background(), "w1")
	if w.Spent != 0 || w.Reserved != 0 {
		t.Fatalf("wallet mutated: %+v", w)
	}
	records := drainLedger(t, f)
	if len(records) != 1 || records[0].Kind != ledger.EventRejection {
		t.Fatalf("records = %+v", records)
	}
	if records[0].ErrorCode != string(types.CodeWalletExhausted) {
		t.Fatalf("error code = %s", records[0].ErrorCode)
	}
}

// failingWriter drops the connection after a fixed number of chunk
// writes, simulating a client disconnect mid-stream.
type failingWriter struct {
	header     http.Header
	writes     int
	failAfter  int
	wroteFirst bool
}

func newFailingWriter(failAfter int) *failingWriter {
	return &failingWriter{header: make(http.Header), failAfter: failAfter}
}

func (f *failingWriter) Header() http.Header { return f.header }
func (f *failingWriter) WriteHeader(int)     {}
func (f *failingWriter) Flush()              {}

func (f *failingWriter) Write(p []byte) (int, error) {
	f.writes++
	if f.writes > f.failAfter {
		return 0, errors.New("broken pipe")
	}
	f.wroteFirst = true
	return len(p), nil
}

func TestStreamingClientDisconnect(t *testing.T) {
	f := newFixture(t, 10000)

	// Fifty content events; the client drops after twenty writes.
	chunks := make([]providers.StreamChunk, 0, 51)
	for i := 0; i < 50; i++ {
		chunks = append(chunks, providers.StreamChunk{Delta: fmt.Sprintf("token%02d ", i)})
	}
	chunks = append(chunks, providers.StreamChunk{
		FinishReason: "stop",
		Usage:        &providers.TokenUsage{PromptTokens: 20, CompletionTokens: 400, TotalTokens: 420},
	})
	f.provider.streamChunks = chunks

	handler := NewChatHandler(f.deps)
	streamBody := `{"model":"gpt-4o","stream":true,"messages":[{"role":"user","content":"go"}]}`

	w := newFailingWriter(20)
	handler.ServeHTTP(w, chatRequest(t, streamBody, true))

	records := drainLedger(t, f)
	if len(records) != 1 {
		t.Fatalf("expected one ledger record, got %d", len(records))
	}
	r := records[0]
	if r.FinishReason != "client_disconnect" {
		t.Fatalf("finish reason = %s", r.FinishReason)
	}

	// Billed tokens reflect the twenty forwarded events, not the full
	// fifty and not the provider's final usage frame.
	if r.OutputTokens == 0 {
		t.Fatal("forwarded tokens must be billed")
	}
	if r.OutputTokens >= 400 {
		t.Fatalf("billed %d output tokens; the unsent tail must not be billed", r.OutputTokens)
	}

	// The wallet charge matches the ledger record.
	wlt, _ := f.store.Get(context.Background(), "w1")
	if wlt.Spent != r.Cost {
		t.Fatalf("wallet spent %f != ledger cost %f", wlt.Spent, r.Cost)
	}
	if wlt.Reserved != 0 {
		t.Fatalf("reservation not settled: %f", wlt.Reserved)
	}
}

func TestStreamingNormalCompletion(t *testing.T) {
	f := newFixture(t, 10000)

	f.provider.streamChunks = []providers.StreamChunk{
		{Delta: "Hello"},
		{Delta: " world"},
		{FinishReason: "stop", Usage: &providers.TokenUsage{PromptTokens: 5, CompletionTokens: 2, TotalTokens: 7}},
	}

	handler := NewChatHandler(f.deps)
	streamBody := `{"model":"gpt-4o","stream":true,"messages":[{"role":"user","content":"hi"}]}`

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, chatRequest(t, streamBody, true))

	body := rec.Body.String()
	if !strings.Contains(body, `"content":"Hello"`) || !strings.Contains(body, "data: [DONE]") {
		t.Fatalf("stream body = %s", body)
	}

	records := drainLedger(t, f)
	if len(records) != 1 {
		t.Fatalf("records = %d", len(records))
	}
	r := records[0]
	if r.FinishReason != "stop" {
		t.Fatalf("finish reason = %s", r.FinishReason)
	}
	// Authoritative usage replaces the streaming estimate.
	if r.InputTokens != 5 || r.OutputTokens != 2 {
		t.Fatalf("usage = %d/%d", r.InputTokens, r.OutputTokens)
	}
}
