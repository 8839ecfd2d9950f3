package routing

import (
	"context"
	"errors"
	"testing"

	"strato-hq/aegis/pkg/providers"
)

func TestFailoverOnRateLimit(t *testing.T) {
	primary := &fakeProvider{
		cfg:      providers.Config{Name: "primary", Priority: 1, Models: chatModels("gpt-4o")},
		failures: []error{&providers.RateLimitError{Provider: "primary"}},
	}
	fallback := &fakeProvider{cfg: providers.Config{Name: "fallback", Priority: 2, Models: chatModels("gpt-4o")}}

	registry := buildRegistry(t, primary, fallback)
	router := NewRouter(registry, StrategyPriority, nil, nil)

	decision, err := router.Select(&Request{CorrelationID: "c", Model: "gpt-4o"})
	if err != nil {
		t.Fatalf("select: %v", err)
	}

	result, err := router.Execute(context.Background(), decision, &providers.CompletionRequest{Model: "gpt-4o"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Provider.Name() != "fallback" {
		t.Fatalf("expected fallback to serve, got %s", result.Provider.Name())
	}
	if result.Failovers != 1 {
		t.Fatalf("expected one failover event, got %d", result.Failovers)
	}
	if primary.callCount() != 1 {
		t.Fatalf("429 must not retry the same connector, calls = %d", primary.callCount())
	}
}

func TestServerErrorRetriesSameConnectorThenAdvances(t *testing.T) {
	boom := &providers.ProviderError{Provider: "primary", StatusCode: 502, Message: "bad gateway"}
	primary := &fakeProvider{
		cfg:      providers.Config{Name: "primary", Priority: 1, Models: chatModels("gpt-4o")},
		failures: []error{boom, boom, boom, boom, boom},
	}
	fallback := &fakeProvider{cfg: providers.Config{Name: "fallback", Priority: 2, Models: chatModels("gpt-4o")}}

	registry := buildRegistry(t, primary, fallback)
	router := NewRouter(registry, StrategyPriority, nil, nil)

	decision, _ := router.Select(&Request{CorrelationID: "c", Model: "gpt-4o"})
	result, err := router.Execute(context.Background(), decision, &providers.CompletionRequest{Model: "gpt-4o"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	// Initial attempt plus three backed-off retries, then the chain
	// advances.
	if primary.callCount() != 4 {
		t.Fatalf("expected 4 attempts on primary, got %d", primary.callCount())
	}
	if result.Provider.Name() != "fallback" {
		t.Fatalf("expected fallback to serve, got %s", result.Provider.Name())
	}
}

func TestChainExhausted(t *testing.T) {
	only := &fakeProvider{
		cfg:      providers.Config{Name: "only", Priority: 1, Models: chatModels("gpt-4o")},
		failures: []error{&providers.NetworkError{Provider: "only", Cause: errors.New("refused")}},
	}

	registry := buildRegistry(t, only)
	router := NewRouter(registry, StrategyPriority, nil, nil)

	decision, _ := router.Select(&Request{CorrelationID: "c", Model: "gpt-4o"})
	_, err := router.Execute(context.Background(), decision, &providers.CompletionRequest{Model: "gpt-4o"})
	if err == nil {
		t.Fatal("expected chain exhausted error")
	}

	var exhausted *ErrChainExhausted
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected ErrChainExhausted, got %v", err)
	}
	if exhausted.LastProvider != "only" {
		t.Fatalf("final connector must be identified, got %s", exhausted.LastProvider)
	}
}

func TestAuthErrorStopsChain(t *testing.T) {
	primary := &fakeProvider{
		cfg:      providers.Config{Name: "primary", Priority: 1, Models: chatModels("gpt-4o")},
		failures: []error{&providers.AuthError{Provider: "primary", Message: "bad key"}},
	}
	fallback := &fakeProvider{cfg: providers.Config{Name: "fallback", Priority: 2, Models: chatModels("gpt-4o")}}

	registry := buildRegistry(t, primary, fallback)
	router := NewRouter(registry, StrategyPriority, nil, nil)

	decision, _ := router.Select(&Request{CorrelationID: "c", Model: "gpt-4o"})
	_, err := router.Execute(context.Background(), decision, &providers.CompletionRequest{Model: "gpt-4o"})
	if err == nil {
		t.Fatal("expected auth error to surface")
	}
	if fallback.callCount() != 0 {
		t.Fatal("credential failures must not advance the chain")
	}
}

func TestNetworkErrorAdvancesImmediately(t *testing.T) {
	primary := &fakeProvider{
		cfg:      providers.Config{Name: "primary", Priority: 1, Models: chatModels("gpt-4o")},
		failures: []error{&providers.NetworkError{Provider: "primary", Cause: errors.New("unreachable")}},
	}
	fallback := &fakeProvider{cfg: providers.Config{Name: "fallback", Priority: 2, Models: chatModels("gpt-4o")}}

	registry := buildRegistry(t, primary, fallback)
	router := NewRouter(registry, StrategyPriority, nil, nil)

	decision, _ := router.Select(&Request{CorrelationID: "c", Model: "gpt-4o"})
	result, err := router.Execute(context.Background(), decision, &providers.CompletionRequest{Model: "gpt-4o"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if primary.callCount() != 1 || result.Provider.Name() != "fallback" {
		t.Fatalf("network error must advance immediately: primary calls %d, served by %s",
			primary.callCount(), result.Provider.Name())
	}
}
