package metering

import (
	"fmt"
	"sync"
)

// ModelPrice holds per-model unit prices in USD per one million tokens.
type ModelPrice struct {
	Provider    string
	Model       string
	InputPer1M  float64
	OutputPer1M float64
}

// Unknown-model fallback prices. Deliberately at the expensive end so a
// misconfigured catalog over-reserves rather than under-bills.
const (
	fallbackInputPer1M  = 15.0
	fallbackOutputPer1M = 75.0
)

// PriceTable maps provider/model pairs to unit prices.
type PriceTable struct {
	mu     sync.RWMutex
	prices map[string]ModelPrice
}

// NewPriceTable creates an empty price table.
func NewPriceTable() *PriceTable {
	return &PriceTable{
		prices: make(map[string]ModelPrice),
	}
}

// Set registers or replaces the price for a provider/model pair.
func (t *PriceTable) Set(price ModelPrice) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.prices[priceKey(price.Provider, price.Model)] = price
	// Also index by bare model so cross-provider lookups can estimate.
	if _, ok := t.prices[price.Model]; !ok {
		t.prices[price.Model] = price
	}
}

// Lookup returns the price for a provider/model pair. The second return
// is false when the fallback price was used.
func (t *PriceTable) Lookup(provider, model string) (ModelPrice, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if p, ok := t.prices[priceKey(provider, model)]; ok {
		return p, true
	}
	if p, ok := t.prices[model]; ok {
		return p, true
	}
	return ModelPrice{
		Provider:    provider,
		Model:       model,
		InputPer1M:  fallbackInputPer1M,
		OutputPer1M: fallbackOutputPer1M,
	}, false
}

func priceKey(provider, model string) string {
	return fmt.Sprintf("%s/%s", provider, model)
}
