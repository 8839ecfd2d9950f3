package metering

// Usage is the settled token consumption of a request.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CostEngine turns token usage into USD amounts using the price table.
type CostEngine struct {
	prices *PriceTable
}

// NewCostEngine creates a cost engine over the given price table.
func NewCostEngine(prices *PriceTable) *CostEngine {
	return &CostEngine{prices: prices}
}

// Cost computes the USD cost of a settled request.
func (e *CostEngine) Cost(provider, model string, usage Usage) float64 {
	price, _ := e.prices.Lookup(provider, model)
	inputCost := float64(usage.PromptTokens) / 1_000_000 * price.InputPer1M
	outputCost := float64(usage.CompletionTokens) / 1_000_000 * price.OutputPer1M
	return inputCost + outputCost
}

// EstimateCost computes the pre-dispatch reservation amount: the prompt
// estimate priced as input plus maxOutputTokens priced as output. When the
// client sets no max, a conservative default generation size is assumed.
func (e *CostEngine) EstimateCost(provider, model string, promptTokens, maxOutputTokens int) float64 {
	if maxOutputTokens <= 0 {
		maxOutputTokens = defaultReserveOutputTokens
	}
	return e.Cost(provider, model, Usage{
		PromptTokens:     promptTokens,
		CompletionTokens: maxOutputTokens,
		TotalTokens:      promptTokens + maxOutputTokens,
	})
}

// defaultReserveOutputTokens is the assumed generation size when the client
// does not bound max_tokens. Over-reservation is released at settle.
const defaultReserveOutputTokens = 1024

// Prices exposes the underlying price table.
func (e *CostEngine) Prices() *PriceTable {
	return e.prices
}
