package routing

import (
	"strato-hq/aegis/pkg/providers"
)

// Strategy orders the surviving connectors.
type Strategy string

const (
	// StrategyPriority uses configured connector priority, healthy first.
	StrategyPriority Strategy = "priority"

	// StrategyCost orders by per-unit price, ties broken by P95 latency.
	StrategyCost Strategy = "cost"

	// StrategyLatency orders by recent P95 latency.
	StrategyLatency Strategy = "latency"
)

// Request is the routing input derived from the request context.
type Request struct {
	CorrelationID string
	Tenant        string
	Team          string
	Actor         string

	// Model is the client-requested model alias.
	Model string

	FeatureTag         string
	DataClassification string

	// ResidencyRegions is the tenant's residency constraint; empty means
	// unconstrained.
	ResidencyRegions []string

	// WalletUtilization is the actor's effective wallet utilization in
	// [0, 1], used by utilization-conditioned rules.
	WalletUtilization float64

	EstimatedTokens int

	// Streaming requires connectors that advertise the capability.
	Streaming bool

	// Embeddings requires connectors whose model advertises the
	// embeddings capability.
	Embeddings bool

	// RequireSelfHosted restricts candidates to self-hosted connectors;
	// set by policy for data-classified requests.
	RequireSelfHosted bool

	// StrategyHint overrides the configured strategy when set.
	StrategyHint Strategy

	// FallbackModels extends the failover chain with client-supplied
	// alternatives, tried in order after the resolved model's chain.
	FallbackModels []string
}

// Candidate is one dispatchable (connector, model) pair.
type Candidate struct {
	Provider providers.Provider
	Model    *providers.ModelInfo
}

// Decision is the routing outcome.
type Decision struct {
	// Model is the resolved model alias after rule evaluation.
	Model string

	// Candidates is the ordered dispatch list: head primary, tail the
	// failover chain.
	Candidates []Candidate

	// Reason is the machine-readable routing reason for the ledger and
	// response augmentation.
	Reason string

	// RuleID names the rule that decided, empty when no rule matched.
	RuleID string

	// Blocked is set when a block or require-approval rule matched.
	Blocked      bool
	BlockCode    string
	BlockMessage string

	// ExperimentArm tags experiment traffic ("control", "variant").
	ExperimentArm string

	// DryRunRules lists rules that matched in dry-run mode.
	DryRunRules []string

	// Metadata carries add-metadata rule outputs.
	Metadata map[string]string
}
