package routing

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"strato-hq/aegis/pkg/providers"
)

// ErrNoCandidates means no connector survived the selection filters.
var ErrNoCandidates = errors.New("no connector can serve this request")

// ErrChainExhausted means every candidate in the failover chain failed.
type ErrChainExhausted struct {
	// LastProvider is the final connector attempted.
	LastProvider string
	// Cause is the final connector's error.
	Cause error
}

// Error implements the error interface.
func (e *ErrChainExhausted) Error() string {
	return fmt.Sprintf("failover chain exhausted, last provider %s: %v", e.LastProvider, e.Cause)
}

// Unwrap returns the final connector's error.
func (e *ErrChainExhausted) Unwrap() error {
	return e.Cause
}

// Router selects connectors and executes calls with failover.
type Router struct {
	registry *providers.Registry
	strategy Strategy
	logger   *slog.Logger

	mu    sync.RWMutex
	rules []Rule
}

// NewRouter creates a router over the connector registry.
func NewRouter(registry *providers.Registry, strategy Strategy, rules []Rule, logger *slog.Logger) *Router {
	if strategy == "" {
		strategy = StrategyPriority
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		registry: registry,
		strategy: strategy,
		logger:   logger.With("component", "routing"),
		rules:    rules,
	}
}

// ReplaceRules swaps the rule set (hot reload).
func (r *Router) ReplaceRules(rules []Rule) {
	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].Priority < rules[j].Priority
	})
	r.mu.Lock()
	r.rules = rules
	r.mu.Unlock()
	r.logger.Info("routing rules replaced", "count", len(rules))
}

// Select resolves the (connector, model) candidates for a request.
func (r *Router) Select(req *Request) (*Decision, error) {
	decision := r.applyRules(req)
	if decision.Blocked {
		return decision, nil
	}

	candidates := r.candidatesFor(decision.Model, req)

	// Client-supplied fallback models extend the chain.
	for _, alias := range req.FallbackModels {
		if alias == decision.Model {
			continue
		}
		candidates = append(candidates, r.candidatesFor(alias, req)...)
	}

	if len(candidates) == 0 {
		return nil, ErrNoCandidates
	}

	decision.Candidates = candidates
	return decision, nil
}

// applyRules evaluates the ordered rule list. Dry-run matches are
// recorded but never affect the outcome.
func (r *Router) applyRules(req *Request) *Decision {
	r.mu.RLock()
	rules := r.rules
	r.mu.RUnlock()

	now := time.Now()
	decision := &Decision{
		Model:    req.Model,
		Reason:   "requested_model",
		Metadata: make(map[string]string),
	}

	for i := range rules {
		rule := &rules[i]
		if !rule.matches(req, now) {
			continue
		}

		if rule.DryRun {
			decision.DryRunRules = append(decision.DryRunRules, rule.ID)
			continue
		}

		switch rule.Action {
		case RuleBlock:
			decision.Blocked = true
			decision.BlockCode = "policy_denied"
			decision.BlockMessage = rule.Message
			decision.RuleID = rule.ID
			decision.Reason = "rule:" + rule.ID
			return decision

		case RuleRequireApproval:
			decision.Blocked = true
			decision.BlockCode = "approval_required"
			decision.BlockMessage = rule.Message
			decision.RuleID = rule.ID
			decision.Reason = "rule:" + rule.ID
			return decision

		case RuleReroute:
			decision.Model = rule.RerouteModel
			decision.RuleID = rule.ID
			decision.Reason = "rule:" + rule.ID
			r.applyExperiment(req, rule, decision)
			return decision

		case RuleAddMetadata:
			for k, v := range rule.Metadata {
				decision.Metadata[k] = v
			}
			// add_metadata rules annotate and fall through to later rules.
			continue

		case RuleAllow, "":
			decision.RuleID = rule.ID
			decision.Reason = "rule:" + rule.ID
			r.applyExperiment(req, rule, decision)
			return decision
		}
	}

	return decision
}

func (r *Router) applyExperiment(req *Request, rule *Rule, decision *Decision) {
	if rule.ExperimentModel == "" || rule.ExperimentSplit <= 0 {
		return
	}
	useVariant, arm := experimentArm(req.CorrelationID, rule.ExperimentSplit)
	decision.ExperimentArm = arm
	if useVariant {
		decision.Model = rule.ExperimentModel
		decision.Reason = fmt.Sprintf("rule:%s:experiment", rule.ID)
	}
}

// candidatesFor builds the ordered candidate list for one model alias.
func (r *Router) candidatesFor(alias string, req *Request) []Candidate {
	var candidates []Candidate

	for _, provider := range r.registry.ForModel(alias) {
		cfg := provider.Config()
		model := cfg.Model(alias)

		// Residency filter.
		if !cfg.ServesRegion(req.ResidencyRegions) {
			continue
		}

		// Capability filter.
		if req.Streaming && !model.HasCapability(providers.CapabilityStreaming) {
			continue
		}
		if req.Embeddings && !model.HasCapability(providers.CapabilityEmbeddings) {
			continue
		}
		if req.RequireSelfHosted && !cfg.SelfHosted {
			continue
		}

		// Health filter: down connectors receive no traffic.
		if provider.Health().State() == providers.StateDown {
			continue
		}

		candidates = append(candidates, Candidate{Provider: provider, Model: model})
	}

	r.order(candidates, req)
	return candidates
}

// order sorts candidates by the active strategy.
func (r *Router) order(candidates []Candidate, req *Request) {
	strategy := r.strategy
	if req.StrategyHint != "" {
		strategy = req.StrategyHint
	}

	switch strategy {
	case StrategyCost:
		sort.SliceStable(candidates, func(i, j int) bool {
			pi := candidates[i].Model.InputPricePer1M + candidates[i].Model.OutputPricePer1M
			pj := candidates[j].Model.InputPricePer1M + candidates[j].Model.OutputPricePer1M
			if pi != pj {
				return pi < pj
			}
			return candidates[i].Provider.Health().P95() < candidates[j].Provider.Health().P95()
		})

	case StrategyLatency:
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].Provider.Health().P95() < candidates[j].Provider.Health().P95()
		})

	default:
		sort.SliceStable(candidates, func(i, j int) bool {
			ci := candidates[i].Provider.Config()
			cj := candidates[j].Provider.Config()
			if ci.Priority != cj.Priority {
				return ci.Priority < cj.Priority
			}
			return healthRank(candidates[i].Provider.Health().State()) <
				healthRank(candidates[j].Provider.Health().State())
		})
	}
}

func healthRank(state providers.HealthState) int {
	switch state {
	case providers.StateHealthy:
		return 0
	case providers.StateDegraded:
		return 1
	default:
		return 2
	}
}
