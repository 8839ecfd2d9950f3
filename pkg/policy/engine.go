package policy

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// Rule is one condition→action pair. Rules evaluate in ascending Priority
// order; the first match decides.
type Rule struct {
	ID       string `yaml:"id" json:"id"`
	Priority int    `yaml:"priority" json:"priority"`
	Disabled bool   `yaml:"disabled" json:"disabled,omitempty"`

	// Conditions. Empty fields match anything.
	Tenant             string  `yaml:"tenant" json:"tenant,omitempty"`
	Team               string  `yaml:"team" json:"team,omitempty"`
	Model              string  `yaml:"model" json:"model,omitempty"`
	FeatureTag         string  `yaml:"feature_tag" json:"feature_tag,omitempty"`
	DataClassification string  `yaml:"data_classification" json:"data_classification,omitempty"`
	MinInjectionScore  float64 `yaml:"min_injection_score" json:"min_injection_score,omitempty"`
	PIIDetected        bool    `yaml:"pii_detected" json:"pii_detected,omitempty"`
	SecretDetected     bool    `yaml:"secret_detected" json:"secret_detected,omitempty"`
	MinEstimatedTokens int     `yaml:"min_estimated_tokens" json:"min_estimated_tokens,omitempty"`

	// Outcome.
	Action            Action `yaml:"action" json:"action"`
	RerouteModel      string `yaml:"reroute_model" json:"reroute_model,omitempty"`
	RequireSelfHosted bool   `yaml:"require_self_hosted" json:"require_self_hosted,omitempty"`
	Reason            string `yaml:"reason" json:"reason,omitempty"`
}

type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

// Engine is the in-process evaluator over an ordered rule list.
type Engine struct {
	mu    sync.RWMutex
	rules []Rule
}

// NewEngine creates an engine with the given rules.
func NewEngine(rules []Rule) *Engine {
	e := &Engine{}
	e.Replace(rules)
	return e
}

// LoadEngine reads a YAML rule file.
func LoadEngine(path string) (*Engine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file %q: %w", path, err)
	}

	var file ruleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse policy file %q: %w", path, err)
	}

	return NewEngine(file.Rules), nil
}

// Replace swaps the rule set, re-sorting by priority.
func (e *Engine) Replace(rules []Rule) {
	sorted := make([]Rule, 0, len(rules))
	for _, r := range rules {
		if !r.Disabled {
			sorted = append(sorted, r)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority < sorted[j].Priority
	})

	e.mu.Lock()
	e.rules = sorted
	e.mu.Unlock()
}

// Evaluate runs the rule list top-down and returns the first match.
// No match allows.
func (e *Engine) Evaluate(ctx context.Context, in *Input) (*Decision, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.RLock()
	rules := e.rules
	e.mu.RUnlock()

	for i := range rules {
		r := &rules[i]
		if !r.matches(in) {
			continue
		}

		decision := &Decision{
			Action:            r.Action,
			RuleID:            r.ID,
			Reason:            r.Reason,
			RerouteModel:      r.RerouteModel,
			RequireSelfHosted: r.RequireSelfHosted,
			ActionsTaken:      []string{string(r.Action)},
		}
		if decision.Reason == "" {
			decision.Reason = "policy:" + r.ID
		}
		return decision, nil
	}

	return Allow(), nil
}

func (r *Rule) matches(in *Input) bool {
	if r.Tenant != "" && r.Tenant != in.Tenant {
		return false
	}
	if r.Team != "" && r.Team != in.Team {
		return false
	}
	if r.Model != "" && r.Model != in.Model {
		return false
	}
	if r.FeatureTag != "" && r.FeatureTag != in.FeatureTag {
		return false
	}
	if r.DataClassification != "" && r.DataClassification != in.DataClassification {
		return false
	}
	if r.MinInjectionScore > 0 && in.InjectionScore < r.MinInjectionScore {
		return false
	}
	if r.PIIDetected && len(in.PIITypes) == 0 {
		return false
	}
	if r.SecretDetected && !in.SecretDetected {
		return false
	}
	if r.MinEstimatedTokens > 0 && in.EstimatedTokens < r.MinEstimatedTokens {
		return false
	}
	return true
}
