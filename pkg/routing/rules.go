package routing

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// RuleAction is the outcome of a matched routing rule.
type RuleAction string

const (
	RuleAllow           RuleAction = "allow"
	RuleReroute         RuleAction = "reroute"
	RuleBlock           RuleAction = "block"
	RuleRequireApproval RuleAction = "require_approval"
	RuleAddMetadata     RuleAction = "add_metadata"
)

// Rule is one ordered condition→action pair. Rules evaluate in ascending
// Priority; the first enforced match decides.
type Rule struct {
	ID       string `yaml:"id" json:"id"`
	Priority int    `yaml:"priority" json:"priority"`
	Active   bool   `yaml:"active" json:"active"`

	// DryRun evaluates the rule and records the decision it would have
	// made without enforcing it.
	DryRun bool `yaml:"dry_run" json:"dry_run"`

	// Conditions. Empty fields match anything.
	Tenant             string  `yaml:"tenant" json:"tenant,omitempty"`
	Team               string  `yaml:"team" json:"team,omitempty"`
	Model              string  `yaml:"model" json:"model,omitempty"`
	FeatureTag         string  `yaml:"feature_tag" json:"feature_tag,omitempty"`
	DataClassification string  `yaml:"data_classification" json:"data_classification,omitempty"`
	MinUtilization     float64 `yaml:"min_utilization" json:"min_utilization,omitempty"`
	MinEstimatedTokens int     `yaml:"min_estimated_tokens" json:"min_estimated_tokens,omitempty"`

	// HourStart/HourEnd restrict the rule to a daily window [start, end)
	// in UTC. Both zero means always.
	HourStart int `yaml:"hour_start" json:"hour_start,omitempty"`
	HourEnd   int `yaml:"hour_end" json:"hour_end,omitempty"`

	// Outcome.
	Action       RuleAction        `yaml:"action" json:"action"`
	RerouteModel string            `yaml:"reroute_model" json:"reroute_model,omitempty"`
	Metadata     map[string]string `yaml:"metadata" json:"metadata,omitempty"`
	Message      string            `yaml:"message" json:"message,omitempty"`

	// Experiment splits traffic between the resolved model and
	// ExperimentModel with the given variant fraction.
	ExperimentModel string  `yaml:"experiment_model" json:"experiment_model,omitempty"`
	ExperimentSplit float64 `yaml:"experiment_split" json:"experiment_split,omitempty"`
}

type rulesFile struct {
	Rules []Rule `yaml:"rules"`
}

// LoadRules reads and orders a YAML rules file.
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read routing rules %q: %w", path, err)
	}

	var file rulesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse routing rules %q: %w", path, err)
	}

	rules := file.Rules
	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].Priority < rules[j].Priority
	})
	return rules, nil
}

// matches reports whether the rule's conditions hold for the request.
func (r *Rule) matches(req *Request, now time.Time) bool {
	if !r.Active {
		return false
	}
	if r.Tenant != "" && r.Tenant != req.Tenant {
		return false
	}
	if r.Team != "" && r.Team != req.Team {
		return false
	}
	if r.Model != "" && r.Model != req.Model {
		return false
	}
	if r.FeatureTag != "" && r.FeatureTag != req.FeatureTag {
		return false
	}
	if r.DataClassification != "" && r.DataClassification != req.DataClassification {
		return false
	}
	if r.MinUtilization > 0 && req.WalletUtilization < r.MinUtilization {
		return false
	}
	if r.MinEstimatedTokens > 0 && req.EstimatedTokens < r.MinEstimatedTokens {
		return false
	}
	if r.HourStart != 0 || r.HourEnd != 0 {
		hour := now.UTC().Hour()
		if r.HourStart <= r.HourEnd {
			if hour < r.HourStart || hour >= r.HourEnd {
				return false
			}
		} else {
			// Window wraps midnight.
			if hour < r.HourStart && hour >= r.HourEnd {
				return false
			}
		}
	}
	return true
}

// experimentArm deterministically assigns a request to an experiment arm
// from its correlation id, so retries of the same request stay in the
// same arm.
func experimentArm(correlationID string, split float64) (model bool, arm string) {
	sum := sha256.Sum256([]byte(correlationID))
	bucket := float64(binary.BigEndian.Uint32(sum[:4])%10000) / 10000.0
	if bucket < split {
		return true, "variant"
	}
	return false, "control"
}
