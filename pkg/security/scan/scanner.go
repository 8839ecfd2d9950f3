package scan

import (
	"fmt"
	"sort"
	"strings"
)

// Config selects the action taken per detection category.
type Config struct {
	PIIAction       Action
	SecretAction    Action
	InjectionAction Action

	// InjectionBlockScore is the composite score at or above which the
	// injection action fires; below it injection findings only log.
	InjectionBlockScore float64
}

// Scanner runs all detectors over a payload and resolves the configured
// action. Scanners are stateless and safe for concurrent use.
type Scanner struct {
	config Config
}

// NewScanner creates a scanner.
func NewScanner(config Config) *Scanner {
	if config.PIIAction == "" {
		config.PIIAction = ActionLogOnly
	}
	if config.SecretAction == "" {
		config.SecretAction = ActionLogOnly
	}
	if config.InjectionAction == "" {
		config.InjectionAction = ActionLogOnly
	}
	if config.InjectionBlockScore == 0 {
		config.InjectionBlockScore = 0.8
	}
	return &Scanner{config: config}
}

// Scan runs PII, secret and injection detection over the payload and
// returns the merged report. When the resolved action is redact, Redacted
// holds the payload with matched spans replaced by typed placeholders
// numbered per type ("[EMAIL_1]", "[CARD_1]").
func (s *Scanner) Scan(payload string) *Report {
	report := &Report{Action: ActionAllow}

	piiFindings := detectPII(payload)
	secretFindings := detectSecrets(payload)
	injFindings, score := detectInjection(payload)
	report.InjectionScore = score

	all := make([]Finding, 0, len(piiFindings)+len(secretFindings)+len(injFindings))
	all = append(all, piiFindings...)
	all = append(all, secretFindings...)
	all = append(all, injFindings...)
	if len(all) == 0 {
		return report
	}

	// Resolve the strictest demanded action.
	resolved := ActionAllow
	raise := func(a Action) {
		if actionRank(a) > actionRank(resolved) {
			resolved = a
		}
	}
	if len(piiFindings) > 0 {
		raise(s.config.PIIAction)
	}
	if len(secretFindings) > 0 {
		raise(s.config.SecretAction)
	}
	if len(injFindings) > 0 {
		if score >= s.config.InjectionBlockScore {
			raise(s.config.InjectionAction)
		} else {
			raise(ActionLogOnly)
		}
	}

	// Assign placeholders in document order, numbered per type.
	sort.Slice(all, func(i, j int) bool { return all[i].Start < all[j].Start })
	counters := make(map[FindingType]int)
	for i := range all {
		counters[all[i].Type]++
		all[i].Placeholder = fmt.Sprintf("[%s_%d]", all[i].Type, counters[all[i].Type])
	}

	report.Findings = all
	report.Action = resolved

	if resolved == ActionRedact {
		report.Redacted = redact(payload, all)
	}

	return report
}

// redact replaces matched spans with their placeholders, right to left so
// earlier offsets stay valid. Overlapping spans collapse into the first
// replacement.
func redact(payload string, findings []Finding) string {
	ordered := make([]Finding, len(findings))
	copy(ordered, findings)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Start > ordered[j].Start })

	var sb strings.Builder
	result := payload
	lastStart := len(payload) + 1
	for _, f := range ordered {
		if f.End > lastStart {
			// Overlaps a span already replaced.
			continue
		}
		sb.Reset()
		sb.WriteString(result[:f.Start])
		sb.WriteString(f.Placeholder)
		sb.WriteString(result[f.End:])
		result = sb.String()
		lastStart = f.Start
	}
	return result
}

// Incident is the stored trace of one detection: finding type and
// severity, never the matched content.
type Incident struct {
	Tenant        string      `json:"tenant"`
	CorrelationID string      `json:"correlation_id"`
	Type          FindingType `json:"type"`
	Severity      Severity    `json:"severity"`
	Action        Action      `json:"action"`
}

// Incidents derives incident records from a report.
func Incidents(tenant, correlationID string, report *Report) []Incident {
	out := make([]Incident, 0, len(report.Findings))
	for _, f := range report.Findings {
		out = append(out, Incident{
			Tenant:        tenant,
			CorrelationID: correlationID,
			Type:          f.Type,
			Severity:      f.Severity,
			Action:        report.Action,
		})
	}
	return out
}
