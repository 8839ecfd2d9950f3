package scan

import "regexp"

// injectionPattern is one known jailbreak or override phrasing with its
// contribution to the composite risk score.
type injectionPattern struct {
	regex  *regexp.Regexp
	weight float64
}

var injectionPatterns = []injectionPattern{
	{regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|prior|above)\s+(instructions|prompts|rules)`), 0.6},
	{regexp.MustCompile(`(?i)disregard\s+(your|all|any)\s+(instructions|guidelines|rules)`), 0.6},
	{regexp.MustCompile(`(?i)you\s+are\s+now\s+(DAN|in\s+developer\s+mode|unrestricted)`), 0.7},
	{regexp.MustCompile(`(?i)pretend\s+(you\s+are|to\s+be)\s+(an?\s+)?(unrestricted|uncensored|jailbroken)`), 0.7},
	{regexp.MustCompile(`(?i)reveal\s+(your|the)\s+(system\s+prompt|initial\s+instructions|hidden\s+instructions)`), 0.5},
	{regexp.MustCompile(`(?i)repeat\s+(everything|all\s+text)\s+(above|before)`), 0.4},
	{regexp.MustCompile(`(?i)\bsystem\s*:\s*`), 0.2},
	{regexp.MustCompile(`(?i)act\s+as\s+(if\s+you\s+have\s+no|without\s+any)\s+(restrictions|filters|guidelines)`), 0.6},
	{regexp.MustCompile(`(?i)(bypass|override|disable)\s+(your\s+)?(safety|content|security)\s+(filter|policy|restriction)`), 0.7},
	{regexp.MustCompile(`(?i)do\s+anything\s+now`), 0.5},
	{regexp.MustCompile("(?s)```.*?(ignore|system prompt|instructions).*?```"), 0.2},
}

// detectInjection scans for injection phrasings. The composite score is
// the capped sum of matched pattern weights; each match also produces a
// finding so redaction and incidents can reference the span.
func detectInjection(payload string) ([]Finding, float64) {
	var findings []Finding
	score := 0.0

	for _, p := range injectionPatterns {
		locs := p.regex.FindAllStringIndex(payload, -1)
		if len(locs) == 0 {
			continue
		}
		score += p.weight
		for _, loc := range locs {
			findings = append(findings, Finding{
				Type:     FindingInjection,
				Category: CategoryInjection,
				Severity: severityForWeight(p.weight),
				Start:    loc[0],
				End:      loc[1],
			})
		}
	}

	if score > 1 {
		score = 1
	}
	return findings, score
}

func severityForWeight(weight float64) Severity {
	switch {
	case weight >= 0.7:
		return SeverityCritical
	case weight >= 0.5:
		return SeverityHigh
	case weight >= 0.3:
		return SeverityMedium
	default:
		return SeverityLow
	}
}
