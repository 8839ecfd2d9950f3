package scan

import (
	"math"
	"regexp"
	"strings"
)

// secretPattern is one entry of the curated secret library.
type secretPattern struct {
	typ      FindingType
	severity Severity
	regex    *regexp.Regexp
}

var secretPatterns = []secretPattern{
	// Provider and platform API keys.
	{FindingAPIKey, SeverityCritical, regexp.MustCompile(`\bsk-[a-zA-Z0-9_-]{20,}\b`)},
	{FindingAPIKey, SeverityCritical, regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`)},
	{FindingAPIKey, SeverityCritical, regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{36,}\b`)},
	{FindingAPIKey, SeverityCritical, regexp.MustCompile(`\bxox[baprs]-[A-Za-z0-9-]{10,}\b`)},
	{FindingAPIKey, SeverityCritical, regexp.MustCompile(`\bAIza[0-9A-Za-z_-]{35}\b`)},

	// PEM private key blocks.
	{FindingPrivateKey, SeverityCritical, regexp.MustCompile(`-----BEGIN (?:RSA |EC |OPENSSH |PGP )?PRIVATE KEY(?: BLOCK)?-----`)},

	// Signed JWTs.
	{FindingToken, SeverityHigh, regexp.MustCompile(`\beyJ[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}\b`)},

	// Bearer headers pasted into prompts.
	{FindingToken, SeverityHigh, regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9\-._~+/]{20,}=*`)},
}

// Entropy gate for the generic high-entropy token detector. Random keys
// sit well above 4.5 bits/char; prose sits near 4.0.
const (
	entropyThreshold  = 4.7
	entropyMinLength  = 24
	entropyCandidates = `[A-Za-z0-9+/_=-]{24,}`
)

var entropyCandidateRegex = regexp.MustCompile(entropyCandidates)

// shannonEntropy returns bits per character of s.
func shannonEntropy(s string) float64 {
	if s == "" {
		return 0
	}
	freq := make(map[rune]int)
	for _, r := range s {
		freq[r]++
	}
	length := float64(len([]rune(s)))
	entropy := 0.0
	for _, count := range freq {
		p := float64(count) / length
		entropy -= p * math.Log2(p)
	}
	return entropy
}

// detectSecrets returns secret findings over the payload: curated
// patterns first, then the entropy detector over remaining candidates.
func detectSecrets(payload string) []Finding {
	var findings []Finding
	covered := make([][2]int, 0, 4)

	for _, p := range secretPatterns {
		for _, loc := range p.regex.FindAllStringIndex(payload, -1) {
			findings = append(findings, Finding{
				Type:     p.typ,
				Category: CategorySecret,
				Severity: p.severity,
				Start:    loc[0],
				End:      loc[1],
			})
			covered = append(covered, [2]int{loc[0], loc[1]})
		}
	}

	for _, loc := range entropyCandidateRegex.FindAllStringIndex(payload, -1) {
		if overlapsAny(loc[0], loc[1], covered) {
			continue
		}
		candidate := payload[loc[0]:loc[1]]
		if len(candidate) < entropyMinLength {
			continue
		}
		// Long hex blobs (hashes, ids) are common in prompts; require
		// mixed-case alphanumerics before treating entropy as a secret.
		if !strings.ContainsAny(candidate, "abcdefghijklmnopqrstuvwxyz") ||
			!strings.ContainsAny(candidate, "ABCDEFGHIJKLMNOPQRSTUVWXYZ") {
			continue
		}
		if shannonEntropy(candidate) >= entropyThreshold {
			findings = append(findings, Finding{
				Type:     FindingToken,
				Category: CategorySecret,
				Severity: SeverityHigh,
				Start:    loc[0],
				End:      loc[1],
			})
		}
	}

	return findings
}

func overlapsAny(start, end int, spans [][2]int) bool {
	for _, s := range spans {
		if start < s[1] && end > s[0] {
			return true
		}
	}
	return false
}
