package scan

import "regexp"

// piiPattern pairs a compiled regex with its finding type and severity.
type piiPattern struct {
	typ      FindingType
	severity Severity
	regex    *regexp.Regexp
	// validate, when set, filters matches (Luhn for card numbers).
	validate func(string) bool
}

var piiPatterns = []piiPattern{
	{
		typ:      FindingEmail,
		severity: SeverityMedium,
		regex:    regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`),
	},
	{
		typ:      FindingSSN,
		severity: SeverityHigh,
		regex:    regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
	},
	{
		typ:      FindingCreditCard,
		severity: SeverityCritical,
		regex:    regexp.MustCompile(`\b(?:\d[ -]?){13,16}\b`),
		validate: luhnValid,
	},
	{
		typ:      FindingPhone,
		severity: SeverityMedium,
		regex:    regexp.MustCompile(`\b(?:\+?1[-.\s]?)?\(?\d{3}\)?[-.\s]\d{3}[-.\s]?\d{4}\b`),
	},
	{
		typ:      FindingIPAddress,
		severity: SeverityLow,
		regex:    regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4]\d|1?\d?\d)\.){3}(?:25[0-5]|2[0-4]\d|1?\d?\d)\b`),
	},
	{
		typ:      FindingMedicalRecord,
		severity: SeverityHigh,
		regex:    regexp.MustCompile(`\b(?i:MRN)[:#\s]*\d{6,10}\b`),
	},
	{
		// Honorific followed by capitalized words. Stands in for a
		// named-entity model on unstructured names; structured PII above
		// carries the detection weight.
		typ:      FindingPersonName,
		severity: SeverityLow,
		regex:    regexp.MustCompile(`\b(?:Mr|Mrs|Ms|Dr|Prof)\.\s+[A-Z][a-z]+(?:\s+[A-Z][a-z]+)?`),
	},
}

// luhnValid reports whether the digits in s pass the Luhn checksum.
// Separators are skipped.
func luhnValid(s string) bool {
	var digits []int
	for _, r := range s {
		if r >= '0' && r <= '9' {
			digits = append(digits, int(r-'0'))
		}
	}
	if len(digits) < 13 || len(digits) > 19 {
		return false
	}

	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := digits[i]
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

// detectPII returns PII findings over the payload.
func detectPII(payload string) []Finding {
	var findings []Finding
	for _, p := range piiPatterns {
		for _, loc := range p.regex.FindAllStringIndex(payload, -1) {
			if p.validate != nil && !p.validate(payload[loc[0]:loc[1]]) {
				continue
			}
			findings = append(findings, Finding{
				Type:     p.typ,
				Category: CategoryPII,
				Severity: p.severity,
				Start:    loc[0],
				End:      loc[1],
			})
		}
	}
	return findings
}
