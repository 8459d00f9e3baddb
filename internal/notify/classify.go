package notify

import "strings"

// Severity is the 3-way classification of a failure message.
type Severity string

const (
	SeverityCritical  Severity = "critical"
	SeverityPermanent Severity = "permanent"
	SeverityTransient Severity = "transient"
)

// classifyRule is one ordered entry of the failure classifier. Rules are
// evaluated top to bottom; the first severity whose patterns match wins,
// and unmatched messages default to transient. The order critical >
// permanent > transient is a documented contract, not incidental.
type classifyRule struct {
	Severity Severity
	Patterns []string
}

var classifyRules = []classifyRule{
	{
		Severity: SeverityCritical,
		Patterns: []string{
			"disk full",
			"no space left",
			"permission denied",
			"access denied",
			"authentication failed",
			"unauthorized",
			"invalid api key",
			"auth failure",
		},
	},
	{
		Severity: SeverityPermanent,
		Patterns: []string{
			"all releases exhausted",
			"artist not found",
			"no albums left to try",
			"invalid mbid",
			"never started",
		},
	},
	{
		Severity: SeverityTransient,
		Patterns: []string{
			"no sources found",
			"rate limited",
			"timed out",
			"timeout",
			"connection refused",
			"connection reset",
			"temporarily unavailable",
			"no releases available",
		},
	},
}

// ClassifyFailure maps a free-text failure message onto a severity.
// Matching is case-insensitive substring search over an ordered rule
// table; anything unmatched is treated as transient.
func ClassifyFailure(text string) Severity {
	msg := strings.ToLower(text)
	for _, rule := range classifyRules {
		for _, p := range rule.Patterns {
			if strings.Contains(msg, p) {
				return rule.Severity
			}
		}
	}
	return SeverityTransient
}
