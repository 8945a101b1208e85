// Package report turns the free-form output of a debate into a decision and
// a markdown report.
package report

import (
	"regexp"
	"strings"
)

// Decision is the categorical outcome of an analysis.
type Decision string

const (
	Buy  Decision = "BUY"
	Sell Decision = "SELL"
	Hold Decision = "HOLD"
)

// decisionPatterns are tried in order; the first one that matches anywhere
// in the text decides. Labels are case-insensitive and may wrap the value in
// markdown emphasis. The last pattern is a bare upper-case keyword.
var decisionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\baction\s*:\s*[*_]*\s*(buy|sell|hold)\b`),
	regexp.MustCompile(`(?i)\b(?:final\s+decision|final\s+transaction\s+proposal)\s*:\s*[*_]*\s*(buy|sell|hold)\b`),
	regexp.MustCompile(`(?i)\bdecision\s*:\s*[*_]*\s*(buy|sell|hold)\b`),
	regexp.MustCompile(`\b(BUY|SELL|HOLD)\b`),
}

// ExtractDecision finds the decision stated in text. Without any match it
// returns Hold.
func ExtractDecision(text string) Decision {
	d, _ := extractDecision(text)
	return d
}

// extractDecision also reports whether a pattern matched.
func extractDecision(text string) (Decision, bool) {
	for _, re := range decisionPatterns {
		if m := re.FindStringSubmatch(text); m != nil {
			return Decision(strings.ToUpper(m[1])), true
		}
	}
	return Hold, false
}
