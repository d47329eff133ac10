package template

import (
	"fmt"
	"regexp"
	"strings"
)

// Severity levels for indicators.
const (
	SeverityHigh   = "high"
	SeverityMedium = "medium"
)

// Indicator is one educational annotation shown on the landing page.
type Indicator struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Severity    string `json:"severity"`
}

var (
	urgencyWords     = []string{"urgent", "immediate", "action required", "immediately", "hurry", "limited time"}
	threatWords      = []string{"suspend", "terminate", "delete", "close account", "security alert", "unusual activity"}
	genericGreetings = []string{"dear user", "dear customer", "hello user", "valued customer"}
	shorteners       = []string{"bit.ly", "tinyurl", "short.link"}
	themedURLParts   = []string{"secure-", "verify-", "account-", "login-"}

	urlRe = regexp.MustCompile("https?://[^\\s<>\"{}|\\\\^`\\[\\]]+")
)

// Indicators scans template content for common phishing traits. It is
// pure: same input, same output, no side effects. When nothing matches a
// single generic indicator is returned so the page is never empty.
func Indicators(subject, html string) []Indicator {
	content := strings.ToLower(html)
	subj := strings.ToLower(subject)

	var out []Indicator
	for _, w := range urgencyWords {
		if strings.Contains(content, w) || strings.Contains(subj, w) {
			out = append(out, Indicator{"Urgency", fmt.Sprintf("Creates false urgency: %q", w), SeverityHigh})
		}
	}
	for _, w := range threatWords {
		if strings.Contains(content, w) || strings.Contains(subj, w) {
			out = append(out, Indicator{"Threat", fmt.Sprintf("Contains threat language: %q", w), SeverityHigh})
		}
	}
	for _, g := range genericGreetings {
		if strings.Contains(content, g) {
			out = append(out, Indicator{"Generic Greeting", fmt.Sprintf("Uses generic greeting: %q", g), SeverityMedium})
		}
	}
	for _, u := range urlRe.FindAllString(content, -1) {
		switch {
		case containsAny(u, shorteners):
			out = append(out, Indicator{"Suspicious Link", "Contains URL shortener: " + u, SeverityHigh})
		case containsAny(u, themedURLParts):
			out = append(out, Indicator{"Suspicious Link", "Contains security-themed URL: " + u, SeverityMedium})
		}
	}
	if strings.Contains(subj, "security") && strings.Contains(content, "verification") {
		out = append(out, Indicator{
			"Sender Mismatch",
			"Claims to be from security team but requires verification via link",
			SeverityHigh,
		})
	}

	if len(out) == 0 {
		out = []Indicator{{
			"Suspicious Email",
			"This email contains elements commonly found in phishing attempts",
			SeverityMedium,
		}}
	}
	return out
}

func containsAny(s string, parts []string) bool {
	for _, p := range parts {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
