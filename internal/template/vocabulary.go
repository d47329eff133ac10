// Package template implements the restricted placeholder language used by
// campaign emails: a closed vocabulary of {{name}} tokens validated when a
// template is saved and substituted literally at send time.
package template

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/ignite/phishsim/internal/domain"
)

// Recognised placeholder names.
const (
	VarFirstName      = "first_name"
	VarLastName       = "last_name"
	VarEmail          = "email"
	VarDepartment     = "department"
	VarCompany        = "company"
	VarCampaignName   = "campaign_name"
	VarSenderName     = "sender_name"
	VarSenderEmail    = "sender_email"
	VarClickURL       = "click_url"
	VarTrackingPixel  = "tracking_pixel"
	VarTrackingNumber = "tracking_number"
)

// Vocabulary is the closed set of placeholders a template may reference.
var Vocabulary = []string{
	VarFirstName, VarLastName, VarEmail, VarDepartment, VarCompany,
	VarCampaignName, VarSenderName, VarSenderEmail,
	VarClickURL, VarTrackingPixel, VarTrackingNumber,
}

var vocab = func() map[string]bool {
	m := make(map[string]bool, len(Vocabulary))
	for _, v := range Vocabulary {
		m[v] = true
	}
	return m
}()

// Known reports whether name is part of the vocabulary.
func Known(name string) bool { return vocab[name] }

// placeholderRe matches anything between double braces, including padded
// forms such as "{{ first_name }}" which the literal renderer would not
// substitute.
var placeholderRe = regexp.MustCompile(`\{\{([^{}]*)\}\}`)

// Placeholders returns the distinct raw placeholder bodies found in text,
// in order of first appearance.
func Placeholders(text string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, m := range placeholderRe.FindAllStringSubmatch(text, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			out = append(out, m[1])
		}
	}
	return out
}

// ValidationError lists the placeholders that fall outside the vocabulary.
type ValidationError struct {
	Unknown []string
	Reason  string
}

func (e *ValidationError) Error() string {
	if e.Reason != "" {
		return e.Reason
	}
	allowed := append([]string(nil), Vocabulary...)
	sort.Strings(allowed)
	return fmt.Sprintf("unknown placeholders %s (allowed: %s)",
		quoteAll(e.Unknown), strings.Join(allowed, ", "))
}

func (e *ValidationError) Unwrap() error { return domain.ErrTemplateInvalid }

func quoteAll(names []string) string {
	q := make([]string, len(names))
	for i, n := range names {
		q[i] = "{{" + n + "}}"
	}
	return strings.Join(q, ", ")
}

// Validate checks a template before it can be saved. Subject and body must
// be non-empty and every {{name}} must be in the vocabulary. The returned
// error wraps domain.ErrTemplateInvalid.
func Validate(subject, html string) error {
	if strings.TrimSpace(subject) == "" {
		return &ValidationError{Reason: "subject is required"}
	}
	if strings.TrimSpace(html) == "" {
		return &ValidationError{Reason: "html content is required"}
	}

	var unknown []string
	seen := make(map[string]bool)
	for _, text := range []string{subject, html} {
		for _, p := range Placeholders(text) {
			if !Known(p) && !seen[p] {
				seen[p] = true
				unknown = append(unknown, p)
			}
		}
	}
	if len(unknown) > 0 {
		return &ValidationError{Unknown: unknown}
	}
	return nil
}
