// Package policy masks personal data before it reaches logs.
package policy

import (
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ent0n29/presales/internal/leads"
)

type rule struct {
	pattern     *regexp.Regexp
	replacement string
}

// Card runs before phone so long digit runs are not reported as phones.
var rules = []rule{
	{regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`), "[REDACTED_EMAIL]"},
	{regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`), "[REDACTED_CARD]"},
	{regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`), "[REDACTED_PHONE]"},
}

// RedactPII masks emails, card numbers and phone numbers in free text.
func RedactPII(input string) (redacted string, changed bool) {
	out := input
	for _, r := range rules {
		next := r.pattern.ReplaceAllString(out, r.replacement)
		changed = changed || next != out
		out = next
	}
	return out, changed
}

// MaskContact keeps enough of an email or phone number to tell leads apart
// in logs: the first letter and domain of an email, the last two digits of
// anything else.
func MaskContact(contact string) string {
	contact = strings.TrimSpace(contact)
	if contact == "" {
		return ""
	}
	if at := strings.LastIndex(contact, "@"); at > 0 {
		return contact[:1] + "***" + contact[at:]
	}
	var digits []rune
	for _, r := range contact {
		if r >= '0' && r <= '9' {
			digits = append(digits, r)
		}
	}
	if len(digits) <= 2 {
		return "***"
	}
	return "***" + string(digits[len(digits)-2:])
}

// MaskName keeps the initial only.
func MaskName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	r := []rune(name)
	return string(r[0]) + "."
}

// LogDraft adapts a lead draft for zerolog with personal fields masked.
type LogDraft leads.Draft

func (d LogDraft) MarshalZerologObject(e *zerolog.Event) {
	e.Str("name", MaskName(d.Name)).
		Str("contact", MaskContact(d.Contact)).
		Str("project_type", d.ProjectType).
		Bool("follow_up_consent", d.FollowUpConsent)
	if d.EstimatedBudget != "" {
		e.Str("estimated_budget", d.EstimatedBudget)
	}
	if details, changed := RedactPII(d.ProjectDetails); details != "" {
		e.Int("details_len", len(details)).Bool("details_redacted", changed)
	}
}
