package leads

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// EstimateUnavailable is merged into a draft when no reference estimate matched.
const EstimateUnavailable = "Requires more information"

var ErrStoreClosed = errors.New("lead store closed")

// Draft accumulates lead fields during a conversation. Merging never clears a
// field that is already set.
type Draft struct {
	Name              string `json:"name"`
	Contact           string `json:"contact"`
	ProjectType       string `json:"project_type"`
	ProjectDetails    string `json:"project_details,omitempty"`
	EstimatedBudget   string `json:"estimated_budget,omitempty"`
	EstimatedTimeline string `json:"estimated_timeline,omitempty"`
	FollowUpConsent   bool   `json:"follow_up_consent"`
}

// Merge overwrites fields of d with the non-empty fields of update and reports
// whether anything changed.
func (d *Draft) Merge(update Draft) bool {
	changed := false
	set := func(dst *string, v string) {
		v = strings.TrimSpace(v)
		if v == "" || v == *dst {
			return
		}
		*dst = v
		changed = true
	}
	set(&d.Name, update.Name)
	set(&d.Contact, update.Contact)
	set(&d.ProjectType, update.ProjectType)
	set(&d.ProjectDetails, update.ProjectDetails)
	set(&d.EstimatedBudget, update.EstimatedBudget)
	set(&d.EstimatedTimeline, update.EstimatedTimeline)
	if update.FollowUpConsent && !d.FollowUpConsent {
		d.FollowUpConsent = true
		changed = true
	}
	return changed
}

// Missing lists required fields that are still blank.
func (d Draft) Missing() []string {
	var missing []string
	if strings.TrimSpace(d.Name) == "" {
		missing = append(missing, "name")
	}
	if strings.TrimSpace(d.Contact) == "" {
		missing = append(missing, "contact")
	}
	if strings.TrimSpace(d.ProjectType) == "" {
		missing = append(missing, "project_type")
	}
	return missing
}

func (d Draft) Validate() error {
	if missing := d.Missing(); len(missing) > 0 {
		return &ValidationError{Missing: missing}
	}
	return nil
}

// ValidationError is returned when a draft lacks required fields.
type ValidationError struct {
	Missing []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("lead draft missing required fields: %s", strings.Join(e.Missing, ", "))
}

// Record is a stored lead: the confirmed draft plus its id and creation time.
type Record struct {
	ID        string    `json:"id"`
	Draft
	CreatedAt time.Time `json:"created_at"`
}

// Store persists finalized leads.
type Store interface {
	Create(ctx context.Context, draft Draft) (string, error)
	Close() error
}
