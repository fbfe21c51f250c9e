// Package dispatch decides, turn by turn, when a conversation should look up
// an estimate or persist a lead.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ent0n29/presales/internal/completion"
	"github.com/ent0n29/presales/internal/estimate"
	"github.com/ent0n29/presales/internal/extract"
	"github.com/ent0n29/presales/internal/leads"
	"github.com/ent0n29/presales/internal/memory"
)

type State int

const (
	CollectingIdentity State = iota
	CollectingProject
	AwaitingEstimate
	Recap
	Stored
)

func (s State) String() string {
	switch s {
	case CollectingIdentity:
		return "collecting_identity"
	case CollectingProject:
		return "collecting_project"
	case AwaitingEstimate:
		return "awaiting_estimate"
	case Recap:
		return "recap"
	case Stored:
		return "stored"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

const (
	msgAlreadyStored = "Your details are already saved. Our team will be in touch soon."
	msgStoreFailed   = "Sorry, I couldn't save your details just now. Please reply \"yes\" to try again."
)

// Outcome is the result of one evaluation. Messages are appended to the
// gateway's reply, in order.
type Outcome struct {
	State    State
	Messages []string
	Draft    leads.Draft
	// LeadID is set on the evaluation that stored the lead.
	LeadID string
	// EstimateResolved is set when a lookup ran during this evaluation.
	EstimateResolved bool
	EstimateFound    bool
	StoreErr         error
}

// Machine is the per-session dispatcher. It owns the lead draft.
type Machine struct {
	extractor *extract.Extractor
	resolver  *estimate.Resolver
	store     leads.Store

	mu            sync.Mutex
	state         State
	draft         leads.Draft
	lastExtracted leads.Draft
	estimatedFor  string
	turn          int
	recapTurn     int
	leadID        string
}

func NewMachine(resolver *estimate.Resolver, store leads.Store) *Machine {
	return &Machine{
		extractor: extract.New(resolver),
		resolver:  resolver,
		store:     store,
	}
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Machine) Draft() leads.Draft {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.draft
}

func (m *Machine) LeadID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.leadID
}

// Evaluate runs once per accepted user turn. history must already end with
// that turn; call is the gateway's structured request, if any.
func (m *Machine) Evaluate(ctx context.Context, history []memory.Turn, call *completion.ToolCall) Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.turn++
	out := Outcome{}
	if m.state == Stored {
		if call != nil && call.Name == completion.StoreLead {
			out.Messages = append(out.Messages, msgAlreadyStored)
		}
		return m.finish(out)
	}

	before := m.draft
	m.mergeExtracted(history)

	storeRequested := false
	if call != nil {
		switch call.Name {
		case completion.EstimateLookup:
			m.lookupRequested(call.String("project_type"), &out)
		case completion.StoreLead:
			m.draft.Merge(draftFromArgs(call))
			storeRequested = true
		}
	}

	if m.draft.ProjectType != "" && !sameType(m.draft.ProjectType, m.estimatedFor) {
		m.resolveEstimate(&out)
	}

	changed := material(m.draft) != material(before)
	switch {
	case len(m.draft.Missing()) > 0:
		m.state = progress(m.draft)
		if storeRequested {
			out.Messages = append(out.Messages, missingPrompt(m.draft.Validate()))
		}
	case m.state != Recap || changed:
		m.enterRecap(&out)
	case m.turn > m.recapTurn && extract.IsAffirmative(lastUserText(history)):
		m.storeLead(ctx, &out)
	case storeRequested:
		m.enterRecap(&out)
	}
	return m.finish(out)
}

func (m *Machine) finish(out Outcome) Outcome {
	out.State = m.state
	out.Draft = m.draft
	return out
}

// mergeExtracted applies only what the latest extraction changed, so a field
// set through a tool call is not overwritten by an older utterance on every
// turn.
func (m *Machine) mergeExtracted(history []memory.Turn) {
	cur := m.extractor.Extract(history)
	prev := m.lastExtracted
	m.lastExtracted = cur

	var delta leads.Draft
	if cur.Name != prev.Name {
		delta.Name = cur.Name
	}
	if cur.Contact != prev.Contact {
		delta.Contact = cur.Contact
	}
	if cur.ProjectType != prev.ProjectType {
		delta.ProjectType = cur.ProjectType
	}
	if cur.ProjectDetails != prev.ProjectDetails {
		delta.ProjectDetails = cur.ProjectDetails
	}
	delta.FollowUpConsent = cur.FollowUpConsent
	m.draft.Merge(delta)
}

func (m *Machine) lookupRequested(text string, out *Outcome) {
	if text == "" {
		return
	}
	res := m.resolver.Resolve(text)
	if !res.Found {
		if m.draft.ProjectType == "" {
			// resolveEstimate reports the miss for the new type.
			m.draft.ProjectType = text
			return
		}
		out.EstimateResolved = true
		out.Messages = append(out.Messages, res.Message)
		return
	}
	m.draft.ProjectType = res.Record.ProjectType
}

func (m *Machine) resolveEstimate(out *Outcome) {
	m.state = AwaitingEstimate
	res := m.resolver.Resolve(m.draft.ProjectType)
	out.EstimateResolved = true
	out.EstimateFound = res.Found
	if res.Found {
		m.draft.ProjectType = res.Record.ProjectType
		m.draft.EstimatedBudget = res.Record.BudgetRange
		m.draft.EstimatedTimeline = res.Record.TypicalTimeline
		out.Messages = append(out.Messages, fmt.Sprintf(
			"For a %s, projects like this typically cost %s and take %s.",
			res.Record.ProjectType, res.Record.BudgetRange, res.Record.TypicalTimeline))
	} else {
		m.draft.EstimatedBudget = leads.EstimateUnavailable
		m.draft.EstimatedTimeline = leads.EstimateUnavailable
		out.Messages = append(out.Messages, res.Message)
	}
	m.estimatedFor = m.draft.ProjectType
}

func (m *Machine) enterRecap(out *Outcome) {
	m.state = Recap
	m.recapTurn = m.turn
	out.Messages = append(out.Messages, recapSummary(m.draft))
}

func (m *Machine) storeLead(ctx context.Context, out *Outcome) {
	if err := m.draft.Validate(); err != nil {
		out.Messages = append(out.Messages, missingPrompt(err))
		return
	}
	id, err := m.store.Create(ctx, m.draft)
	if err != nil {
		out.StoreErr = err
		out.Messages = append(out.Messages, msgStoreFailed)
		return
	}
	m.state = Stored
	m.leadID = id
	out.LeadID = id
	out.Messages = append(out.Messages, fmt.Sprintf("Thanks, %s! Your details are saved and our team will follow up shortly.", m.draft.Name))
}

// material drops consent, which a confirming turn may grant without
// invalidating the recap the user is confirming.
func material(d leads.Draft) leads.Draft {
	d.FollowUpConsent = false
	return d
}

// progress maps an incomplete draft to the furthest collecting state.
func progress(d leads.Draft) State {
	switch {
	case d.ProjectType != "":
		return AwaitingEstimate
	case d.Name != "" && d.Contact != "":
		return CollectingProject
	default:
		return CollectingIdentity
	}
}

func recapSummary(d leads.Draft) string {
	var b strings.Builder
	b.WriteString("Here is what I have so far:\n")
	fmt.Fprintf(&b, "- Name: %s\n", d.Name)
	fmt.Fprintf(&b, "- Contact: %s\n", d.Contact)
	fmt.Fprintf(&b, "- Project: %s\n", d.ProjectType)
	if d.ProjectDetails != "" {
		fmt.Fprintf(&b, "- Details: %s\n", d.ProjectDetails)
	}
	if d.EstimatedBudget != "" {
		fmt.Fprintf(&b, "- Estimated budget: %s\n", d.EstimatedBudget)
	}
	if d.EstimatedTimeline != "" {
		fmt.Fprintf(&b, "- Estimated timeline: %s\n", d.EstimatedTimeline)
	}
	if d.FollowUpConsent {
		b.WriteString("- Follow-up: yes\n")
	}
	b.WriteString("Shall I save these details so our team can follow up?")
	return b.String()
}

func missingPrompt(err error) string {
	var verr *leads.ValidationError
	if !errors.As(err, &verr) || len(verr.Missing) == 0 {
		return "Could you confirm your details before I save them?"
	}
	parts := make([]string, 0, len(verr.Missing))
	for _, field := range verr.Missing {
		switch field {
		case "name":
			parts = append(parts, "your name")
		case "contact":
			parts = append(parts, "an email or phone number")
		case "project_type":
			parts = append(parts, "what kind of project you need")
		default:
			parts = append(parts, field)
		}
	}
	return "Before I can save your details I still need " + strings.Join(parts, " and ") + "."
}

func draftFromArgs(call *completion.ToolCall) leads.Draft {
	d := leads.Draft{
		Name:            call.String("name"),
		Contact:         call.String("contact"),
		ProjectType:     call.String("project_type"),
		ProjectDetails:  call.String("project_details"),
		FollowUpConsent: call.Bool("follow_up_consent"),
	}
	if d.Contact == "" {
		d.Contact = call.String("email")
	}
	if d.Contact == "" {
		d.Contact = call.String("phone")
	}
	return d
}

func lastUserText(history []memory.Turn) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Sender == memory.SenderUser {
			return history[i].Text
		}
	}
	return ""
}

func sameType(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
