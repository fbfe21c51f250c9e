// Package agent runs the per-turn pipeline: completion, dispatch, reply.
package agent

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/presales/internal/completion"
	"github.com/ent0n29/presales/internal/memory"
	"github.com/ent0n29/presales/internal/observability"
	"github.com/ent0n29/presales/internal/policy"
	"github.com/ent0n29/presales/internal/protocol"
	"github.com/ent0n29/presales/internal/session"
)

const DefaultInstructions = `You are the pre-sales assistant of a software development agency.
Collect the client's name and an email address or phone number early on.
Find out what kind of project they need and ask short clarifying questions.
Never invent budgets or timelines: call EstimateLookup with the project type and let the system present the figures.
Before anything is saved the system shows the client a recap; call StoreLead only after the client confirms it.
Ask whether the team may follow up. Keep replies brief and friendly.`

// RetryLaterMessage is sent when the completion backend failed twice.
const RetryLaterMessage = "Sorry, I'm having trouble answering right now. Please send your message again in a moment."

const fallbackReply = "Could you tell me a little more?"

type Options struct {
	Instructions string
	// Timeout bounds each completion attempt.
	Timeout time.Duration
	Metrics *observability.Metrics
}

type Pipeline struct {
	gateway      completion.Gateway
	instructions string
	timeout      time.Duration
	metrics      *observability.Metrics
}

func New(gateway completion.Gateway, opts Options) *Pipeline {
	instr := strings.TrimSpace(opts.Instructions)
	if instr == "" {
		instr = DefaultInstructions
	}
	return &Pipeline{
		gateway:      gateway,
		instructions: instr,
		timeout:      opts.Timeout,
		metrics:      opts.Metrics,
	}
}

// HandleTurn processes one user turn. Memory and the dispatcher only change
// after the gateway answered, so a failed turn leaves the session as it was.
func (p *Pipeline) HandleTurn(ctx context.Context, s *session.Session, text string) {
	start := time.Now()
	turnID := uuid.NewString()
	logger := s.Log.With().Str("turn_id", turnID).Logger()
	if redacted, changed := policy.RedactPII(text); changed {
		logger.Debug().Str("text", redacted).Bool("redacted", true).Msg("user turn")
	} else {
		logger.Debug().Str("text", text).Msg("user turn")
	}

	userTurn := memory.UserTurn(text)
	history := append(s.Memory.Snapshot(), userTurn)

	gwStart := time.Now()
	reply, err := completion.CompleteWithRetry(ctx, p.gateway, completion.Request{
		ClientID:     s.ClientID,
		History:      history,
		Instructions: p.instructions,
	}, p.timeout)
	p.metrics.ObserveTurnStage("gateway", time.Since(gwStart))
	if err != nil {
		logger.Warn().Err(err).Msg("completion gateway failed")
		p.gatewayError(err)
		s.Send(protocol.NewErrorEvent(s.ClientID, "gateway_unavailable", "completion", true, RetryLaterMessage))
		return
	}

	s.Memory.Append(userTurn)

	var (
		messages []string
		state    string
		leadID   string
	)
	if s.Dispatcher != nil {
		dStart := time.Now()
		out := s.Dispatcher.Evaluate(ctx, s.Memory.Snapshot(), reply.Call)
		p.metrics.ObserveTurnStage("dispatch", time.Since(dStart))
		messages = out.Messages
		state = out.State.String()
		p.recordOutcome(out.EstimateResolved, out.EstimateFound, out.LeadID, out.StoreErr)

		if out.StoreErr != nil {
			logger.Error().Err(out.StoreErr).Msg("lead store failed")
		}
		if out.LeadID != "" {
			leadID = out.LeadID
			logger.Info().Str("lead_id", leadID).Object("lead", policy.LogDraft(out.Draft)).Msg("lead stored")
		} else if state != "" {
			logger.Debug().Str("state", state).Object("draft", policy.LogDraft(out.Draft)).Msg("dispatch evaluated")
		}
	}

	botText := mergeReply(reply.Text, messages)
	s.Memory.Append(memory.BotTurn(botText))
	if !s.Send(protocol.NewBotMessage(s.ClientID, turnID, botText, state)) {
		logger.Debug().Msg("reply discarded, client gone")
	}
	if leadID != "" {
		s.Send(protocol.NewSystemEvent(s.ClientID, "lead_stored", leadID))
	}
	p.metrics.ObserveTurnLatency(time.Since(start))
}

func (p *Pipeline) gatewayError(err error) {
	if p.metrics == nil {
		return
	}
	kind := string(completion.Classify(err).Kind)
	p.metrics.GatewayErrors.WithLabelValues(kind).Inc()
	p.metrics.ObserveTurnIndicator("gateway_" + kind)
}

func (p *Pipeline) recordOutcome(resolved, found bool, leadID string, storeErr error) {
	if p.metrics == nil {
		return
	}
	if resolved {
		result := "not_found"
		if found {
			result = "found"
		}
		p.metrics.EstimateLookups.WithLabelValues(result).Inc()
		if !found {
			p.metrics.ObserveTurnIndicator("estimate_not_found")
		}
	}
	switch {
	case leadID != "":
		p.metrics.LeadsStored.WithLabelValues("stored").Inc()
	case storeErr != nil:
		p.metrics.LeadsStored.WithLabelValues("failed").Inc()
		p.metrics.ObserveTurnIndicator("lead_store_failed")
	}
}

// mergeReply joins the model's text with dispatcher messages, skipping
// blanks and exact repeats.
func mergeReply(text string, messages []string) string {
	parts := make([]string, 0, len(messages)+1)
	seen := make(map[string]struct{}, len(messages)+1)
	for _, part := range append([]string{text}, messages...) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if _, dup := seen[part]; dup {
			continue
		}
		seen[part] = struct{}{}
		parts = append(parts, part)
	}
	if len(parts) == 0 {
		return fallbackReply
	}
	return strings.Join(parts, "\n\n")
}
