package completion

import (
	"context"
	"strings"

	"github.com/ent0n29/presales/internal/memory"
)

// MockGateway provides deterministic local replies when no model is configured.
// It never requests tools; the dispatcher drives lookups and storage from the
// conversation itself.
type MockGateway struct{}

func NewMockGateway() *MockGateway { return &MockGateway{} }

func (g *MockGateway) Complete(ctx context.Context, req Request) (Reply, error) {
	select {
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	default:
	}
	return Reply{Text: buildMockReply(req.History)}, nil
}

func buildMockReply(history []memory.Turn) string {
	last := ""
	userTurns := 0
	for _, t := range history {
		if t.Sender == memory.SenderUser {
			userTurns++
			last = strings.TrimSpace(t.Text)
		}
	}
	switch {
	case userTurns <= 1 && last == "":
		return "Hi! I help clients scope new software projects. What should I call you?"
	case userTurns <= 1:
		return "Thanks for reaching out! Could you share your name, the best way to reach you and what you would like to build?"
	default:
		return "Got it, thanks."
	}
}
