package memory

import (
	"sync"
	"time"
)

type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

// Turn is a single user or bot message. Turns are immutable once appended.
type Turn struct {
	Sender    Sender    `json:"sender"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Conversation is the ordered, append-only turn log of one session.
// When a window is set, only the most recent turns are retained.
type Conversation struct {
	mu     sync.RWMutex
	turns  []Turn
	window int
}

// NewConversation returns an empty log. window <= 0 keeps every turn.
func NewConversation(window int) *Conversation {
	return &Conversation{window: window}
}

func (c *Conversation) Append(turn Turn) {
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now().UTC()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turns = append(c.turns, turn)
	if c.window > 0 && len(c.turns) > c.window {
		drop := len(c.turns) - c.window
		kept := make([]Turn, c.window)
		copy(kept, c.turns[drop:])
		c.turns = kept
	}
}

// Snapshot returns a copy of the retained turns in append order.
func (c *Conversation) Snapshot() []Turn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Turn, len(c.turns))
	copy(out, c.turns)
	return out
}

func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.turns)
}

func UserTurn(text string) Turn {
	return Turn{Sender: SenderUser, Text: text, Timestamp: time.Now().UTC()}
}

func BotTurn(text string) Turn {
	return Turn{Sender: SenderBot, Text: text, Timestamp: time.Now().UTC()}
}
