package memory

import (
	"fmt"
	"sync"
	"testing"
)

func TestConversationSnapshotKeepsAppendOrder(t *testing.T) {
	c := NewConversation(0)
	for i := 0; i < 50; i++ {
		c.Append(UserTurn(fmt.Sprintf("u%d", i)))
		c.Append(BotTurn(fmt.Sprintf("b%d", i)))
	}

	got := c.Snapshot()
	if len(got) != 100 {
		t.Fatalf("len(Snapshot()) = %d, want 100", len(got))
	}
	for i := 0; i < 50; i++ {
		if got[2*i].Text != fmt.Sprintf("u%d", i) || got[2*i].Sender != SenderUser {
			t.Fatalf("turn %d = %+v, want user u%d", 2*i, got[2*i], i)
		}
		if got[2*i+1].Text != fmt.Sprintf("b%d", i) || got[2*i+1].Sender != SenderBot {
			t.Fatalf("turn %d = %+v, want bot b%d", 2*i+1, got[2*i+1], i)
		}
	}
}

func TestConversationSnapshotIsACopy(t *testing.T) {
	c := NewConversation(0)
	c.Append(UserTurn("hello"))
	snap := c.Snapshot()
	snap[0].Text = "mutated"

	if got := c.Snapshot()[0].Text; got != "hello" {
		t.Fatalf("stored text = %q, want %q", got, "hello")
	}
}

func TestConversationWindowEvictsOldest(t *testing.T) {
	c := NewConversation(3)
	for i := 0; i < 5; i++ {
		c.Append(UserTurn(fmt.Sprintf("t%d", i)))
	}

	got := c.Snapshot()
	if len(got) != 3 {
		t.Fatalf("len(Snapshot()) = %d, want 3", len(got))
	}
	for i, want := range []string{"t2", "t3", "t4"} {
		if got[i].Text != want {
			t.Fatalf("turn %d = %q, want %q", i, got[i].Text, want)
		}
	}
}

func TestConversationsAreIndependentUnderConcurrency(t *testing.T) {
	convs := make([]*Conversation, 8)
	for i := range convs {
		convs[i] = NewConversation(0)
	}

	var wg sync.WaitGroup
	for i, c := range convs {
		wg.Add(1)
		go func(id int, c *Conversation) {
			defer wg.Done()
			for n := 0; n < 200; n++ {
				c.Append(UserTurn(fmt.Sprintf("%d-%d", id, n)))
			}
		}(i, c)
	}
	wg.Wait()

	for i, c := range convs {
		snap := c.Snapshot()
		if len(snap) != 200 {
			t.Fatalf("conversation %d len = %d, want 200", i, len(snap))
		}
		for n, turn := range snap {
			if want := fmt.Sprintf("%d-%d", i, n); turn.Text != want {
				t.Fatalf("conversation %d turn %d = %q, want %q", i, n, turn.Text, want)
			}
		}
	}
}
