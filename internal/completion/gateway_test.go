package completion

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ent0n29/presales/internal/memory"
)

type scriptedGateway struct {
	errs  []error
	reply Reply
	calls int
}

func (g *scriptedGateway) Complete(ctx context.Context, _ Request) (Reply, error) {
	g.calls++
	if len(g.errs) > 0 {
		err := g.errs[0]
		g.errs = g.errs[1:]
		if err != nil {
			return Reply{}, err
		}
	}
	return g.reply, nil
}

func TestCompleteWithRetrySucceedsOnSecondAttempt(t *testing.T) {
	g := &scriptedGateway{errs: []error{errors.New("boom")}, reply: Reply{Text: "hi"}}
	reply, err := CompleteWithRetry(context.Background(), g, Request{}, 0)
	if err != nil {
		t.Fatalf("CompleteWithRetry() error = %v", err)
	}
	if reply.Text != "hi" {
		t.Fatalf("reply.Text = %q, want hi", reply.Text)
	}
	if g.calls != 2 {
		t.Fatalf("calls = %d, want 2", g.calls)
	}
}

func TestCompleteWithRetryGivesUpAfterOneRetry(t *testing.T) {
	g := &scriptedGateway{errs: []error{errors.New("one"), errors.New("two"), nil}}
	_, err := CompleteWithRetry(context.Background(), g, Request{}, 0)
	if !errors.Is(err, ErrGatewayUnavailable) {
		t.Fatalf("error = %v, want ErrGatewayUnavailable", err)
	}
	if g.calls != 2 {
		t.Fatalf("calls = %d, want 2", g.calls)
	}
}

func TestCompleteWithRetrySkipsRetryOnCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	g := &scriptedGateway{errs: []error{context.Canceled}}
	_, err := CompleteWithRetry(ctx, g, Request{}, 0)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if g.calls != 1 {
		t.Fatalf("calls = %d, want 1", g.calls)
	}
}

func TestCompleteWithRetrySkipsRetryOnClientError(t *testing.T) {
	g := &scriptedGateway{errs: []error{&StatusError{Code: 401, Body: "bad key"}}}
	_, err := CompleteWithRetry(context.Background(), g, Request{}, 0)
	if !errors.Is(err, ErrGatewayUnavailable) {
		t.Fatalf("error = %v, want ErrGatewayUnavailable", err)
	}
	if g.calls != 1 {
		t.Fatalf("calls = %d, want 1", g.calls)
	}
}

type slowGateway struct {
	calls int
}

func (g *slowGateway) Complete(ctx context.Context, _ Request) (Reply, error) {
	g.calls++
	if g.calls == 1 {
		<-ctx.Done()
		return Reply{}, ctx.Err()
	}
	return Reply{Text: "late but fine"}, nil
}

func TestCompleteWithRetryRetriesAttemptTimeout(t *testing.T) {
	g := &slowGateway{}
	reply, err := CompleteWithRetry(context.Background(), g, Request{}, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("CompleteWithRetry() error = %v", err)
	}
	if reply.Text != "late but fine" || g.calls != 2 {
		t.Fatalf("reply = %+v calls = %d", reply, g.calls)
	}
}

func TestNewGatewayModes(t *testing.T) {
	cases := []struct {
		name    string
		cfg     Config
		wantErr bool
		check   func(Gateway) bool
	}{
		{"auto mock", Config{Mode: "auto"}, false, func(g Gateway) bool { _, ok := g.(*MockGateway); return ok }},
		{"auto http", Config{Mode: "", HTTPURL: "http://x"}, false, func(g Gateway) bool { _, ok := g.(*HTTPGateway); return ok }},
		{"auto openai", Config{Mode: "auto", APIKey: "k", HTTPURL: "http://x"}, false, func(g Gateway) bool { _, ok := g.(*OpenAIGateway); return ok }},
		{"http missing url", Config{Mode: "http"}, true, nil},
		{"openai missing key", Config{Mode: "openai"}, true, nil},
		{"unknown", Config{Mode: "carrier-pigeon"}, true, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g, err := NewGateway(tc.cfg)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("NewGateway() expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewGateway() error = %v", err)
			}
			if !tc.check(g) {
				t.Fatalf("NewGateway() returned %T", g)
			}
		})
	}
}

func TestToolCallArgs(t *testing.T) {
	call := &ToolCall{Name: StoreLead, Args: map[string]any{
		"name":              " Linda ",
		"follow_up_consent": "yes",
		"count":             3.0,
	}}
	if got := call.String("name"); got != "Linda" {
		t.Fatalf("String(name) = %q", got)
	}
	if got := call.String("count"); got != "" {
		t.Fatalf("String(count) = %q, want empty", got)
	}
	if !call.Bool("follow_up_consent") {
		t.Fatalf("Bool(follow_up_consent) = false")
	}
	var nilCall *ToolCall
	if nilCall.String("x") != "" || nilCall.Bool("x") {
		t.Fatalf("nil ToolCall should yield zero values")
	}
}

func TestMockGatewayGreetsThenAcknowledges(t *testing.T) {
	g := NewMockGateway()
	first, err := g.Complete(context.Background(), Request{History: []memory.Turn{memory.UserTurn("hello")}})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if !strings.Contains(first.Text, "name") {
		t.Fatalf("first reply = %q, want a prompt for details", first.Text)
	}
	second, _ := g.Complete(context.Background(), Request{History: []memory.Turn{
		memory.UserTurn("hello"), memory.BotTurn(first.Text), memory.UserTurn("I'm Linda"),
	}})
	if second.Text == first.Text {
		t.Fatalf("second reply repeated the greeting")
	}
	if second.Call != nil {
		t.Fatalf("mock gateway should not request tools")
	}
}
