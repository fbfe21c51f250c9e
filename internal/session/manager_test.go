package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ent0n29/presales/internal/memory"
	"github.com/ent0n29/presales/internal/protocol"
)

type fakeConn struct {
	mu     sync.Mutex
	sent   []any
	closed bool
}

func (c *fakeConn) Send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, v)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) Sent() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]any(nil), c.sent...)
}

func (c *fakeConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type handlerFunc func(ctx context.Context, s *Session, text string)

func (f handlerFunc) HandleTurn(ctx context.Context, s *Session, text string) { f(ctx, s, text) }

func newTestManager(h Handler) *Manager {
	m := NewManager(Options{InactivityTimeout: time.Minute, PendingLimit: 64, MemoryWindow: 100})
	m.SetHandler(h)
	return m
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func TestConnectIsIdempotent(t *testing.T) {
	m := newTestManager(handlerFunc(func(context.Context, *Session, string) {}))
	first := &fakeConn{}
	s1 := m.Connect("c1", first)
	s1.Memory.Append(memory.UserTurn("hello"))

	second := &fakeConn{}
	s2 := m.Connect("c1", second)
	if s1 != s2 {
		t.Fatalf("Connect() created a second session for the same client")
	}
	if s2.Memory.Len() != 1 {
		t.Fatalf("memory len = %d, want 1 after reconnect", s2.Memory.Len())
	}
	if !first.Closed() {
		t.Fatalf("replaced connection was not closed")
	}
	if m.ActiveCount() != 1 {
		t.Fatalf("ActiveCount() = %d, want 1", m.ActiveCount())
	}

	if !m.SendOutbound("c1", "hi") {
		t.Fatalf("SendOutbound() = false, want delivery")
	}
	if len(first.Sent()) != 0 || len(second.Sent()) != 1 {
		t.Fatalf("delivery went to the wrong connection")
	}
	msg, ok := second.Sent()[0].(protocol.BotMessage)
	if !ok || msg.Text != "hi" || msg.ClientID != "c1" {
		t.Fatalf("sent = %#v", second.Sent()[0])
	}
}

func TestDisconnectConnIgnoresStaleConnection(t *testing.T) {
	m := newTestManager(handlerFunc(func(context.Context, *Session, string) {}))
	stale := &fakeConn{}
	m.Connect("c1", stale)
	fresh := &fakeConn{}
	m.Connect("c1", fresh)

	if m.DisconnectConn("c1", stale) {
		t.Fatalf("DisconnectConn() removed a session owned by a newer connection")
	}
	if _, err := m.Get("c1"); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !m.DisconnectConn("c1", fresh) {
		t.Fatalf("DisconnectConn() = false for the current connection")
	}
	if _, err := m.Get("c1"); err != ErrNotFound {
		t.Fatalf("Get() error = %v, want ErrNotFound", err)
	}
	if !fresh.Closed() {
		t.Fatalf("connection not closed on disconnect")
	}
	// Idempotent.
	m.Disconnect("c1")
}

func TestRouteInboundUnknownClient(t *testing.T) {
	var calls atomic.Int32
	m := newTestManager(handlerFunc(func(context.Context, *Session, string) { calls.Add(1) }))
	if m.RouteInbound("ghost", "hello") {
		t.Fatalf("RouteInbound() = true for unknown client")
	}
	if m.SendOutbound("ghost", "hello") {
		t.Fatalf("SendOutbound() = true for unknown client")
	}
	time.Sleep(20 * time.Millisecond)
	if calls.Load() != 0 {
		t.Fatalf("handler ran for unknown client")
	}
}

func TestTurnsAreSerializedPerClient(t *testing.T) {
	var (
		inFlight atomic.Int32
		maxSeen  atomic.Int32
		mu       sync.Mutex
		seen     []string
	)
	m := newTestManager(handlerFunc(func(_ context.Context, s *Session, text string) {
		n := inFlight.Add(1)
		for {
			cur := maxSeen.Load()
			if n <= cur || maxSeen.CompareAndSwap(cur, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		s.Memory.Append(memory.UserTurn(text))
		mu.Lock()
		seen = append(seen, text)
		mu.Unlock()
		inFlight.Add(-1)
	}))
	s := m.Connect("c1", &fakeConn{})

	const total = 20
	want := make([]string, 0, total)
	for i := 0; i < total; i++ {
		text := string(rune('a' + i))
		want = append(want, text)
		if !m.RouteInbound("c1", text) {
			t.Fatalf("RouteInbound(%q) = false", text)
		}
	}
	waitFor(t, func() bool { return s.Memory.Len() == total })

	if maxSeen.Load() != 1 {
		t.Fatalf("max concurrent turns = %d, want 1", maxSeen.Load())
	}
	mu.Lock()
	defer mu.Unlock()
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("turn %d = %q, want %q", i, seen[i], want[i])
		}
	}
	for i, turn := range s.Memory.Snapshot() {
		if turn.Text != want[i] {
			t.Fatalf("memory[%d] = %q, want %q", i, turn.Text, want[i])
		}
	}
}

func TestClientsProceedIndependently(t *testing.T) {
	release := make(chan struct{})
	bDone := make(chan struct{})
	m := newTestManager(handlerFunc(func(_ context.Context, s *Session, _ string) {
		switch s.ClientID {
		case "a":
			<-release
		case "b":
			close(bDone)
		}
	}))
	defer close(release)
	m.Connect("a", &fakeConn{})
	m.Connect("b", &fakeConn{})

	m.RouteInbound("a", "slow")
	m.RouteInbound("b", "fast")
	select {
	case <-bDone:
	case <-time.After(2 * time.Second):
		t.Fatalf("client b was blocked by client a")
	}

	// The registry stays responsive while a turn is blocked.
	m.Connect("c", &fakeConn{})
	m.Disconnect("c")
}

func TestSendOutboundAfterDisconnectIsNoop(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	result := make(chan bool, 1)
	conn := &fakeConn{}

	var m *Manager
	m = newTestManager(handlerFunc(func(ctx context.Context, s *Session, _ string) {
		close(started)
		<-release
		if ctx.Err() != nil {
			t.Errorf("handler context cancelled by disconnect")
		}
		result <- m.SendOutbound(s.ClientID, "late reply") || s.Send("late reply")
	}))
	m.Connect("c1", conn)
	m.RouteInbound("c1", "hello")
	<-started

	m.Disconnect("c1")
	close(release)

	select {
	case delivered := <-result:
		if delivered {
			t.Fatalf("reply delivered after disconnect")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("handler did not finish")
	}
	if len(conn.Sent()) != 0 {
		t.Fatalf("connection received %d messages after disconnect", len(conn.Sent()))
	}
}

func TestHandlerPanicIsContained(t *testing.T) {
	var handled atomic.Int32
	m := newTestManager(handlerFunc(func(_ context.Context, _ *Session, text string) {
		if text == "boom" {
			panic("boom")
		}
		handled.Add(1)
	}))
	m.Connect("c1", &fakeConn{})
	m.Connect("c2", &fakeConn{})

	m.RouteInbound("c1", "boom")
	m.RouteInbound("c1", "after")
	m.RouteInbound("c2", "other")
	waitFor(t, func() bool { return handled.Load() == 2 })
}

func TestPendingQueueIsBounded(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	m := NewManager(Options{InactivityTimeout: time.Minute, PendingLimit: 2})
	m.SetHandler(handlerFunc(func(context.Context, *Session, string) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
	}))
	defer close(release)
	m.Connect("c1", &fakeConn{})

	m.RouteInbound("c1", "first")
	<-started
	if !m.RouteInbound("c1", "second") || !m.RouteInbound("c1", "third") {
		t.Fatalf("RouteInbound() rejected a turn below the limit")
	}
	if m.RouteInbound("c1", "fourth") {
		t.Fatalf("RouteInbound() accepted a turn beyond the limit")
	}
}

func TestJanitorExpiresInactive(t *testing.T) {
	m := NewManager(Options{InactivityTimeout: 30 * time.Millisecond})
	conn := &fakeConn{}
	m.Connect("c1", conn)

	expired := make(chan string, 1)
	m.SetExpireHook(func(s *Session) {
		s.Send(protocol.NewSystemEvent(s.ClientID, "session_expired", ""))
		expired <- s.ClientID
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.StartJanitor(ctx, 10*time.Millisecond)

	select {
	case id := <-expired:
		if id != "c1" {
			t.Fatalf("expired %q, want c1", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("session was not expired")
	}
	waitFor(t, conn.Closed)
	if m.ActiveCount() != 0 {
		t.Fatalf("ActiveCount() = %d, want 0", m.ActiveCount())
	}
	if len(conn.Sent()) != 1 {
		t.Fatalf("expire notice not delivered")
	}
}

func TestShutdownStopsWorkers(t *testing.T) {
	m := newTestManager(handlerFunc(func(context.Context, *Session, string) {}))
	conns := []*fakeConn{{}, {}}
	m.Connect("a", conns[0])
	m.Connect("b", conns[1])

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := m.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if m.ActiveCount() != 0 || !conns[0].Closed() || !conns[1].Closed() {
		t.Fatalf("sessions not torn down")
	}
}
