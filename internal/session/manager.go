package session

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ent0n29/presales/internal/dispatch"
	"github.com/ent0n29/presales/internal/memory"
	"github.com/ent0n29/presales/internal/observability"
	"github.com/ent0n29/presales/internal/protocol"
)

var (
	ErrNotFound     = errors.New("session not found")
	ErrQueueFull    = errors.New("session inbound queue full")
	ErrSessionEnded = errors.New("session ended")
)

// Conn is the live connection of a session. Send may be called from several
// goroutines; implementations serialize writes.
type Conn interface {
	Send(v any) error
	Close() error
}

// Handler processes one user turn on the session's worker goroutine.
type Handler interface {
	HandleTurn(ctx context.Context, s *Session, text string)
}

// Session is the live state of one client. Memory and Dispatcher are owned by
// the session and only mutated from its worker.
type Session struct {
	ClientID   string
	CreatedAt  time.Time
	Memory     *memory.Conversation
	Dispatcher *dispatch.Machine
	Log        zerolog.Logger

	mu         sync.Mutex
	conn       Conn
	lastActive time.Time
	pending    []string
	ended      bool
	wake       chan struct{}
	quit       chan struct{}
}

func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

func (s *Session) PendingLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Send writes v to the current connection. It reports false, without error,
// once the session has ended or has no connection.
func (s *Session) Send(v any) bool {
	s.mu.Lock()
	if s.ended || s.conn == nil {
		s.mu.Unlock()
		return false
	}
	conn := s.conn
	s.lastActive = time.Now().UTC()
	s.mu.Unlock()

	if err := conn.Send(v); err != nil {
		s.Log.Debug().Err(err).Msg("outbound send failed")
		return false
	}
	return true
}

func (s *Session) enqueue(text string, limit int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return ErrSessionEnded
	}
	if limit > 0 && len(s.pending) >= limit {
		return ErrQueueFull
	}
	s.pending = append(s.pending, text)
	s.lastActive = time.Now().UTC()
	select {
	case s.wake <- struct{}{}:
	default:
	}
	return nil
}

func (s *Session) next() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended || len(s.pending) == 0 {
		return "", false
	}
	text := s.pending[0]
	s.pending[0] = ""
	s.pending = s.pending[1:]
	return text, true
}

// end marks the session over and returns its connection for closing.
func (s *Session) end() Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return nil
	}
	s.ended = true
	s.pending = nil
	close(s.quit)
	conn := s.conn
	s.conn = nil
	return conn
}

// Options configures a Manager.
type Options struct {
	InactivityTimeout time.Duration
	PendingLimit      int
	MemoryWindow      int
	// NewDispatcher builds the per-session dispatcher.
	NewDispatcher func() *dispatch.Machine
	// BaseContext is passed to handlers. It is not cancelled by disconnects so
	// an in-flight turn runs to completion.
	BaseContext context.Context
	Metrics     *observability.Metrics
}

// Manager is the registry of live sessions keyed by client id.
type Manager struct {
	mu                sync.RWMutex
	sessions          map[string]*Session
	inactivityTimeout time.Duration
	pendingLimit      int
	memoryWindow      int
	newDispatcher     func() *dispatch.Machine
	baseCtx           context.Context
	metrics           *observability.Metrics
	handler           Handler
	onExpire          func(*Session)
	workers           sync.WaitGroup
}

func NewManager(opts Options) *Manager {
	if opts.InactivityTimeout <= 0 {
		opts.InactivityTimeout = 30 * time.Minute
	}
	if opts.BaseContext == nil {
		opts.BaseContext = context.Background()
	}
	return &Manager{
		sessions:          make(map[string]*Session),
		inactivityTimeout: opts.InactivityTimeout,
		pendingLimit:      opts.PendingLimit,
		memoryWindow:      opts.MemoryWindow,
		newDispatcher:     opts.NewDispatcher,
		baseCtx:           opts.BaseContext,
		metrics:           opts.Metrics,
	}
}

func (m *Manager) SetHandler(h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = h
}

// SetExpireHook registers a callback run for each session the janitor
// expires, after it left the registry and before its connection is closed.
func (m *Manager) SetExpireHook(hook func(*Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

// Connect returns the session for clientID, creating it if needed. An existing
// session keeps its memory and dispatcher; conn replaces the previous
// connection, which is closed.
func (m *Manager) Connect(clientID string, conn Conn) *Session {
	m.mu.Lock()
	if s, ok := m.sessions[clientID]; ok {
		s.mu.Lock()
		prev := s.conn
		s.conn = conn
		s.lastActive = time.Now().UTC()
		s.mu.Unlock()
		m.mu.Unlock()
		if prev != nil && prev != conn {
			_ = prev.Close()
		}
		s.Log.Info().Msg("client reconnected")
		m.event("reconnected")
		return s
	}

	now := time.Now().UTC()
	s := &Session{
		ClientID:   clientID,
		CreatedAt:  now,
		Memory:     memory.NewConversation(m.memoryWindow),
		Log:        log.With().Str("client_id", clientID).Logger(),
		conn:       conn,
		lastActive: now,
		wake:       make(chan struct{}, 1),
		quit:       make(chan struct{}),
	}
	if m.newDispatcher != nil {
		s.Dispatcher = m.newDispatcher()
	}
	m.sessions[clientID] = s
	count := len(m.sessions)
	m.workers.Add(1)
	m.mu.Unlock()

	go m.run(s)
	s.Log.Info().Msg("client connected")
	m.event("connected")
	m.setActive(count)
	return s
}

// Disconnect removes the session and discards its state. Pending turns are
// dropped; a turn already running finishes but its replies go nowhere.
func (m *Manager) Disconnect(clientID string) {
	m.remove(clientID, nil, "disconnected")
}

// DisconnectConn is Disconnect limited to the session still owning conn, so a
// stale socket closing after a reconnect does not end the new one.
func (m *Manager) DisconnectConn(clientID string, conn Conn) bool {
	return m.remove(clientID, conn, "disconnected")
}

func (m *Manager) remove(clientID string, conn Conn, event string) bool {
	m.mu.Lock()
	s, ok := m.sessions[clientID]
	if !ok {
		m.mu.Unlock()
		return false
	}
	if conn != nil {
		s.mu.Lock()
		current := s.conn
		s.mu.Unlock()
		if current != conn {
			m.mu.Unlock()
			return false
		}
	}
	delete(m.sessions, clientID)
	count := len(m.sessions)
	m.mu.Unlock()

	if c := s.end(); c != nil {
		_ = c.Close()
	}
	s.Log.Info().Str("event", event).Msg("session removed")
	m.event(event)
	m.setActive(count)
	return true
}

// RouteInbound queues a user turn for the session's worker. Unknown clients
// and overflowing queues are logged and reported as false.
func (m *Manager) RouteInbound(clientID, text string) bool {
	s, err := m.Get(clientID)
	if err != nil {
		log.Warn().Str("client_id", clientID).Msg("inbound message for unknown client dropped")
		m.event("inbound_unknown_client")
		return false
	}
	if err := s.enqueue(text, m.pendingLimit); err != nil {
		s.Log.Warn().Err(err).Msg("inbound message dropped")
		m.event("inbound_dropped")
		return false
	}
	return true
}

// SendOutbound delivers a bot reply to the client's live connection. After the
// session is gone it is a silent no-op.
func (m *Manager) SendOutbound(clientID, text string) bool {
	return m.Notify(clientID, protocol.NewBotMessage(clientID, "", text, ""))
}

// Notify delivers any outbound event with the same semantics as SendOutbound.
func (m *Manager) Notify(clientID string, v any) bool {
	s, err := m.Get(clientID)
	if err != nil {
		return false
	}
	return s.Send(v)
}

func (m *Manager) Get(clientID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[clientID]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expireInactive()
			}
		}
	}()
}

// Shutdown ends every session and waits for their workers, or for ctx.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for id, s := range m.sessions {
		all = append(all, s)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	for _, s := range all {
		if c := s.end(); c != nil {
			_ = c.Close()
		}
	}
	m.setActive(0)

	done := make(chan struct{})
	go func() {
		m.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) expireInactive() {
	now := time.Now().UTC()
	var expired []*Session

	m.mu.Lock()
	for id, s := range m.sessions {
		if now.Sub(s.LastActive()) < m.inactivityTimeout {
			continue
		}
		delete(m.sessions, id)
		expired = append(expired, s)
	}
	count := len(m.sessions)
	hook := m.onExpire
	m.mu.Unlock()

	if len(expired) == 0 {
		return
	}
	for _, s := range expired {
		if hook != nil {
			hook(s)
		}
		if c := s.end(); c != nil {
			_ = c.Close()
		}
		s.Log.Info().Msg("session expired")
		m.event("expired")
	}
	m.setActive(count)
}

func (m *Manager) run(s *Session) {
	defer m.workers.Done()
	for {
		select {
		case <-s.quit:
			return
		case <-s.wake:
		}
		for {
			text, ok := s.next()
			if !ok {
				break
			}
			m.handle(s, text)
		}
	}
}

func (m *Manager) handle(s *Session, text string) {
	defer func() {
		if r := recover(); r != nil {
			s.Log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("turn handler panicked")
			m.event("handler_panic")
		}
	}()

	m.mu.RLock()
	h := m.handler
	m.mu.RUnlock()
	if h == nil {
		s.Log.Warn().Msg("no turn handler configured")
		return
	}
	h.HandleTurn(m.baseCtx, s, text)
}

func (m *Manager) event(name string) {
	if m.metrics != nil {
		m.metrics.SessionEvents.WithLabelValues(name).Inc()
	}
}

func (m *Manager) setActive(n int) {
	if m.metrics != nil {
		m.metrics.ActiveSessions.Set(float64(n))
	}
}
