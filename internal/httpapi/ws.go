package httpapi

import (
	"errors"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/ent0n29/presales/internal/observability"
	"github.com/ent0n29/presales/internal/protocol"
)

const (
	wsReadLimit    = 64 << 10
	wsReadTimeout  = 120 * time.Second
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

var clientIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// wsConn adapts a websocket to session.Conn. Writes are serialized.
type wsConn struct {
	conn      *websocket.Conn
	metrics   *observability.Metrics
	mu        sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func (c *wsConn) Send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := c.conn.WriteJSON(v); err != nil {
		return err
	}
	if t, ok := protocol.TypeOf(v); ok && c.metrics != nil {
		c.metrics.WSMessages.WithLabelValues("outbound", string(t)).Inc()
	}
	return nil
}

func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

func (c *wsConn) ping() error {
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout))
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	clientID := strings.TrimSpace(chi.URLParam(r, "clientID"))
	if !clientIDPattern.MatchString(clientID) {
		respondError(w, http.StatusBadRequest, "invalid_client_id", "client id must be 1-128 characters of [A-Za-z0-9._:-]")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	wc := &wsConn{conn: conn, metrics: s.metrics}
	defer wc.Close()

	sess := s.sessions.Connect(clientID, wc)
	defer s.sessions.DisconnectConn(clientID, wc)
	s.metrics.SessionEvents.WithLabelValues("ws_connected").Inc()

	state := ""
	if sess.Dispatcher != nil {
		state = sess.Dispatcher.State().String()
	}
	_ = wc.Send(protocol.NewSystemEvent(clientID, "session_ready", state))

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := wc.ping(); err != nil {
					return
				}
			}
		}
	}()

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				sess.Log.Debug().Err(err).Msg("websocket read ended")
			}
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		if msgType != websocket.TextMessage {
			continue
		}

		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			code := "invalid_client_message"
			if errors.Is(err, protocol.ErrEmptyMessage) {
				code = "empty_message"
			}
			s.sessions.Notify(clientID, protocol.NewErrorEvent(clientID, code, "gateway", false, err.Error()))
			continue
		}
		if t, ok := protocol.TypeOf(parsed); ok {
			s.metrics.WSMessages.WithLabelValues("inbound", string(t)).Inc()
		}

		switch m := parsed.(type) {
		case protocol.UserMessage:
			if !s.sessions.RouteInbound(clientID, m.Text) {
				s.sessions.Notify(clientID, protocol.NewErrorEvent(clientID, "message_dropped", "session", true,
					"Too many messages at once. Please wait for a reply and try again."))
			}
		case protocol.ClientControl:
			if m.Action == "end" {
				log.Debug().Str("client_id", clientID).Msg("client ended session")
				break readLoop
			}
		}
	}
	s.metrics.SessionEvents.WithLabelValues("ws_disconnected").Inc()
}
