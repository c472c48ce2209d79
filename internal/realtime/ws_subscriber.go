package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

// Upgrader upgrades HTTP connections to WebSocket connections for the event
// stream endpoint. CheckOrigin is permissive because the stream carries no
// secrets beyond what an authenticated caller already has access to via the
// REST API; the handler that calls Upgrade is responsible for auth.
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WebSocketSubscriber adapts a single websocket connection to the
// EventSubscriber interface so it can register with an EventBus.
type WebSocketSubscriber struct {
	baseSubscriber

	conn   *websocket.Conn
	logger *slog.Logger

	sendMu sync.Mutex
	closed bool
}

// NewWebSocketSubscriber wraps conn and starts its keepalive read pump.
// unsubscribe is invoked once, from the read pump goroutine, when the
// connection closes for any reason (client disconnect, write failure,
// ctx cancellation) so the caller can remove it from the EventBus.
func NewWebSocketSubscriber(ctx context.Context, id string, conn *websocket.Conn, logger *slog.Logger, unsubscribe func()) *WebSocketSubscriber {
	s := &WebSocketSubscriber{
		baseSubscriber: baseSubscriber{id: id, ctx: ctx, onClose: unsubscribe},
		conn:           conn,
		logger:         logger.With("subscriberId", id),
	}
	go s.readPump()
	return s
}

// Send marshals event and writes it as a single text frame.
func (s *WebSocketSubscriber) Send(event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.closed {
		return ErrSubscriberClosed
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

// Close closes the underlying connection. Safe to call more than once.
func (s *WebSocketSubscriber) Close() error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.conn.Close()
}

// readPump drains client frames (the event stream is one-directional —
// server to client — so payloads are discarded) and answers pings with
// pongs, same keepalive shape as the teacher's dashboard socket.
func (s *WebSocketSubscriber) readPump() {
	defer func() {
		_ = s.Close()
		if s.onClose != nil {
			s.onClose()
		}
	}()

	_ = s.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	go func() {
		for range ticker.C {
			s.sendMu.Lock()
			closed := s.closed
			if !closed {
				_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					s.sendMu.Unlock()
					return
				}
			}
			s.sendMu.Unlock()
			if closed {
				return
			}
		}
	}()

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Debug("websocket read error", "error", err)
			}
			return
		}
	}
}
