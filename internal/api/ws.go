package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/nodalink/scenariod/internal/sharedstore"
)

// wsReadDeadline is the spec §5/§4.7 "30s read deadline" after which the
// server sends its own keepalive ping instead of erroring the read out.
const wsReadDeadline = 30 * time.Second

// wsSubscriber adapts one live WebSocket connection to
// sharedstore.Subscriber, guarding concurrent writes with its own mutex
// (gorilla/websocket connections are not safe for concurrent writers).
type wsSubscriber struct {
	id    string
	conn  *websocket.Conn
	store *sharedstore.Store

	mu sync.Mutex
}

func (s *wsSubscriber) ID() string { return s.id }

func (s *wsSubscriber) Notify(ev sharedstore.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.WriteJSON(ev); err != nil {
		// Transient per spec §7: remove the subscriber silently.
		s.store.Unsubscribe(s.id)
	}
}

func (s *wsSubscriber) writeEvent(eventType string, data any) {
	s.Notify(sharedstore.Event{Type: eventType, Data: data, Timestamp: time.Now()})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	sub := &wsSubscriber{id: uuid.NewString(), conn: conn, store: s.store}
	s.store.Subscribe(sub)
	defer func() {
		s.store.Unsubscribe(sub.id)
		conn.Close()
	}()

	snapshot := s.store.Snapshot()
	sub.writeEvent("init", snapshot)

	for {
		conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
		var msg map[string]any
		err := conn.ReadJSON(&msg)
		if err != nil {
			if isTimeoutErr(err) {
				sub.writeEvent("ping", nil)
				continue
			}
			return // closed or unrecoverable: connection torn down by the deferred Close
		}

		switch msg["type"] {
		case "ping":
			sub.writeEvent("pong", nil)
		case "get_current_state":
			sub.writeEvent("current_state", s.store.Snapshot())
		}
	}
}

func isTimeoutErr(err error) bool {
	type timeouter interface{ Timeout() bool }
	te, ok := err.(timeouter)
	return ok && te.Timeout()
}
