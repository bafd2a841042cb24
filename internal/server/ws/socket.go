// Package ws is the websocket edge: it authenticates sockets, classifies
// their scope, and pumps their messages into the router and RPC broker.
package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 25 * time.Second

	maxMessageSize = 4 << 20
)

// frame is the single message shape on the socket, both directions.
type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// socket wraps a websocket connection with a write lock so the router, the
// RPC caller and the ping loop can send concurrently.
type socket struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func newSocket(conn *websocket.Conn) *socket {
	return &socket{conn: conn}
}

// Send marshals one outbound frame. Implements registry.Sendable.
func (s *socket) Send(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(frame{Event: event, Data: data})
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, raw)
}

func (s *socket) ping() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (s *socket) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.Close()
}
