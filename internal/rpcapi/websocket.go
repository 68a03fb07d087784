package rpcapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	wsWriteTimeout = 5 * time.Second
	wsReadLimit    = 1 << 20
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleWebSocket upgrades one downstream connection and serves JSON-RPC
// calls on it until it closes, fanning out EventBus notifications on a
// second goroutine.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.Auth.Authenticate(r.URL.Query().Get("token")) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Debug("websocket upgrade failed")
		return
	}
	defer conn.Close()
	conn.SetReadLimit(wsReadLimit)

	subID, events := s.bus.Subscribe()
	defer s.bus.Unsubscribe(subID)

	connID := uuid.NewString()
	s.log.WithFields(map[string]any{"conn_id": connID, "remote": r.RemoteAddr}).Debug("websocket connected")
	done := make(chan struct{})
	go s.writeLoop(conn, events, done)
	s.readLoop(r.Context(), conn, connID)
	close(done)
}

func (s *Server) writeLoop(conn *websocket.Conn, events <-chan Notification, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case n, ok := <-events:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(n); err != nil {
				return
			}
		}
	}
}

func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, clientID string) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.WithError(err).Debug("websocket unexpected close")
			}
			return
		}
		resp := s.handleRequestBytes(ctx, clientID, data)
		if resp == nil {
			continue
		}
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(resp); err != nil {
			return
		}
	}
}

// handleRequestBytes decodes one JSON-RPC request, rate-limits and
// dispatches it, and returns the Response to write back. It never returns
// nil: input that fails to parse gets a parse-error Response with a null ID,
// and a request without an ID is answered like any other.
func (s *Server) handleRequestBytes(ctx context.Context, clientID string, data []byte) *Response {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		resp := errorResponse(nil, ErrCodeParse, "invalid JSON")
		return &resp
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		resp := errorResponse(req.ID, ErrCodeInvalidRequest, "missing jsonrpc/method")
		return &resp
	}
	if !s.cfg.Limiter.Allow(clientID) {
		resp := errorResponse(req.ID, ErrCodeRateLimited, "rate limit exceeded")
		return &resp
	}
	resp := s.dispatch(ctx, req)
	return &resp
}
