// Package ws streams workflow events to WebSocket clients in real time.
package ws

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
)

// conn wraps a single WebSocket connection. A non-empty workflowID narrows
// the stream to one workflow.
type conn struct {
	ws         *websocket.Conn
	cancel     context.CancelFunc
	workflowID string
}

// Hub manages all active WebSocket connections and fans events out to them.
type Hub struct {
	mu    sync.RWMutex
	conns map[*conn]struct{}
}

// NewHub creates a new WebSocket hub.
func NewHub() *Hub {
	return &Hub{
		conns: make(map[*conn]struct{}),
	}
}

// HandleWS upgrades the request to a WebSocket connection. The optional
// workflow_id query parameter restricts the stream to that workflow's
// events; without it the client receives every event.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // CORS handled by middleware
	})
	if err != nil {
		slog.Error("websocket accept failed", "error", err)
		return
	}

	// The connection outlives the handler: net/http cancels r.Context()
	// as soon as HandleWS returns, which would kill the read loop and
	// deregister the client immediately.
	ctx, cancel := context.WithCancel(context.Background())
	c := &conn{ws: ws, cancel: cancel, workflowID: r.URL.Query().Get("workflow_id")}

	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()

	slog.Info("websocket connected", "remote", r.RemoteAddr, "workflow_id", c.workflowID)

	// Read loop (to detect disconnects and consume pings)
	go func() {
		defer func() {
			h.remove(c)
			_ = ws.Close(websocket.StatusNormalClosure, "")
		}()
		for {
			_, _, err := ws.Read(ctx)
			if err != nil {
				return
			}
		}
	}()
}

// Broadcast sends one serialized event to every client subscribed to the
// given workflow, plus clients with no workflow filter.
func (h *Hub) Broadcast(ctx context.Context, workflowID string, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.conns {
		if c.workflowID != "" && c.workflowID != workflowID {
			continue
		}
		if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil {
			slog.Debug("websocket write failed", "error", err)
			go h.remove(c)
		}
	}
}

// ConnectionCount returns the number of active connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *Hub) remove(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[c]; ok {
		c.cancel()
		delete(h.conns, c)
		slog.Info("websocket disconnected")
	}
}
