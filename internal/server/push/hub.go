// Package push carries transfer progress to clients over websockets.
package push

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/dmitrijs2005/ishlearn/internal/logging"
	"github.com/dmitrijs2005/ishlearn/internal/server/transfer"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Hub owns the open push connections.
type Hub struct {
	upgrader websocket.Upgrader
	registry *transfer.Registry
	binder   *transfer.Binder
	logger   logging.Logger

	mu    sync.RWMutex
	conns map[string]*Conn
}

func NewHub(r *transfer.Registry, b *transfer.Binder, l logging.Logger) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Browsers connect from the frontend's origin; the token is the gate.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		registry: r,
		binder:   b,
		logger:   l.With("module", "push"),
		conns:    make(map[string]*Conn),
	}
}

// Serve upgrades the request and runs the connection for an authenticated
// principal until either side closes it. On upgrade failure the upgrader has
// already answered the request.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, principal string) error {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	c := newConn(uuid.NewString(), principal, ws)
	ctx := context.WithoutCancel(r.Context())

	h.add(c)
	defer h.remove(c)

	go c.writeLoop()
	defer c.Close()

	if err := c.Send(transfer.EventConnected, transfer.ConnectedEvent{ChannelID: c.id}); err != nil {
		return err
	}
	h.logger.Debug(ctx, "channel connected", "channel_id", c.id)

	for {
		env, err := c.read()
		if errors.Is(err, errMalformed) {
			h.logger.Debug(ctx, "malformed frame ignored", "channel_id", c.id)
			continue
		}
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Warn(ctx, "channel read failed", "channel_id", c.id, "error", err)
			}
			return nil
		}
		h.handle(ctx, c, env)
	}
}

func (h *Hub) handle(ctx context.Context, c *Conn, env envelope) {
	switch env.Event {
	case transfer.EventUploadStart:
		var req transfer.StartRequest
		if err := json.Unmarshal(env.Data, &req); err != nil || req.ID == "" {
			h.logger.Debug(ctx, "bad uploadStart", "channel_id", c.id)
			return
		}
		h.binder.Announce(ctx, c, req.ID)
	default:
		h.logger.Debug(ctx, "unknown event", "channel_id", c.id, "event", env.Event)
	}
}

func (h *Hub) add(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c.id] = c
}

// remove forgets c and detaches it from every session it was bound to.
// The uploads themselves keep running.
func (h *Hub) remove(c *Conn) {
	h.mu.Lock()
	delete(h.conns, c.id)
	h.mu.Unlock()
	h.registry.Detach(c)
}

// Len returns the number of open connections.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Close closes every open connection.
func (h *Hub) Close() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.conns {
		c.Close()
	}
}
