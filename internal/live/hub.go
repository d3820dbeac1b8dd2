// Package live streams controller state to WebSocket clients.
package live

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// Hub tracks open state-stream connections so they can be closed on shutdown.
type Hub struct {
	mu     sync.RWMutex
	conns  map[string]*websocket.Conn
	logger *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		conns:  make(map[string]*websocket.Conn),
		logger: logger,
	}
}

// Register adds a connection under id, closing any connection it replaces.
func (h *Hub) Register(id string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if existing, ok := h.conns[id]; ok && existing != conn {
		_ = existing.Close(websocket.StatusNormalClosure, "connection replaced")
	}
	h.conns[id] = conn
	h.logger.Info("state stream registered", "conn_id", id, "open", len(h.conns))
}

// Unregister removes conn if it is still the one registered under id.
func (h *Hub) Unregister(id string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if current, ok := h.conns[id]; ok && current == conn {
		delete(h.conns, id)
		h.logger.Info("state stream unregistered", "conn_id", id, "open", len(h.conns))
	}
}

// Count returns the number of open connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// CloseAll closes every open connection.
func (h *Hub) CloseAll(reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, conn := range h.conns {
		_ = conn.Close(websocket.StatusGoingAway, reason)
		delete(h.conns, id)
	}
	h.logger.Info("state streams closed", "reason", reason)
}
