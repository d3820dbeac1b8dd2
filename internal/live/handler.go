package live

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/ashureev/provit/internal/chat"
)

// writeTimeout bounds a single push to a client.
const writeTimeout = 5 * time.Second

// StateSource is the part of the chat controller the stream needs.
type StateSource interface {
	State() chat.State
	Subscribe() (<-chan struct{}, func())
}

// Message is one frame on the state stream.
type Message struct {
	Type  string      `json:"type"`
	State *chat.State `json:"state,omitempty"`
}

// Frame types.
const (
	TypeState = "state"
	TypePing  = "ping"
	TypePong  = "pong"
)

// Handler upgrades requests to a WebSocket and pushes state on every change.
type Handler struct {
	src            StateSource
	hub            *Hub
	allowedOrigins []string
	isDev          bool
	logger         *slog.Logger
}

// NewHandler creates a state stream handler.
func NewHandler(src StateSource, hub *Hub, allowedOrigins []string, isDev bool, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		src:            src,
		hub:            hub,
		allowedOrigins: allowedOrigins,
		isDev:          isDev,
		logger:         logger,
	}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("failed to accept websocket", "error", err, "ip", r.RemoteAddr)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "stream ended"); closeErr != nil {
			h.logger.Debug("failed to close websocket", "error", closeErr)
		}
	}()

	id := uuid.NewString()
	h.hub.Register(id, ws)
	defer h.hub.Unregister(id, ws)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	changes, unsubscribe := h.src.Subscribe()
	defer unsubscribe()

	go func() {
		defer cancel()
		h.readLoop(ctx, ws, id)
	}()

	if err := h.push(ctx, ws); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-changes:
			if !ok {
				return
			}
			if err := h.push(ctx, ws); err != nil {
				return
			}
		}
	}
}

func (h *Handler) push(ctx context.Context, ws *websocket.Conn) error {
	st := h.src.State()
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	if err := wsjson.Write(writeCtx, ws, Message{Type: TypeState, State: &st}); err != nil {
		if ctx.Err() == nil {
			h.logger.Debug("state push failed", "error", err)
		}
		return err
	}
	return nil
}

// readLoop answers pings and notices when the client goes away.
func (h *Handler) readLoop(ctx context.Context, ws *websocket.Conn, id string) {
	for {
		var msg Message
		if err := wsjson.Read(ctx, ws, &msg); err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				h.logger.Debug("state stream closed by client", "conn_id", id)
			} else {
				h.logger.Debug("state stream read error", "conn_id", id, "error", err)
			}
			return
		}

		if msg.Type == TypePing {
			if err := wsjson.Write(ctx, ws, Message{Type: TypePong}); err != nil {
				h.logger.Debug("failed to send pong", "error", err)
				return
			}
		}
	}
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || slices.Contains(h.allowedOrigins, "*") || slices.Contains(h.allowedOrigins, origin) {
		return true
	}
	h.logger.Warn("websocket origin rejected", "origin", origin)
	return false
}
