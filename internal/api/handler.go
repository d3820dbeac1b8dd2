// Package api provides the HTTP bridge a front-end uses to drive the chat controller.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/provit/internal/chat"
	"github.com/ashureev/provit/internal/domain"
	"github.com/ashureev/provit/internal/probe"
)

// Controller is the chat controller surface the bridge calls.
type Controller interface {
	State() chat.State
	Current() (domain.ChatSession, bool)
	Session(id string) (domain.ChatSession, bool)
	Sessions() []domain.ChatSession
	Search(term string) []domain.ChatSession
	IsLoading() bool

	CreateSession(mode domain.Mode, roastLevel int) domain.ChatSession
	SelectSession(id string) bool
	DeleteSession(id string) bool
	UpdateSettings(id string, patch domain.Settings) bool
	SendUserMessage(ctx context.Context, text string) bool
	ClearCurrentSession() bool
	ClearHistory(ctx context.Context)
}

// HealthReporter exposes cached and on-demand backend health.
type HealthReporter interface {
	Status() probe.Status
	Check(ctx context.Context) probe.Status
}

var (
	_ Controller     = (*chat.Controller)(nil)
	_ HealthReporter = (*probe.Probe)(nil)
)

// Handler serves the chat API.
type Handler struct {
	ctrl   Controller
	health HealthReporter
	now    func() time.Time
	logger *slog.Logger
}

// NewHandler creates a new Handler.
func NewHandler(ctrl Controller, health HealthReporter, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		ctrl:   ctrl,
		health: health,
		now:    time.Now,
		logger: logger,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("failed to encode response", "error", err)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
