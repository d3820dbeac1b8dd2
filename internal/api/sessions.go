package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"

	"github.com/ashureev/provit/internal/domain"
	"github.com/ashureev/provit/internal/sessions"
)

const previewLen = 80

// SessionSummary is the sidebar view of a session.
type SessionSummary struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	Mode         domain.Mode `json:"mode"`
	ModeLabel    string      `json:"modeLabel"`
	RoastLevel   int         `json:"roastLevel"`
	MessageCount int         `json:"messageCount"`
	Preview      string      `json:"preview,omitempty"`
	UpdatedAt    time.Time   `json:"updatedAt"`
	UpdatedAgo   string      `json:"updatedAgo"`
	Current      bool        `json:"current"`
}

func (h *Handler) summarize(list []domain.ChatSession, currentID string) []SessionSummary {
	now := h.now()
	out := make([]SessionSummary, 0, len(list))
	for _, s := range list {
		sum := SessionSummary{
			ID:           s.ID,
			Name:         s.Name,
			Mode:         s.Mode,
			ModeLabel:    s.Mode.Label(),
			RoastLevel:   s.RoastLevel,
			MessageCount: len(s.Messages),
			UpdatedAt:    s.UpdatedAt,
			UpdatedAgo:   humanize.RelTime(s.UpdatedAt, now, "ago", "from now"),
			Current:      s.ID == currentID,
		}
		for i := len(s.Messages) - 1; i >= 0; i-- {
			if m := s.Messages[i]; !m.IsTyping && m.Content != "" {
				sum.Preview = truncate(m.Content, previewLen)
				break
			}
		}
		out = append(out, sum)
	}
	return out
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// RegisterRoutes registers the chat API routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/state", h.GetState)

		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", h.ListSessions)
			r.Post("/", h.CreateSession)
			r.Delete("/", h.ClearHistory)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetSession)
				r.Delete("/", h.DeleteSession)
				r.Post("/select", h.SelectSession)
				r.Patch("/settings", h.UpdateSettings)
			})
		})

		r.Post("/messages", h.SendMessage)
		r.Post("/current/clear", h.ClearCurrent)
		r.Get("/backend/health", h.BackendHealth)
	})
}

// GetState returns the full controller state.
func (h *Handler) GetState(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, h.ctrl.State())
}

// ListSessions returns session summaries. The q filter runs before limit.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := 0
	if limitStr := q.Get("limit"); limitStr != "" {
		n, err := strconv.Atoi(limitStr)
		if err != nil || n <= 0 {
			Error(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	var list []domain.ChatSession
	if term := q.Get("q"); strings.TrimSpace(term) != "" {
		list = h.ctrl.Search(term)
	} else {
		list = h.ctrl.Sessions()
	}
	if limit > 0 {
		list = sessions.Recent(list, limit)
	}

	currentID := ""
	if cur, ok := h.ctrl.Current(); ok {
		currentID = cur.ID
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"sessions": h.summarize(list, currentID),
	})
}

type createSessionRequest struct {
	Mode       domain.Mode `json:"mode"`
	RoastLevel int         `json:"roastLevel"`
}

// CreateSession starts a new chat and makes it current.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Mode == "" {
		req.Mode = domain.ModeConvinceAI
	}
	if !req.Mode.Valid() {
		Error(w, http.StatusBadRequest, "invalid mode")
		return
	}

	s := h.ctrl.CreateSession(req.Mode, req.RoastLevel)
	JSON(w, http.StatusCreated, s)
}

// GetSession returns one session with its messages.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.ctrl.Session(chi.URLParam(r, "id"))
	if !ok {
		Error(w, http.StatusNotFound, "session not found")
		return
	}
	JSON(w, http.StatusOK, s)
}

// DeleteSession removes a session.
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if !h.ctrl.DeleteSession(chi.URLParam(r, "id")) {
		Error(w, http.StatusNotFound, "session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ClearHistory removes every session.
func (h *Handler) ClearHistory(w http.ResponseWriter, r *http.Request) {
	h.ctrl.ClearHistory(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

// SelectSession makes a session current.
func (h *Handler) SelectSession(w http.ResponseWriter, r *http.Request) {
	if !h.ctrl.SelectSession(chi.URLParam(r, "id")) {
		Error(w, http.StatusNotFound, "session not found")
		return
	}
	JSON(w, http.StatusOK, h.ctrl.State())
}

// UpdateSettings patches mode and roast level.
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var patch domain.Settings
	if err := decodeJSON(w, r, &patch); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if patch.Mode != nil && !patch.Mode.Valid() {
		Error(w, http.StatusBadRequest, "invalid mode")
		return
	}

	id := chi.URLParam(r, "id")
	if !h.ctrl.UpdateSettings(id, patch) {
		Error(w, http.StatusNotFound, "session not found")
		return
	}
	s, _ := h.ctrl.Session(id)
	JSON(w, http.StatusOK, s)
}

type sendMessageRequest struct {
	Text string `json:"text"`
}

// SendMessage runs one chat turn on the current session and returns it.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		Error(w, http.StatusBadRequest, "text cannot be empty")
		return
	}

	// The turn completes even if the client disconnects.
	if !h.ctrl.SendUserMessage(context.WithoutCancel(r.Context()), req.Text) {
		if h.ctrl.IsLoading() {
			Error(w, http.StatusConflict, "turn_in_progress")
		} else {
			Error(w, http.StatusConflict, "no_current_session")
		}
		return
	}

	cur, ok := h.ctrl.Current()
	if !ok {
		// Session deleted while the reply was pending.
		w.WriteHeader(http.StatusNoContent)
		return
	}
	JSON(w, http.StatusOK, cur)
}

// ClearCurrent empties the current session.
func (h *Handler) ClearCurrent(w http.ResponseWriter, _ *http.Request) {
	if !h.ctrl.ClearCurrentSession() {
		Error(w, http.StatusConflict, "no_current_session")
		return
	}
	cur, _ := h.ctrl.Current()
	JSON(w, http.StatusOK, cur)
}

// BackendHealth reports cached backend health; ?fresh=1 checks now.
func (h *Handler) BackendHealth(w http.ResponseWriter, r *http.Request) {
	if h.health == nil {
		Error(w, http.StatusServiceUnavailable, "health probe not configured")
		return
	}

	st := h.health.Status()
	if fresh, _ := strconv.ParseBool(r.URL.Query().Get("fresh")); fresh || !st.Checked {
		st = h.health.Check(r.Context())
	}

	resp := map[string]interface{}{
		"healthy":   st.Healthy,
		"checkedAt": st.CheckedAt,
		"checked":   st.Checked,
	}
	if st.Checked {
		resp["checkedAgo"] = humanize.RelTime(st.CheckedAt, h.now(), "ago", "from now")
	}
	JSON(w, http.StatusOK, resp)
}
