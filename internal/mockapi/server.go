// Package mockapi serves the inference backend's HTTP contract from a local
// client, so the chat app can run without the hosted service.
package mockapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/provit/internal/api"
	"github.com/ashureev/provit/internal/domain"
	"github.com/ashureev/provit/internal/inference"
)

const rateLimitMessage = "Too many requests. Please slow down."

// Server answers /api/chat, /api/generate-name and /api/health.
type Server struct {
	client  inference.Client
	limiter *RateLimiter
	logger  *slog.Logger
}

// NewServer creates a server backed by client. A nil limiter disables throttling.
func NewServer(client inference.Client, limiter *RateLimiter, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{client: client, limiter: limiter, logger: logger}
}

// RegisterRoutes mounts the backend API under /api.
func (s *Server) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.Health)
		r.Group(func(r chi.Router) {
			r.Use(s.rateLimit)
			r.Post("/chat", s.Chat)
			r.Post("/generate-name", s.GenerateName)
		})
	})
}

// rateLimit rejects clients that exceed the limiter's window.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow(clientIP(r)) {
			s.logger.Warn("rate limit exceeded", "remote", clientIP(r), "path", r.URL.Path)
			api.JSON(w, http.StatusTooManyRequests, inference.ChatResponse{Error: rateLimitMessage})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP returns the request's host without port. RealIP middleware
// has already rewritten RemoteAddr when it runs first.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Chat answers one chat turn.
func (s *Server) Chat(w http.ResponseWriter, r *http.Request) {
	var req inference.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.JSON(w, http.StatusBadRequest, inference.ChatResponse{Error: "Invalid request body"})
		return
	}
	if len(req.Messages) == 0 {
		api.JSON(w, http.StatusBadRequest, inference.ChatResponse{Error: "Messages are required"})
		return
	}
	if !req.Mode.Valid() {
		req.Mode = domain.ModeConvinceAI
	}

	reply, err := s.client.SendMessage(r.Context(), req.Messages, req.Mode, domain.ClampRoastLevel(req.RoastLevel))
	if err != nil {
		s.fail(w, r, "chat", err)
		return
	}

	s.logger.Debug("chat turn answered", "mode", req.Mode, "turns", len(req.Messages))
	api.JSON(w, http.StatusOK, inference.ChatResponse{Success: true, Message: reply})
}

// GenerateName returns a short title for a conversation.
func (s *Server) GenerateName(w http.ResponseWriter, r *http.Request) {
	var req inference.NameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.JSON(w, http.StatusBadRequest, inference.NameResponse{Error: "Invalid request body"})
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		api.JSON(w, http.StatusBadRequest, inference.NameResponse{Error: "Message is required"})
		return
	}
	if !req.Mode.Valid() {
		req.Mode = domain.ModeConvinceAI
	}

	name, err := s.client.GenerateChatName(r.Context(), req.Message, req.Mode)
	if err != nil {
		s.fail(w, r, "generate-name", err)
		return
	}
	api.JSON(w, http.StatusOK, inference.NameResponse{Success: true, Name: name})
}

// Health reports the backing client's health.
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	if !s.client.CheckHealth(r.Context()) {
		api.JSON(w, http.StatusServiceUnavailable, inference.HealthResponse{Status: "unhealthy"})
		return
	}
	api.JSON(w, http.StatusOK, inference.HealthResponse{Status: inference.HealthyStatus})
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	if errors.Is(err, context.Canceled) {
		s.logger.Debug("client went away", "op", op, "remote", clientIP(r))
		return
	}
	s.logger.Error("backend call failed", "op", op, "error", err)
	api.JSON(w, http.StatusInternalServerError, inference.ChatResponse{Error: "Internal server error"})
}
