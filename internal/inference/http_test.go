package inference

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/provit/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, h http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewHTTPClient(ClientConfig{BaseURL: srv.URL + "/", Timeout: 2 * time.Second}, testLogger())
}

func TestSendMessageSuccess(t *testing.T) {
	var got ChatRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/chat" {
			t.Errorf("Unexpected request %s %s", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Expected JSON content type, got %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("Failed to decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(ChatResponse{Success: true, Message: "nice try, bot"})
	})

	history := []domain.Turn{
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "prove it"},
		{Role: "user", Content: "I ate toast"},
	}
	reply, err := c.SendMessage(context.Background(), history, domain.ModeProveHuman, 8)
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if reply != "nice try, bot" {
		t.Errorf("Expected reply, got %q", reply)
	}
	if got.Mode != domain.ModeProveHuman || got.RoastLevel != 8 || len(got.Messages) != 3 {
		t.Errorf("Unexpected request body: %+v", got)
	}
	if got.Messages[2].Content != "I ate toast" || got.Messages[1].Role != "assistant" {
		t.Errorf("History not forwarded in order: %+v", got.Messages)
	}
}

func TestSendMessageFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		wantMsg string
	}{
		{
			name: "success false",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_ = json.NewEncoder(w).Encode(ChatResponse{Success: false, Error: "model overloaded"})
			},
			wantMsg: "model overloaded",
		},
		{
			name: "http 500 with error body",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(`{"success":false,"error":"boom"}`))
			},
			wantMsg: "HTTP 500: boom",
		},
		{
			name: "rate limited",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusTooManyRequests)
			},
			wantMsg: "HTTP 429",
		},
		{
			name: "not json",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte("<html>"))
			},
			wantMsg: "decode",
		},
		{
			name: "empty message",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(`{"success":true}`))
			},
			wantMsg: "empty reply",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, tt.handler)
			_, err := c.SendMessage(context.Background(), nil, domain.ModeConvinceAI, 5)
			if !errors.Is(err, ErrBackendFailure) {
				t.Fatalf("Expected ErrBackendFailure, got %v", err)
			}
			if errors.Is(err, ErrBackendUnreachable) {
				t.Error("Failure must not also be reported as unreachable")
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("Expected error to mention %q, got %v", tt.wantMsg, err)
			}
		})
	}
}

func TestSendMessageUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewHTTPClient(ClientConfig{BaseURL: url, Timeout: time.Second}, testLogger())
	_, err := c.SendMessage(context.Background(), nil, domain.ModeConvinceAI, 5)
	if !errors.Is(err, ErrBackendUnreachable) {
		t.Fatalf("Expected ErrBackendUnreachable, got %v", err)
	}
}

func TestGenerateChatName(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/generate-name" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		var req NameRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Message != "am I human?" || req.Mode != domain.ModeConvinceAI {
			t.Errorf("Unexpected request: %+v", req)
		}
		_ = json.NewEncoder(w).Encode(NameResponse{Success: true, Name: "  🤖 Human Doubts  "})
	})

	name, err := c.GenerateChatName(context.Background(), "am I human?", domain.ModeConvinceAI)
	if err != nil {
		t.Fatalf("GenerateChatName failed: %v", err)
	}
	if name != "🤖 Human Doubts" {
		t.Errorf("Expected trimmed name, got %q", name)
	}
}

func TestGenerateChatNameFailure(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(NameResponse{Success: false})
	})

	_, err := c.GenerateChatName(context.Background(), "hi", domain.ModeProveHuman)
	if !errors.Is(err, ErrBackendFailure) {
		t.Fatalf("Expected ErrBackendFailure, got %v", err)
	}
	if !strings.Contains(err.Error(), "failed to generate chat name") {
		t.Errorf("Expected default failure text, got %v", err)
	}
}

func TestCheckHealth(t *testing.T) {
	tests := []struct {
		name string
		body string
		code int
		want bool
	}{
		{"healthy", `{"status":"healthy"}`, http.StatusOK, true},
		{"unhealthy", `{"status":"unhealthy"}`, http.StatusOK, false},
		{"server error", `{"status":"healthy"}`, http.StatusServiceUnavailable, false},
		{"garbage", `nope`, http.StatusOK, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodGet || r.URL.Path != "/health" {
					t.Errorf("Unexpected request %s %s", r.Method, r.URL.Path)
				}
				w.WriteHeader(tt.code)
				_, _ = w.Write([]byte(tt.body))
			})
			if got := c.CheckHealth(context.Background()); got != tt.want {
				t.Errorf("CheckHealth() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewHTTPClientDefaults(t *testing.T) {
	c := NewHTTPClient(ClientConfig{}, nil)
	if c.baseURL != DefaultBaseURL {
		t.Errorf("Expected default base URL, got %q", c.baseURL)
	}
	if c.http.Timeout != DefaultClientConfig().Timeout {
		t.Errorf("Expected default timeout, got %v", c.http.Timeout)
	}
}
