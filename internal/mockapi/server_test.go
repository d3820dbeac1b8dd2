package mockapi

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

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/provit/internal/domain"
	"github.com/ashureev/provit/internal/inference"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type brokenClient struct{ *inference.OfflineClient }

func (brokenClient) SendMessage(context.Context, []domain.Turn, domain.Mode, int) (string, error) {
	return "", errors.New("model exploded")
}

func (brokenClient) CheckHealth(context.Context) bool { return false }

func newTestServer(t *testing.T, client inference.Client, limiter *RateLimiter) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	NewServer(client, limiter, testLogger()).RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func newHTTPClient(srv *httptest.Server) *inference.HTTPClient {
	return inference.NewHTTPClient(inference.ClientConfig{BaseURL: srv.URL + "/api/", Timeout: 5 * time.Second}, testLogger())
}

func TestServerSpeaksClientContract(t *testing.T) {
	srv := newTestServer(t, inference.NewOfflineClient(1), nil)
	client := newHTTPClient(srv)
	ctx := context.Background()

	reply, err := client.SendMessage(ctx, []domain.Turn{{Role: "user", Content: "hello"}}, domain.ModeProveHuman, 3)
	if err != nil || reply == "" {
		t.Fatalf("SendMessage = %q, %v", reply, err)
	}

	name, err := client.GenerateChatName(ctx, "I love chess and coffee", domain.ModeConvinceAI)
	if err != nil {
		t.Fatalf("GenerateChatName failed: %v", err)
	}
	if want := inference.SuggestName("I love chess and coffee", domain.ModeConvinceAI); name != want {
		t.Errorf("Expected name %q, got %q", want, name)
	}

	if !client.CheckHealth(ctx) {
		t.Error("Expected healthy backend")
	}
}

func TestServerRejectsBadRequests(t *testing.T) {
	srv := newTestServer(t, inference.NewOfflineClient(1), nil)

	tests := []struct {
		name string
		path string
		body string
	}{
		{"chat bad json", "/api/chat", "{"},
		{"chat no messages", "/api/chat", `{"messages":[],"mode":"convince-ai"}`},
		{"name bad json", "/api/generate-name", "nope"},
		{"name blank message", "/api/generate-name", `{"message":"  "}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(srv.URL+tt.path, "application/json", strings.NewReader(tt.body))
			if err != nil {
				t.Fatalf("POST failed: %v", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("Expected 400, got %d", resp.StatusCode)
			}
		})
	}
}

func TestServerClientFailure(t *testing.T) {
	srv := newTestServer(t, brokenClient{inference.NewOfflineClient(1)}, nil)
	client := newHTTPClient(srv)

	_, err := client.SendMessage(context.Background(), []domain.Turn{{Role: "user", Content: "hi"}}, domain.ModeConvinceAI, 5)
	if !errors.Is(err, inference.ErrBackendFailure) {
		t.Errorf("Expected backend failure, got %v", err)
	}
	if client.CheckHealth(context.Background()) {
		t.Error("Expected unhealthy backend")
	}
}

func TestServerRateLimit(t *testing.T) {
	limiter := NewRateLimiter(2, time.Minute)
	defer limiter.Stop()
	srv := newTestServer(t, inference.NewOfflineClient(1), limiter)
	client := newHTTPClient(srv)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := client.GenerateChatName(ctx, "just a person", domain.ModeConvinceAI); err != nil {
			t.Fatalf("Request %d failed: %v", i, err)
		}
	}

	_, err := client.SendMessage(ctx, []domain.Turn{{Role: "user", Content: "hi"}}, domain.ModeConvinceAI, 5)
	if !errors.Is(err, inference.ErrBackendFailure) || !strings.Contains(err.Error(), "429") {
		t.Errorf("Expected 429 failure, got %v", err)
	}

	if !client.CheckHealth(ctx) {
		t.Error("Health must not be rate limited")
	}
}

func TestServerRateLimitResponseShape(t *testing.T) {
	limiter := NewRateLimiter(1, time.Minute)
	defer limiter.Stop()
	srv := newTestServer(t, inference.NewOfflineClient(1), limiter)

	body := `{"message":"hello there","mode":"convince-ai"}`
	for i := 0; i < 2; i++ {
		resp, err := http.Post(srv.URL+"/api/generate-name", "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatalf("POST failed: %v", err)
		}
		if i == 0 {
			resp.Body.Close()
			continue
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusTooManyRequests {
			t.Fatalf("Expected 429, got %d", resp.StatusCode)
		}
		if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Expected application/json, got %q", ct)
		}
		var got inference.ChatResponse
		if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
			t.Fatalf("Failed to decode 429 body: %v", err)
		}
		if got.Success || got.Error != rateLimitMessage {
			t.Errorf("Unexpected 429 body %+v", got)
		}
	}
}
