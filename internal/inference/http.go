package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ashureev/provit/internal/domain"
)

// DefaultBaseURL is the production backend.
const DefaultBaseURL = "https://convince.dotverse.tech/api"

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 1 << 20

// ClientConfig holds configuration for the HTTP client.
type ClientConfig struct {
	BaseURL string
	Timeout time.Duration
}

// DefaultClientConfig returns default configuration.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		BaseURL: DefaultBaseURL,
		Timeout: 60 * time.Second,
	}
}

// HTTPClient calls the JSON backend over HTTP.
type HTTPClient struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// NewHTTPClient creates a client for the backend at cfg.BaseURL.
func NewHTTPClient(cfg ClientConfig, logger *slog.Logger) *HTTPClient {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultClientConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}

	return &HTTPClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: cfg.Timeout},
		logger:  logger,
	}
}

// ChatRequest is the body of POST /chat.
type ChatRequest struct {
	Messages   []domain.Turn `json:"messages"`
	Mode       domain.Mode   `json:"mode"`
	RoastLevel int           `json:"roastLevel"`
}

// ChatResponse is the body returned by POST /chat.
type ChatResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// NameRequest is the body of POST /generate-name.
type NameRequest struct {
	Message string      `json:"message"`
	Mode    domain.Mode `json:"mode"`
}

// NameResponse is the body returned by POST /generate-name.
type NameResponse struct {
	Success bool   `json:"success"`
	Name    string `json:"name,omitempty"`
	Error   string `json:"error,omitempty"`
}

// HealthResponse is the body returned by GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// HealthyStatus is the status value reported by a healthy backend.
const HealthyStatus = "healthy"

// SendMessage posts the history to /chat.
func (c *HTTPClient) SendMessage(ctx context.Context, history []domain.Turn, mode domain.Mode, roastLevel int) (string, error) {
	if history == nil {
		history = []domain.Turn{}
	}
	req := ChatRequest{Messages: history, Mode: mode, RoastLevel: roastLevel}

	var resp ChatResponse
	if err := c.do(ctx, http.MethodPost, "/chat", req, &resp); err != nil {
		return "", err
	}
	if !resp.Success {
		return "", backendError(resp.Error, "failed to get response from server")
	}
	if strings.TrimSpace(resp.Message) == "" {
		return "", fmt.Errorf("%w: empty reply", ErrBackendFailure)
	}
	return resp.Message, nil
}

// GenerateChatName posts the first message to /generate-name.
func (c *HTTPClient) GenerateChatName(ctx context.Context, firstMessage string, mode domain.Mode) (string, error) {
	var resp NameResponse
	if err := c.do(ctx, http.MethodPost, "/generate-name", NameRequest{Message: firstMessage, Mode: mode}, &resp); err != nil {
		return "", err
	}
	if !resp.Success {
		return "", backendError(resp.Error, "failed to generate chat name")
	}
	name := strings.TrimSpace(resp.Name)
	if name == "" {
		return "", fmt.Errorf("%w: empty name", ErrBackendFailure)
	}
	return name, nil
}

// CheckHealth reports whether GET /health returns status "healthy".
func (c *HTTPClient) CheckHealth(ctx context.Context) bool {
	var resp HealthResponse
	if err := c.do(ctx, http.MethodGet, "/health", nil, &resp); err != nil {
		c.logger.Warn("backend health check failed", "error", err)
		return false
	}
	return resp.Status == HealthyStatus
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", path, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrBackendUnreachable, method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%w: read %s response: %v", ErrBackendUnreachable, path, err)
	}

	c.logger.Debug("backend call finished",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Error bodies from the backend still carry an "error" field.
		var failure struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(data, &failure)
		if failure.Error != "" {
			return fmt.Errorf("%w: %s: HTTP %d: %s", ErrBackendFailure, path, resp.StatusCode, failure.Error)
		}
		return fmt.Errorf("%w: %s: HTTP %d", ErrBackendFailure, path, resp.StatusCode)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: decode %s response: %v", ErrBackendFailure, path, err)
	}
	return nil
}

func backendError(msg, fallback string) error {
	if msg == "" {
		msg = fallback
	}
	return fmt.Errorf("%w: %s", ErrBackendFailure, msg)
}
