// Package inference talks to the chat backend that produces replies and names.
package inference

import (
	"context"
	"errors"

	"github.com/ashureev/provit/internal/domain"
)

var (
	// ErrBackendUnreachable means the request never got a response.
	ErrBackendUnreachable = errors.New("inference backend unreachable")
	// ErrBackendFailure means the backend answered but not with a usable result.
	ErrBackendFailure = errors.New("inference backend failure")
)

// Client defines the operations the chat controller needs from the backend.
type Client interface {
	// SendMessage returns the assistant reply for the given history.
	SendMessage(ctx context.Context, history []domain.Turn, mode domain.Mode, roastLevel int) (string, error)

	// GenerateChatName returns a title for a conversation opened with firstMessage.
	GenerateChatName(ctx context.Context, firstMessage string, mode domain.Mode) (string, error)

	// CheckHealth reports whether the backend says it is healthy.
	CheckHealth(ctx context.Context) bool
}

var (
	_ Client = (*HTTPClient)(nil)
	_ Client = (*OfflineClient)(nil)
)
