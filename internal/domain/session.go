// Package domain contains core domain types for the chat client.
package domain

import (
	"time"
)

// Sender identifies who authored a message.
type Sender string

const (
	// SenderUser marks a message typed by the person using the app.
	SenderUser Sender = "user"
	// SenderAssistant marks a message produced by the inference backend.
	SenderAssistant Sender = "assistant"
)

// Valid reports whether s is a known sender.
func (s Sender) Valid() bool {
	return s == SenderUser || s == SenderAssistant
}

// Role maps the sender onto the role name used in inference history.
func (s Sender) Role() string {
	if s == SenderUser {
		return "user"
	}
	return "assistant"
}

// Message is a single chat bubble.
// Content only changes while IsTyping is true.
type Message struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Sender    Sender    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
	IsTyping  bool      `json:"isTyping"`
}

// ChatSession is one conversation with its settings.
type ChatSession struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Messages   []Message `json:"messages"`
	Mode       Mode      `json:"mode"`
	RoastLevel int       `json:"roastLevel"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Clone returns a deep copy that shares no slices with s.
func (s ChatSession) Clone() ChatSession {
	out := s
	if s.Messages != nil {
		out.Messages = make([]Message, len(s.Messages))
		copy(out.Messages, s.Messages)
	}
	return out
}

// FindMessage returns the index of the message with the given id, or -1.
func (s *ChatSession) FindMessage(id string) int {
	for i := range s.Messages {
		if s.Messages[i].ID == id {
			return i
		}
	}
	return -1
}

// TypingCount returns how many messages are still placeholders.
func (s *ChatSession) TypingCount() int {
	n := 0
	for _, m := range s.Messages {
		if m.IsTyping {
			n++
		}
	}
	return n
}

// HasUserMessage reports whether the user has sent anything in this session.
func (s *ChatSession) HasUserMessage() bool {
	for _, m := range s.Messages {
		if m.Sender == SenderUser {
			return true
		}
	}
	return false
}

// Settings is a partial update of a session's conversational settings.
// Nil fields are left unchanged.
type Settings struct {
	Mode       *Mode `json:"mode,omitempty"`
	RoastLevel *int  `json:"roastLevel,omitempty"`
}

// Turn is one entry of the history sent to the inference backend.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
