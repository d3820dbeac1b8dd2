// Package sessions holds pure transformations over lists of chat sessions.
//
// Nothing here performs I/O or keeps state. Every function takes its inputs
// by value, takes the clock as an explicit argument, and returns a new slice.
package sessions

import (
	"crypto/rand"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ashureev/provit/internal/domain"
	"github.com/google/uuid"
)

// DefaultRecentLimit is the number of sessions Recent returns when limit <= 0.
const DefaultRecentLimit = 10

// NewID returns a session id of the form chat_<unix-millis>_<random>.
func NewID(now time.Time) string {
	return "chat_" + strconv.FormatInt(now.UnixMilli(), 10) + "_" + randomSuffix()
}

// NewMessageID returns a time-ordered message id.
func NewMessageID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func randomSuffix() string {
	buf := make([]byte, 6)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

// New creates an empty session. A zero roast level selects the default.
func New(mode domain.Mode, roastLevel int, now time.Time) domain.ChatSession {
	if !mode.Valid() {
		mode = domain.ModeConvinceAI
	}
	if roastLevel == 0 {
		roastLevel = domain.DefaultRoastLevel
	}
	return domain.ChatSession{
		ID:         NewID(now),
		Name:       mode.PlaceholderName(),
		Messages:   []domain.Message{},
		Mode:       mode,
		RoastLevel: domain.ClampRoastLevel(roastLevel),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Upsert replaces the session with a matching id, or appends it.
// Either way the stored copy has UpdatedAt set to now.
func Upsert(list []domain.ChatSession, s domain.ChatSession, now time.Time) []domain.ChatSession {
	s.UpdatedAt = now
	out := make([]domain.ChatSession, 0, len(list)+1)
	replaced := false
	for _, existing := range list {
		if existing.ID == s.ID {
			out = append(out, s)
			replaced = true
			continue
		}
		out = append(out, existing)
	}
	if !replaced {
		out = append(out, s)
	}
	return out
}

// Remove drops every session with the given id.
func Remove(list []domain.ChatSession, id string) []domain.ChatSession {
	out := make([]domain.ChatSession, 0, len(list))
	for _, s := range list {
		if s.ID != id {
			out = append(out, s)
		}
	}
	return out
}

// Index returns the position of the session with the given id, or -1.
func Index(list []domain.ChatSession, id string) int {
	for i := range list {
		if list[i].ID == id {
			return i
		}
	}
	return -1
}

// Find returns the session with the given id.
func Find(list []domain.ChatSession, id string) (domain.ChatSession, bool) {
	if i := Index(list, id); i >= 0 {
		return list[i], true
	}
	return domain.ChatSession{}, false
}

// Search keeps sessions whose name or any message content contains term,
// ignoring case. A blank term keeps everything.
func Search(list []domain.ChatSession, term string) []domain.ChatSession {
	if strings.TrimSpace(term) == "" {
		return append([]domain.ChatSession(nil), list...)
	}

	needle := strings.ToLower(term)
	var out []domain.ChatSession
	for _, s := range list {
		if matches(s, needle) {
			out = append(out, s)
		}
	}
	return out
}

func matches(s domain.ChatSession, needle string) bool {
	if strings.Contains(strings.ToLower(s.Name), needle) {
		return true
	}
	for _, m := range s.Messages {
		if strings.Contains(strings.ToLower(m.Content), needle) {
			return true
		}
	}
	return false
}

// SortByRecency orders sessions by UpdatedAt, newest first.
// Sessions with equal timestamps keep their relative order.
func SortByRecency(list []domain.ChatSession) []domain.ChatSession {
	out := append([]domain.ChatSession(nil), list...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

// Cap keeps the n most recently updated sessions.
func Cap(list []domain.ChatSession, n int) []domain.ChatSession {
	if n <= 0 {
		return []domain.ChatSession{}
	}
	out := SortByRecency(list)
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// Recent is Cap with a default limit.
func Recent(list []domain.ChatSession, limit int) []domain.ChatSession {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	return Cap(list, limit)
}

// MostRecent returns the session with the latest UpdatedAt.
func MostRecent(list []domain.ChatSession) (domain.ChatSession, bool) {
	if len(list) == 0 {
		return domain.ChatSession{}, false
	}
	best := 0
	for i := 1; i < len(list); i++ {
		if list[i].UpdatedAt.After(list[best].UpdatedAt) {
			best = i
		}
	}
	return list[best], true
}
