package store

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/ashureev/provit/internal/domain"
	"github.com/ashureev/provit/internal/sessions"
)

// Defaults for ChatStoreConfig.
const (
	DefaultHistoryKey  = "ai-chat-history"
	DefaultMaxSessions = 50
)

// TimestampLayout is the ISO-8601 layout written for every persisted timestamp.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// ChatStoreConfig configures a ChatStore.
type ChatStoreConfig struct {
	Key   string
	Limit int
	Now   func() time.Time
}

// ChatStore persists the session list as one JSON array under a single key.
// Failures are logged and swallowed; callers never see an error.
type ChatStore struct {
	kv     KV
	key    string
	limit  int
	now    func() time.Time
	logger *slog.Logger
}

// NewChatStore wraps kv. Zero config fields take their defaults.
func NewChatStore(kv KV, cfg ChatStoreConfig, logger *slog.Logger) *ChatStore {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Key == "" {
		cfg.Key = DefaultHistoryKey
	}
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultMaxSessions
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &ChatStore{
		kv:     kv,
		key:    cfg.Key,
		limit:  cfg.Limit,
		now:    cfg.Now,
		logger: logger,
	}
}

// Limit returns the maximum number of sessions Save keeps.
func (s *ChatStore) Limit() int { return s.limit }

type wireMessage struct {
	ID        string `json:"id"`
	Content   string `json:"content"`
	Sender    string `json:"sender"`
	Timestamp string `json:"timestamp"`
	IsTyping  bool   `json:"isTyping,omitempty"`
}

type wireSession struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Messages   []wireMessage `json:"messages"`
	Mode       string        `json:"mode"`
	RoastLevel int           `json:"roastLevel"`
	CreatedAt  string        `json:"createdAt"`
	UpdatedAt  string        `json:"updatedAt"`
}

// Load returns the persisted sessions, most recently updated first.
// Entries that fail validation are dropped individually.
func (s *ChatStore) Load(ctx context.Context) []domain.ChatSession {
	raw, found, err := s.kv.Get(ctx, s.key)
	if err != nil {
		s.logger.Error("failed to read chat history", "key", s.key, "error", err)
		return []domain.ChatSession{}
	}
	if !found || strings.TrimSpace(raw) == "" {
		return []domain.ChatSession{}
	}

	var elems []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &elems); err != nil || elems == nil {
		s.logger.Warn("chat history is not a JSON array, clearing", "key", s.key, "error", err)
		s.Clear(ctx)
		return []domain.ChatSession{}
	}

	now := s.now().UTC()
	out := make([]domain.ChatSession, 0, len(elems))
	seen := make(map[string]int, len(elems))
	dropped := 0
	for _, elem := range elems {
		sess, ok := decodeSession(elem, now)
		if !ok {
			dropped++
			continue
		}
		// Ids are unique; the most recently updated copy wins.
		if i, dup := seen[sess.ID]; dup {
			dropped++
			if sess.UpdatedAt.After(out[i].UpdatedAt) {
				out[i] = sess
			}
			continue
		}
		seen[sess.ID] = len(out)
		out = append(out, sess)
	}
	if dropped > 0 {
		s.logger.Warn("dropped malformed chat sessions", "key", s.key, "dropped", dropped, "kept", len(out))
	}

	return sessions.SortByRecency(out)
}

// Save writes the most recent sessions, up to the configured limit.
func (s *ChatStore) Save(ctx context.Context, list []domain.ChatSession) {
	kept := sessions.Cap(list, s.limit)

	wire := make([]wireSession, 0, len(kept))
	for _, sess := range kept {
		wire = append(wire, encodeSession(sess))
	}

	data, err := json.Marshal(wire)
	if err != nil {
		s.logger.Error("failed to encode chat history", "error", err)
		return
	}
	if err := s.kv.Set(ctx, s.key, string(data)); err != nil {
		s.logger.Error("failed to write chat history", "key", s.key, "sessions", len(wire), "error", err)
		return
	}
	s.logger.Debug("chat history saved", "key", s.key, "sessions", len(wire))
}

// Clear removes the persisted history.
func (s *ChatStore) Clear(ctx context.Context) {
	if err := s.kv.Delete(ctx, s.key); err != nil {
		s.logger.Error("failed to clear chat history", "key", s.key, "error", err)
	}
}

func encodeSession(sess domain.ChatSession) wireSession {
	msgs := make([]wireMessage, 0, len(sess.Messages))
	for _, m := range sess.Messages {
		msgs = append(msgs, wireMessage{
			ID:        m.ID,
			Content:   m.Content,
			Sender:    string(m.Sender),
			Timestamp: formatTime(m.Timestamp),
			IsTyping:  m.IsTyping,
		})
	}
	return wireSession{
		ID:         sess.ID,
		Name:       sess.Name,
		Messages:   msgs,
		Mode:       string(sess.Mode),
		RoastLevel: sess.RoastLevel,
		CreatedAt:  formatTime(sess.CreatedAt),
		UpdatedAt:  formatTime(sess.UpdatedAt),
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

func decodeSession(raw json.RawMessage, now time.Time) (domain.ChatSession, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return domain.ChatSession{}, false
	}

	id, ok := stringField(fields, "id")
	if !ok || id == "" {
		return domain.ChatSession{}, false
	}

	name, _ := stringField(fields, "name")

	mode := domain.Mode("")
	if v, ok := stringField(fields, "mode"); ok {
		mode = domain.Mode(v)
	}
	if !mode.Valid() {
		mode = domain.ModeConvinceAI
	}

	roast := domain.DefaultRoastLevel
	if v, ok := numberField(fields, "roastLevel"); ok {
		roast = domain.ClampRoastLevel(int(math.Round(v)))
	}

	createdAt, ok := timeField(fields, "createdAt")
	if !ok {
		createdAt = now
	}
	updatedAt, ok := timeField(fields, "updatedAt")
	if !ok {
		updatedAt = now
	}

	var rawMsgs []json.RawMessage
	if v, present := fields["messages"]; present {
		if err := json.Unmarshal(v, &rawMsgs); err != nil {
			rawMsgs = nil
		}
	}
	msgs := make([]domain.Message, 0, len(rawMsgs))
	for _, rm := range rawMsgs {
		if m, ok := decodeMessage(rm); ok {
			msgs = append(msgs, m)
		}
	}

	return domain.ChatSession{
		ID:         id,
		Name:       name,
		Messages:   msgs,
		Mode:       mode,
		RoastLevel: roast,
		CreatedAt:  createdAt,
		UpdatedAt:  updatedAt,
	}, true
}

func decodeMessage(raw json.RawMessage) (domain.Message, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return domain.Message{}, false
	}

	id, ok := stringField(fields, "id")
	if !ok || id == "" {
		return domain.Message{}, false
	}

	senderRaw, _ := stringField(fields, "sender")
	sender := domain.Sender(senderRaw)
	if senderRaw == "ai" {
		sender = domain.SenderAssistant
	}
	if !sender.Valid() {
		return domain.Message{}, false
	}

	ts, ok := timeField(fields, "timestamp")
	if !ok {
		return domain.Message{}, false
	}

	content, _ := stringField(fields, "content")

	var typing bool
	if v, present := fields["isTyping"]; present {
		_ = json.Unmarshal(v, &typing)
	}
	if typing {
		// Placeholder left behind by an interrupted turn.
		if content == "" {
			return domain.Message{}, false
		}
		typing = false
	}

	return domain.Message{
		ID:        id,
		Content:   content,
		Sender:    sender,
		Timestamp: ts,
		IsTyping:  typing,
	}, true
}

func stringField(fields map[string]json.RawMessage, name string) (string, bool) {
	v, ok := fields[name]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return "", false
	}
	return s, true
}

func numberField(fields map[string]json.RawMessage, name string) (float64, bool) {
	v, ok := fields[name]
	if !ok {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(v, &f); err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// maxEpochMillis is the largest magnitude a JavaScript Date accepts.
const maxEpochMillis = 8.64e15

// timeField accepts an ISO-8601 string or epoch milliseconds. Instants that
// cannot be written back in TimestampLayout are rejected.
func timeField(fields map[string]json.RawMessage, name string) (time.Time, bool) {
	var (
		t  time.Time
		ok bool
	)
	if s, isString := stringField(fields, name); isString {
		t, ok = parseTime(s)
	} else if ms, isNumber := numberField(fields, name); isNumber && math.Abs(ms) <= maxEpochMillis {
		t, ok = time.UnixMilli(int64(ms)).UTC(), true
	}
	if !ok || t.Year() < 0 || t.Year() > 9999 {
		return time.Time{}, false
	}
	return t, true
}

func parseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{TimestampLayout, time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
