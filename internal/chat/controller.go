// Package chat owns the in-memory session list and drives every chat turn.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/provit/internal/domain"
	"github.com/ashureev/provit/internal/inference"
	"github.com/ashureev/provit/internal/sessions"
)

// Replies written into the placeholder when the backend call fails.
const (
	UnreachableReply = "Oops! Can't reach the backend server. Make sure it's running!"
	FailureReply     = "Something went wrong! Even I'm confused, and that never happens."
)

// Store persists the session list. Implementations swallow their own errors.
type Store interface {
	Load(ctx context.Context) []domain.ChatSession
	Save(ctx context.Context, list []domain.ChatSession)
	Clear(ctx context.Context)
}

// Config holds controller tuning.
type Config struct {
	// SaveDebounce delays background writes so bursts collapse into one.
	SaveDebounce time.Duration
	// NameTimeout bounds the background naming call.
	NameTimeout time.Duration
	Now         func() time.Time
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		SaveDebounce: 0,
		NameTimeout:  30 * time.Second,
		Now:          time.Now,
	}
}

// State is a point-in-time copy of everything a UI renders.
type State struct {
	Current   *domain.ChatSession  `json:"current"`
	Sessions  []domain.ChatSession `json:"sessions"`
	IsLoading bool                 `json:"isLoading"`
}

// Controller serialises all session mutations behind one mutex.
// Inference calls are made without holding it.
type Controller struct {
	store  Store
	client inference.Client
	cfg    Config
	logger *slog.Logger

	mu        sync.Mutex
	sessions  []domain.ChatSession
	currentID string
	loading   bool

	persister *persister
	notifier  *notifier
	renames   sync.WaitGroup
}

// New creates a controller. Call Initialize to load persisted sessions.
func New(store Store, client inference.Client, cfg Config, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.NameTimeout <= 0 {
		cfg.NameTimeout = def.NameTimeout
	}
	if cfg.Now == nil {
		cfg.Now = def.Now
	}
	if cfg.SaveDebounce < 0 {
		cfg.SaveDebounce = 0
	}

	return &Controller{
		store:     store,
		client:    client,
		cfg:       cfg,
		logger:    logger,
		sessions:  []domain.ChatSession{},
		persister: newPersister(store, cfg.SaveDebounce, logger),
		notifier:  newNotifier(),
	}
}

// Initialize replaces the in-memory list with the persisted one.
// No session is selected afterwards unless the current one survived.
func (c *Controller) Initialize(ctx context.Context) {
	loaded := c.store.Load(ctx)

	c.mu.Lock()
	c.sessions = loaded
	if sessions.Index(c.sessions, c.currentID) < 0 {
		c.currentID = ""
	}
	n := len(c.sessions)
	c.mu.Unlock()

	c.logger.Info("chat history loaded", "sessions", n)
	c.notifier.broadcast()
}

// CreateSession starts a new chat, makes it current and returns a copy.
func (c *Controller) CreateSession(mode domain.Mode, roastLevel int) domain.ChatSession {
	s := sessions.New(mode, roastLevel, c.cfg.Now())

	c.mu.Lock()
	c.sessions = append([]domain.ChatSession{s}, c.sessions...)
	c.currentID = s.ID
	c.persistLocked()
	c.mu.Unlock()

	c.logger.Info("chat session created", "session_id", s.ID, "mode", s.Mode, "roast_level", s.RoastLevel)
	c.notifier.broadcast()
	return s.Clone()
}

// SelectSession makes id current. Unknown ids leave state untouched.
func (c *Controller) SelectSession(id string) bool {
	c.mu.Lock()
	if sessions.Index(c.sessions, id) < 0 {
		c.mu.Unlock()
		c.logger.Warn("select of unknown session", "session_id", id)
		return false
	}
	c.currentID = id
	c.mu.Unlock()

	c.notifier.broadcast()
	return true
}

// DeleteSession removes id. Deleting the current session selects the most
// recently updated survivor, or nothing.
func (c *Controller) DeleteSession(id string) bool {
	c.mu.Lock()
	if sessions.Index(c.sessions, id) < 0 {
		c.mu.Unlock()
		return false
	}
	c.sessions = sessions.Remove(c.sessions, id)
	if c.currentID == id {
		c.currentID = ""
		if next, ok := sessions.MostRecent(c.sessions); ok {
			c.currentID = next.ID
		}
	}
	next := c.currentID
	c.persistLocked()
	c.mu.Unlock()

	c.logger.Info("chat session deleted", "session_id", id, "current_id", next)
	c.notifier.broadcast()
	return true
}

// SendUserMessage runs one chat turn on the current session and blocks until
// the reply (or a fallback) has been written. It returns false without doing
// anything when a turn is already in flight, nothing is selected, or text is blank.
func (c *Controller) SendUserMessage(ctx context.Context, text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}

	c.mu.Lock()
	if c.loading {
		c.mu.Unlock()
		return false
	}
	idx := sessions.Index(c.sessions, c.currentID)
	if idx < 0 {
		c.mu.Unlock()
		return false
	}

	now := c.cfg.Now()
	sess := c.sessions[idx].Clone()
	first := !sess.HasUserMessage()

	sess.Messages = append(sess.Messages, domain.Message{
		ID:        sessions.NewMessageID(),
		Content:   text,
		Sender:    domain.SenderUser,
		Timestamp: now,
	})
	c.loading = true
	history := buildHistory(sess.Messages)

	placeholderID := sessions.NewMessageID()
	sess.Messages = append(sess.Messages, domain.Message{
		ID:        placeholderID,
		Sender:    domain.SenderAssistant,
		Timestamp: now,
		IsTyping:  true,
	})
	c.sessions = sessions.Upsert(c.sessions, sess, now)
	c.persistLocked()
	c.mu.Unlock()
	c.notifier.broadcast()

	defer func() {
		c.mu.Lock()
		c.loading = false
		c.mu.Unlock()
		c.notifier.broadcast()
	}()

	if first {
		c.startRename(ctx, sess.ID, text, sess.Mode)
	}

	start := time.Now()
	reply, err := c.client.SendMessage(ctx, history, sess.Mode, sess.RoastLevel)
	if err != nil {
		c.logger.Warn("inference request failed",
			"session_id", sess.ID,
			"duration", time.Since(start),
			"error", err)
		reply = fallbackReply(err)
	} else {
		c.logger.Debug("inference reply received",
			"session_id", sess.ID,
			"duration", time.Since(start),
			"reply_len", len(reply))
	}

	c.resolvePlaceholder(sess.ID, placeholderID, reply)
	return true
}

// buildHistory maps messages to inference turns, skipping placeholders.
func buildHistory(msgs []domain.Message) []domain.Turn {
	turns := make([]domain.Turn, 0, len(msgs))
	for _, m := range msgs {
		if m.IsTyping {
			continue
		}
		turns = append(turns, domain.Turn{Role: m.Sender.Role(), Content: m.Content})
	}
	return turns
}

func fallbackReply(err error) string {
	if errors.Is(err, inference.ErrBackendUnreachable) {
		return UnreachableReply
	}
	return FailureReply
}

// resolvePlaceholder lands the reply on the session by id, current or not.
func (c *Controller) resolvePlaceholder(sessionID, messageID, content string) {
	c.mu.Lock()
	sess, ok := sessions.Find(c.sessions, sessionID)
	if !ok {
		c.mu.Unlock()
		c.logger.Info("reply dropped, session was deleted", "session_id", sessionID)
		return
	}
	sess = sess.Clone()
	mi := sess.FindMessage(messageID)
	if mi < 0 {
		c.mu.Unlock()
		c.logger.Info("reply dropped, placeholder was cleared", "session_id", sessionID)
		return
	}

	sess.Messages[mi].Content = content
	sess.Messages[mi].IsTyping = false
	c.sessions = sessions.Upsert(c.sessions, sess, c.cfg.Now())
	c.persistLocked()
	c.mu.Unlock()

	c.notifier.broadcast()
}

func (c *Controller) startRename(ctx context.Context, sessionID, firstMessage string, mode domain.Mode) {
	ctx = context.WithoutCancel(ctx)

	c.renames.Add(1)
	go func() {
		defer c.renames.Done()

		nameCtx, cancel := context.WithTimeout(ctx, c.cfg.NameTimeout)
		defer cancel()

		name, err := c.client.GenerateChatName(nameCtx, firstMessage, mode)
		name = strings.TrimSpace(name)
		if err != nil || name == "" {
			c.logger.Warn("chat name generation failed, using fallback",
				"session_id", sessionID,
				"error", err)
			name = FallbackName(mode, c.cfg.Now())
		}
		c.setName(sessionID, name)
	}()
}

// FallbackName is the local title used when the backend cannot name a chat.
func FallbackName(mode domain.Mode, now time.Time) string {
	return fmt.Sprintf("%s %s - %s", mode.Icon(), mode.Label(), now.Format("15:04:05"))
}

// setName writes only the name, leaving messages and settings as they are now.
func (c *Controller) setName(sessionID, name string) {
	c.mu.Lock()
	idx := sessions.Index(c.sessions, sessionID)
	if idx < 0 {
		c.mu.Unlock()
		return
	}
	c.sessions[idx].Name = name
	c.persistLocked()
	c.mu.Unlock()

	c.logger.Debug("chat session named", "session_id", sessionID, "name", name)
	c.notifier.broadcast()
}

// UpdateSettings patches mode and roast level on any session.
// An invalid mode is ignored; the roast level is clamped.
func (c *Controller) UpdateSettings(id string, patch domain.Settings) bool {
	c.mu.Lock()
	sess, ok := sessions.Find(c.sessions, id)
	if !ok {
		c.mu.Unlock()
		return false
	}
	if patch.Mode != nil {
		if patch.Mode.Valid() {
			sess.Mode = *patch.Mode
		} else {
			c.logger.Warn("ignoring invalid mode", "session_id", id, "mode", *patch.Mode)
		}
	}
	if patch.RoastLevel != nil {
		sess.RoastLevel = domain.ClampRoastLevel(*patch.RoastLevel)
	}
	c.sessions = sessions.Upsert(c.sessions, sess, c.cfg.Now())
	c.persistLocked()
	c.mu.Unlock()

	c.notifier.broadcast()
	return true
}

// ClearCurrentSession empties the current chat and resets its name.
func (c *Controller) ClearCurrentSession() bool {
	c.mu.Lock()
	sess, ok := sessions.Find(c.sessions, c.currentID)
	if !ok {
		c.mu.Unlock()
		return false
	}
	sess.Messages = []domain.Message{}
	sess.Name = domain.NewChatName
	c.sessions = sessions.Upsert(c.sessions, sess, c.cfg.Now())
	c.persistLocked()
	c.mu.Unlock()

	c.notifier.broadcast()
	return true
}

// ClearHistory drops every session and removes the stored history.
func (c *Controller) ClearHistory(ctx context.Context) {
	c.mu.Lock()
	n := len(c.sessions)
	c.sessions = []domain.ChatSession{}
	c.currentID = ""
	c.persister.submitClear()
	c.mu.Unlock()

	c.persister.flush(ctx)
	c.logger.Info("chat history cleared", "sessions", n)
	c.notifier.broadcast()
}

// persistLocked queues a snapshot of the list. Caller holds c.mu.
func (c *Controller) persistLocked() {
	c.persister.submit(cloneAll(c.sessions))
}

func cloneAll(list []domain.ChatSession) []domain.ChatSession {
	out := make([]domain.ChatSession, len(list))
	for i, s := range list {
		out[i] = s.Clone()
	}
	return out
}

// State returns a deep copy of the current state, sessions by recency.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := State{
		Sessions:  sessions.SortByRecency(cloneAll(c.sessions)),
		IsLoading: c.loading,
	}
	if cur, ok := sessions.Find(c.sessions, c.currentID); ok {
		cur = cur.Clone()
		st.Current = &cur
	}
	return st
}

// Current returns a copy of the current session.
func (c *Controller) Current() (domain.ChatSession, bool) {
	return c.Session(c.CurrentID())
}

// CurrentID returns the id of the current session, or "".
func (c *Controller) CurrentID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentID
}

// Session returns a copy of the session with the given id.
func (c *Controller) Session(id string) (domain.ChatSession, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := sessions.Find(c.sessions, id)
	if !ok {
		return domain.ChatSession{}, false
	}
	return s.Clone(), true
}

// Sessions returns copies of all sessions, most recently updated first.
func (c *Controller) Sessions() []domain.ChatSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return sessions.SortByRecency(cloneAll(c.sessions))
}

// Search filters sessions by name or message content.
func (c *Controller) Search(term string) []domain.ChatSession {
	return sessions.Search(c.Sessions(), term)
}

// Recent returns up to limit sessions by recency.
func (c *Controller) Recent(limit int) []domain.ChatSession {
	return sessions.Recent(c.Sessions(), limit)
}

// IsLoading reports whether a chat turn is in flight.
func (c *Controller) IsLoading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loading
}

// CheckBackend asks the inference backend whether it is healthy.
func (c *Controller) CheckBackend(ctx context.Context) bool {
	return c.client.CheckHealth(ctx)
}

// Subscribe returns a channel that receives a signal after every change.
// Signals coalesce; call the returned func to unsubscribe.
func (c *Controller) Subscribe() (<-chan struct{}, func()) {
	return c.notifier.subscribe()
}

// Wait blocks until background naming calls have finished.
func (c *Controller) Wait() {
	c.renames.Wait()
}

// Flush writes any queued snapshot now.
func (c *Controller) Flush(ctx context.Context) {
	c.persister.flush(ctx)
}

// Close waits for background naming, then writes the final snapshot.
func (c *Controller) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.renames.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = fmt.Errorf("wait for chat naming: %w", ctx.Err())
	}

	c.persister.close(ctx)
	return err
}
