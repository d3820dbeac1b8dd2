package chat

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/provit/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stepClock returns a strictly increasing time on every call.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStepClock() *stepClock {
	return &stepClock{now: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type memStore struct {
	mu     sync.Mutex
	loaded []domain.ChatSession
	saves  [][]domain.ChatSession
	clears int
}

func (s *memStore) Load(context.Context) []domain.ChatSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneAll(s.loaded)
}

func (s *memStore) Save(_ context.Context, list []domain.ChatSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves = append(s.saves, cloneAll(list))
}

func (s *memStore) Clear(context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clears++
	s.saves = append(s.saves, nil)
}

func (s *memStore) last() ([]domain.ChatSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.saves) == 0 {
		return nil, false
	}
	return s.saves[len(s.saves)-1], true
}

func (s *memStore) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saves)
}

// fakeClient records calls. Non-nil gates block the matching call until closed.
type fakeClient struct {
	mu        sync.Mutex
	histories [][]domain.Turn
	firsts    []string

	reply    string
	replyErr error
	name     string
	nameErr  error
	healthy  bool

	sendStarted chan struct{}
	replyGate   chan struct{}
	nameGate    chan struct{}
}

func (f *fakeClient) SendMessage(_ context.Context, history []domain.Turn, _ domain.Mode, _ int) (string, error) {
	f.mu.Lock()
	f.histories = append(f.histories, append([]domain.Turn(nil), history...))
	f.mu.Unlock()

	if f.sendStarted != nil {
		f.sendStarted <- struct{}{}
	}
	if f.replyGate != nil {
		<-f.replyGate
	}
	if f.replyErr != nil {
		return "", f.replyErr
	}
	return f.reply, nil
}

func (f *fakeClient) GenerateChatName(_ context.Context, first string, _ domain.Mode) (string, error) {
	f.mu.Lock()
	f.firsts = append(f.firsts, first)
	f.mu.Unlock()

	if f.nameGate != nil {
		<-f.nameGate
	}
	if f.nameErr != nil {
		return "", f.nameErr
	}
	return f.name, nil
}

func (f *fakeClient) CheckHealth(context.Context) bool { return f.healthy }

func (f *fakeClient) history(i int) []domain.Turn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.histories[i]
}

func (f *fakeClient) nameCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.firsts...)
}

func newTestController(t *testing.T, store Store, client *fakeClient) *Controller {
	t.Helper()
	c := New(store, client, Config{Now: newStepClock().Now}, discardLogger())
	t.Cleanup(func() {
		_ = c.Close(context.Background())
	})
	return c
}

// sendAsync runs SendUserMessage in a goroutine and reports its result.
func sendAsync(c *Controller, text string) <-chan bool {
	done := make(chan bool, 1)
	go func() {
		done <- c.SendUserMessage(context.Background(), text)
	}()
	return done
}

func waitResult(t *testing.T, ch <-chan bool) bool {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for SendUserMessage")
		return false
	}
}
