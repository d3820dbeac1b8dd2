package chat

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/provit/internal/domain"
)

// persister writes session snapshots in the background.
// Only the latest snapshot is kept; writes never run concurrently.
type persister struct {
	store    Store
	debounce time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	pending []domain.ChatSession
	dirty   bool
	wipe    bool

	writeMu sync.Mutex
	wake    chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func newPersister(store Store, debounce time.Duration, logger *slog.Logger) *persister {
	ctx, cancel := context.WithCancel(context.Background())
	p := &persister{
		store:    store,
		debounce: debounce,
		logger:   logger,
		wake:     make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
	}

	p.wg.Add(1)
	go p.run()

	return p
}

// submit replaces any queued snapshot with snap.
func (p *persister) submit(snap []domain.ChatSession) {
	p.mu.Lock()
	p.pending = snap
	p.dirty = true
	p.wipe = false
	p.mu.Unlock()
	p.signal()
}

// submitClear queues removal of the stored history.
func (p *persister) submitClear() {
	p.mu.Lock()
	p.pending = nil
	p.dirty = true
	p.wipe = true
	p.mu.Unlock()
	p.signal()
}

func (p *persister) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *persister) run() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-p.wake:
		}

		if p.debounce > 0 {
			timer := time.NewTimer(p.debounce)
			select {
			case <-timer.C:
			case <-p.ctx.Done():
				timer.Stop()
				return
			}
		}

		// A write already started finishes even if close is called.
		p.flush(context.Background())
	}
}

// flush writes whatever is queued. Holding writeMu across take-and-write
// keeps an older snapshot from landing after a newer one.
func (p *persister) flush(ctx context.Context) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	p.mu.Lock()
	snap, dirty, wipe := p.pending, p.dirty, p.wipe
	p.pending, p.dirty, p.wipe = nil, false, false
	p.mu.Unlock()

	if !dirty {
		return
	}

	start := time.Now()
	if wipe {
		p.store.Clear(ctx)
	} else {
		p.store.Save(ctx, snap)
	}

	if d := time.Since(start); d > 250*time.Millisecond {
		p.logger.Warn("slow chat history write", "duration_ms", d.Milliseconds(), "sessions", len(snap))
	}
}

// close stops the worker and writes anything still queued.
func (p *persister) close(ctx context.Context) {
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		p.logger.Warn("persister shutdown timeout")
	}

	p.flush(context.WithoutCancel(ctx))
}
