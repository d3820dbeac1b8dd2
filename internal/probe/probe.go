// Package probe polls the inference backend's health on a cron schedule.
package probe

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// checkTimeout bounds a single health check.
const checkTimeout = 10 * time.Second

// Checker reports backend health.
type Checker interface {
	CheckBackend(ctx context.Context) bool
}

// Status is the last observed backend health.
type Status struct {
	Healthy   bool      `json:"healthy"`
	CheckedAt time.Time `json:"checkedAt"`
	// Checked is false until the first check has run.
	Checked bool `json:"checked"`
}

// Probe runs health checks in the background and caches the result.
type Probe struct {
	checker  Checker
	schedule string
	now      func() time.Time
	logger   *slog.Logger

	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	status Status
}

// New creates a probe. An empty schedule disables the background job;
// Check can still be called directly.
func New(checker Checker, schedule string, logger *slog.Logger) *Probe {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Probe{
		checker:  checker,
		schedule: schedule,
		now:      time.Now,
		logger:   logger,
		cron:     cron.New(cron.WithLocation(time.UTC)),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start runs one check immediately and then schedules the rest.
func (p *Probe) Start() error {
	if p.schedule == "" {
		p.logger.Info("backend health probe disabled")
		return nil
	}

	if _, err := p.cron.AddFunc(p.schedule, func() { p.Check(p.ctx) }); err != nil {
		return fmt.Errorf("schedule health probe %q: %w", p.schedule, err)
	}

	go p.Check(p.ctx)
	p.cron.Start()
	p.logger.Info("backend health probe started", "schedule", p.schedule)
	return nil
}

// Stop waits for a running check to finish and stops the schedule.
func (p *Probe) Stop() {
	stopped := p.cron.Stop()
	p.cancel()
	<-stopped.Done()
	p.logger.Info("backend health probe stopped")
}

// Check queries the backend now and records the result.
func (p *Probe) Check(ctx context.Context) Status {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	healthy := p.checker.CheckBackend(ctx)
	st := Status{Healthy: healthy, CheckedAt: p.now(), Checked: true}

	p.mu.Lock()
	prev := p.status
	p.status = st
	p.mu.Unlock()

	if prev.Checked && prev.Healthy != healthy {
		p.logger.Warn("backend health changed", "healthy", healthy)
	} else {
		p.logger.Debug("backend health checked", "healthy", healthy)
	}
	return st
}

// Status returns the last recorded result.
func (p *Probe) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}

// Running reports whether the background job is scheduled.
func (p *Probe) Running() bool {
	return len(p.cron.Entries()) > 0
}
