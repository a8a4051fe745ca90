// Package scheduler runs reconciliation passes in the background.
package scheduler

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/kimhsiao/scriberr-companion/internal/errors"
	"github.com/kimhsiao/scriberr-companion/internal/logging"
)

// Syncer is the slice of the sync engine the scheduler drives.
type Syncer interface {
	SyncNow(ctx context.Context) error
}

// Scheduler triggers a reconciliation pass on a fixed interval. The
// engine serializes passes itself; the scheduler only decides when to
// ask for one.
type Scheduler struct {
	engine   Syncer
	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup

	mu        sync.Mutex
	isRunning bool
}

// DefaultInterval is used when the configured interval is zero.
const DefaultInterval = 5 * time.Minute

// New creates a Scheduler.
func New(engine Syncer, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{
		engine:   engine,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start launches the background loop. Calling Start twice is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop(ctx)

	logging.WithComponent("scheduler").
		WithField("interval", s.interval.String()).
		Info("background sync scheduler started")
}

// Stop halts the loop and waits for an in-flight pass to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()

	logging.WithComponent("scheduler").Info("background sync scheduler stopped")
}

// IsRunning reports whether the loop is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.runPass(ctx)
		}
	}
}

func (s *Scheduler) runPass(ctx context.Context) {
	log := logging.WithComponent("scheduler")

	passCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	err := s.engine.SyncNow(passCtx)
	switch {
	case err == nil:
		log.Debug("periodic sync completed")
	case apperrors.Is(err, apperrors.ErrSyncNotConfigured):
		// No remote configured yet. Keep ticking quietly.
		log.Debug("skipping periodic sync, remote not configured")
	default:
		log.WithError(err).Warn("periodic sync failed")
	}
}
