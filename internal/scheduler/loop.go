package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/PeerHerholz/neuroscout/internal/logging"
	"github.com/PeerHerholz/neuroscout/internal/store"
)

// Config holds scheduler configuration.
type Config struct {
	PollInterval  time.Duration
	WorkerTimeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval:  15 * time.Second,
		WorkerTimeout: 2 * time.Minute,
	}
}

// Loop implements the Scheduler interface with a polling loop over the store.
type Loop struct {
	store  store.Store
	config Config
	logger *slog.Logger
	now    func() time.Time
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewLoop creates a new scheduler loop.
func NewLoop(st store.Store, cfg Config, logger *slog.Logger) *Loop {
	return &Loop{
		store:  st,
		config: cfg,
		logger: logging.Component(logger, "scheduler"),
		now:    time.Now,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start begins the loop. Blocks until ctx is cancelled or Stop is called.
func (l *Loop) Start(ctx context.Context) error {
	l.logger.Info("scheduler started", "poll_interval", l.config.PollInterval, "worker_timeout", l.config.WorkerTimeout)
	ticker := time.NewTicker(l.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("scheduler stopping (context cancelled)")
			close(l.doneCh)
			return ctx.Err()
		case <-l.stopCh:
			l.logger.Info("scheduler stopping (stop called)")
			close(l.doneCh)
			return nil
		case <-ticker.C:
			if err := l.Tick(ctx); err != nil {
				l.logger.Error("tick error", "error", err)
			}
		}
	}
}

// Stop gracefully shuts down the scheduler and waits for the current tick to finish.
func (l *Loop) Stop() error {
	close(l.stopCh)
	<-l.doneCh
	return nil
}

// Tick runs a single iteration.
func (l *Loop) Tick(ctx context.Context) error {
	now := l.now()

	// Phase 1: redeliver or fail RUNNING jobs whose lease has expired.
	requeued, failed, err := l.store.ReapExpired(ctx, now)
	if err != nil {
		return fmt.Errorf("phase 1 (leases): %w", err)
	}
	if requeued > 0 || failed > 0 {
		l.logger.Warn("expired leases reaped", "requeued", requeued, "failed", failed)
	}

	// Phase 2: workers that stopped heartbeating go offline.
	if l.config.WorkerTimeout > 0 {
		n, err := l.store.MarkStaleWorkers(ctx, now.Add(-l.config.WorkerTimeout))
		if err != nil {
			return fmt.Errorf("phase 2 (workers): %w", err)
		}
		if n > 0 {
			l.logger.Info("workers marked offline", "count", n)
		}
	}
	return nil
}
