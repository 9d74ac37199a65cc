package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/PeerHerholz/neuroscout/internal/logging"
	"github.com/PeerHerholz/neuroscout/pkg/model"
)

// Executor runs one job to completion. dispatch.Registry implements it.
type Executor interface {
	Execute(ctx context.Context, job *model.Job) (map[string]any, error)
}

// Worker is the core work loop that polls the server for jobs, executes
// them in a fixed number of slots, and reports results back.
type Worker struct {
	client   *Client
	executor Executor
	config   Config
	logger   *slog.Logger
}

// Config holds worker configuration.
type Config struct {
	ServerURL   string
	Name        string
	Hostname    string
	Concurrency int
	Poll        time.Duration
	// Heartbeat must be shorter than the server's lease timeout.
	Heartbeat time.Duration
}

// New creates a Worker from configuration.
func New(cfg Config, exec Executor, logger *slog.Logger) *Worker {
	if cfg.Hostname == "" {
		cfg.Hostname, _ = os.Hostname()
	}
	if cfg.Name == "" {
		cfg.Name = cfg.Hostname
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.Poll <= 0 {
		cfg.Poll = 2 * time.Second
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = 30 * time.Second
	}

	return &Worker{
		client:   NewClient(cfg.ServerURL),
		executor: exec,
		config:   cfg,
		logger:   logging.Component(logger, "worker"),
	}
}

// Run registers with the server, then runs the job slots until the context
// is cancelled. A job already executing when ctx ends is finished and
// reported before Run returns.
func (w *Worker) Run(ctx context.Context) error {
	worker, err := w.client.Register(ctx, w.config.Name, w.config.Hostname, w.config.Concurrency)
	if err != nil {
		return fmt.Errorf("register: %w", err)
	}
	w.logger.Info("registered with server",
		"worker_id", worker.ID,
		"name", worker.Name,
		"concurrency", worker.Concurrency,
	)

	// Start heartbeat in a separate goroutine so it continues during job execution.
	hbCtx, stopHeartbeat := context.WithCancel(context.WithoutCancel(ctx))
	hbDone := make(chan struct{})
	go func() {
		defer close(hbDone)
		w.heartbeatLoop(hbCtx)
	}()

	var wg sync.WaitGroup
	for slot := 0; slot < w.config.Concurrency; slot++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			w.slotLoop(ctx, slot)
		}(slot)
	}
	wg.Wait()

	stopHeartbeat()
	<-hbDone

	w.logger.Info("shutting down, deregistering...")
	// Use a fresh context for deregistration.
	deregCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.client.Deregister(deregCtx); err != nil {
		w.logger.Error("deregister failed", "error", err)
	}
	return nil
}

// heartbeatLoop sends heartbeats at regular intervals until context is cancelled.
func (w *Worker) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(w.config.Heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.client.Heartbeat(ctx); err != nil {
				w.logger.Warn("heartbeat failed", "error", err)
			}
		}
	}
}

// slotLoop polls for jobs and executes them one at a time until ctx is
// cancelled. After a job it polls again immediately.
func (w *Worker) slotLoop(ctx context.Context, slot int) {
	logger := w.logger.With("slot", slot)
	for {
		if ctx.Err() != nil {
			return
		}
		ran, err := w.pollAndExecute(ctx)
		if err != nil {
			logger.Error("poll error", "error", err)
		}
		if ran {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(w.config.Poll):
		}
	}
}

// pollAndExecute checks for work and executes it if available. It reports
// whether a job was run.
func (w *Worker) pollAndExecute(ctx context.Context) (bool, error) {
	job, err := w.client.Checkout(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return false, nil
		}
		return false, fmt.Errorf("checkout: %w", err)
	}
	if job == nil {
		return false, nil // No work available
	}

	w.logger.Info("job received", "job_id", job.ID, "job", job.Name, "attempt", job.Attempts)

	// Jobs are not interrupted mid-run; shutdown waits for them.
	runCtx := context.WithoutCancel(ctx)
	result, execErr := w.executor.Execute(runCtx, job)

	req := model.CompleteRequest{State: model.JobStateSuccess, Result: result}
	if execErr != nil {
		req = model.CompleteRequest{State: model.JobStateFailed, Error: execErr.Error()}
	}

	reportCtx, cancel := context.WithTimeout(runCtx, 30*time.Second)
	defer cancel()
	if err := w.client.ReportComplete(reportCtx, job.ID, req); err != nil {
		var httpErr *HTTPError
		if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusConflict {
			w.logger.Warn("completion rejected, job was redelivered", "job_id", job.ID)
			return true, nil
		}
		return true, err
	}
	return true, nil
}
