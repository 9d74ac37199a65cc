// Package dispatch maps job names to the handlers that execute them.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"time"

	"github.com/PeerHerholz/neuroscout/internal/logging"
	"github.com/PeerHerholz/neuroscout/pkg/model"
)

// ErrUnknownJob is returned for a job name with no registered handler.
var ErrUnknownJob = errors.New("unknown job")

// Handler executes one named job from its serialized arguments.
type Handler interface {
	Run(ctx context.Context, args json.RawMessage) (map[string]any, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, args json.RawMessage) (map[string]any, error)

func (f HandlerFunc) Run(ctx context.Context, args json.RawMessage) (map[string]any, error) {
	return f(ctx, args)
}

// Registry maps job names to handlers. Registration happens at startup
// before concurrent access, so no mutex is needed.
type Registry struct {
	handlers map[model.JobName]Handler
	logger   *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		handlers: make(map[model.JobName]Handler),
		logger:   logging.Component(logger, "dispatch"),
	}
}

// Register adds a handler for name, replacing any previous one.
func (r *Registry) Register(name model.JobName, h Handler) {
	r.handlers[name] = h
	r.logger.Debug("handler registered", "job", name)
}

// Get returns the handler for name.
func (r *Registry) Get(name model.JobName) (Handler, error) {
	h, ok := r.handlers[name]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownJob, name)
	}
	return h, nil
}

// Names lists registered job names, sorted.
func (r *Registry) Names() []model.JobName {
	out := make([]model.JobName, 0, len(r.handlers))
	for n := range r.handlers {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Execute runs job synchronously. A panicking handler fails the job
// instead of the worker.
func (r *Registry) Execute(ctx context.Context, job *model.Job) (result map[string]any, err error) {
	logger := logging.ForJob(r.logger, job.ID, string(job.Name), job.Attempts)
	h, err := r.Get(job.Name)
	if err != nil {
		logger.Error("job rejected", "error", err)
		return nil, err
	}

	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("job panicked", "panic", rec, "stack", string(debug.Stack()))
			result, err = nil, fmt.Errorf("job %s panicked: %v", job.Name, rec)
		}
	}()

	start := time.Now()
	logger.Info("job started")
	result, err = h.Run(ctx, job.Args)
	if err != nil {
		logger.Error("job failed", "error", err, "duration", time.Since(start))
		return nil, err
	}
	logger.Info("job succeeded", "duration", time.Since(start))
	return result, nil
}
