package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/PeerHerholz/neuroscout/internal/config"
	"github.com/PeerHerholz/neuroscout/internal/logging"
	"github.com/PeerHerholz/neuroscout/internal/scheduler"
	"github.com/PeerHerholz/neuroscout/internal/store"
	"github.com/PeerHerholz/neuroscout/pkg/model"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

// ArgsValidator checks job arguments at enqueue time.
type ArgsValidator func(name model.JobName, args json.RawMessage) error

// Server is the neuroscout job API server.
type Server struct {
	router        chi.Router
	logger        *slog.Logger
	config        config.ServerConfig
	paths         config.PathsConfig
	startTime     time.Time
	store         store.Store
	scheduler     scheduler.Scheduler
	validateArgs  ArgsValidator // optional; nil accepts any JSON object
	serveArtifact bool
}

// Option configures optional Server dependencies.
type Option func(*Server)

// WithArgsValidator rejects malformed job arguments before they are queued.
func WithArgsValidator(v ArgsValidator) Option {
	return func(s *Server) {
		s.validateArgs = v
	}
}

// WithArtifacts serves bundles and reports from paths read-only under
// /analyses/ and /reports/.
func WithArtifacts(paths config.PathsConfig) Option {
	return func(s *Server) {
		s.paths = paths
		s.serveArtifact = true
	}
}

// New creates a new Server with all routes registered.
// sched may be nil if no scheduling is desired (e.g. in tests).
func New(cfg config.ServerConfig, st store.Store, sched scheduler.Scheduler, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		logger:    logging.Component(logger, "server"),
		config:    cfg,
		startTime: time.Now(),
		store:     st,
		scheduler: sched,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.config.LeaseTimeout <= 0 {
		s.config.LeaseTimeout = config.Default().Server.LeaseTimeout
	}

	s.routes()
	return s
}

// StartScheduler begins the scheduling loop in a background goroutine.
func (s *Server) StartScheduler(ctx context.Context) {
	if s.scheduler == nil {
		return
	}
	go func() {
		if err := s.scheduler.Start(ctx); err != nil && err != context.Canceled {
			s.logger.Error("scheduler stopped", "error", err)
		}
	}()
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Handler returns the http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := s.router

	// Global middleware
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))

	if s.serveArtifact {
		r.Handle("/analyses/*", artifactHandler("/analyses/", s.paths.AnalysesDir()))
		r.Handle("/reports/*", artifactHandler("/reports/", s.paths.ReportsDir()))
	}

	// API routes (JSON)
	r.Route("/api/v1", func(r chi.Router) {
		// Discovery
		r.Get("/", s.handleDiscovery)

		// Health
		r.Get("/health", s.handleHealth)

		// Jobs
		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", s.handleListJobs)
			r.Post("/", s.handleEnqueueJob)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetJob)
				r.Put("/cancel", s.handleCancelJob)
			})
		})

		// Workers
		r.Route("/workers", func(r chi.Router) {
			r.Get("/", s.handleListWorkers)
			r.Post("/", s.handleRegisterWorker)
			r.Route("/{id}", func(r chi.Router) {
				r.Delete("/", s.handleDeregisterWorker)
				r.Put("/heartbeat", s.handleWorkerHeartbeat)
				r.Get("/work", s.handleWorkerCheckout)
				r.Put("/jobs/{jid}/complete", s.handleWorkerJobComplete)
			})
		})
	})
}

// artifactHandler serves files under dir without directory listings.
func artifactHandler(prefix, dir string) http.Handler {
	fs := http.StripPrefix(prefix, http.FileServer(http.Dir(dir)))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		fs.ServeHTTP(w, r)
	})
}
