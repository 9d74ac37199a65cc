package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/PeerHerholz/neuroscout/internal/config"
	"github.com/PeerHerholz/neuroscout/internal/logging"
	"github.com/PeerHerholz/neuroscout/internal/scheduler"
	"github.com/PeerHerholz/neuroscout/internal/server"
	"github.com/PeerHerholz/neuroscout/internal/store"
	"github.com/PeerHerholz/neuroscout/internal/tasks"
)

func main() {
	configFile := flag.String("config", "", "Path to YAML config file")
	addr := flag.String("addr", "", "Listen address")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "Log format (text, json)")
	db := flag.String("db", "", "SQLite path or postgres:// URL (default ~/.neuroscout/jobs.db)")
	fileData := flag.String("file-data", "", "Artifact root holding analyses/ and reports/")
	noArtifacts := flag.Bool("no-artifacts", false, "Do not serve /analyses and /reports")
	debug := flag.Bool("debug", false, "Shorthand for --log-level=debug")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	if err := cfg.ApplyEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "environment: %v\n", err)
		os.Exit(1)
	}
	// Flags win over file and environment.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			cfg.Server.Addr = *addr
		case "log-level":
			cfg.Server.LogLevel = *logLevel
		case "log-format":
			cfg.Server.LogFormat = *logFormat
		case "db":
			cfg.Server.DB = *db
		case "file-data":
			cfg.Paths.FileData = *fileData
		}
	})
	if *debug {
		cfg.Server.LogLevel = "debug"
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(logging.ParseLevel(cfg.Server.LogLevel), cfg.Server.LogFormat)

	// Resolve database path.
	dsn := cfg.Server.DB
	if dsn == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "cannot determine home directory: %v\n", err)
			os.Exit(1)
		}
		dir := filepath.Join(home, ".neuroscout")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "cannot create %s: %v\n", dir, err)
			os.Exit(1)
		}
		dsn = filepath.Join(dir, "jobs.db")
	}

	// Open store and run migrations.
	st, err := store.Open(context.Background(), dsn, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open database: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	if err := st.Migrate(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "migrate database: %v\n", err)
		os.Exit(1)
	}
	logger.Info("database ready")

	sched := scheduler.NewLoop(st, scheduler.Config{
		PollInterval:  cfg.Server.ReapInterval,
		WorkerTimeout: cfg.Server.WorkerTimeout,
	}, logger)

	serverOpts := []server.Option{server.WithArgsValidator(tasks.ValidateArgs)}
	if !*noArtifacts {
		serverOpts = append(serverOpts, server.WithArtifacts(cfg.Paths))
		logger.Info("serving artifacts", "file_data", cfg.Paths.FileData)
	}

	srv := server.New(cfg.Server, st, sched, logger, serverOpts...)

	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: srv.Handler(),
	}

	// Graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start scheduler in background.
	srv.StartScheduler(ctx)

	go func() {
		logger.Info("server starting", "addr", cfg.Server.Addr, "lease_timeout", cfg.Server.LeaseTimeout)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "shutdown error: %v\n", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}
