package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/PeerHerholz/neuroscout/internal/bids"
	"github.com/PeerHerholz/neuroscout/internal/bundle"
	"github.com/PeerHerholz/neuroscout/internal/config"
	"github.com/PeerHerholz/neuroscout/internal/dispatch"
	"github.com/PeerHerholz/neuroscout/internal/logging"
	"github.com/PeerHerholz/neuroscout/internal/neurovault"
	"github.com/PeerHerholz/neuroscout/internal/objectstore"
	"github.com/PeerHerholz/neuroscout/internal/report"
	"github.com/PeerHerholz/neuroscout/internal/tasks"
	"github.com/PeerHerholz/neuroscout/internal/worker"
)

func main() {
	configFile := flag.String("config", "", "Path to YAML config file")
	serverURL := flag.String("server", "", "neuroscout server URL")
	name := flag.String("name", "", "Worker name (default: hostname)")
	concurrency := flag.Int("concurrency", 0, "Number of job slots")
	poll := flag.Duration("poll", 0, "Poll interval")
	workDir := flag.String("workdir", "", "Scratch root for job working directories (default: $TMPDIR)")
	fileData := flag.String("file-data", "", "Artifact root holding analyses/ and reports/")
	domain := flag.String("domain", "", "Public URL root used in report links")
	nvURL := flag.String("neurovault-url", "", "NeuroVault base URL")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "Log format (text, json)")
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
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "server":
			cfg.Worker.ServerURL = *serverURL
		case "name":
			cfg.Worker.Name = *name
		case "concurrency":
			cfg.Worker.Concurrency = *concurrency
		case "poll":
			cfg.Worker.Poll = *poll
		case "workdir":
			cfg.Worker.WorkDir = *workDir
		case "file-data":
			cfg.Paths.FileData = *fileData
		case "domain":
			cfg.Paths.Domain = *domain
		case "neurovault-url":
			cfg.NeuroVault.URL = *nvURL
		case "log-level":
			cfg.Worker.LogLevel = *logLevel
		case "log-format":
			cfg.Worker.LogFormat = *logFormat
		}
	})
	if *debug {
		cfg.Worker.LogLevel = "debug"
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(logging.ParseLevel(cfg.Worker.LogLevel), cfg.Worker.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mirror, err := objectstore.New(ctx, cfg.Mirror, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "object storage: %v\n", err)
		os.Exit(1)
	}

	// Keep the interfaces nil when mirroring is off.
	var bundleMirror bundle.Mirror
	var reportOpts []report.Option
	if mirror != nil {
		bundleMirror = mirror
		reportOpts = append(reportOpts, report.WithMirror(mirror))
		logger.Info("mirroring artifacts", "backend", cfg.Mirror.Backend, "bucket", cfg.Mirror.Bucket)
	}

	analyses := bids.NewEventsBuilder(cfg.Worker.WorkDir, logger)
	reg := dispatch.NewRegistry(logger)
	tasks.New(
		bundle.NewBuilder(cfg.Paths.AnalysesDir(), analyses, bundleMirror, logger),
		report.NewGenerator(cfg.Paths.ReportsDir(), analyses, logger, reportOpts...),
		neurovault.NewPublisher(
			neurovault.NewHTTPClientFactory(cfg.NeuroVault.URL, cfg.NeuroVault.Timeout),
			cfg.Worker.WorkDir, logger),
		cfg.Paths.Domain,
	).Register(reg)

	hostname, _ := os.Hostname()
	w := worker.New(worker.Config{
		ServerURL:   cfg.Worker.ServerURL,
		Name:        cfg.Worker.Name,
		Hostname:    hostname,
		Concurrency: cfg.Worker.Concurrency,
		Poll:        cfg.Worker.Poll,
		Heartbeat:   heartbeatInterval(cfg.Server.LeaseTimeout),
	}, reg, logger)

	logger.Info("starting worker",
		"server", cfg.Worker.ServerURL,
		"concurrency", cfg.Worker.Concurrency,
		"jobs", reg.Names(),
		"file_data", cfg.Paths.FileData,
	)

	if err := w.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "worker error: %v\n", err)
		os.Exit(1)
	}

	logger.Info("worker stopped")
}

// heartbeatInterval leaves room for two missed heartbeats within a lease.
func heartbeatInterval(lease time.Duration) time.Duration {
	hb := lease / 3
	if hb < time.Second {
		hb = time.Second
	}
	if hb > 30*time.Second {
		hb = 30 * time.Second
	}
	return hb
}
