package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete configuration shared by the server, worker and CLI.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Paths      PathsConfig      `yaml:"paths"`
	Worker     WorkerConfig     `yaml:"worker"`
	NeuroVault NeuroVaultConfig `yaml:"neurovault"`
	Mirror     MirrorConfig     `yaml:"mirror"`
}

// ServerConfig holds configuration for the job API server.
type ServerConfig struct {
	Addr      string `yaml:"addr"`       // Listen address (default ":8080")
	LogLevel  string `yaml:"log_level"`  // Log level: debug, info, warn, error
	LogFormat string `yaml:"log_format"` // Log format: text, json
	// DB is a SQLite path (default ~/.neuroscout/jobs.db, ":memory:" for testing)
	// or a postgres:// URL.
	DB string `yaml:"db"`

	// LeaseTimeout is how long a checked-out job stays owned by a worker
	// without a heartbeat before it is redelivered.
	LeaseTimeout time.Duration `yaml:"lease_timeout"`
	// ReapInterval is how often expired leases are checked.
	ReapInterval time.Duration `yaml:"reap_interval"`
	// WorkerTimeout marks workers offline after this long without a heartbeat.
	WorkerTimeout time.Duration `yaml:"worker_timeout"`
}

// PathsConfig locates artifacts on disk and on the web.
type PathsConfig struct {
	FileData string `yaml:"file_data"` // Root holding analyses/ and reports/
	Domain   string `yaml:"domain"`    // Public URL root used for report links
}

// AnalysesDir is where bundles are written.
func (p PathsConfig) AnalysesDir() string {
	return filepath.Join(p.FileData, "analyses")
}

// ReportsDir is where per-analysis report directories are written.
func (p PathsConfig) ReportsDir() string {
	return filepath.Join(p.FileData, "reports")
}

// WorkerConfig holds worker process configuration.
type WorkerConfig struct {
	ServerURL   string        `yaml:"server_url"`
	Name        string        `yaml:"name"`
	Concurrency int           `yaml:"concurrency"`
	Poll        time.Duration `yaml:"poll"`
	WorkDir     string        `yaml:"work_dir"` // Scratch root (default $TMPDIR)
	LogLevel    string        `yaml:"log_level"`
	LogFormat   string        `yaml:"log_format"`
}

// NeuroVaultConfig configures the image repository client.
type NeuroVaultConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// MirrorConfig configures optional copies of artifacts in object storage.
type MirrorConfig struct {
	Backend   string `yaml:"backend"` // none, minio, s3
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Region    string `yaml:"region"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// Enabled reports whether a mirror backend is configured.
func (m MirrorConfig) Enabled() bool {
	return m.Backend != "" && m.Backend != "none"
}

// Default returns sensible defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:          ":8080",
			LogLevel:      "info",
			LogFormat:     "text",
			LeaseTimeout:  10 * time.Minute,
			ReapInterval:  15 * time.Second,
			WorkerTimeout: 2 * time.Minute,
		},
		Paths: PathsConfig{
			FileData: "/file-data",
			Domain:   "http://localhost:8080",
		},
		Worker: WorkerConfig{
			ServerURL:   "http://localhost:8080",
			Concurrency: 2,
			Poll:        2 * time.Second,
			LogLevel:    "info",
			LogFormat:   "text",
		},
		NeuroVault: NeuroVaultConfig{
			URL:     "https://neurovault.org",
			Timeout: 5 * time.Minute,
		},
		Mirror: MirrorConfig{
			Backend: "none",
			Region:  "us-east-1",
		},
	}
}

// Load reads a YAML file over the defaults. An empty path returns the
// defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks values the processes cannot start without.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Paths.FileData) == "" {
		errs = append(errs, errors.New("paths.file_data is required"))
	}
	if c.Server.LeaseTimeout <= 0 {
		errs = append(errs, errors.New("server.lease_timeout must be positive"))
	}
	if c.Server.ReapInterval <= 0 {
		errs = append(errs, errors.New("server.reap_interval must be positive"))
	}
	if c.Worker.Concurrency < 1 {
		errs = append(errs, errors.New("worker.concurrency must be >= 1"))
	}
	if c.Worker.Poll <= 0 {
		errs = append(errs, errors.New("worker.poll must be positive"))
	}
	switch c.Mirror.Backend {
	case "", "none":
	case "minio", "s3":
		if strings.TrimSpace(c.Mirror.Bucket) == "" {
			errs = append(errs, errors.New("mirror.bucket is required"))
		}
		if c.Mirror.Backend == "minio" {
			if strings.TrimSpace(c.Mirror.Endpoint) == "" {
				errs = append(errs, errors.New("mirror.endpoint is required for minio"))
			}
			if strings.Contains(c.Mirror.Endpoint, "://") {
				errs = append(errs, fmt.Errorf("mirror.endpoint must not include scheme: %q", c.Mirror.Endpoint))
			}
		}
	default:
		errs = append(errs, fmt.Errorf("mirror.backend %q is not one of none, minio, s3", c.Mirror.Backend))
	}
	return errors.Join(errs...)
}
