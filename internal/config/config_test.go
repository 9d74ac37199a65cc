package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
}

func TestLoad_OverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "neuroscout.yaml")
	body := `
server:
  addr: ":9090"
  lease_timeout: 30s
paths:
  file_data: /srv/file-data
worker:
  concurrency: 4
mirror:
  backend: minio
  endpoint: minio:9000
  bucket: neuroscout
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":9090" {
		t.Errorf("Addr = %q", cfg.Server.Addr)
	}
	if cfg.Server.LeaseTimeout != 30*time.Second {
		t.Errorf("LeaseTimeout = %v, want 30s", cfg.Server.LeaseTimeout)
	}
	if cfg.Server.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want default info", cfg.Server.LogLevel)
	}
	if cfg.Worker.Concurrency != 4 {
		t.Errorf("Concurrency = %d", cfg.Worker.Concurrency)
	}
	if got := cfg.Paths.AnalysesDir(); got != "/srv/file-data/analyses" {
		t.Errorf("AnalysesDir = %q", got)
	}
	if !cfg.Mirror.Enabled() {
		t.Error("mirror should be enabled")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("NEUROSCOUT_FILE_DATA", "/tmp/fd")
	t.Setenv("NEUROSCOUT_WORKER_CONCURRENCY", "8")
	t.Setenv("NEUROSCOUT_LEASE_TIMEOUT", "1m")
	t.Setenv("NEUROVAULT_URL", "http://nv.test")

	cfg := Default()
	if err := cfg.ApplyEnv(); err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if cfg.Paths.FileData != "/tmp/fd" {
		t.Errorf("FileData = %q", cfg.Paths.FileData)
	}
	if cfg.Worker.Concurrency != 8 {
		t.Errorf("Concurrency = %d", cfg.Worker.Concurrency)
	}
	if cfg.Server.LeaseTimeout != time.Minute {
		t.Errorf("LeaseTimeout = %v", cfg.Server.LeaseTimeout)
	}
	if cfg.NeuroVault.URL != "http://nv.test" {
		t.Errorf("NeuroVault.URL = %q", cfg.NeuroVault.URL)
	}
}

func TestApplyEnv_BadValue(t *testing.T) {
	t.Setenv("NEUROSCOUT_WORKER_CONCURRENCY", "many")
	cfg := Default()
	err := cfg.ApplyEnv()
	if err == nil || !strings.Contains(err.Error(), "NEUROSCOUT_WORKER_CONCURRENCY") {
		t.Fatalf("ApplyEnv() = %v, want parse error naming the variable", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"no file data", func(c *Config) { c.Paths.FileData = "" }, "paths.file_data"},
		{"zero concurrency", func(c *Config) { c.Worker.Concurrency = 0 }, "worker.concurrency"},
		{"unknown backend", func(c *Config) { c.Mirror.Backend = "gcs" }, "mirror.backend"},
		{"minio without bucket", func(c *Config) { c.Mirror.Backend = "minio"; c.Mirror.Endpoint = "m:9000" }, "mirror.bucket"},
		{"minio with scheme", func(c *Config) {
			c.Mirror = MirrorConfig{Backend: "minio", Endpoint: "http://m:9000", Bucket: "b"}
		}, "scheme"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Validate() = %v, want error containing %q", err, tt.want)
			}
		})
	}
}
