// Package objectstore mirrors produced artifacts into S3-compatible
// storage.
package objectstore

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/PeerHerholz/neuroscout/internal/config"
	"github.com/PeerHerholz/neuroscout/internal/logging"
)

// Store puts objects into a bucket chosen at construction.
type Store interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
}

// Mirror copies local artifact files into a Store under a key prefix.
type Mirror struct {
	store  Store
	prefix string
	logger *slog.Logger
}

// NewMirror wraps store. Keys are joined below prefix.
func NewMirror(store Store, prefix string, logger *slog.Logger) *Mirror {
	return &Mirror{
		store:  store,
		prefix: strings.Trim(prefix, "/"),
		logger: logging.Component(logger, "mirror"),
	}
}

// New builds the mirror selected by cfg. It returns nil when mirroring is
// disabled.
func New(ctx context.Context, cfg config.MirrorConfig, logger *slog.Logger) (*Mirror, error) {
	var (
		store Store
		err   error
	)
	switch cfg.Backend {
	case "", "none":
		return nil, nil
	case "minio":
		store, err = NewMinioStore(cfg)
	case "s3":
		store, err = NewS3Store(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown mirror backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("mirror %s: %w", cfg.Backend, err)
	}
	return NewMirror(store, cfg.Prefix, logger), nil
}

// Key returns the object key used for a relative artifact name.
func (m *Mirror) Key(name string) string {
	if m.prefix == "" {
		return name
	}
	return path.Join(m.prefix, name)
}

// PutFile uploads the file at localPath as name.
func (m *Mirror) PutFile(ctx context.Context, name, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", localPath, err)
	}
	key := m.Key(name)
	if err := m.store.Put(ctx, key, f, info.Size(), ContentType(name)); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	m.logger.Info("artifact mirrored", "key", key, "size", humanize.Bytes(uint64(info.Size())))
	return nil
}

// ContentType guesses a MIME type from an artifact name.
func ContentType(name string) string {
	switch {
	case strings.HasSuffix(name, ".tar.gz"), strings.HasSuffix(name, ".nii.gz"):
		return "application/gzip"
	case strings.HasSuffix(name, ".tsv"):
		return "text/tab-separated-values"
	}
	if ct := mime.TypeByExtension(path.Ext(name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
