// Package bundle compiles an analysis into the archive a downstream
// execution engine consumes.
package bundle

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/PeerHerholz/neuroscout/internal/artifact"
	"github.com/PeerHerholz/neuroscout/internal/bids"
	"github.com/PeerHerholz/neuroscout/internal/logging"
	"github.com/PeerHerholz/neuroscout/pkg/model"
)

// Mirror copies a produced file to secondary storage under name.
type Mirror interface {
	PutFile(ctx context.Context, name, localPath string) error
}

// CompileRequest holds the inputs of a compile.
type CompileRequest struct {
	Analysis        *model.Analysis
	PredictorEvents []model.PredictorEvent
	Resources       model.Resources
	BIDSDir         string
	RunIDs          []int
	ValidationHash  string
	Build           bool
}

// CompileResult describes a written bundle.
type CompileResult struct {
	BundlePath string          `json:"bundle_path"`
	Resources  model.Resources `json:"resources"`
	Members    []string        `json:"members,omitempty"`
}

// Builder writes bundles into an analyses directory.
type Builder struct {
	dir      string
	analyses bids.Builder
	mirror   Mirror
	logger   *slog.Logger
}

// NewBuilder creates a Builder writing to dir. mirror may be nil.
func NewBuilder(dir string, analyses bids.Builder, mirror Mirror, logger *slog.Logger) *Builder {
	return &Builder{
		dir:      dir,
		analyses: analyses,
		mirror:   mirror,
		logger:   logging.Component(logger, "bundle"),
	}
}

// Path returns the deterministic bundle location for hashID.
func (b *Builder) Path(hashID string) string {
	return filepath.Join(b.dir, FileName(hashID))
}

// FileName is the bundle's name within the analyses directory.
func FileName(hashID string) string {
	return hashID + "_bundle.tar.gz"
}

// Compile builds the analysis, writes the bundle documents next to the
// builder's per-run files and archives everything at Path(hash_id).
// Re-running for the same hash_id replaces the previous bundle.
func (b *Builder) Compile(ctx context.Context, req CompileRequest) (*CompileResult, error) {
	if req.Analysis == nil {
		return nil, fmt.Errorf("compile: analysis is required")
	}
	if err := req.Analysis.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()
	hashID := req.Analysis.HashID

	ws, err := b.analyses.BuildAnalysis(ctx, bids.Request{
		Analysis:        req.Analysis,
		PredictorEvents: req.PredictorEvents,
		BIDSDir:         req.BIDSDir,
		RunIDs:          req.RunIDs,
		Build:           req.Build,
	})
	if err != nil {
		return nil, fmt.Errorf("build analysis %s: %w", hashID, err)
	}
	defer func() {
		if cerr := ws.Close(); cerr != nil {
			b.logger.Warn("remove workspace", "dir", ws.Dir, "error", cerr)
		}
	}()

	resources := req.Resources.Clone()
	resources["validation_hash"] = req.ValidationHash

	doc, err := req.Analysis.Document()
	if err != nil {
		return nil, err
	}
	docs := []struct {
		name  string
		value any
	}{
		{"analysis", doc},
		{"resources", resources},
		{"model", req.Analysis.ModelDocument()},
		{"task-" + req.Analysis.TaskName + "_bold", map[string]float64{"RepetitionTime": req.Analysis.TR}},
	}

	members := append([]artifact.Member(nil), ws.Files...)
	for _, d := range docs {
		name := d.name + ".json"
		path := filepath.Join(ws.Dir, name)
		if err := artifact.WriteJSON(path, d.value); err != nil {
			return nil, fmt.Errorf("write %s: %w", name, err)
		}
		members = append(members, artifact.Member{Path: path, Name: name})
	}

	if err := ValidateManifest(members); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dest := b.Path(hashID)
	if err := artifact.WriteTarGz(dest, members); err != nil {
		return nil, fmt.Errorf("write bundle: %w", err)
	}

	var size uint64
	if info, err := os.Stat(dest); err == nil {
		size = uint64(info.Size())
	}
	b.logger.Info("bundle written",
		"hash_id", hashID,
		"path", dest,
		"members", len(members),
		"size", humanize.Bytes(size),
		"duration", time.Since(start),
	)

	if b.mirror != nil {
		if err := b.mirror.PutFile(ctx, filepath.ToSlash(filepath.Join("analyses", FileName(hashID))), dest); err != nil {
			return nil, fmt.Errorf("mirror bundle: %w", err)
		}
	}

	names := make([]string, len(members))
	for i, m := range members {
		names[i] = m.Name
	}
	return &CompileResult{BundlePath: dest, Resources: resources, Members: names}, nil
}
