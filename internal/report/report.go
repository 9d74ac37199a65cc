// Package report generates per-run design matrix reports for an analysis.
package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/PeerHerholz/neuroscout/internal/artifact"
	"github.com/PeerHerholz/neuroscout/internal/bids"
	"github.com/PeerHerholz/neuroscout/internal/design"
	"github.com/PeerHerholz/neuroscout/internal/logging"
	"github.com/PeerHerholz/neuroscout/internal/viz"
	"github.com/PeerHerholz/neuroscout/pkg/model"
)

// DefaultSamplingRate is used when a request does not set one (Hz).
const DefaultSamplingRate = 10.0

// Mirror copies a produced file to secondary storage under name.
type Mirror interface {
	PutFile(ctx context.Context, name, localPath string) error
}

// ReportRequest holds the inputs of a report.
type ReportRequest struct {
	Analysis        *model.Analysis
	PredictorEvents []model.PredictorEvent
	BIDSDir         string
	RunIDs          []int
	SamplingRate    float64
	Domain          string
}

// ReportResult lists one entry per run in each field, in run order.
type ReportResult struct {
	DesignMatrix         []string          `json:"design_matrix"`
	DesignMatrixPlot     []json.RawMessage `json:"design_matrix_plot"`
	DesignMatrixCorrplot []json.RawMessage `json:"design_matrix_corrplot"`
}

// Generator produces reports under a reports directory.
type Generator struct {
	dir      string
	analyses bids.Builder
	imputer  design.Imputer
	sorter   design.Sorter
	plotter  viz.Plotter
	paths    PathBuilderFunc
	mirror   Mirror
	logger   *slog.Logger
}

// Option configures a Generator.
type Option func(*Generator)

// WithImputer replaces the confound imputer.
func WithImputer(i design.Imputer) Option {
	return func(g *Generator) { g.imputer = i }
}

// WithSorter replaces the column sort policy.
func WithSorter(s design.Sorter) Option {
	return func(g *Generator) { g.sorter = s }
}

// WithPlotter replaces the chart renderer.
func WithPlotter(p viz.Plotter) Option {
	return func(g *Generator) { g.plotter = p }
}

// WithPathBuilder replaces how artifact paths and URLs are derived.
func WithPathBuilder(f PathBuilderFunc) Option {
	return func(g *Generator) { g.paths = f }
}

// WithMirror copies finished report files to secondary storage.
func WithMirror(m Mirror) Option {
	return func(g *Generator) { g.mirror = m }
}

// NewGenerator creates a Generator writing to dir/{hash_id}.
func NewGenerator(dir string, analyses bids.Builder, logger *slog.Logger, opts ...Option) *Generator {
	g := &Generator{
		dir:      dir,
		analyses: analyses,
		imputer:  design.MeanImputer{},
		sorter:   design.InterestFirst{},
		plotter:  viz.NewVegaLite(),
		paths:    NewPaths,
		logger:   logging.Component(logger, "report"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate computes the first step's design matrix for each run, writes it
// as TSV and renders its plots. Files are staged privately and moved into
// {dir}/{hash_id} only once every run has succeeded.
func (g *Generator) Generate(ctx context.Context, req ReportRequest) (*ReportResult, error) {
	if req.Analysis == nil {
		return nil, errors.New("generate report: analysis is required")
	}
	if err := req.Analysis.Validate(); err != nil {
		return nil, err
	}
	rate := req.SamplingRate
	if rate == 0 {
		rate = DefaultSamplingRate
	}
	start := time.Now()
	hashID := req.Analysis.HashID

	interest, sortColumns, err := req.Analysis.ConvolveInputs()
	if err != nil {
		return nil, err
	}

	ws, err := g.analyses.BuildAnalysis(ctx, bids.Request{
		Analysis:        req.Analysis,
		PredictorEvents: req.PredictorEvents,
		BIDSDir:         req.BIDSDir,
		RunIDs:          req.RunIDs,
	})
	if err != nil {
		return nil, fmt.Errorf("build analysis %s: %w", hashID, err)
	}
	defer ws.Close()
	if len(ws.Steps) == 0 {
		return nil, fmt.Errorf("analysis %s has no steps", hashID)
	}
	matrices, err := ws.Steps[0].DenseMatrices(rate)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(g.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create reports dir: %w", err)
	}
	staging, err := artifact.NewScratch(g.dir, ".staging-"+hashID)
	if err != nil {
		return nil, err
	}
	defer staging.Close()

	res := &ReportResult{
		DesignMatrix:         []string{},
		DesignMatrixPlot:     []json.RawMessage{},
		DesignMatrixCorrplot: []json.RawMessage{},
	}
	var staged []string
	for i := 0; ; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		dense, ok, err := matrices.Next()
		if err != nil {
			return nil, fmt.Errorf("run %d: design matrix: %w", i, err)
		}
		if !ok {
			break
		}

		dense, err = g.imputer.Impute(dense)
		if err != nil {
			return nil, fmt.Errorf("run %d: impute: %w", i, err)
		}
		if sortColumns {
			dense, err = g.sorter.Sort(dense, interest)
			if err != nil {
				return nil, fmt.Errorf("run %d: sort: %w", i, err)
			}
		}

		path, url, err := g.paths(staging.Dir, req.Domain, hashID, dense.Entities).Build("design_matrix", "tsv")
		if err != nil {
			return nil, fmt.Errorf("run %d: %w", i, err)
		}
		if filepath.Dir(path) != filepath.Clean(staging.Dir) {
			return nil, fmt.Errorf("run %d: path %s is outside the report directory", i, path)
		}
		if err := artifact.WriteFileAtomic(path, 0o644, func(w io.Writer) error { return dense.WriteTSV(w) }); err != nil {
			return nil, fmt.Errorf("run %d: write design matrix: %w", i, err)
		}
		staged = append(staged, filepath.Base(path))

		plot, err := g.plotter.DesignMatrix(dense)
		if err != nil {
			return nil, fmt.Errorf("run %d: %w", i, err)
		}
		corr, err := g.plotter.Correlation(dense)
		if err != nil {
			return nil, fmt.Errorf("run %d: %w", i, err)
		}

		res.DesignMatrix = append(res.DesignMatrix, url)
		res.DesignMatrixPlot = append(res.DesignMatrixPlot, plot)
		res.DesignMatrixCorrplot = append(res.DesignMatrixCorrplot, corr)
	}

	if err := g.publish(ctx, hashID, staging.Dir, staged); err != nil {
		return nil, err
	}

	g.logger.Info("report generated",
		"hash_id", hashID,
		"runs", len(res.DesignMatrix),
		"sampling_rate", rate,
		"duration", time.Since(start),
	)
	return res, nil
}

// publish mirrors the staged files and then moves them into the analysis'
// report directory, so a mirror failure leaves no new local report.
func (g *Generator) publish(ctx context.Context, hashID, stagingDir string, names []string) error {
	if g.mirror != nil {
		for _, name := range names {
			key := filepath.ToSlash(filepath.Join("reports", hashID, name))
			if err := g.mirror.PutFile(ctx, key, filepath.Join(stagingDir, name)); err != nil {
				return fmt.Errorf("mirror %s: %w", name, err)
			}
		}
	}
	outDir := filepath.Join(g.dir, hashID)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}
	for _, name := range names {
		if err := os.Rename(filepath.Join(stagingDir, name), filepath.Join(outDir, name)); err != nil {
			return fmt.Errorf("publish %s: %w", name, err)
		}
	}
	return nil
}
