// Package bids builds the analysis objects the pipeline jobs consume: a
// working directory of per-run files for the bundle and a step sequence
// that yields dense design matrices.
package bids

import (
	"context"
	"errors"
	"fmt"

	"github.com/PeerHerholz/neuroscout/internal/artifact"
	"github.com/PeerHerholz/neuroscout/internal/design"
	"github.com/PeerHerholz/neuroscout/pkg/model"
)

// Request carries everything needed to build an analysis.
type Request struct {
	Analysis        *model.Analysis
	PredictorEvents []model.PredictorEvent
	BIDSDir         string
	RunIDs          []int
	// Build requests a full build: every design matrix is computed once so
	// that model errors surface before anything is archived.
	Build bool
}

// Builder constructs an analysis workspace.
type Builder interface {
	BuildAnalysis(ctx context.Context, req Request) (*Workspace, error)
}

// Workspace is the result of a build. The caller owns it and must Close it.
type Workspace struct {
	// Dir is the private working directory holding Files.
	Dir string
	// Files are per-run files to include in a bundle.
	Files []artifact.Member
	// Steps are the model steps in declaration order.
	Steps []*Step

	scratch *artifact.Scratch
}

// Close removes the working directory.
func (w *Workspace) Close() error {
	if w == nil {
		return nil
	}
	return w.scratch.Close()
}

// MatrixIterator yields one dense matrix per run. It cannot be restarted.
type MatrixIterator interface {
	Next() (*design.Dense, bool, error)
}

// ErrConsumed is returned when a step's matrices are requested twice.
var ErrConsumed = errors.New("design matrices already consumed; rebuild the analysis")

// ValidationError reports a malformed analysis or an unresolvable reference.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid analysis: " + e.Message
	}
	return fmt.Sprintf("invalid analysis: %s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}
