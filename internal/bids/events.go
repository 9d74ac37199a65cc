package bids

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/PeerHerholz/neuroscout/internal/artifact"
	"github.com/PeerHerholz/neuroscout/internal/logging"
	"github.com/PeerHerholz/neuroscout/pkg/model"
)

// EventsBuilder is the default Builder. It derives design matrices from
// predictor events, and from fmriprep confound files when a BIDS
// derivatives tree is available.
type EventsBuilder struct {
	// ScratchRoot is where working directories are created ("" = os.TempDir).
	ScratchRoot string
	Logger      *slog.Logger
}

// NewEventsBuilder creates the default builder.
func NewEventsBuilder(scratchRoot string, logger *slog.Logger) *EventsBuilder {
	return &EventsBuilder{ScratchRoot: scratchRoot, Logger: logging.Component(logger, "bids")}
}

// plan is the validated input shared by every step.
type plan struct {
	analysis   *model.Analysis
	model      *model.Model
	runs       []model.Run
	predictors []model.Predictor
	events     map[int][]eventRow // run id -> rows
	convolve   map[string]bool
	confounds  []string
	bidsDir    string
}

type eventRow struct {
	onset, duration float64
	amplitude       float64
	predictor       string
}

func (b *EventsBuilder) BuildAnalysis(ctx context.Context, req Request) (*Workspace, error) {
	p, err := b.plan(req)
	if err != nil {
		return nil, err
	}

	scratch, err := artifact.NewScratch(b.ScratchRoot, "analysis-"+req.Analysis.HashID)
	if err != nil {
		return nil, err
	}
	ws := &Workspace{Dir: scratch.Dir, scratch: scratch}

	for _, run := range p.runs {
		if err := ctx.Err(); err != nil {
			ws.Close()
			return nil, err
		}
		name := filepath.ToSlash(filepath.Join("func", runFileName(run, p.analysis.TaskName, "events", "tsv")))
		path := filepath.Join(ws.Dir, filepath.FromSlash(name))
		if err := writeEvents(path, p.events[run.ID]); err != nil {
			ws.Close()
			return nil, err
		}
		ws.Files = append(ws.Files, artifact.Member{Path: path, Name: name})
	}

	for i := range p.model.Steps {
		ws.Steps = append(ws.Steps, &Step{index: i, level: p.model.Steps[i].Level, plan: p})
	}

	if req.Build && len(ws.Steps) > 0 {
		// Full build materializes the run-level matrices once so model
		// errors fail the compile instead of the downstream execution.
		first := &Step{index: 0, level: ws.Steps[0].level, plan: p}
		it, err := first.DenseMatrices(1 / p.analysis.TR)
		if err == nil {
			for {
				_, ok, nerr := it.Next()
				if nerr != nil {
					err = nerr
					break
				}
				if !ok {
					break
				}
			}
		}
		if err != nil {
			ws.Close()
			return nil, err
		}
	}

	b.Logger.Debug("analysis built",
		"hash_id", p.analysis.HashID,
		"runs", len(p.runs),
		"files", len(ws.Files),
		"steps", len(ws.Steps),
	)
	return ws, nil
}

func (b *EventsBuilder) plan(req Request) (*plan, error) {
	a := req.Analysis
	if a == nil {
		return nil, invalid("", "analysis is required")
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	m, err := a.ParsedModel()
	if err != nil {
		return nil, invalid("model", "%v", err)
	}
	if m == nil {
		// No model: a single implicit run-level step over all predictors.
		m = &model.Model{Steps: []model.ModelStep{{Level: "Run"}}}
	}
	if len(m.Steps) == 0 {
		return nil, invalid("model.Steps", "at least one step is required")
	}

	p := &plan{
		analysis:   a,
		model:      m,
		predictors: a.Predictors,
		events:     make(map[int][]eventRow),
		convolve:   make(map[string]bool),
		bidsDir:    req.BIDSDir,
	}

	if req.BIDSDir != "" {
		info, err := os.Stat(req.BIDSDir)
		if err != nil {
			return nil, fmt.Errorf("bids dir: %w", err)
		}
		if !info.IsDir() {
			return nil, invalid("bids_dir", "%s is not a directory", req.BIDSDir)
		}
	}

	if len(req.RunIDs) == 0 {
		p.runs = append(p.runs, a.Runs...)
	}
	for _, id := range req.RunIDs {
		run, ok := a.RunByID(id)
		if !ok {
			return nil, invalid("run_ids", "run %d is not part of the analysis", id)
		}
		p.runs = append(p.runs, run)
	}
	if len(p.runs) == 0 {
		return nil, invalid("run_ids", "no runs selected")
	}
	selected := make(map[int]bool, len(p.runs))
	files := make(map[string]int, len(p.runs))
	for _, r := range p.runs {
		if selected[r.ID] {
			return nil, invalid("run_ids", "run %d is selected more than once", r.ID)
		}
		selected[r.ID] = true
		// Each run owns one file per kind in bundles and reports.
		name := runFileName(r, a.TaskName, "events", "tsv")
		if other, ok := files[name]; ok {
			return nil, invalid("runs", "runs %d and %d have the same entities", other, r.ID)
		}
		files[name] = r.ID
	}

	names := make(map[int]string, len(a.Predictors))
	declared := make(map[string]bool, len(a.Predictors))
	for _, pr := range a.Predictors {
		names[pr.ID] = pr.Name
		declared[pr.Name] = true
	}

	for i, ev := range req.PredictorEvents {
		name, ok := names[ev.PredictorID]
		if !ok {
			return nil, invalid("predictor_events", "event %d references unknown predictor %d", i, ev.PredictorID)
		}
		if !selected[ev.RunID] {
			continue
		}
		if ev.Onset < 0 || ev.Duration < 0 {
			return nil, invalid("predictor_events", "event %d has negative onset or duration", i)
		}
		p.events[ev.RunID] = append(p.events[ev.RunID], eventRow{
			onset:     ev.Onset,
			duration:  ev.Duration,
			amplitude: amplitude(ev.Value),
			predictor: name,
		})
	}
	for id := range p.events {
		rows := p.events[id]
		sort.SliceStable(rows, func(i, j int) bool { return rows[i].onset < rows[j].onset })
	}

	inputs, _, err := a.ConvolveInputs()
	if err != nil {
		return nil, invalid("model", "%v", err)
	}
	for _, in := range inputs {
		if !declared[in] {
			return nil, invalid("model.Transformations", "Convolve input %q is not a declared predictor", in)
		}
		p.convolve[in] = true
	}

	// Regressors named by the first step that are not predictors are
	// confounds, read from the derivatives tree.
	if first := m.Steps[0]; first.Model != nil {
		for _, x := range first.Model.X {
			if !declared[x] {
				p.confounds = append(p.confounds, x)
			}
		}
	}
	return p, nil
}

// amplitude parses a numeric event value; categorical values count as 1.
func amplitude(v string) float64 {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 1
	}
	return f
}

func writeEvents(path string, rows []eventRow) error {
	return artifact.WriteFileAtomic(path, 0o644, func(w io.Writer) error {
		cw := csv.NewWriter(w)
		cw.Comma = '\t'
		if err := cw.Write([]string{"onset", "duration", "trial_type", "amplitude"}); err != nil {
			return err
		}
		for _, r := range rows {
			rec := []string{
				strconv.FormatFloat(r.onset, 'g', -1, 64),
				strconv.FormatFloat(r.duration, 'g', -1, 64),
				r.predictor,
				strconv.FormatFloat(r.amplitude, 'g', -1, 64),
			}
			if err := cw.Write(rec); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()
	})
}
