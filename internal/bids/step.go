package bids

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/PeerHerholz/neuroscout/internal/design"
	"github.com/PeerHerholz/neuroscout/pkg/model"
)

// Step is one level of a built analysis.
type Step struct {
	index    int
	level    string
	plan     *plan
	consumed bool
}

// Level returns the step's declared level ("Run", "Subject", ...).
func (s *Step) Level() string { return s.level }

// DenseMatrices returns an iterator over the run-level design matrices
// sampled at samplingRate (Hz). Matrices are computed lazily, one per
// selected run. A step's matrices can only be requested once.
func (s *Step) DenseMatrices(samplingRate float64) (MatrixIterator, error) {
	if s.index != 0 {
		return nil, fmt.Errorf("step %d (%s): dense matrices are only produced for the first step", s.index, s.level)
	}
	if samplingRate <= 0 || math.IsNaN(samplingRate) || math.IsInf(samplingRate, 0) {
		return nil, invalid("sampling_rate", "must be a positive number, got %v", samplingRate)
	}
	if s.consumed {
		return nil, ErrConsumed
	}
	s.consumed = true
	return &runIterator{plan: s.plan, rate: samplingRate}, nil
}

type runIterator struct {
	plan *plan
	rate float64
	pos  int
	done bool
}

func (it *runIterator) Next() (*design.Dense, bool, error) {
	if it.done || it.pos >= len(it.plan.runs) {
		it.done = true
		return nil, false, nil
	}
	run := it.plan.runs[it.pos]
	it.pos++
	d, err := it.plan.dense(run, it.rate)
	if err != nil {
		it.done = true
		return nil, false, err
	}
	return d, true, nil
}

// Entities returns the BIDS entities identifying run.
func Entities(run model.Run, taskName string) map[string]string {
	task := run.Task
	if task == "" {
		task = taskName
	}
	e := map[string]string{"subject": run.Subject, "task": task}
	if run.Session != "" {
		e["session"] = run.Session
	}
	if run.Number != "" {
		e["run"] = run.Number
	}
	return e
}

func runFileName(run model.Run, taskName, suffix, ext string) string {
	return FileName(Entities(run, taskName), suffix, ext)
}

func (p *plan) runDuration(run model.Run) (float64, error) {
	if run.Duration > 0 {
		return run.Duration, nil
	}
	var end float64
	for _, ev := range p.events[run.ID] {
		end = math.Max(end, ev.onset+ev.duration)
	}
	if end <= 0 {
		return 0, invalid("runs", "run %d has no duration and no events", run.ID)
	}
	return end, nil
}

func (p *plan) dense(run model.Run, rate float64) (*design.Dense, error) {
	duration, err := p.runDuration(run)
	if err != nil {
		return nil, err
	}
	n := int(math.Ceil(duration * rate))

	d := &design.Dense{
		Entities:     Entities(run, p.analysis.TaskName),
		Confounds:    make(map[string]bool, len(p.confounds)),
		SamplingRate: rate,
	}
	for _, pr := range p.predictors {
		d.Columns = append(d.Columns, pr.Name)
	}
	cols := make([][]float64, len(d.Columns), len(d.Columns)+len(p.confounds))
	for j := range cols {
		cols[j] = make([]float64, n)
	}
	index := make(map[string]int, len(d.Columns))
	for j, c := range d.Columns {
		index[c] = j
	}

	for _, ev := range p.events[run.ID] {
		col := cols[index[ev.predictor]]
		start := int(math.Floor(ev.onset * rate))
		stop := int(math.Ceil((ev.onset + ev.duration) * rate))
		if stop <= start {
			stop = start + 1
		}
		for i := start; i < stop && i < n; i++ {
			col[i] += ev.amplitude
		}
	}

	if len(p.convolve) > 0 {
		kernel := hrf(rate)
		for name := range p.convolve {
			j := index[name]
			cols[j] = convolve(cols[j], kernel)
		}
	}

	if len(p.confounds) > 0 {
		conf, err := p.loadConfounds(run, rate, n)
		if err != nil {
			return nil, err
		}
		for _, name := range p.confounds {
			d.Columns = append(d.Columns, name)
			d.Confounds[name] = true
			cols = append(cols, conf[name])
		}
	}

	d.Rows = make([][]float64, n)
	for i := range d.Rows {
		row := make([]float64, len(cols))
		for j := range cols {
			row[j] = cols[j][i]
		}
		d.Rows[i] = row
	}
	return d, nil
}

// loadConfounds reads the fmriprep confounds file for run and resamples the
// requested columns from the TR grid onto the sampling grid.
func (p *plan) loadConfounds(run model.Run, rate float64, n int) (map[string][]float64, error) {
	if p.bidsDir == "" {
		return nil, invalid("bids_dir", "confound regressors %v require a BIDS directory", p.confounds)
	}
	path, err := p.confoundsPath(run)
	if err != nil {
		return nil, err
	}
	table, err := readTSV(path)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]float64, len(p.confounds))
	for _, name := range p.confounds {
		src, ok := table[name]
		if !ok {
			return nil, invalid("model.X", "confound %q not found in %s", name, filepath.Base(path))
		}
		col := make([]float64, n)
		for i := range col {
			k := int(math.Floor(float64(i) / rate / p.analysis.TR))
			if k < len(src) {
				col[i] = src[k]
			} else {
				col[i] = math.NaN()
			}
		}
		out[name] = col
	}
	return out, nil
}

func (p *plan) confoundsPath(run model.Run) (string, error) {
	dir := filepath.Join(p.bidsDir, "derivatives", "fmriprep", "sub-"+run.Subject)
	if run.Session != "" {
		dir = filepath.Join(dir, "ses-"+run.Session)
	}
	dir = filepath.Join(dir, "func")
	ents := Entities(run, p.analysis.TaskName)
	for _, suffix := range []string{"desc-confounds_timeseries", "desc-confounds_regressors"} {
		path := filepath.Join(dir, FileName(ents, suffix, "tsv"))
		if _, err := os.Stat(path); err == nil {
			return path, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
	}
	return "", fmt.Errorf("confounds for run %d: %w", run.ID, os.ErrNotExist)
}
