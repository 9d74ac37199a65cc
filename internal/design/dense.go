// Package design holds dense design matrices and the operations the report
// generator applies to them.
package design

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
)

// Dense is a design matrix sampled on a regular grid: one row per time
// point, one column per regressor.
type Dense struct {
	Columns []string
	Rows    [][]float64

	// Entities identify the run the matrix belongs to (subject, session,
	// task, run).
	Entities map[string]string
	// Confounds names the columns that did not come from a declared
	// predictor; only these are imputed.
	Confounds map[string]bool
	// SamplingRate is in Hz.
	SamplingRate float64
}

// NumRows returns the number of time points.
func (d *Dense) NumRows() int { return len(d.Rows) }

// ColumnIndex returns the position of name, or -1.
func (d *Dense) ColumnIndex(name string) int {
	for i, c := range d.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Column returns a copy of the named column.
func (d *Dense) Column(name string) ([]float64, bool) {
	idx := d.ColumnIndex(name)
	if idx < 0 {
		return nil, false
	}
	out := make([]float64, len(d.Rows))
	for i, row := range d.Rows {
		out[i] = row[idx]
	}
	return out, true
}

// Clone returns a deep copy.
func (d *Dense) Clone() *Dense {
	out := &Dense{
		Columns:      append([]string(nil), d.Columns...),
		Rows:         make([][]float64, len(d.Rows)),
		Entities:     make(map[string]string, len(d.Entities)),
		Confounds:    make(map[string]bool, len(d.Confounds)),
		SamplingRate: d.SamplingRate,
	}
	for i, row := range d.Rows {
		out.Rows[i] = append([]float64(nil), row...)
	}
	for k, v := range d.Entities {
		out.Entities[k] = v
	}
	for k, v := range d.Confounds {
		out.Confounds[k] = v
	}
	return out
}

// Validate checks that every row has one value per column and that column
// names are unique.
func (d *Dense) Validate() error {
	seen := make(map[string]bool, len(d.Columns))
	for _, c := range d.Columns {
		if seen[c] {
			return fmt.Errorf("duplicate column %q", c)
		}
		seen[c] = true
	}
	for i, row := range d.Rows {
		if len(row) != len(d.Columns) {
			return fmt.Errorf("row %d has %d values, want %d", i, len(row), len(d.Columns))
		}
	}
	return nil
}

// WriteTSV writes a tab-separated table with a header row and no index
// column. Missing values are written as empty cells.
func (d *Dense) WriteTSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	cw.Comma = '\t'
	if err := cw.Write(d.Columns); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	record := make([]string, len(d.Columns))
	for i, row := range d.Rows {
		for j, v := range row {
			record[j] = formatValue(v)
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write row %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatValue(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}
