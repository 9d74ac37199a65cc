package design

import (
	"math"
)

// Imputer fills missing values in a matrix.
type Imputer interface {
	Impute(d *Dense) (*Dense, error)
}

// Sorter reorders the columns of a matrix given a set of interest columns.
// Implementations must only permute columns.
type Sorter interface {
	Sort(d *Dense, interest []string) (*Dense, error)
}

// ImputerFunc adapts a function to Imputer.
type ImputerFunc func(d *Dense) (*Dense, error)

func (f ImputerFunc) Impute(d *Dense) (*Dense, error) { return f(d) }

// SorterFunc adapts a function to Sorter.
type SorterFunc func(d *Dense, interest []string) (*Dense, error)

func (f SorterFunc) Sort(d *Dense, interest []string) (*Dense, error) { return f(d, interest) }

// MeanImputer replaces NaN cells in confound columns with the mean of the
// column's finite values, or 0 when the column has none.
type MeanImputer struct{}

func (MeanImputer) Impute(d *Dense) (*Dense, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	out := d.Clone()
	for j, name := range out.Columns {
		if !out.Confounds[name] {
			continue
		}
		var sum float64
		var n int
		for _, row := range out.Rows {
			if v := row[j]; !math.IsNaN(v) && !math.IsInf(v, 0) {
				sum += v
				n++
			}
		}
		fill := 0.0
		if n > 0 {
			fill = sum / float64(n)
		}
		for _, row := range out.Rows {
			if math.IsNaN(row[j]) {
				row[j] = fill
			}
		}
	}
	return out, nil
}

// InterestFirst moves the interest columns to the front in the order they
// were declared. Interest names missing from the matrix are skipped; the
// remaining columns keep their natural order.
type InterestFirst struct{}

func (InterestFirst) Sort(d *Dense, interest []string) (*Dense, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	order := make([]int, 0, len(d.Columns))
	placed := make(map[int]bool, len(d.Columns))
	for _, name := range interest {
		if idx := d.ColumnIndex(name); idx >= 0 && !placed[idx] {
			order = append(order, idx)
			placed[idx] = true
		}
	}
	for idx := range d.Columns {
		if !placed[idx] {
			order = append(order, idx)
		}
	}
	return permute(d, order), nil
}

func permute(d *Dense, order []int) *Dense {
	out := d.Clone()
	for i, idx := range order {
		out.Columns[i] = d.Columns[idx]
	}
	for r, row := range d.Rows {
		for i, idx := range order {
			out.Rows[r][i] = row[idx]
		}
	}
	return out
}

// Correlation returns the Pearson correlation between every pair of
// columns. Pairs involving a constant column are NaN.
func Correlation(d *Dense) [][]float64 {
	k := len(d.Columns)
	n := float64(len(d.Rows))
	means := make([]float64, k)
	for _, row := range d.Rows {
		for j, v := range row {
			means[j] += v
		}
	}
	for j := range means {
		if n > 0 {
			means[j] /= n
		}
	}

	out := make([][]float64, k)
	for a := 0; a < k; a++ {
		out[a] = make([]float64, k)
	}
	for a := 0; a < k; a++ {
		for b := a; b < k; b++ {
			var sab, saa, sbb float64
			for _, row := range d.Rows {
				da, db := row[a]-means[a], row[b]-means[b]
				sab += da * db
				saa += da * da
				sbb += db * db
			}
			r := math.NaN()
			if saa > 0 && sbb > 0 {
				r = sab / math.Sqrt(saa*sbb)
			}
			out[a][b] = r
			out[b][a] = r
		}
	}
	return out
}
