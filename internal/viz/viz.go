// Package viz renders design matrices as Vega-Lite chart specifications.
package viz

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/PeerHerholz/neuroscout/internal/design"
)

const schema = "https://vega.github.io/schema/vega-lite/v4.json"

// Plotter renders the two diagnostic plots of a report.
type Plotter interface {
	DesignMatrix(d *design.Dense) (json.RawMessage, error)
	Correlation(d *design.Dense) (json.RawMessage, error)
}

// VegaLite is the default Plotter.
type VegaLite struct {
	Width  int
	Height int
}

// NewVegaLite returns a plotter with the report's default chart size.
func NewVegaLite() *VegaLite {
	return &VegaLite{Width: 400, Height: 400}
}

type chart struct {
	Schema   string         `json:"$schema"`
	Title    string         `json:"title,omitempty"`
	Width    int            `json:"width"`
	Height   int            `json:"height"`
	Data     chartData      `json:"data"`
	Mark     map[string]any `json:"mark"`
	Encoding map[string]any `json:"encoding"`
}

type chartData struct {
	Values []map[string]any `json:"values"`
}

// DesignMatrix renders a heatmap of regressor amplitude over time.
func (v *VegaLite) DesignMatrix(d *design.Dense) (json.RawMessage, error) {
	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("design matrix plot: %w", err)
	}
	values := make([]map[string]any, 0, len(d.Rows)*len(d.Columns))
	for i, row := range d.Rows {
		t := float64(i)
		if d.SamplingRate > 0 {
			t /= d.SamplingRate
		}
		for j, val := range row {
			values = append(values, map[string]any{
				"time":      t,
				"regressor": d.Columns[j],
				"value":     finite(val),
			})
		}
	}
	c := chart{
		Schema: schema,
		Title:  "Design matrix",
		Width:  v.Width,
		Height: v.Height,
		Data:   chartData{Values: values},
		Mark:   map[string]any{"type": "rect"},
		Encoding: map[string]any{
			"x":       map[string]any{"field": "regressor", "type": "nominal", "sort": d.Columns},
			"y":       map[string]any{"field": "time", "type": "ordinal", "title": "time (s)"},
			"color":   map[string]any{"field": "value", "type": "quantitative", "scale": map[string]any{"scheme": "viridis"}},
			"tooltip": []map[string]any{{"field": "regressor"}, {"field": "time"}, {"field": "value"}},
		},
	}
	return marshal(c)
}

// Correlation renders the pairwise correlation of regressors.
func (v *VegaLite) Correlation(d *design.Dense) (json.RawMessage, error) {
	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("correlation plot: %w", err)
	}
	r := design.Correlation(d)
	values := make([]map[string]any, 0, len(d.Columns)*len(d.Columns))
	for a, ca := range d.Columns {
		for b, cb := range d.Columns {
			values = append(values, map[string]any{
				"row":    ca,
				"column": cb,
				"r":      finite(r[a][b]),
			})
		}
	}
	c := chart{
		Schema: schema,
		Title:  "Regressor correlation",
		Width:  v.Width,
		Height: v.Height,
		Data:   chartData{Values: values},
		Mark:   map[string]any{"type": "rect"},
		Encoding: map[string]any{
			"x": map[string]any{"field": "column", "type": "nominal", "sort": d.Columns},
			"y": map[string]any{"field": "row", "type": "nominal", "sort": d.Columns},
			"color": map[string]any{
				"field": "r", "type": "quantitative",
				"scale": map[string]any{"domain": []float64{-1, 1}, "scheme": "redblue"},
			},
			"tooltip": []map[string]any{{"field": "row"}, {"field": "column"}, {"field": "r"}},
		},
	}
	return marshal(c)
}

// finite maps NaN and infinities to null, which JSON cannot represent.
func finite(v float64) any {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}

func marshal(c chart) (json.RawMessage, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal chart: %w", err)
	}
	return data, nil
}
