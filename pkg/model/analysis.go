package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Analysis is the declarative analysis specification a job operates on.
// The pipeline only reads it; the full document received from the caller is
// kept verbatim so it can be written back into a bundle unchanged.
type Analysis struct {
	HashID     string          `json:"hash_id"`
	Name       string          `json:"name,omitempty"`
	TR         float64         `json:"TR"`
	TaskName   string          `json:"task_name"`
	Runs       []Run           `json:"runs,omitempty"`
	Predictors []Predictor     `json:"predictors,omitempty"`
	Model      json.RawMessage `json:"model,omitempty"`

	raw json.RawMessage
}

// Run identifies one functional run of the underlying BIDS dataset.
type Run struct {
	ID       int     `json:"id"`
	Subject  string  `json:"subject"`
	Session  string  `json:"session,omitempty"`
	Number   string  `json:"number,omitempty"`
	Task     string  `json:"task,omitempty"`
	Duration float64 `json:"duration,omitempty"`
}

// Predictor names a column that events can be attached to.
type Predictor struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// PredictorEvent is a single raw event of a predictor within a run.
type PredictorEvent struct {
	Onset       float64 `json:"onset"`
	Duration    float64 `json:"duration"`
	Value       string  `json:"value"`
	PredictorID int     `json:"predictor_id"`
	RunID       int     `json:"run_id"`
}

// Resources holds computed resource values associated with one compile.
type Resources map[string]any

// Clone returns a shallow copy of the resource mapping.
func (r Resources) Clone() Resources {
	out := make(Resources, len(r)+1)
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Model is the subset of the model specification the pipeline inspects.
type Model struct {
	Steps []ModelStep `json:"Steps"`
}

// ModelStep is one level of the model specification.
type ModelStep struct {
	Level           string           `json:"Level,omitempty"`
	Transformations []Transformation `json:"Transformations,omitempty"`
	Model           *StepModel       `json:"Model,omitempty"`
}

// StepModel lists the regressors a step fits.
type StepModel struct {
	X []string `json:"X,omitempty"`
}

// Transformation is a named variable transformation applied within a step.
type Transformation struct {
	Name  string   `json:"Name"`
	Input []string `json:"Input,omitempty"`
}

// UnmarshalJSON decodes the analysis and retains the original document.
func (a *Analysis) UnmarshalJSON(data []byte) error {
	type plain Analysis
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*a = Analysis(p)
	a.raw = append(json.RawMessage(nil), data...)
	return nil
}

// MarshalJSON encodes the analysis as Document does.
func (a Analysis) MarshalJSON() ([]byte, error) {
	return a.Document()
}

// Document returns the analysis as it was received, or a fresh encoding when
// the value was built in code.
func (a *Analysis) Document() (json.RawMessage, error) {
	if len(a.raw) > 0 {
		return a.raw, nil
	}
	type plain Analysis
	data, err := json.Marshal(plain(*a))
	if err != nil {
		return nil, fmt.Errorf("marshal analysis: %w", err)
	}
	return data, nil
}

// ModelDocument returns the raw model specification, or JSON null when absent.
func (a *Analysis) ModelDocument() json.RawMessage {
	if len(bytes.TrimSpace(a.Model)) == 0 {
		return json.RawMessage("null")
	}
	return a.Model
}

// ParsedModel decodes the model specification. It returns nil when the
// analysis carries no model.
func (a *Analysis) ParsedModel() (*Model, error) {
	doc := a.ModelDocument()
	if string(doc) == "null" {
		return nil, nil
	}
	var m Model
	if err := json.Unmarshal(doc, &m); err != nil {
		return nil, fmt.Errorf("parse model: %w", err)
	}
	return &m, nil
}

// ConvolveInputs returns the inputs of the first Convolve transformation in
// the first model step, and whether one was declared.
func (a *Analysis) ConvolveInputs() ([]string, bool, error) {
	m, err := a.ParsedModel()
	if err != nil {
		return nil, false, err
	}
	if m == nil || len(m.Steps) == 0 {
		return nil, false, nil
	}
	for _, t := range m.Steps[0].Transformations {
		if t.Name == "Convolve" {
			return t.Input, true, nil
		}
	}
	return nil, false, nil
}

// Validate checks the fields every job relies on.
func (a *Analysis) Validate() error {
	if a.HashID == "" {
		return NewValidationError("invalid analysis",
			FieldError{Field: "hash_id", Message: "hash_id is required"})
	}
	if !isPathElement(a.HashID) {
		return NewValidationError("invalid analysis",
			FieldError{Field: "hash_id", Message: "hash_id must be a single path element"})
	}
	if a.TR <= 0 {
		return NewValidationError("invalid analysis",
			FieldError{Field: "TR", Message: "TR must be positive"})
	}
	if a.TaskName == "" {
		return NewValidationError("invalid analysis",
			FieldError{Field: "task_name", Message: "task_name is required"})
	}
	if !isPathElement(a.TaskName) {
		return NewValidationError("invalid analysis",
			FieldError{Field: "task_name", Message: "task_name must be a single path element"})
	}
	// Run entities become parts of file names in bundles and reports.
	for i, r := range a.Runs {
		for _, e := range []struct{ name, value string }{
			{"subject", r.Subject},
			{"session", r.Session},
			{"number", r.Number},
			{"task", r.Task},
		} {
			if e.value != "" && !isPathElement(e.value) {
				return NewValidationError("invalid analysis", FieldError{
					Field:   fmt.Sprintf("runs[%d].%s", i, e.name),
					Message: e.name + " must be a single path element",
				})
			}
		}
	}
	return nil
}

func isPathElement(s string) bool {
	return s != "" && s != "." && s != ".." && !strings.ContainsAny(s, `/\`)
}

// RunByID returns the run with the given identifier.
func (a *Analysis) RunByID(id int) (Run, bool) {
	for _, r := range a.Runs {
		if r.ID == id {
			return r, true
		}
	}
	return Run{}, false
}
