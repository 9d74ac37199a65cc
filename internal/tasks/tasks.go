// Package tasks binds the pipeline operations to named jobs.
package tasks

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/PeerHerholz/neuroscout/internal/bundle"
	"github.com/PeerHerholz/neuroscout/internal/dispatch"
	"github.com/PeerHerholz/neuroscout/internal/neurovault"
	"github.com/PeerHerholz/neuroscout/internal/report"
	"github.com/PeerHerholz/neuroscout/pkg/model"
)

// Compiler writes analysis bundles.
type Compiler interface {
	Compile(ctx context.Context, req bundle.CompileRequest) (*bundle.CompileResult, error)
}

// Reporter generates design matrix reports.
type Reporter interface {
	Generate(ctx context.Context, req report.ReportRequest) (*report.ReportResult, error)
}

// Uploader publishes result images.
type Uploader interface {
	Upload(ctx context.Context, req neurovault.UploadRequest) (*neurovault.UploadResult, error)
}

// CompileArgs are the arguments of workflow.compile.
type CompileArgs struct {
	Analysis        *model.Analysis        `json:"analysis"`
	PredictorEvents []model.PredictorEvent `json:"predictor_events"`
	Resources       model.Resources        `json:"resources"`
	BIDSDir         string                 `json:"bids_dir"`
	RunIDs          []int                  `json:"run_ids"`
	ValidationHash  string                 `json:"validation_hash"`
	Build           bool                   `json:"build"`
}

// ReportArgs are the arguments of workflow.generate_report.
type ReportArgs struct {
	Analysis        *model.Analysis        `json:"analysis"`
	PredictorEvents []model.PredictorEvent `json:"predictor_events"`
	BIDSDir         string                 `json:"bids_dir"`
	RunIDs          []int                  `json:"run_ids"`
	SamplingRate    float64                `json:"sampling_rate"`
	Domain          string                 `json:"domain"`
}

// UploadArgs are the arguments of neurovault.upload.
type UploadArgs struct {
	ImgTarball  string  `json:"img_tarball"`
	HashID      string  `json:"hash_id"`
	AccessToken string  `json:"access_token"`
	Timestamp   *string `json:"timestamp"`
	NSubjects   *int    `json:"n_subjects"`
}

// Tasks holds the collaborators the job handlers call.
type Tasks struct {
	compiler Compiler
	reporter Reporter
	uploader Uploader
	domain   string
}

// New creates Tasks. domain is the public URL root used when a report job
// does not name one.
func New(compiler Compiler, reporter Reporter, uploader Uploader, domain string) *Tasks {
	return &Tasks{compiler: compiler, reporter: reporter, uploader: uploader, domain: domain}
}

// Register installs the three job handlers.
func (t *Tasks) Register(reg *dispatch.Registry) {
	reg.Register(model.JobCompile, dispatch.HandlerFunc(t.Compile))
	reg.Register(model.JobGenerateReport, dispatch.HandlerFunc(t.GenerateReport))
	reg.Register(model.JobUpload, dispatch.HandlerFunc(t.Upload))
}

// Compile runs workflow.compile.
func (t *Tasks) Compile(ctx context.Context, raw json.RawMessage) (map[string]any, error) {
	var args CompileArgs
	if err := decode(raw, &args); err != nil {
		return nil, err
	}
	res, err := t.compiler.Compile(ctx, bundle.CompileRequest{
		Analysis:        args.Analysis,
		PredictorEvents: args.PredictorEvents,
		Resources:       args.Resources,
		BIDSDir:         args.BIDSDir,
		RunIDs:          args.RunIDs,
		ValidationHash:  args.ValidationHash,
		Build:           args.Build,
	})
	if err != nil {
		return nil, err
	}
	return toMap(res)
}

// GenerateReport runs workflow.generate_report.
func (t *Tasks) GenerateReport(ctx context.Context, raw json.RawMessage) (map[string]any, error) {
	var args ReportArgs
	if err := decode(raw, &args); err != nil {
		return nil, err
	}
	domain := args.Domain
	if domain == "" {
		domain = t.domain
	}
	res, err := t.reporter.Generate(ctx, report.ReportRequest{
		Analysis:        args.Analysis,
		PredictorEvents: args.PredictorEvents,
		BIDSDir:         args.BIDSDir,
		RunIDs:          args.RunIDs,
		SamplingRate:    args.SamplingRate,
		Domain:          domain,
	})
	if err != nil {
		return nil, err
	}
	return toMap(res)
}

// Upload runs neurovault.upload.
func (t *Tasks) Upload(ctx context.Context, raw json.RawMessage) (map[string]any, error) {
	var args UploadArgs
	if err := decode(raw, &args); err != nil {
		return nil, err
	}
	res, err := t.uploader.Upload(ctx, neurovault.UploadRequest{
		ImgTarball:  args.ImgTarball,
		HashID:      args.HashID,
		AccessToken: args.AccessToken,
		Timestamp:   args.Timestamp,
		NSubjects:   args.NSubjects,
	})
	if err != nil {
		return nil, err
	}
	return toMap(res)
}

func (a *CompileArgs) validate() error {
	if a.Analysis == nil {
		return missing("analysis")
	}
	return nil
}

func (a *ReportArgs) validate() error {
	if a.Analysis == nil {
		return missing("analysis")
	}
	if a.SamplingRate < 0 {
		return model.NewValidationError("invalid job arguments",
			model.FieldError{Field: "sampling_rate", Message: "sampling_rate must not be negative"})
	}
	return nil
}

func (a *UploadArgs) validate() error {
	if a.ImgTarball == "" {
		return missing("img_tarball")
	}
	if a.HashID == "" {
		return missing("hash_id")
	}
	return nil
}

type validator interface {
	validate() error
}

// ValidateArgs checks that raw decodes into the arguments of the named job
// and carries its required fields. The server calls it at enqueue so that
// malformed jobs are rejected before a worker sees them.
func ValidateArgs(name model.JobName, raw json.RawMessage) error {
	var args validator
	switch name {
	case model.JobCompile:
		args = &CompileArgs{}
	case model.JobGenerateReport:
		args = &ReportArgs{}
	case model.JobUpload:
		args = &UploadArgs{}
	default:
		return model.NewValidationError("unknown job",
			model.FieldError{Field: "name", Message: fmt.Sprintf("no job named %q", name)})
	}
	return decode(raw, args)
}

func decode(raw json.RawMessage, v validator) error {
	if len(raw) == 0 {
		return model.NewValidationError("job arguments are required")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return model.NewValidationError(fmt.Sprintf("decode job arguments: %v", err))
	}
	return v.validate()
}

func missing(field string) error {
	return model.NewValidationError("invalid job arguments",
		model.FieldError{Field: field, Message: field + " is required"})
}

// toMap converts a result struct to the generic mapping jobs return.
func toMap(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return out, nil
}
