package tasks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/PeerHerholz/neuroscout/internal/bids"
	"github.com/PeerHerholz/neuroscout/internal/bundle"
	"github.com/PeerHerholz/neuroscout/internal/dispatch"
	"github.com/PeerHerholz/neuroscout/internal/neurovault"
	"github.com/PeerHerholz/neuroscout/internal/report"
	"github.com/PeerHerholz/neuroscout/pkg/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeUploader struct {
	got neurovault.UploadRequest
	err error
}

func (f *fakeUploader) Upload(_ context.Context, req neurovault.UploadRequest) (*neurovault.UploadResult, error) {
	f.got = req
	if f.err != nil {
		return nil, f.err
	}
	return &neurovault.UploadResult{CollectionID: 7}, nil
}

type env struct {
	root     string
	registry *dispatch.Registry
	uploader *fakeUploader
}

func newEnv(t *testing.T) *env {
	t.Helper()
	root := t.TempDir()
	logger := testLogger()
	analyses := bids.NewEventsBuilder(filepath.Join(root, "scratch"), logger)
	e := &env{root: root, registry: dispatch.NewRegistry(logger), uploader: &fakeUploader{}}
	New(
		bundle.NewBuilder(filepath.Join(root, "analyses"), analyses, nil, logger),
		report.NewGenerator(filepath.Join(root, "reports"), analyses, logger),
		e.uploader,
		"https://neuroscout.test",
	).Register(e.registry)
	return e
}

func (e *env) run(t *testing.T, name model.JobName, args string) (map[string]any, error) {
	t.Helper()
	return e.registry.Execute(context.Background(), &model.Job{ID: "job_t", Name: name, Args: json.RawMessage(args)})
}

const analysisArgs = `"analysis":{"hash_id":"abc123","TR":2,"task_name":"emoreg",
"runs":[{"id":1,"subject":"01","number":"1","duration":6}],
"predictors":[{"id":1,"name":"face"}]},
"predictor_events":[{"onset":0,"duration":1,"value":"1","predictor_id":1,"run_id":1}]`

func TestCompileJob(t *testing.T) {
	e := newEnv(t)
	got, err := e.run(t, model.JobCompile, `{`+analysisArgs+`,"resources":{"a":1},"validation_hash":"vh","run_ids":[1]}`)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	want := filepath.Join(e.root, "analyses", "abc123_bundle.tar.gz")
	if got["bundle_path"] != want {
		t.Errorf("bundle_path = %v, want %s", got["bundle_path"], want)
	}
	res, _ := got["resources"].(map[string]any)
	if res["validation_hash"] != "vh" {
		t.Errorf("resources = %v", got["resources"])
	}
	if _, err := os.Stat(want); err != nil {
		t.Errorf("bundle missing: %v", err)
	}
}

func TestGenerateReportJob_DefaultDomain(t *testing.T) {
	e := newEnv(t)
	got, err := e.run(t, model.JobGenerateReport, `{`+analysisArgs+`,"sampling_rate":1}`)
	if err != nil {
		t.Fatalf("generate_report: %v", err)
	}
	urls, _ := got["design_matrix"].([]any)
	want := []any{"https://neuroscout.test/reports/abc123/sub-01_task-emoreg_run-1_design_matrix.tsv"}
	if diff := cmp.Diff(want, urls); diff != "" {
		t.Errorf("design_matrix (-want +got):\n%s", diff)
	}
	for _, key := range []string{"design_matrix_plot", "design_matrix_corrplot"} {
		if list, _ := got[key].([]any); len(list) != 1 {
			t.Errorf("%s has %d entries, want 1", key, len(list))
		}
	}
}

func TestUploadJob(t *testing.T) {
	e := newEnv(t)
	got, err := e.run(t, model.JobUpload, `{"img_tarball":"/tmp/x.tar","hash_id":"abc123","access_token":"tok","timestamp":"v2","n_subjects":3}`)
	if err != nil {
		t.Fatal(err)
	}
	if got["collection_id"] != 7.0 {
		t.Errorf("collection_id = %v", got["collection_id"])
	}
	if e.uploader.got.CollectionName() != "abc123_v2" || *e.uploader.got.NSubjects != 3 {
		t.Errorf("request = %+v", e.uploader.got)
	}
}

func TestUploadJob_PublishErrorSurfaces(t *testing.T) {
	e := newEnv(t)
	e.uploader.err = &neurovault.PublishError{Stage: neurovault.StageCreateCollection, Err: errors.New("409")}
	_, err := e.run(t, model.JobUpload, `{"img_tarball":"/tmp/x.tar","hash_id":"abc123"}`)
	if !errors.Is(err, neurovault.ErrPublishFailed) {
		t.Fatalf("err = %v, want ErrPublishFailed", err)
	}
}

func TestArgumentErrors(t *testing.T) {
	tests := []struct {
		name model.JobName
		args string
		want string
	}{
		{model.JobCompile, `{}`, "analysis"},
		{model.JobGenerateReport, `not json`, "decode job arguments"},
		{model.JobUpload, `{"hash_id":"abc"}`, "img_tarball"},
		{model.JobUpload, `{"img_tarball":"x.tar"}`, "hash_id"},
	}
	for _, tt := range tests {
		t.Run(string(tt.name)+"/"+tt.want, func(t *testing.T) {
			e := newEnv(t)
			_, err := e.run(t, tt.name, tt.args)
			var apiErr *model.APIError
			if !errors.As(err, &apiErr) || apiErr.Code != model.ErrValidation {
				t.Fatalf("err = %v, want validation error", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestValidateArgs(t *testing.T) {
	tests := []struct {
		name    model.JobName
		args    string
		wantErr bool
	}{
		{model.JobCompile, `{` + analysisArgs + `}`, false},
		{model.JobCompile, `{"build":true}`, true},
		{model.JobGenerateReport, `{` + analysisArgs + `,"sampling_rate":5}`, false},
		{model.JobGenerateReport, `{` + analysisArgs + `,"sampling_rate":-1}`, true},
		{model.JobUpload, `{"img_tarball":"x.tar","hash_id":"abc"}`, false},
		{model.JobUpload, ``, true},
		{"workflow.unknown", `{}`, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.name), func(t *testing.T) {
			err := ValidateArgs(tt.name, json.RawMessage(tt.args))
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateArgs(%s, %s) = %v, wantErr %v", tt.name, tt.args, err, tt.wantErr)
			}
			if err != nil {
				var apiErr *model.APIError
				if !errors.As(err, &apiErr) || apiErr.Code != model.ErrValidation {
					t.Errorf("err = %v, want validation error", err)
				}
			}
		})
	}
}
