package bundle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/PeerHerholz/neuroscout/internal/artifact"
	"github.com/PeerHerholz/neuroscout/internal/bids"
	"github.com/PeerHerholz/neuroscout/pkg/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

const analysisDoc = `{"hash_id":"abc123","TR":2.0,"task_name":"emoreg",
"runs":[{"id":1,"subject":"01","number":"1","duration":20},{"id":2,"subject":"02","number":"1","duration":20}],
"predictors":[{"id":10,"name":"face"}]}`

func loadAnalysis(t *testing.T, doc string) *model.Analysis {
	t.Helper()
	var a model.Analysis
	if err := json.Unmarshal([]byte(doc), &a); err != nil {
		t.Fatal(err)
	}
	return &a
}

func events() []model.PredictorEvent {
	return []model.PredictorEvent{
		{Onset: 2, Duration: 1, Value: "1", PredictorID: 10, RunID: 1},
		{Onset: 4, Duration: 1, Value: "1", PredictorID: 10, RunID: 2},
	}
}

type fixture struct {
	builder *Builder
	dir     string
	scratch string
}

func newFixture(t *testing.T, mirror Mirror) *fixture {
	t.Helper()
	root := t.TempDir()
	f := &fixture{
		dir:     filepath.Join(root, "analyses"),
		scratch: filepath.Join(root, "scratch"),
	}
	f.builder = NewBuilder(f.dir, bids.NewEventsBuilder(f.scratch, testLogger()), mirror, testLogger())
	return f
}

func extract(t *testing.T, path string) string {
	t.Helper()
	out := t.TempDir()
	if _, err := artifact.ExtractFile(context.Background(), path, out); err != nil {
		t.Fatalf("extract: %v", err)
	}
	return out
}

func readJSON(t *testing.T, path string, v any) {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("decode %s: %v", filepath.Base(path), err)
	}
}

func TestCompile_NoModel(t *testing.T) {
	f := newFixture(t, nil)
	resources := model.Resources{"preproc": "fmriprep"}

	res, err := f.builder.Compile(context.Background(), CompileRequest{
		Analysis:        loadAnalysis(t, analysisDoc),
		PredictorEvents: events(),
		Resources:       resources,
		ValidationHash:  "v-hash",
	})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if res.BundlePath != filepath.Join(f.dir, "abc123_bundle.tar.gz") {
		t.Errorf("BundlePath = %q", res.BundlePath)
	}

	got := append([]string(nil), res.Members...)
	sort.Strings(got)
	want := []string{
		"analysis.json",
		"func/sub-01_task-emoreg_run-1_events.tsv",
		"func/sub-02_task-emoreg_run-1_events.tsv",
		"model.json",
		"resources.json",
		"task-emoreg_bold.json",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("members (-want +got):\n%s", diff)
	}

	out := extract(t, res.BundlePath)
	for _, name := range want {
		if _, err := os.Stat(filepath.Join(out, filepath.FromSlash(name))); err != nil {
			t.Errorf("archive missing %s", name)
		}
	}

	data, _ := os.ReadFile(filepath.Join(out, "model.json"))
	if string(bytes.TrimSpace(data)) != "null" {
		t.Errorf("model.json = %q, want null", data)
	}
	var sidecar map[string]float64
	readJSON(t, filepath.Join(out, "task-emoreg_bold.json"), &sidecar)
	if diff := cmp.Diff(map[string]float64{"RepetitionTime": 2}, sidecar); diff != "" {
		t.Errorf("sidecar (-want +got):\n%s", diff)
	}
	var gotRes map[string]any
	readJSON(t, filepath.Join(out, "resources.json"), &gotRes)
	if gotRes["validation_hash"] != "v-hash" || gotRes["preproc"] != "fmriprep" {
		t.Errorf("resources.json = %v", gotRes)
	}
	var gotAnalysis map[string]any
	readJSON(t, filepath.Join(out, "analysis.json"), &gotAnalysis)
	if gotAnalysis["hash_id"] != "abc123" {
		t.Errorf("analysis.json = %v", gotAnalysis)
	}

	if _, ok := resources["validation_hash"]; ok {
		t.Error("caller's resources were mutated")
	}
	if res.Resources["validation_hash"] != "v-hash" {
		t.Errorf("returned resources = %v", res.Resources)
	}

	entries, _ := os.ReadDir(f.scratch)
	if len(entries) != 0 {
		t.Errorf("workspace left behind: %d entries", len(entries))
	}
}

func TestCompile_RerunOverwrites(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	for _, hash := range []string{"first", "second"} {
		_, err := f.builder.Compile(ctx, CompileRequest{
			Analysis:        loadAnalysis(t, analysisDoc),
			PredictorEvents: events(),
			Resources:       model.Resources{"run": hash},
			ValidationHash:  hash,
			Build:           true,
		})
		if err != nil {
			t.Fatalf("Compile(%s): %v", hash, err)
		}
	}

	out := extract(t, f.builder.Path("abc123"))
	var res map[string]any
	readJSON(t, filepath.Join(out, "resources.json"), &res)
	if res["validation_hash"] != "second" || res["run"] != "second" {
		t.Errorf("resources.json = %v, want second invocation only", res)
	}
	entries, _ := os.ReadDir(f.dir)
	if len(entries) != 1 {
		t.Errorf("analyses dir has %d entries, want 1", len(entries))
	}
}

func TestCompile_BuilderErrorLeavesNoBundle(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.builder.Compile(context.Background(), CompileRequest{
		Analysis: loadAnalysis(t, analysisDoc),
		RunIDs:   []int{7},
	})
	var verr *bids.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want *bids.ValidationError", err)
	}
	if _, err := os.Stat(f.builder.Path("abc123")); !os.IsNotExist(err) {
		t.Error("bundle written despite builder failure")
	}
}

func TestCompile_InvalidHashID(t *testing.T) {
	f := newFixture(t, nil)
	a := loadAnalysis(t, `{"hash_id":"../x","TR":2,"task_name":"t"}`)
	if _, err := f.builder.Compile(context.Background(), CompileRequest{Analysis: a}); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestCompile_RejectsPathEntities(t *testing.T) {
	tests := []struct {
		name  string
		doc   string
		field string
	}{
		{"task name", `{"hash_id":"abc123","TR":2,"task_name":"x/../../../outside",
"runs":[{"id":1,"subject":"01","number":"1","duration":20}]}`, "task_name"},
		{"subject", `{"hash_id":"abc123","TR":2,"task_name":"emoreg",
"runs":[{"id":1,"subject":"../../outside","number":"1","duration":20}]}`, "runs[0].subject"},
		{"session", `{"hash_id":"abc123","TR":2,"task_name":"emoreg",
"runs":[{"id":1,"subject":"01","session":"..","duration":20}]}`, "runs[0].session"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			b := NewBuilder(filepath.Join(root, "a", "analyses"),
				bids.NewEventsBuilder(filepath.Join(root, "a", "scratch"), testLogger()), nil, testLogger())

			_, err := b.Compile(context.Background(), CompileRequest{Analysis: loadAnalysis(t, tt.doc)})
			var apiErr *model.APIError
			if !errors.As(err, &apiErr) || apiErr.Code != model.ErrValidation {
				t.Fatalf("err = %v, want validation error", err)
			}
			if apiErr.Details[0].Field != tt.field {
				t.Errorf("field = %q, want %q", apiErr.Details[0].Field, tt.field)
			}

			var written []string
			_ = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
				if err == nil && !d.IsDir() {
					written = append(written, path)
				}
				return nil
			})
			if len(written) != 0 {
				t.Errorf("files written for rejected analysis: %v", written)
			}
		})
	}
}

// staticBuilder returns a workspace with caller-chosen files.
type staticBuilder struct {
	root  string
	files func(dir string) []artifact.Member
}

func (s staticBuilder) BuildAnalysis(_ context.Context, _ bids.Request) (*bids.Workspace, error) {
	dir, err := os.MkdirTemp(s.root, "static-*")
	if err != nil {
		return nil, err
	}
	return &bids.Workspace{Dir: dir, Files: s.files(dir)}, nil
}

func TestCompile_ManifestErrors(t *testing.T) {
	tests := []struct {
		name  string
		files func(dir string) []artifact.Member
	}{
		{"missing file", func(dir string) []artifact.Member {
			return []artifact.Member{{Path: filepath.Join(dir, "gone.tsv"), Name: "gone.tsv"}}
		}},
		{"name collision", func(dir string) []artifact.Member {
			p := filepath.Join(dir, "other.json")
			_ = os.WriteFile(p, []byte("{}"), 0o644)
			return []artifact.Member{{Path: p, Name: "analysis.json"}}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			b := NewBuilder(dir, staticBuilder{root: t.TempDir(), files: tt.files}, nil, testLogger())
			_, err := b.Compile(context.Background(), CompileRequest{Analysis: loadAnalysis(t, analysisDoc)})
			var merr *ManifestError
			if !errors.As(err, &merr) {
				t.Fatalf("err = %v, want *ManifestError", err)
			}
			if _, err := os.Stat(b.Path("abc123")); !os.IsNotExist(err) {
				t.Error("bundle written despite manifest error")
			}
		})
	}
}

type recordingMirror struct {
	names []string
	err   error
}

func (m *recordingMirror) PutFile(_ context.Context, name, _ string) error {
	m.names = append(m.names, name)
	return m.err
}

func TestCompile_Mirror(t *testing.T) {
	m := &recordingMirror{}
	f := newFixture(t, m)
	req := CompileRequest{Analysis: loadAnalysis(t, analysisDoc), PredictorEvents: events()}
	if _, err := f.builder.Compile(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"analyses/abc123_bundle.tar.gz"}, m.names); diff != "" {
		t.Errorf("mirrored (-want +got):\n%s", diff)
	}

	m.err = errors.New("bucket gone")
	if _, err := f.builder.Compile(context.Background(), req); !errors.Is(err, m.err) {
		t.Errorf("err = %v, want mirror failure", err)
	}
}
