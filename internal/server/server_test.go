package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/PeerHerholz/neuroscout/internal/config"
	"github.com/PeerHerholz/neuroscout/internal/store"
	"github.com/PeerHerholz/neuroscout/pkg/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLiteStore(":memory:", testLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func testServer(t *testing.T, opts ...Option) *Server {
	t.Helper()
	return New(config.Default().Server, testStore(t), nil, testLogger(), opts...)
}

// envelope is used to decode the standard response envelope.
type envelope struct {
	Status     string            `json:"status"`
	RequestID  string            `json:"request_id"`
	Timestamp  string            `json:"timestamp"`
	Data       json.RawMessage   `json:"data"`
	Pagination *model.Pagination `json:"pagination"`
	Error      *model.APIError   `json:"error"`
}

func do(t *testing.T, srv *Server, method, path, body string, wantStatus int) envelope {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != wantStatus {
		t.Fatalf("%s %s: status=%d, want %d, body=%s", method, path, w.Code, wantStatus, w.Body.String())
	}
	var env envelope
	if w.Code == http.StatusNoContent {
		return env
	}
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("%s %s: invalid JSON: %v", method, path, err)
	}
	return env
}

func doGet(t *testing.T, srv *Server, path string) envelope {
	t.Helper()
	return do(t, srv, http.MethodGet, path, "", http.StatusOK)
}

func decodeData[T any](t *testing.T, env envelope) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(env.Data, &v); err != nil {
		t.Fatalf("decode data: %v (%s)", err, env.Data)
	}
	return v
}

func enqueue(t *testing.T, srv *Server, name model.JobName, args string) *model.Job {
	t.Helper()
	body := `{"name":"` + string(name) + `","args":` + args + `}`
	env := do(t, srv, http.MethodPost, "/api/v1/jobs", body, http.StatusCreated)
	return decodeData[*model.Job](t, env)
}

func register(t *testing.T, srv *Server, name string) *model.Worker {
	t.Helper()
	env := do(t, srv, http.MethodPost, "/api/v1/workers", `{"name":"`+name+`","concurrency":2}`, http.StatusCreated)
	return decodeData[*model.Worker](t, env)
}

func TestDiscovery(t *testing.T) {
	srv := testServer(t)
	env := doGet(t, srv, "/api/v1/")
	if env.Status != "ok" {
		t.Errorf("status = %q, want ok", env.Status)
	}
	if env.RequestID == "" {
		t.Error("request_id is empty")
	}

	data := decodeData[discoveryResponse](t, env)
	if data.Name != "neuroscout API" {
		t.Errorf("name = %q", data.Name)
	}
	if len(data.Endpoints) < 9 {
		t.Errorf("endpoints count = %d, want >= 9", len(data.Endpoints))
	}
}

func TestHealth(t *testing.T) {
	srv := testServer(t)
	data := decodeData[healthResponse](t, doGet(t, srv, "/api/v1/health"))
	if data.Status != "healthy" || data.Store != "ok" {
		t.Errorf("health = %+v", data)
	}
	if data.Version != Version {
		t.Errorf("version = %q, want %s", data.Version, Version)
	}
}

func TestEnqueueJob(t *testing.T) {
	srv := testServer(t)

	job := enqueue(t, srv, model.JobUpload, `{"img_tarball":"/tmp/x.tar","hash_id":"abc"}`)
	if !strings.HasPrefix(job.ID, "job_") {
		t.Errorf("id = %q, want job_ prefix", job.ID)
	}
	if job.State != model.JobStateQueued || job.MaxAttempts != model.DefaultMaxAttempts {
		t.Errorf("job = %+v", job)
	}

	got := decodeData[*model.Job](t, doGet(t, srv, "/api/v1/jobs/"+job.ID))
	if got.Name != model.JobUpload {
		t.Errorf("name = %s", got.Name)
	}
	if string(got.Args) != `{"img_tarball":"/tmp/x.tar","hash_id":"abc"}` {
		t.Errorf("args = %s", got.Args)
	}

	env := do(t, srv, http.MethodGet, "/api/v1/jobs/job_missing", "", http.StatusNotFound)
	if env.Error == nil || env.Error.Code != model.ErrNotFound {
		t.Errorf("error = %+v", env.Error)
	}
}

func TestEnqueueJobRejects(t *testing.T) {
	validator := func(name model.JobName, args json.RawMessage) error {
		if strings.Contains(string(args), "bad") {
			return model.NewValidationError("invalid job arguments",
				model.FieldError{Field: "analysis", Message: "analysis is required"})
		}
		return nil
	}
	srv := testServer(t, WithArgsValidator(validator))

	tests := []struct {
		name string
		body string
	}{
		{"malformed", `{"name":`},
		{"unknown name", `{"name":"workflow.unknown","args":{}}`},
		{"args not object", `{"name":"workflow.compile","args":[1,2]}`},
		{"validator", `{"name":"workflow.compile","args":{"bad":true}}`},
		{"negative attempts", `{"name":"workflow.compile","args":{},"max_attempts":-1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := do(t, srv, http.MethodPost, "/api/v1/jobs", tt.body, http.StatusBadRequest)
			if env.Status != "error" || env.Error == nil || env.Error.Code != model.ErrValidation {
				t.Errorf("envelope = %+v", env)
			}
		})
	}

	list := do(t, srv, http.MethodGet, "/api/v1/jobs", "", http.StatusOK)
	if list.Pagination.Total != 0 {
		t.Errorf("rejected jobs were stored: total = %d", list.Pagination.Total)
	}
}

func TestListJobs(t *testing.T) {
	srv := testServer(t)
	for i := 0; i < 3; i++ {
		enqueue(t, srv, model.JobCompile, `{}`)
	}
	enqueue(t, srv, model.JobUpload, `{}`)

	env := doGet(t, srv, "/api/v1/jobs?name=workflow.compile&limit=2")
	jobs := decodeData[[]*model.Job](t, env)
	if len(jobs) != 2 {
		t.Errorf("len = %d, want 2", len(jobs))
	}
	if env.Pagination == nil || env.Pagination.Total != 3 || !env.Pagination.HasMore {
		t.Errorf("pagination = %+v", env.Pagination)
	}

	env = doGet(t, srv, "/api/v1/jobs?state=QUEUED")
	if env.Pagination.Total != 4 {
		t.Errorf("queued total = %d, want 4", env.Pagination.Total)
	}

	do(t, srv, http.MethodGet, "/api/v1/jobs?state=DONE", "", http.StatusBadRequest)
	do(t, srv, http.MethodGet, "/api/v1/jobs?limit=many", "", http.StatusBadRequest)
}

func TestCancelJob(t *testing.T) {
	srv := testServer(t)
	queued := enqueue(t, srv, model.JobCompile, `{}`)

	env := do(t, srv, http.MethodPut, "/api/v1/jobs/"+queued.ID+"/cancel", "", http.StatusOK)
	data := decodeData[map[string]any](t, env)
	if data["state"] != string(model.JobStateCancelled) {
		t.Errorf("state = %v", data["state"])
	}

	// A delivered job cannot be cancelled.
	running := enqueue(t, srv, model.JobCompile, `{}`)
	wrk := register(t, srv, "w1")
	do(t, srv, http.MethodGet, "/api/v1/workers/"+wrk.ID+"/work", "", http.StatusOK)
	env = do(t, srv, http.MethodPut, "/api/v1/jobs/"+running.ID+"/cancel", "", http.StatusConflict)
	if env.Error.Code != model.ErrConflict {
		t.Errorf("code = %s", env.Error.Code)
	}

	do(t, srv, http.MethodPut, "/api/v1/jobs/job_missing/cancel", "", http.StatusNotFound)
}

func TestWorkerLifecycle(t *testing.T) {
	srv := testServer(t)
	wrk := register(t, srv, "w1")
	if !strings.HasPrefix(wrk.ID, "wrk_") || wrk.Concurrency != 2 {
		t.Errorf("worker = %+v", wrk)
	}
	base := "/api/v1/workers/" + wrk.ID

	// Idle queue.
	do(t, srv, http.MethodGet, base+"/work", "", http.StatusNoContent)

	job := enqueue(t, srv, model.JobGenerateReport, `{"sampling_rate":5}`)
	got := decodeData[*model.Job](t, doGet(t, srv, base+"/work"))
	if got.ID != job.ID || got.State != model.JobStateRunning || got.Attempts != 1 {
		t.Fatalf("checked out %+v", got)
	}
	if got.LeaseUntil == nil {
		t.Error("lease not set")
	}

	hb := decodeData[map[string]any](t, do(t, srv, http.MethodPut, base+"/heartbeat", "", http.StatusOK))
	if hb["leases_extended"] != float64(1) {
		t.Errorf("heartbeat = %v", hb)
	}

	body := `{"state":"SUCCESS","result":{"design_matrix":["https://x/reports/abc/a.tsv"]}}`
	do(t, srv, http.MethodPut, base+"/jobs/"+job.ID+"/complete", body, http.StatusOK)

	done := decodeData[*model.Job](t, doGet(t, srv, "/api/v1/jobs/"+job.ID))
	if done.State != model.JobStateSuccess {
		t.Errorf("state = %s", done.State)
	}
	if _, ok := done.Result["design_matrix"]; !ok {
		t.Errorf("result = %v", done.Result)
	}

	// A second completion is stale.
	do(t, srv, http.MethodPut, base+"/jobs/"+job.ID+"/complete", `{"state":"FAILED","error":"boom"}`, http.StatusConflict)

	workers := decodeData[[]*model.Worker](t, doGet(t, srv, "/api/v1/workers"))
	if len(workers) != 1 {
		t.Errorf("workers = %d", len(workers))
	}
	do(t, srv, http.MethodDelete, base, "", http.StatusOK)
	do(t, srv, http.MethodDelete, base, "", http.StatusNotFound)
	do(t, srv, http.MethodGet, base+"/work", "", http.StatusNotFound)
	do(t, srv, http.MethodPut, base+"/heartbeat", "", http.StatusNotFound)
}

func TestCompleteFromOtherWorker(t *testing.T) {
	srv := testServer(t)
	w1 := register(t, srv, "w1")
	w2 := register(t, srv, "w2")
	job := enqueue(t, srv, model.JobCompile, `{}`)
	doGet(t, srv, "/api/v1/workers/"+w1.ID+"/work")

	do(t, srv, http.MethodPut, "/api/v1/workers/"+w2.ID+"/jobs/"+job.ID+"/complete",
		`{"state":"SUCCESS"}`, http.StatusConflict)
	do(t, srv, http.MethodPut, "/api/v1/workers/"+w1.ID+"/jobs/"+job.ID+"/complete",
		`{"state":"RUNNING"}`, http.StatusBadRequest)
	do(t, srv, http.MethodPut, "/api/v1/workers/"+w1.ID+"/jobs/job_missing/complete",
		`{"state":"FAILED"}`, http.StatusNotFound)

	failed := do(t, srv, http.MethodPut, "/api/v1/workers/"+w1.ID+"/jobs/"+job.ID+"/complete",
		`{"state":"FAILED","error":"Traceback: bids_dir missing"}`, http.StatusOK)
	if failed.Status != "ok" {
		t.Errorf("status = %s", failed.Status)
	}
	got := decodeData[*model.Job](t, doGet(t, srv, "/api/v1/jobs/"+job.ID))
	if got.Error != "Traceback: bids_dir missing" {
		t.Errorf("error = %q", got.Error)
	}
}

func TestArtifacts(t *testing.T) {
	root := t.TempDir()
	paths := config.PathsConfig{FileData: root, Domain: "https://neuroscout.test"}
	if err := os.MkdirAll(filepath.Join(paths.ReportsDir(), "abc"), 0o755); err != nil {
		t.Fatal(err)
	}
	os.MkdirAll(paths.AnalysesDir(), 0o755)
	os.WriteFile(filepath.Join(paths.AnalysesDir(), "abc_bundle.tar.gz"), []byte("bundle"), 0o644)
	os.WriteFile(filepath.Join(paths.ReportsDir(), "abc", "sub-01_task-emo_design_matrix.tsv"), []byte("a\tb\n"), 0o644)

	srv := testServer(t, WithArtifacts(paths))

	tests := []struct {
		path string
		want int
		body string
	}{
		{"/analyses/abc_bundle.tar.gz", http.StatusOK, "bundle"},
		{"/reports/abc/sub-01_task-emo_design_matrix.tsv", http.StatusOK, "a\tb\n"},
		{"/reports/abc/", http.StatusNotFound, ""},
		{"/analyses/missing.tar.gz", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d", w.Code, tt.want)
			}
			if tt.body != "" && w.Body.String() != tt.body {
				t.Errorf("body = %q, want %q", w.Body.String(), tt.body)
			}
		})
	}

	// Without the option nothing is exposed.
	plain := testServer(t)
	w := httptest.NewRecorder()
	plain.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/analyses/abc_bundle.tar.gz", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestRespondErr(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{model.NewValidationError("bad"), http.StatusBadRequest},
		{model.NewNotFoundError("job", "x"), http.StatusNotFound},
		{model.NewConflictError("busy"), http.StatusConflict},
		{errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		respondErr(w, "req_1", tt.err)
		if w.Code != tt.want {
			t.Errorf("respondErr(%v) = %d, want %d", tt.err, w.Code, tt.want)
		}
	}
}

func TestRequestIDPropagation(t *testing.T) {
	srv := testServer(t)
	tests := []struct {
		name   string
		header string
		keep   bool
	}{
		{"caller id kept", "wrk-1234.abc_9", true},
		{"absent", "", false},
		{"bad characters", "id with spaces", false},
		{"too long", strings.Repeat("x", 65), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/", nil)
			if tt.header != "" {
				req.Header.Set("X-Request-ID", tt.header)
			}
			w := httptest.NewRecorder()
			srv.ServeHTTP(w, req)

			got := w.Header().Get("X-Request-ID")
			if tt.keep && got != tt.header {
				t.Errorf("X-Request-ID = %q, want %q", got, tt.header)
			}
			if !tt.keep && !strings.HasPrefix(got, "req_") {
				t.Errorf("X-Request-ID = %q, want generated req_ id", got)
			}
			var env envelope
			if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
				t.Fatal(err)
			}
			if env.RequestID != got {
				t.Errorf("envelope request_id = %q, header = %q", env.RequestID, got)
			}
		})
	}
}
