package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/PeerHerholz/neuroscout/internal/config"
	"github.com/PeerHerholz/neuroscout/internal/server"
	"github.com/PeerHerholz/neuroscout/internal/store"
	"github.com/PeerHerholz/neuroscout/pkg/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeExecutor struct {
	mu   sync.Mutex
	seen []string
}

func (f *fakeExecutor) Execute(_ context.Context, job *model.Job) (map[string]any, error) {
	f.mu.Lock()
	f.seen = append(f.seen, job.ID)
	f.mu.Unlock()
	if job.Name == model.JobUpload {
		return nil, errors.New("error uploading: perhaps a collection with the same name already exists?")
	}
	return map[string]any{"bundle_path": "/file-data/analyses/abc_bundle.tar.gz"}, nil
}

func testBackend(t *testing.T) (*httptest.Server, store.Store) {
	t.Helper()
	st, err := store.NewSQLiteStore(":memory:", testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	srv := server.New(config.Default().Server, st, nil, testLogger())
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return ts, st
}

func waitTerminal(t *testing.T, st store.Store, ids ...string) map[string]*model.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		out := map[string]*model.Job{}
		for _, id := range ids {
			job, err := st.GetJob(context.Background(), id)
			if err != nil {
				t.Fatal(err)
			}
			if job.State.IsTerminal() {
				out[id] = job
			}
		}
		if len(out) == len(ids) {
			return out
		}
		if time.Now().After(deadline) {
			t.Fatalf("jobs not finished: %d of %d terminal", len(out), len(ids))
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWorkerRunsJobs(t *testing.T) {
	ts, st := testBackend(t)
	ctx := context.Background()

	for _, j := range []*model.Job{
		{ID: "job_compile", Name: model.JobCompile, State: model.JobStateQueued, Args: json.RawMessage(`{}`), MaxAttempts: 3, CreatedAt: time.Now().UTC()},
		{ID: "job_upload", Name: model.JobUpload, State: model.JobStateQueued, Args: json.RawMessage(`{}`), MaxAttempts: 3, CreatedAt: time.Now().UTC()},
	} {
		if err := st.CreateJob(ctx, j); err != nil {
			t.Fatal(err)
		}
	}

	exec := &fakeExecutor{}
	w := New(Config{
		ServerURL:   ts.URL,
		Name:        "test-worker",
		Concurrency: 2,
		Poll:        10 * time.Millisecond,
		Heartbeat:   10 * time.Millisecond,
	}, exec, testLogger())

	runCtx, cancel := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(runCtx) }()

	jobs := waitTerminal(t, st, "job_compile", "job_upload")
	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := jobs["job_compile"]; got.State != model.JobStateSuccess || got.Result["bundle_path"] == nil {
		t.Errorf("compile job = %+v", got)
	}
	if got := jobs["job_upload"]; got.State != model.JobStateFailed || got.Error == "" {
		t.Errorf("upload job = %+v", got)
	}
	if len(exec.seen) != 2 {
		t.Errorf("executed %v, want each job once", exec.seen)
	}

	workers, err := st.ListWorkers(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(workers) != 0 {
		t.Errorf("worker not deregistered: %+v", workers)
	}
}

func TestRegisterFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	w := New(Config{ServerURL: ts.URL, Name: "w"}, &fakeExecutor{}, testLogger())
	err := w.Run(context.Background())
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("err = %v, want HTTP 503", err)
	}
}

func TestStaleCompletionIsNotAnError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/workers/wrk_1/work", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","data":{"id":"job_1","name":"workflow.compile","state":"RUNNING","args":{},"attempts":1}}`))
	})
	mux.HandleFunc("PUT /api/v1/workers/wrk_1/jobs/job_1/complete", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"status":"error","error":{"code":"CONFLICT","message":"not running"}}`))
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	w := New(Config{ServerURL: ts.URL}, &fakeExecutor{}, testLogger())
	w.client.workerID = "wrk_1"

	ran, err := w.pollAndExecute(context.Background())
	if !ran || err != nil {
		t.Errorf("pollAndExecute = %v, %v; want true, nil", ran, err)
	}
}

func TestClientCheckoutNoContent(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	c := NewClient(ts.URL)
	c.workerID = "wrk_1"
	job, err := c.Checkout(context.Background())
	if err != nil || job != nil {
		t.Errorf("Checkout = %+v, %v; want nil, nil", job, err)
	}
}
