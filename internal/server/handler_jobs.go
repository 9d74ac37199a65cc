package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/PeerHerholz/neuroscout/internal/store"
	"github.com/PeerHerholz/neuroscout/pkg/model"
)

// handleEnqueueJob queues a named job.
// POST /api/v1/jobs
func (s *Server) handleEnqueueJob(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	var req model.EnqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, reqID, http.StatusBadRequest, &model.APIError{
			Code:    model.ErrValidation,
			Message: "invalid JSON body: " + err.Error(),
		})
		return
	}

	if !req.Name.IsKnown() {
		respondError(w, reqID, http.StatusBadRequest,
			model.NewValidationError("unknown job",
				model.FieldError{Field: "name", Message: "name must be one of workflow.compile, workflow.generate_report, neurovault.upload"}))
		return
	}
	args := bytes.TrimSpace(req.Args)
	if len(args) == 0 || bytes.Equal(args, []byte("null")) {
		args = []byte("{}")
	}
	if args[0] != '{' {
		respondError(w, reqID, http.StatusBadRequest,
			model.NewValidationError("invalid job arguments",
				model.FieldError{Field: "args", Message: "args must be a JSON object"}))
		return
	}
	if s.validateArgs != nil {
		if err := s.validateArgs(req.Name, args); err != nil {
			respondErr(w, reqID, err)
			return
		}
	}

	maxAttempts := req.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = model.DefaultMaxAttempts
	}
	if maxAttempts < 0 {
		respondError(w, reqID, http.StatusBadRequest,
			model.NewValidationError("invalid max_attempts",
				model.FieldError{Field: "max_attempts", Message: "max_attempts must be positive"}))
		return
	}

	job := &model.Job{
		ID:          "job_" + uuid.New().String(),
		Name:        req.Name,
		State:       model.JobStateQueued,
		Args:        json.RawMessage(args),
		MaxAttempts: maxAttempts,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.CreateJob(r.Context(), job); err != nil {
		respondError(w, reqID, http.StatusInternalServerError, model.NewInternalError(err.Error()))
		return
	}

	s.logger.Info("job enqueued", "id", job.ID, "job", job.Name)
	respondCreated(w, reqID, job)
}

// handleListJobs lists jobs, newest first.
// GET /api/v1/jobs?state=&name=&limit=&offset=
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	q := r.URL.Query()

	opts := model.DefaultListOptions()
	if state := q.Get("state"); state != "" {
		st, ok := model.ParseJobState(state)
		if !ok {
			respondError(w, reqID, http.StatusBadRequest,
				model.NewValidationError("invalid state filter",
					model.FieldError{Field: "state", Message: "unknown state " + state}))
			return
		}
		opts.State = string(st)
	}
	if name := q.Get("name"); name != "" {
		opts.Name = model.JobName(name)
	}
	for _, p := range []struct {
		key string
		dst *int
	}{{"limit", &opts.Limit}, {"offset", &opts.Offset}} {
		v := q.Get(p.key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			respondError(w, reqID, http.StatusBadRequest,
				model.NewValidationError("invalid pagination",
					model.FieldError{Field: p.key, Message: p.key + " must be an integer"}))
			return
		}
		*p.dst = n
	}
	opts.Clamp()

	jobs, total, err := s.store.ListJobs(r.Context(), opts)
	if err != nil {
		respondError(w, reqID, http.StatusInternalServerError, model.NewInternalError(err.Error()))
		return
	}

	respondList(w, reqID, jobs, &model.Pagination{
		Total:   total,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
		HasMore: opts.Offset+opts.Limit < total,
	})
}

// handleGetJob returns a job with its result or error text.
// GET /api/v1/jobs/{id}
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	job, err := s.store.GetJob(r.Context(), id)
	if err != nil {
		respondError(w, reqID, http.StatusInternalServerError, model.NewInternalError(err.Error()))
		return
	}
	if job == nil {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("job", id))
		return
	}
	respondOK(w, reqID, job)
}

// handleCancelJob cancels a job that has not been delivered yet.
// PUT /api/v1/jobs/{id}/cancel
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	job, err := s.store.CancelJob(r.Context(), id)
	switch {
	case errors.Is(err, store.ErrStateConflict):
		respondError(w, reqID, http.StatusConflict,
			model.NewConflictError("cannot cancel job in state "+string(job.State)))
		return
	case err != nil:
		respondError(w, reqID, http.StatusInternalServerError, model.NewInternalError(err.Error()))
		return
	case job == nil:
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("job", id))
		return
	}

	s.logger.Info("job cancelled", "id", job.ID, "job", job.Name)
	respondOK(w, reqID, map[string]any{"id": job.ID, "state": job.State})
}
