package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/PeerHerholz/neuroscout/internal/store"
	"github.com/PeerHerholz/neuroscout/pkg/model"
)

// handleRegisterWorker creates a new worker record.
// POST /api/v1/workers
func (s *Server) handleRegisterWorker(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	var req struct {
		Name        string `json:"name"`
		Hostname    string `json:"hostname"`
		Concurrency int    `json:"concurrency"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, reqID, http.StatusBadRequest, &model.APIError{
			Code:    model.ErrValidation,
			Message: "invalid JSON body: " + err.Error(),
		})
		return
	}

	if req.Name == "" {
		respondError(w, reqID, http.StatusBadRequest,
			model.NewValidationError("missing required field",
				model.FieldError{Field: "name", Message: "name is required"}))
		return
	}
	if req.Concurrency <= 0 {
		req.Concurrency = 1
	}

	now := time.Now().UTC()
	worker := &model.Worker{
		ID:           "wrk_" + uuid.New().String(),
		Name:         req.Name,
		Hostname:     req.Hostname,
		State:        model.WorkerStateOnline,
		Concurrency:  req.Concurrency,
		LastSeen:     now,
		RegisteredAt: now,
	}

	if err := s.store.CreateWorker(r.Context(), worker); err != nil {
		respondError(w, reqID, http.StatusInternalServerError,
			model.NewInternalError(err.Error()))
		return
	}

	s.logger.Info("worker registered", "id", worker.ID, "name", worker.Name, "concurrency", worker.Concurrency)
	respondCreated(w, reqID, worker)
}

// handleWorkerHeartbeat updates a worker's last_seen timestamp and extends
// the leases of the jobs it is running.
// PUT /api/v1/workers/{id}/heartbeat
func (s *Server) handleWorkerHeartbeat(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	worker, err := s.store.GetWorker(r.Context(), id)
	if err != nil {
		respondError(w, reqID, http.StatusInternalServerError,
			model.NewInternalError(err.Error()))
		return
	}
	if worker == nil {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("worker", id))
		return
	}

	if err := s.store.TouchWorker(r.Context(), id, time.Now()); err != nil {
		respondError(w, reqID, http.StatusInternalServerError,
			model.NewInternalError(err.Error()))
		return
	}
	extended, err := s.store.ExtendLeases(r.Context(), id, s.config.LeaseTimeout)
	if err != nil {
		respondError(w, reqID, http.StatusInternalServerError,
			model.NewInternalError(err.Error()))
		return
	}

	respondOK(w, reqID, map[string]any{
		"worker_id":       worker.ID,
		"state":           model.WorkerStateOnline,
		"leases_extended": extended,
	})
}

// handleWorkerCheckout delivers the oldest QUEUED job to the worker.
// GET /api/v1/workers/{id}/work
// Returns 200 with job or 204 No Content if no work available.
func (s *Server) handleWorkerCheckout(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	worker, err := s.store.GetWorker(r.Context(), id)
	if err != nil {
		respondError(w, reqID, http.StatusInternalServerError,
			model.NewInternalError(err.Error()))
		return
	}
	if worker == nil {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("worker", id))
		return
	}

	job, err := s.store.CheckoutJob(r.Context(), id, s.config.LeaseTimeout)
	if err != nil {
		respondError(w, reqID, http.StatusInternalServerError,
			model.NewInternalError(err.Error()))
		return
	}

	if job == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	s.logger.Debug("job checked out", "worker_id", id, "job_id", job.ID, "job", job.Name, "attempt", job.Attempts)
	respondOK(w, reqID, job)
}

// handleWorkerJobComplete records the outcome a worker reports.
// PUT /api/v1/workers/{id}/jobs/{jid}/complete
func (s *Server) handleWorkerJobComplete(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	workerID := chi.URLParam(r, "id")
	jid := chi.URLParam(r, "jid")

	var req model.CompleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, reqID, http.StatusBadRequest, &model.APIError{
			Code:    model.ErrValidation,
			Message: "invalid JSON body: " + err.Error(),
		})
		return
	}
	if req.State != model.JobStateSuccess && req.State != model.JobStateFailed {
		respondError(w, reqID, http.StatusBadRequest,
			model.NewValidationError("invalid completion state",
				model.FieldError{Field: "state", Message: "state must be SUCCESS or FAILED"}))
		return
	}

	job, err := s.store.CompleteJob(r.Context(), jid, workerID, req)
	switch {
	case errors.Is(err, store.ErrNotOwner):
		s.logger.Warn("stale completion ignored", "job_id", jid, "worker_id", workerID, "state", job.State)
		respondError(w, reqID, http.StatusConflict,
			model.NewConflictError("job "+jid+" is not running on worker "+workerID))
		return
	case err != nil:
		respondError(w, reqID, http.StatusInternalServerError,
			model.NewInternalError(err.Error()))
		return
	case job == nil:
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("job", jid))
		return
	}

	s.logger.Info("job completed by worker",
		"job_id", job.ID,
		"job", job.Name,
		"worker_id", workerID,
		"state", job.State,
		"attempt", job.Attempts,
	)

	respondOK(w, reqID, map[string]any{"job_id": job.ID, "state": job.State})
}

// handleDeregisterWorker removes a worker record.
// DELETE /api/v1/workers/{id}
func (s *Server) handleDeregisterWorker(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	if err := s.store.DeleteWorker(r.Context(), id); err != nil {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("worker", id))
		return
	}

	s.logger.Info("worker deregistered", "id", id)
	respondOK(w, reqID, map[string]any{"id": id, "deleted": true})
}

// handleListWorkers returns all registered workers.
// GET /api/v1/workers
func (s *Server) handleListWorkers(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	workers, err := s.store.ListWorkers(r.Context())
	if err != nil {
		respondError(w, reqID, http.StatusInternalServerError,
			model.NewInternalError(err.Error()))
		return
	}

	respondOK(w, reqID, workers)
}
