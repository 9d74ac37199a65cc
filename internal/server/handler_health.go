package server

import (
	"net/http"
	"runtime"
	"time"
)

type healthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	GoVersion string `json:"go_version"`
	Uptime    string `json:"uptime"`
	Scheduler string `json:"scheduler"`
	Store     string `json:"store"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	resp := healthResponse{
		Status:    "healthy",
		Version:   Version,
		GoVersion: runtime.Version(),
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Scheduler: "disabled",
		Store:     "ok",
	}
	if s.scheduler != nil {
		resp.Scheduler = "running"
	}
	if err := s.store.Ping(r.Context()); err != nil {
		resp.Status = "degraded"
		resp.Store = err.Error()
	}
	respondOK(w, reqID, resp)
}
