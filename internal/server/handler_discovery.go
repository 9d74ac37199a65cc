package server

import "net/http"

type endpointInfo struct {
	Path        string   `json:"path"`
	Methods     []string `json:"methods"`
	Description string   `json:"description"`
}

type discoveryResponse struct {
	Name        string         `json:"name"`
	Version     string         `json:"version"`
	Description string         `json:"description"`
	Endpoints   []endpointInfo `json:"endpoints"`
}

func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	endpoints := []endpointInfo{
		{"/api/v1/jobs", []string{"GET", "POST"}, "Enqueue workflow.compile, workflow.generate_report or neurovault.upload; list jobs"},
		{"/api/v1/jobs/{id}", []string{"GET"}, "Job state, result and error text"},
		{"/api/v1/jobs/{id}/cancel", []string{"PUT"}, "Cancel a job that has not started"},
		{"/api/v1/workers", []string{"GET", "POST"}, "Register and list workers"},
		{"/api/v1/workers/{id}", []string{"DELETE"}, "Deregister a worker"},
		{"/api/v1/workers/{id}/heartbeat", []string{"PUT"}, "Worker liveness; extends leases of running jobs"},
		{"/api/v1/workers/{id}/work", []string{"GET"}, "Check out the next queued job (204 when idle)"},
		{"/api/v1/workers/{id}/jobs/{jid}/complete", []string{"PUT"}, "Report a job outcome"},
		{"/api/v1/health", []string{"GET"}, "Server health and version"},
	}
	if s.serveArtifact {
		endpoints = append(endpoints,
			endpointInfo{"/analyses/{hash_id}_bundle.tar.gz", []string{"GET"}, "Compiled analysis bundles"},
			endpointInfo{"/reports/{hash_id}/{file}", []string{"GET"}, "Design matrix report files"},
		)
	}
	respondOK(w, reqID, discoveryResponse{
		Name:        "neuroscout API",
		Version:     "v1",
		Description: "neuroscout job queue: analysis bundles, design matrix reports and NeuroVault uploads",
		Endpoints:   endpoints,
	})
}
