package api

import (
	"net/http"
	"time"

	"gatekeeper/internal/jobs"
	"gatekeeper/internal/version"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string      `json:"status"`
	Timestamp time.Time   `json:"timestamp"`
	Version   string      `json:"version"`
	Uptime    string      `json:"uptime"`
	Mode      string      `json:"mode"`
	Queue     *jobs.Stats `json:"queue,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Version:   version.Version,
		Uptime:    time.Since(s.started).Round(time.Second).String(),
		Mode:      s.cfg.Mode,
	}
	if s.queue != nil {
		st := s.queue.Stats()
		resp.Queue = &st
	}
	WriteJSON(w, resp, http.StatusOK)
}
