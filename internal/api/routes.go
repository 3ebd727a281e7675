package api

import (
	"net/http"

	chi "github.com/go-chi/chi/v5"

	"gatekeeper/internal/version"
)

func (s *Server) routes() {
	r := s.router
	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)

	r.Post("/webhooks/github", s.handleGitHubWebhook)

	r.Route("/jobs", func(r chi.Router) {
		r.Get("/", s.handleListJobs)
		r.Get("/stats", s.handleJobStats)
		r.Get("/{jobID}", s.handleGetJob)
		r.Post("/{jobID}/cancel", s.handleCancelJob)
	})

	r.Route("/repos/{owner}/{name}", func(r chi.Router) {
		r.Post("/scan", s.handleTriggerScan)
		r.Get("/files", s.handleListFiles)
		r.Get("/files/*", s.handleGetFile)
		r.Get("/hotspots", s.handleHotspots)
		r.Get("/metrics", s.handleMetrics)
		r.Get("/metrics/{metric}/trend", s.handleTrend)
		r.Post("/pulls/{number}/analyze", s.handleTriggerPR)
		r.Get("/pulls/{number}", s.handleGetPR)
		r.Post("/pulls/{number}/override", s.handleOverride)
		r.Get("/events", s.handleEvents)
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, map[string]interface{}{
		"name":    "gatekeeper",
		"version": version.Version,
		"endpoints": []string{
			"GET /health",
			"POST /webhooks/github",
			"GET /jobs",
			"GET /jobs/stats",
			"GET /jobs/{id}",
			"POST /jobs/{id}/cancel",
			"POST /repos/{owner}/{name}/scan",
			"GET /repos/{owner}/{name}/files",
			"GET /repos/{owner}/{name}/files/{path}",
			"GET /repos/{owner}/{name}/hotspots",
			"GET /repos/{owner}/{name}/metrics",
			"GET /repos/{owner}/{name}/metrics/{metric}/trend",
			"POST /repos/{owner}/{name}/pulls/{number}/analyze",
			"GET /repos/{owner}/{name}/pulls/{number}",
			"POST /repos/{owner}/{name}/pulls/{number}/override",
			"GET /repos/{owner}/{name}/events",
		},
	}, http.StatusOK)
}
