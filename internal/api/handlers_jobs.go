package api

import (
	"net/http"

	chi "github.com/go-chi/chi/v5"

	"gatekeeper/internal/errors"
	"gatekeeper/internal/jobs"
)

// JobAccepted is returned when a trigger enqueues a job.
type JobAccepted struct {
	Job   jobs.JobSummary `json:"job"`
	Error string          `json:"error,omitempty"`
}

// enqueue submits a job and reports it. Synchronous queues return handler
// failures alongside the job; the job is still reported.
func (s *Server) enqueue(w http.ResponseWriter, r *http.Request, name string, payload any) {
	job, err := s.queue.Enqueue(r.Context(), name, payload)
	if job == nil {
		WriteError(w, err)
		return
	}
	resp := JobAccepted{Job: job.ToSummary()}
	if err != nil {
		resp.Error = err.Error()
	}
	WriteJSON(w, resp, http.StatusAccepted)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit, err := intQuery(r, "limit", 20)
	if err != nil {
		WriteError(w, err)
		return
	}
	offset, err := intQuery(r, "offset", 0)
	if err != nil {
		WriteError(w, err)
		return
	}
	opts := jobs.ListJobsOptions{
		Name:   listQuery(r, "name"),
		Limit:  limit,
		Offset: offset,
	}
	for _, st := range listQuery(r, "status") {
		opts.Status = append(opts.Status, jobs.JobStatus(st))
	}
	resp, err := s.queue.ListJobs(r.Context(), opts)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, resp, http.StatusOK)
}

func (s *Server) handleJobStats(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, s.queue.Stats(), http.StatusOK)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.queue.GetJob(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, job, http.StatusOK)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")
	if err := s.queue.Cancel(r.Context(), id); err != nil {
		WriteError(w, err)
		return
	}
	job, err := s.queue.GetJob(r.Context(), id)
	if err != nil {
		WriteError(w, errors.New(errors.InternalError, "job cancelled but could not be reloaded", err))
		return
	}
	WriteJSON(w, job.ToSummary(), http.StatusOK)
}
