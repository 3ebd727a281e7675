package api

import (
	"net/http"

	"gatekeeper/internal/jobs"
)

// PRRequest is the body of a pull request analysis trigger.
type PRRequest struct {
	HeadSHA  string `json:"headSha,omitempty"`
	Title    string `json:"title,omitempty"`
	TicketID string `json:"ticketId,omitempty"`
}

// OverrideRequest is the body of an override.
type OverrideRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleTriggerPR(w http.ResponseWriter, r *http.Request) {
	n, err := prNumber(r)
	if err != nil {
		WriteError(w, err)
		return
	}
	var req PRRequest
	if err := decodeBody(w, r, &req); err != nil {
		WriteError(w, err)
		return
	}
	payload := jobs.PRPayload{RepoID: repoID(r), PRNumber: n, HeadSHA: req.HeadSHA, Title: req.Title, TicketID: req.TicketID}
	if err := payload.Validate(); err != nil {
		WriteError(w, err)
		return
	}
	s.enqueue(w, r, jobs.JobPRAnalysis, payload)
}

func (s *Server) handleGetPR(w http.ResponseWriter, r *http.Request) {
	n, err := prNumber(r)
	if err != nil {
		WriteError(w, err)
		return
	}
	rec, err := s.store.GetPullRequest(r.Context(), repoID(r), n)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, rec, http.StatusOK)
}

func (s *Server) handleOverride(w http.ResponseWriter, r *http.Request) {
	n, err := prNumber(r)
	if err != nil {
		WriteError(w, err)
		return
	}
	var req OverrideRequest
	if err := decodeBody(w, r, &req); err != nil {
		WriteError(w, err)
		return
	}
	rec, err := s.orch.Override(r.Context(), repoID(r), n, req.Reason)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, rec, http.StatusOK)
}
