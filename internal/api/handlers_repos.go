package api

import (
	"net/http"
	"sort"

	chi "github.com/go-chi/chi/v5"

	"gatekeeper/internal/errors"
	"gatekeeper/internal/jobs"
	"gatekeeper/internal/store"
)

// ScanRequest is the body of a scan trigger.
type ScanRequest struct {
	Branch string `json:"branch,omitempty"`
	Force  bool   `json:"force,omitempty"`
}

func (s *Server) handleTriggerScan(w http.ResponseWriter, r *http.Request) {
	var req ScanRequest
	if err := decodeBody(w, r, &req); err != nil {
		WriteError(w, err)
		return
	}
	payload := jobs.ScanPayload{RepoID: repoID(r), Branch: req.Branch, Force: req.Force}
	if err := payload.Validate(); err != nil {
		WriteError(w, err)
		return
	}
	s.enqueue(w, r, jobs.JobFullScan, payload)
}

// FileSummary is one row of the file listing.
type FileSummary struct {
	Path            string  `json:"path"`
	Language        string  `json:"language"`
	Complexity      int     `json:"complexity"`
	Maintainability float64 `json:"maintainability"`
	Churn           int     `json:"churn"`
	Risk            int     `json:"risk"`
	Category        string  `json:"category"`
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	recs, err := s.store.ListFiles(r.Context(), repoID(r))
	if err != nil {
		WriteError(w, err)
		return
	}
	limit, err := intQuery(r, "limit", 0)
	if err != nil {
		WriteError(w, err)
		return
	}
	out := make([]FileSummary, 0, len(recs))
	for _, rec := range recs {
		fs := FileSummary{
			Path:     rec.Path,
			Language: string(rec.Language),
			Risk:     rec.Risk.Value,
			Category: string(rec.Risk.Category),
		}
		if rec.Report != nil {
			fs.Complexity = rec.Report.CyclomaticComplexity
			fs.Maintainability = rec.Report.MaintainabilityIndex
		}
		if rec.Churn != nil {
			fs.Churn = rec.Churn.CommitCountInWindow
		}
		out = append(out, fs)
	}
	if r.URL.Query().Get("sort") == "risk" {
		sort.SliceStable(out, func(i, j int) bool { return out[i].Risk > out[j].Risk })
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	WriteJSON(w, map[string]interface{}{"repoId": repoID(r), "files": out, "total": len(recs)}, http.StatusOK)
}

func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request) {
	path := chi.URLParam(r, "*")
	if path == "" {
		BadRequest(w, "file path is required")
		return
	}
	rec, err := s.store.GetFile(r.Context(), repoID(r), path)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, rec, http.StatusOK)
}

func (s *Server) handleHotspots(w http.ResponseWriter, r *http.Request) {
	hs, err := s.orch.Metrics().Hotspots(r.Context(), repoID(r))
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, map[string]interface{}{"repoId": repoID(r), "hotspots": hs}, http.StatusOK)
}

// handleMetrics returns the latest snapshot of every metric.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	id := repoID(r)
	latest := make(map[store.MetricType]*store.MetricsSnapshot, len(store.MetricTypes))
	for _, mt := range store.MetricTypes {
		snaps, err := s.store.ListMetrics(r.Context(), id, mt, 1)
		if err != nil {
			WriteError(w, err)
			return
		}
		if len(snaps) > 0 {
			snap := snaps[len(snaps)-1]
			latest[mt] = &snap
		}
	}
	WriteJSON(w, map[string]interface{}{"repoId": id, "metrics": latest}, http.StatusOK)
}

func (s *Server) handleTrend(w http.ResponseWriter, r *http.Request) {
	metric := store.MetricType(chi.URLParam(r, "metric"))
	known := false
	for _, mt := range store.MetricTypes {
		known = known || mt == metric
	}
	if !known {
		WriteError(w, errors.NewValidationError("unknown metric "+string(metric), nil).
			WithDetails(map[string]any{"metrics": store.MetricTypes}))
		return
	}
	n, err := intQuery(r, "n", 10)
	if err != nil {
		WriteError(w, err)
		return
	}
	trend, err := s.orch.Metrics().Trend(r.Context(), repoID(r), metric, n)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, trend, http.StatusOK)
}
