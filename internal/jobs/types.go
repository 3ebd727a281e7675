package jobs

import (
	"strings"

	"gatekeeper/internal/errors"
)

// Job names handled by the orchestrator.
const (
	JobFullScan   = "full-scan"
	JobPRAnalysis = "pr-analysis"
)

// ScanPayload requests a full scan of a repository.
type ScanPayload struct {
	RepoID string `json:"repoId"`
	Branch string `json:"branch,omitempty"`
	// Force re-analyzes files whose content hash is unchanged.
	Force bool `json:"force,omitempty"`
}

// Validate checks the payload.
func (p *ScanPayload) Validate() error {
	if strings.TrimSpace(p.RepoID) == "" {
		return errors.NewValidationError("repoId is required", nil)
	}
	return nil
}

// PRPayload requests the verdict pipeline for one pull request.
type PRPayload struct {
	RepoID   string `json:"repoId"`
	PRNumber int    `json:"prNumber"`
	HeadSHA  string `json:"headSha,omitempty"`
	Title    string `json:"title,omitempty"`
	TicketID string `json:"ticketId,omitempty"`
}

// Validate checks the payload.
func (p *PRPayload) Validate() error {
	if strings.TrimSpace(p.RepoID) == "" {
		return errors.NewValidationError("repoId is required", nil)
	}
	if p.PRNumber < 1 {
		return errors.NewValidationError("prNumber must be positive", nil)
	}
	return nil
}

// ParseScanPayload decodes and validates a full-scan job payload.
func ParseScanPayload(job *Job) (*ScanPayload, error) {
	var p ScanPayload
	if err := job.Decode(&p); err != nil {
		return nil, errors.NewValidationError("invalid full-scan payload", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// ParsePRPayload decodes and validates a pr-analysis job payload.
func ParsePRPayload(job *Job) (*PRPayload, error) {
	var p PRPayload
	if err := job.Decode(&p); err != nil {
		return nil, errors.NewValidationError("invalid pr-analysis payload", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}
