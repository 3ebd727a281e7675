package orchestrator

import (
	"context"

	"gatekeeper/internal/events"
	"gatekeeper/internal/jobs"
)

// JobFailed is the payload of events.TypeJobFailed.
type JobFailed struct {
	JobID string `json:"jobId"`
	Name  string `json:"name"`
	Error string `json:"error"`
}

// RegisterHandlers registers the full-scan and pr-analysis processors on q.
func (o *Orchestrator) RegisterHandlers(q jobs.Queue) {
	q.RegisterProcessor(jobs.JobFullScan, o.handleFullScan)
	q.RegisterProcessor(jobs.JobPRAnalysis, o.handlePRAnalysis)
}

func (o *Orchestrator) handleFullScan(ctx context.Context, job *jobs.Job, progress func(int)) (any, error) {
	p, err := jobs.ParseScanPayload(job)
	if err != nil {
		return nil, err
	}
	sum, err := o.FullScan(ctx, ScanRequest{
		RepoID:   p.RepoID,
		Ref:      p.Branch,
		Force:    p.Force,
		JobID:    job.ID,
		Progress: progress,
	})
	if err != nil {
		o.jobFailed(p.RepoID, job, err)
		return nil, err
	}
	return sum, nil
}

func (o *Orchestrator) handlePRAnalysis(ctx context.Context, job *jobs.Job, progress func(int)) (any, error) {
	p, err := jobs.ParsePRPayload(job)
	if err != nil {
		return nil, err
	}
	rec, err := o.AnalyzePR(ctx, PRRequest{
		RepoID:   p.RepoID,
		PRNumber: p.PRNumber,
		HeadSHA:  p.HeadSHA,
		Title:    p.Title,
		TicketID: p.TicketID,
		JobID:    job.ID,
	})
	if err != nil {
		o.jobFailed(p.RepoID, job, err)
		return nil, err
	}
	progress(100)
	return rec, nil
}

func (o *Orchestrator) jobFailed(repoID string, job *jobs.Job, err error) {
	o.logger.Warn("analysis job failed",
		"job", job.ID,
		"name", job.Name,
		"repo", repoID,
		"attempt", job.Attempts,
		"error", err.Error(),
	)
	o.events.Publish(repoID, events.TypeJobFailed, JobFailed{JobID: job.ID, Name: job.Name, Error: err.Error()})
}
