// Package jobs runs analysis work in the background through named queues
// backed either by a durable SQLite store or by an in-process map.
package jobs

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the current state of a job.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Job is one unit of queued work and its execution state.
type Job struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Status      JobStatus       `json:"status"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"maxAttempts"`
	Progress    int             `json:"progress"` // 0-100
	RunAt       time.Time       `json:"runAt"`
	CreatedAt   time.Time       `json:"createdAt"`
	StartedAt   *time.Time      `json:"startedAt,omitempty"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
	Error       string          `json:"error,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
}

// Handler executes jobs of one name. progress reports 0-100.
type Handler func(ctx context.Context, job *Job, progress func(int)) (any, error)

// NewJob creates a queued job with a JSON-encoded payload.
func NewJob(name string, payload any, maxAttempts int) (*Job, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = data
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	now := time.Now().UTC()
	return &Job{
		ID:          uuid.New().String(),
		Name:        name,
		Payload:     raw,
		Status:      JobQueued,
		MaxAttempts: maxAttempts,
		RunAt:       now,
		CreatedAt:   now,
	}, nil
}

// Decode unmarshals the payload into v.
func (j *Job) Decode(v any) error {
	if len(j.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(j.Payload, v)
}

// IsTerminal returns true if the job is in a terminal state.
func (j *Job) IsTerminal() bool {
	return j.Status == JobCompleted || j.Status == JobFailed || j.Status == JobCancelled
}

// CanCancel returns true if the job can be cancelled.
func (j *Job) CanCancel() bool {
	return j.Status == JobQueued || j.Status == JobRunning
}

// MarkStarted transitions the job to running and counts the attempt.
func (j *Job) MarkStarted() {
	now := time.Now().UTC()
	j.Status = JobRunning
	j.Attempts++
	j.StartedAt = &now
}

// MarkCompleted transitions the job to completed state with result.
func (j *Job) MarkCompleted(result any) error {
	now := time.Now().UTC()
	j.Status = JobCompleted
	j.Progress = 100
	j.CompletedAt = &now
	j.Error = ""

	if result != nil {
		data, err := json.Marshal(result)
		if err != nil {
			return err
		}
		j.Result = data
	}
	return nil
}

// MarkFailed transitions the job to failed state with error.
func (j *Job) MarkFailed(err error) {
	now := time.Now().UTC()
	j.Status = JobFailed
	j.CompletedAt = &now
	if err != nil {
		j.Error = err.Error()
	}
}

// MarkRetry puts the job back in the queue to run again at runAt.
func (j *Job) MarkRetry(err error, runAt time.Time) {
	j.Status = JobQueued
	j.RunAt = runAt.UTC()
	j.Progress = 0
	if err != nil {
		j.Error = err.Error()
	}
}

// MarkCancelled transitions the job to cancelled state.
func (j *Job) MarkCancelled() {
	now := time.Now().UTC()
	j.Status = JobCancelled
	j.CompletedAt = &now
}

// SetProgress updates the job's progress (0-100).
func (j *Job) SetProgress(progress int) {
	j.Progress = clampProgress(progress)
}

func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// Duration returns how long the job took (or has been running).
func (j *Job) Duration() time.Duration {
	if j.StartedAt == nil {
		return 0
	}
	endTime := time.Now().UTC()
	if j.CompletedAt != nil {
		endTime = *j.CompletedAt
	}
	return endTime.Sub(*j.StartedAt)
}

// JobSummary is a lightweight view of a job for listing.
type JobSummary struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Status      JobStatus  `json:"status"`
	Attempts    int        `json:"attempts"`
	Progress    int        `json:"progress"`
	CreatedAt   time.Time  `json:"createdAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// ToSummary creates a summary view of the job.
func (j *Job) ToSummary() JobSummary {
	return JobSummary{
		ID:          j.ID,
		Name:        j.Name,
		Status:      j.Status,
		Attempts:    j.Attempts,
		Progress:    j.Progress,
		CreatedAt:   j.CreatedAt,
		CompletedAt: j.CompletedAt,
		Error:       j.Error,
	}
}

func (j *Job) clone() *Job {
	c := *j
	return &c
}

// ListJobsOptions contains options for listing jobs.
type ListJobsOptions struct {
	Status []JobStatus
	Name   []string
	Limit  int
	Offset int
}

func (o ListJobsOptions) limit() int {
	switch {
	case o.Limit <= 0:
		return 20
	case o.Limit > 100:
		return 100
	default:
		return o.Limit
	}
}

// ListJobsResponse contains the result of listing jobs.
type ListJobsResponse struct {
	Jobs       []JobSummary `json:"jobs"`
	TotalCount int          `json:"totalCount"`
}

// Stats counts jobs by state.
type Stats struct {
	Backend   string `json:"backend"`
	Queued    int    `json:"queued"`
	Active    int    `json:"active"`
	Completed int    `json:"completed"`
	Failed    int    `json:"failed"`
	Cancelled int    `json:"cancelled"`
}

// Queue accepts jobs and dispatches them to the processor registered for
// their name. Jobs enqueued before their processor exists are held and
// dispatched once it registers.
type Queue interface {
	Backend() string
	Enqueue(ctx context.Context, name string, payload any) (*Job, error)
	RegisterProcessor(name string, h Handler)
	SetDefaultHandler(h Handler)
	GetJob(ctx context.Context, id string) (*Job, error)
	ListJobs(ctx context.Context, opts ListJobsOptions) (*ListJobsResponse, error)
	Cancel(ctx context.Context, id string) error
	Stats() Stats
	Close(ctx context.Context) error
}
