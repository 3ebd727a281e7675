package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"gatekeeper/internal/errors"
	"gatekeeper/internal/slogutil"
)

// maxEphemeralHistory bounds the finished jobs kept for lookup.
const maxEphemeralHistory = 1000

// EphemeralQueue runs jobs synchronously on the caller's goroutine without
// retries. Handler failures are returned from Enqueue as
// JOB_EXECUTION_ERRORs. Jobs enqueued before their processor registers are
// held and run exactly once when it does.
//
// Jobs run one at a time in enqueue order: each runnable job takes a ticket
// and waits for its turn, so concurrent callers block until the jobs ahead
// of theirs finish.
type EphemeralQueue struct {
	name   string
	logger *slog.Logger

	mu             sync.Mutex
	turn           *sync.Cond
	nextTicket     uint64
	serving        uint64
	handlers       map[string]Handler
	defaultHandler Handler
	jobs           map[string]*Job
	finished       []string
	pending        []*Job
	active         int
	closed         bool
}

// NewEphemeralQueue creates an in-memory queue.
func NewEphemeralQueue(name string, logger *slog.Logger) *EphemeralQueue {
	q := &EphemeralQueue{
		name:     name,
		logger:   slogutil.OrDiscard(logger).With("queue", name),
		handlers: make(map[string]Handler),
		jobs:     make(map[string]*Job),
	}
	q.turn = sync.NewCond(&q.mu)
	return q
}

// Backend returns "ephemeral".
func (q *EphemeralQueue) Backend() string { return "ephemeral" }

// Enqueue runs the job now when a handler exists, otherwise holds it.
func (q *EphemeralQueue) Enqueue(ctx context.Context, name string, payload any) (*Job, error) {
	if name == "" {
		return nil, errors.NewValidationError("job name is required", nil)
	}
	job, err := NewJob(name, payload, 1)
	if err != nil {
		return nil, errors.NewValidationError("payload is not serializable", err)
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, errors.NewJobExecutionError("queue "+q.name+" is closed", nil)
	}
	q.jobs[job.ID] = job
	h := q.handlerLocked(name)
	if h == nil {
		q.pending = append(q.pending, job)
		q.mu.Unlock()
		q.logger.Debug("job held until a processor registers", "jobId", job.ID, "name", name)
		return job.clone(), nil
	}
	ticket := q.takeTicketsLocked(1)
	q.mu.Unlock()

	err = q.run(ctx, job, h, ticket)
	return q.snapshot(job), err
}

// takeTicketsLocked reserves n consecutive places in the run order and
// returns the first.
func (q *EphemeralQueue) takeTicketsLocked(n int) uint64 {
	first := q.nextTicket
	q.nextTicket += uint64(n)
	return first
}

func (q *EphemeralQueue) handlerLocked(name string) Handler {
	if h, ok := q.handlers[name]; ok {
		return h
	}
	return q.defaultHandler
}

func (q *EphemeralQueue) snapshot(job *Job) *Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	return job.clone()
}

// run waits for ticket to come up, then executes job on the calling
// goroutine. A job cancelled while waiting is skipped.
func (q *EphemeralQueue) run(ctx context.Context, job *Job, h Handler, ticket uint64) (err error) {
	q.mu.Lock()
	for q.serving != ticket {
		q.turn.Wait()
	}
	if job.Status == JobCancelled {
		q.advanceLocked()
		q.mu.Unlock()
		return errors.NewJobExecutionError(fmt.Sprintf("job %s (%s) was cancelled", job.ID, job.Name), nil)
	}
	job.MarkStarted()
	q.active++
	q.mu.Unlock()

	log := q.logger.With("jobId", job.ID, "name", job.Name)
	progress := func(pct int) {
		q.mu.Lock()
		job.SetProgress(pct)
		q.mu.Unlock()
	}

	var result any
	func() {
		defer func() {
			if rec := recover(); rec != nil {
				err = fmt.Errorf("panic: %v", rec)
			}
		}()
		result, err = h(ctx, job.clone(), progress)
	}()

	q.mu.Lock()
	defer q.mu.Unlock()
	defer q.advanceLocked()
	q.active--
	if err == nil {
		err = job.MarkCompleted(result)
	}
	if err != nil {
		job.MarkFailed(err)
		log.Warn("job failed", "error", err.Error())
		err = errors.NewJobExecutionError(fmt.Sprintf("job %s (%s) failed", job.ID, job.Name), err)
	} else {
		log.Debug("job completed")
	}
	q.finishLocked(job.ID)
	return err
}

func (q *EphemeralQueue) advanceLocked() {
	q.serving++
	q.turn.Broadcast()
}

func (q *EphemeralQueue) finishLocked(id string) {
	q.finished = append(q.finished, id)
	for len(q.finished) > maxEphemeralHistory {
		delete(q.jobs, q.finished[0])
		q.finished = q.finished[1:]
	}
}

// RegisterProcessor registers the handler for name and runs any held jobs
// of that name.
func (q *EphemeralQueue) RegisterProcessor(name string, h Handler) {
	q.mu.Lock()
	q.handlers[name] = h
	held := q.takePendingLocked(func(j *Job) bool { return j.Name == name })
	first := q.takeTicketsLocked(len(held))
	q.mu.Unlock()
	q.drain(held, h, first)
}

// SetDefaultHandler handles jobs with no named processor, including any
// held jobs.
func (q *EphemeralQueue) SetDefaultHandler(h Handler) {
	q.mu.Lock()
	q.defaultHandler = h
	held := q.takePendingLocked(func(*Job) bool { return true })
	first := q.takeTicketsLocked(len(held))
	q.mu.Unlock()
	q.drain(held, h, first)
}

func (q *EphemeralQueue) takePendingLocked(match func(*Job) bool) []*Job {
	var taken, kept []*Job
	for _, j := range q.pending {
		if match(j) {
			taken = append(taken, j)
		} else {
			kept = append(kept, j)
		}
	}
	q.pending = kept
	return taken
}

func (q *EphemeralQueue) drain(held []*Job, h Handler, first uint64) {
	if len(held) > 0 {
		q.logger.Info("dispatching held jobs", "count", len(held))
	}
	for i, job := range held {
		// Errors are recorded on the job.
		_ = q.run(context.Background(), job, h, first+uint64(i))
	}
}

// GetJob retrieves a job by ID.
func (q *EphemeralQueue) GetJob(_ context.Context, id string) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[id]
	if !ok {
		return nil, errors.New(errors.NotFound, "job not found: "+id, nil)
	}
	return job.clone(), nil
}

// ListJobs lists jobs with filters, newest first.
func (q *EphemeralQueue) ListJobs(_ context.Context, opts ListJobsOptions) (*ListJobsResponse, error) {
	q.mu.Lock()
	all := make([]*Job, 0, len(q.jobs))
	for _, j := range q.jobs {
		if matches(j, opts) {
			all = append(all, j.clone())
		}
	}
	q.mu.Unlock()

	sort.SliceStable(all, func(a, b int) bool { return all[a].CreatedAt.After(all[b].CreatedAt) })

	resp := &ListJobsResponse{Jobs: make([]JobSummary, 0), TotalCount: len(all)}
	start := opts.Offset
	if start > len(all) {
		start = len(all)
	}
	end := start + opts.limit()
	if end > len(all) {
		end = len(all)
	}
	for _, j := range all[start:end] {
		resp.Jobs = append(resp.Jobs, j.ToSummary())
	}
	return resp, nil
}

func matches(j *Job, opts ListJobsOptions) bool {
	if len(opts.Status) > 0 && !contains(opts.Status, j.Status) {
		return false
	}
	if len(opts.Name) > 0 && !contains(opts.Name, j.Name) {
		return false
	}
	return true
}

func contains[T comparable](xs []T, v T) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

// Cancel cancels a job that has not started: one held for a processor or
// one waiting for its turn. Running jobs belong to their caller and cannot
// be cancelled.
func (q *EphemeralQueue) Cancel(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[id]
	if !ok {
		return errors.New(errors.NotFound, "job not found: "+id, nil)
	}
	if job.Status != JobQueued {
		return errors.NewValidationError(fmt.Sprintf("job cannot be cancelled in state: %s", job.Status), nil)
	}
	q.takePendingLocked(func(j *Job) bool { return j.ID == id })
	job.MarkCancelled()
	q.finishLocked(id)
	return nil
}

// Stats counts jobs by state.
func (q *EphemeralQueue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	st := Stats{Backend: q.Backend(), Active: q.active}
	for _, j := range q.jobs {
		switch j.Status {
		case JobQueued:
			st.Queued++
		case JobCompleted:
			st.Completed++
		case JobFailed:
			st.Failed++
		case JobCancelled:
			st.Cancelled++
		}
	}
	return st
}

// Close rejects further jobs. Held jobs are cancelled.
func (q *EphemeralQueue) Close(context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) > 0 {
		q.logger.Warn("cancelling held jobs", "count", len(q.pending))
	}
	for _, job := range q.pending {
		job.MarkCancelled()
		q.finishLocked(job.ID)
	}
	q.closed = true
	q.pending = nil
	return nil
}
