package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gatekeeper/internal/config"
	"gatekeeper/internal/errors"
	"gatekeeper/internal/slogutil"
)

// DurableOptions configures a DurableQueue.
type DurableOptions struct {
	Workers       int
	MaxAttempts   int
	BackoffBase   time.Duration
	BackoffMax    time.Duration
	JobTimeout    time.Duration
	PollInterval  time.Duration
	KeepCompleted int
	KeepFailed    int
	SweepInterval time.Duration
}

// DefaultDurableOptions returns the default queue configuration.
func DefaultDurableOptions() DurableOptions {
	return DurableOptions{
		Workers:       2,
		MaxAttempts:   3,
		BackoffBase:   time.Second,
		BackoffMax:    5 * time.Minute,
		JobTimeout:    10 * time.Minute,
		PollInterval:  500 * time.Millisecond,
		KeepCompleted: 100,
		KeepFailed:    500,
		SweepInterval: 5 * time.Minute,
	}
}

// DurableOptionsFromConfig maps queue configuration onto DurableOptions.
func DurableOptionsFromConfig(q config.QueueConfig) DurableOptions {
	o := DefaultDurableOptions()
	if q.Concurrency > 0 {
		o.Workers = q.Concurrency
	}
	if q.MaxAttempts > 0 {
		o.MaxAttempts = q.MaxAttempts
	}
	if q.BackoffBaseMs > 0 {
		o.BackoffBase = time.Duration(q.BackoffBaseMs) * time.Millisecond
	}
	if q.BackoffMaxMs > 0 {
		o.BackoffMax = time.Duration(q.BackoffMaxMs) * time.Millisecond
	}
	if q.JobTimeoutSec > 0 {
		o.JobTimeout = time.Duration(q.JobTimeoutSec) * time.Second
	}
	if q.PollIntervalMs > 0 {
		o.PollInterval = time.Duration(q.PollIntervalMs) * time.Millisecond
	}
	if q.KeepCompleted != 0 {
		o.KeepCompleted = q.KeepCompleted
	}
	if q.KeepFailed != 0 {
		o.KeepFailed = q.KeepFailed
	}
	if q.RetentionSweepSec > 0 {
		o.SweepInterval = time.Duration(q.RetentionSweepSec) * time.Second
	}
	return o
}

// Backoff returns the delay before the next attempt after attempt failed
// attempts: base doubled per attempt, capped at max.
func Backoff(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

// DurableQueue persists jobs in a Store and runs them on a pool of workers
// that poll for due jobs and wake early on enqueue or registration.
type DurableQueue struct {
	name   string
	store  *Store
	opts   DurableOptions
	logger *slog.Logger

	handlers       map[string]Handler
	defaultHandler Handler

	notify chan struct{}
	done   chan struct{}
	cancel map[string]context.CancelFunc

	mu      sync.RWMutex
	wg      sync.WaitGroup
	started bool
	closed  bool
}

// NewDurableQueue creates a queue over store. Call Start to run workers.
func NewDurableQueue(name string, store *Store, opts DurableOptions, logger *slog.Logger) *DurableQueue {
	def := DefaultDurableOptions()
	if opts.Workers <= 0 {
		opts.Workers = def.Workers
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = def.MaxAttempts
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = def.BackoffBase
	}
	if opts.BackoffMax <= 0 {
		opts.BackoffMax = def.BackoffMax
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = def.JobTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = def.PollInterval
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = def.SweepInterval
	}
	return &DurableQueue{
		name:     name,
		store:    store,
		opts:     opts,
		logger:   slogutil.OrDiscard(logger).With("queue", name),
		handlers: make(map[string]Handler),
		notify:   make(chan struct{}, opts.Workers),
		done:     make(chan struct{}),
		cancel:   make(map[string]context.CancelFunc),
	}
}

// Backend returns "durable".
func (q *DurableQueue) Backend() string { return "durable" }

// Start requeues jobs a previous process left running, then starts the
// workers and the retention sweeper.
func (q *DurableQueue) Start(ctx context.Context) error {
	q.mu.Lock()
	if q.started || q.closed {
		q.mu.Unlock()
		return nil
	}
	q.started = true
	q.mu.Unlock()

	recovered, err := q.store.RecoverRunning(ctx)
	if err != nil {
		return err
	}
	if recovered > 0 {
		q.logger.Info("recovered interrupted jobs", "count", recovered)
	}

	q.logger.Info("starting job queue",
		"workers", q.opts.Workers,
		"maxAttempts", q.opts.MaxAttempts,
		"timeout", q.opts.JobTimeout.String(),
	)
	for i := 0; i < q.opts.Workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}
	q.wg.Add(1)
	go q.sweepLoop()
	return nil
}

// RegisterProcessor registers the handler for jobs named name. Jobs of that
// name already waiting become eligible immediately.
func (q *DurableQueue) RegisterProcessor(name string, h Handler) {
	q.mu.Lock()
	q.handlers[name] = h
	q.mu.Unlock()
	q.logger.Debug("registered job processor", "name", name)
	q.wake()
}

// SetDefaultHandler handles jobs that have no named processor.
func (q *DurableQueue) SetDefaultHandler(h Handler) {
	q.mu.Lock()
	q.defaultHandler = h
	q.mu.Unlock()
	q.wake()
}

func (q *DurableQueue) wake() {
	for i := 0; i < cap(q.notify); i++ {
		select {
		case q.notify <- struct{}{}:
		default:
			return
		}
	}
}

// Enqueue persists a job and wakes a worker.
func (q *DurableQueue) Enqueue(ctx context.Context, name string, payload any) (*Job, error) {
	if name == "" {
		return nil, errors.NewValidationError("job name is required", nil)
	}
	q.mu.RLock()
	closed := q.closed
	q.mu.RUnlock()
	if closed {
		return nil, errors.NewJobExecutionError("queue "+q.name+" is closed", nil)
	}

	job, err := NewJob(name, payload, q.opts.MaxAttempts)
	if err != nil {
		return nil, errors.NewValidationError("payload is not serializable", err)
	}
	if err := q.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to persist job: %w", err)
	}
	q.logger.Debug("job queued", "jobId", job.ID, "name", name)
	q.wake()
	return job, nil
}

// GetJob retrieves a job by ID.
func (q *DurableQueue) GetJob(ctx context.Context, id string) (*Job, error) {
	return q.store.GetJob(ctx, id)
}

// ListJobs lists jobs with filters.
func (q *DurableQueue) ListJobs(ctx context.Context, opts ListJobsOptions) (*ListJobsResponse, error) {
	return q.store.ListJobs(ctx, opts)
}

// Cancel cancels a queued or running job.
func (q *DurableQueue) Cancel(ctx context.Context, id string) error {
	job, err := q.store.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if !job.CanCancel() {
		return errors.NewValidationError(fmt.Sprintf("job cannot be cancelled in state: %s", job.Status), nil)
	}

	from := job.Status
	job.MarkCancelled()
	ok, err := q.store.UpdateJob(ctx, job, from)
	if err != nil {
		return err
	}
	if !ok {
		return errors.NewValidationError("job changed state while cancelling", nil)
	}

	q.mu.Lock()
	if cancel, ok := q.cancel[id]; ok {
		cancel()
	}
	q.mu.Unlock()
	return nil
}

// Stats counts jobs by state.
func (q *DurableQueue) Stats() Stats {
	st := Stats{Backend: q.Backend()}
	counts, err := q.store.CountByStatus(context.Background())
	if err != nil {
		q.logger.Warn("failed to count jobs", "error", err.Error())
	}
	st.Queued = counts[JobQueued]
	st.Active = counts[JobRunning]
	st.Completed = counts[JobCompleted]
	st.Failed = counts[JobFailed]
	st.Cancelled = counts[JobCancelled]
	return st
}

// Close stops the workers, cancelling running jobs, and closes the store.
// Interrupted jobs are requeued on the next Start.
func (q *DurableQueue) Close(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.done)
	for id, cancel := range q.cancel {
		q.logger.Debug("cancelling running job", "jobId", id)
		cancel()
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.logger.Info("job queue stopped cleanly")
		return q.store.Close()
	case <-ctx.Done():
		return fmt.Errorf("job queue shutdown: %w", ctx.Err())
	}
}

// eligible returns the job names workers may claim; nil means any.
func (q *DurableQueue) eligible() []string {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.defaultHandler != nil {
		return nil
	}
	names := make([]string, 0, len(q.handlers))
	for n := range q.handlers {
		names = append(names, n)
	}
	return names
}

func (q *DurableQueue) handlerFor(name string) Handler {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if h, ok := q.handlers[name]; ok {
		return h
	}
	return q.defaultHandler
}

func (q *DurableQueue) worker(id int) {
	defer q.wg.Done()

	ticker := time.NewTicker(q.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-q.done:
			return
		default:
		}

		job, err := q.store.ClaimNext(context.Background(), q.eligible(), time.Now())
		if err != nil {
			q.logger.Warn("failed to claim job", "worker", id, "error", err.Error())
		}
		if job != nil {
			q.processJob(job)
			continue
		}

		select {
		case <-q.notify:
		case <-ticker.C:
		case <-q.done:
			return
		}
	}
}

func (q *DurableQueue) sweepLoop() {
	defer q.wg.Done()

	ticker := time.NewTicker(q.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			q.Sweep(context.Background())
		case <-q.done:
			return
		}
	}
}

// Sweep applies the retention limits.
func (q *DurableQueue) Sweep(ctx context.Context) {
	n, err := q.store.Prune(ctx, q.opts.KeepCompleted, q.opts.KeepFailed)
	if err != nil {
		q.logger.Warn("job retention sweep failed", "error", err.Error())
		return
	}
	if n > 0 {
		q.logger.Debug("pruned finished jobs", "count", n)
	}
}

type outcome struct {
	result any
	err    error
}

// processJob runs one claimed job. A job that outlives its timeout is
// marked failed and the worker moves on.
func (q *DurableQueue) processJob(job *Job) {
	handler := q.handlerFor(job.Name)
	if handler == nil {
		job.MarkRetry(nil, time.Now())
		job.Attempts--
		_, _ = q.store.UpdateJob(context.Background(), job, JobRunning)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), q.opts.JobTimeout)
	q.mu.Lock()
	q.cancel[job.ID] = cancel
	q.mu.Unlock()
	defer func() {
		q.mu.Lock()
		delete(q.cancel, job.ID)
		q.mu.Unlock()
		cancel()
	}()

	log := q.logger.With("jobId", job.ID, "name", job.Name, "attempt", job.Attempts)
	log.Info("processing job")

	progress := func(pct int) {
		if err := q.store.SetProgress(context.Background(), job.ID, pct); err != nil {
			log.Warn("failed to update job progress", "error", err.Error())
		}
	}

	startTime := time.Now()
	ch := make(chan outcome, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				ch <- outcome{err: fmt.Errorf("panic: %v", rec)}
			}
		}()
		res, err := handler(ctx, job.clone(), progress)
		ch <- outcome{result: res, err: err}
	}()

	var out outcome
	select {
	case out = <-ch:
	case <-ctx.Done():
		out = outcome{err: ctx.Err()}
	}
	duration := time.Since(startTime)

	switch {
	case out.err == nil:
		if err := job.MarkCompleted(out.result); err != nil {
			log.Error("failed to serialize job result", "error", err.Error())
			job.MarkFailed(err)
		} else {
			log.Info("job completed", "duration", duration.String())
		}

	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		job.MarkFailed(errors.New(errors.Timeout, fmt.Sprintf("job exceeded its timeout of %s", q.opts.JobTimeout), nil))
		log.Error("job timed out", "duration", duration.String())

	case ctx.Err() != nil:
		// Cancel already finished the row; Close leaves it for recovery.
		log.Info("job interrupted", "duration", duration.String())
		return

	case job.Attempts < job.MaxAttempts:
		delay := Backoff(job.Attempts, q.opts.BackoffBase, q.opts.BackoffMax)
		job.MarkRetry(out.err, time.Now().Add(delay))
		log.Warn("job failed, retrying",
			"error", out.err.Error(),
			"retryIn", delay.String(),
		)

	default:
		job.MarkFailed(out.err)
		log.Error("job failed",
			"error", out.err.Error(),
			"duration", duration.String(),
		)
	}

	if _, err := q.store.UpdateJob(context.Background(), job, JobRunning); err != nil {
		log.Error("failed to save job final state", "error", err.Error())
	}
}
