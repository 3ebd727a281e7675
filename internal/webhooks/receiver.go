package webhooks

import (
	"context"
	"log/slog"
	"sync"

	"gatekeeper/internal/jobs"
	"gatekeeper/internal/slogutil"
)

// recentDeliveries bounds the redelivery memory.
const recentDeliveries = 1024

// Delivery is one inbound webhook request.
type Delivery struct {
	ID        string
	Event     string
	Signature string
	Body      []byte
}

// Receiver verifies deliveries and enqueues the jobs they map to. A
// redelivered ID is acknowledged without enqueuing again.
type Receiver struct {
	secret string
	queue  jobs.Queue
	logger *slog.Logger

	mu    sync.Mutex
	seen  map[string]*claim
	order []string
}

// claim is a delivery ID taken by the first request carrying it. ready is
// closed once jobID is known or the claim is released.
type claim struct {
	jobID    string
	released bool
	ready    chan struct{}
}

// NewReceiver returns a receiver that enqueues onto q.
func NewReceiver(secret string, q jobs.Queue, logger *slog.Logger) *Receiver {
	return &Receiver{
		secret: secret,
		queue:  q,
		logger: slogutil.OrDiscard(logger),
		seen:   make(map[string]*claim),
	}
}

// Receive handles one delivery. Signature failures return an Unauthorized
// error and never reach the queue; malformed payloads return a
// ValidationError.
func (r *Receiver) Receive(ctx context.Context, d Delivery) (*Receipt, error) {
	log := r.logger.With("delivery", d.ID, "event", d.Event)
	if err := Verify(r.secret, d.Body, d.Signature); err != nil {
		log.Warn("webhook rejected", "error", err.Error())
		return nil, err
	}

	cmd, err := Parse(d.Event, d.Body)
	if err != nil {
		log.Warn("webhook payload rejected", "error", err.Error())
		return nil, err
	}
	receipt := &Receipt{DeliveryID: d.ID, Event: cmd.Event, Accepted: true, Job: cmd.Job, Reason: cmd.Reason}
	if cmd.Job == "" {
		log.Debug("webhook acknowledged", "reason", cmd.Reason)
		return receipt, nil
	}

	c, owner, err := r.claim(ctx, d.ID)
	if err != nil {
		return nil, err
	}
	if !owner {
		receipt.Duplicate = true
		receipt.JobID = r.jobOf(c)
		log.Info("duplicate webhook delivery", "jobId", receipt.JobID)
		return receipt, nil
	}

	job, err := r.queue.Enqueue(ctx, cmd.Job, cmd.Payload)
	if job == nil {
		r.release(d.ID, c)
		return nil, err
	}
	r.settle(c, job.ID)
	receipt.JobID = job.ID
	if err != nil {
		// Synchronous queues report handler failures here; the job exists.
		log.Warn("webhook job failed", "jobId", job.ID, "error", err.Error())
	}
	log.Info("webhook enqueued job", "repo", cmd.RepoID, "job", cmd.Job, "jobId", receipt.JobID)
	return receipt, nil
}

// claim takes id for this request, reporting owner. When another request
// already holds id, claim waits until that request's job exists and returns
// its claim. A claim released by a failed enqueue can be taken again.
// Deliveries without an ID always get a fresh claim.
func (r *Receiver) claim(ctx context.Context, id string) (*claim, bool, error) {
	if id == "" {
		return &claim{ready: make(chan struct{})}, true, nil
	}
	for {
		r.mu.Lock()
		c, ok := r.seen[id]
		if !ok {
			c = &claim{ready: make(chan struct{})}
			r.seen[id] = c
			r.order = append(r.order, id)
			for len(r.order) > recentDeliveries {
				delete(r.seen, r.order[0])
				r.order = r.order[1:]
			}
			r.mu.Unlock()
			return c, true, nil
		}
		r.mu.Unlock()

		select {
		case <-c.ready:
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
		r.mu.Lock()
		released := c.released
		r.mu.Unlock()
		if !released {
			return c, false, nil
		}
	}
}

func (r *Receiver) settle(c *claim, jobID string) {
	r.mu.Lock()
	c.jobID = jobID
	r.mu.Unlock()
	close(c.ready)
}

func (r *Receiver) release(id string, c *claim) {
	r.mu.Lock()
	c.released = true
	if id != "" && r.seen[id] == c {
		delete(r.seen, id)
		for i, o := range r.order {
			if o == id {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
	}
	r.mu.Unlock()
	close(c.ready)
}

func (r *Receiver) jobOf(c *claim) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return c.jobID
}
