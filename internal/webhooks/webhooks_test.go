package webhooks

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatekeeper/internal/errors"
	"gatekeeper/internal/jobs"
)

const secret = "s3cret"

const prOpened = `{
  "action": "opened",
  "number": 12,
  "pull_request": {"number": 12, "title": "PAY-3 faster invoices", "head": {"sha": "abc123", "ref": "feature"}},
  "repository": {"full_name": "acme/web", "default_branch": "main"}
}`

func pushTo(ref string) string {
	return `{"ref": "` + ref + `", "after": "def", "repository": {"full_name": "acme/web", "default_branch": "main"}}`
}

func TestSignAndVerify(t *testing.T) {
	body := []byte(`{"zen":"hi"}`)
	sig := Sign(secret, body)
	assert.Regexp(t, `^sha256=[0-9a-f]{64}$`, sig)

	tests := []struct {
		name   string
		secret string
		body   []byte
		sig    string
		ok     bool
	}{
		{"valid", secret, body, sig, true},
		{"tampered body", secret, []byte(`{"zen":"ho"}`), sig, false},
		{"wrong secret", "other", body, sig, false},
		{"missing header", secret, body, "", false},
		{"garbage", secret, body, "sha256=zz", false},
		{"no secret configured", "", body, sig, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Verify(tt.secret, tt.body, tt.sig)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.HasCode(err, errors.Unauthorized), "got %v", err)
		})
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		name   string
		event  string
		body   string
		job    string
		reason bool
		code   errors.ErrorCode
	}{
		{name: "ping", event: EventPing, body: `{"zen":"keep it simple","hook_id":1}`, reason: true},
		{name: "pull request opened", event: EventPullRequest, body: prOpened, job: jobs.JobPRAnalysis},
		{name: "pull request closed", event: EventPullRequest, body: `{"action":"closed","number":12,"pull_request":{"number":12},"repository":{"full_name":"acme/web"}}`, reason: true},
		{name: "pull request without repo", event: EventPullRequest, body: `{"action":"opened","number":12}`, code: errors.Validation},
		{name: "push to default branch", event: EventPush, body: pushTo("refs/heads/main"), job: jobs.JobFullScan},
		{name: "push to feature branch", event: EventPush, body: pushTo("refs/heads/feature"), reason: true},
		{name: "tag push", event: EventPush, body: pushTo("refs/tags/v1"), reason: true},
		{name: "unhandled event", event: "issues", body: `{}`, reason: true},
		{name: "malformed", event: EventPush, body: `{"ref":`, code: errors.Validation},
		{name: "missing event", event: "", body: `{}`, code: errors.Validation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, err := Parse(tt.event, []byte(tt.body))
			if tt.code != "" {
				assert.True(t, errors.HasCode(err, tt.code), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.job, cmd.Job)
			assert.Equal(t, tt.reason, cmd.Reason != "")
		})
	}
}

func TestParsePayloads(t *testing.T) {
	cmd, err := Parse(EventPullRequest, []byte(prOpened))
	require.NoError(t, err)
	assert.Equal(t, jobs.PRPayload{RepoID: "acme/web", PRNumber: 12, HeadSHA: "abc123", Title: "PAY-3 faster invoices"}, cmd.Payload)

	cmd, err = Parse(EventPush, []byte(pushTo("refs/heads/main")))
	require.NoError(t, err)
	assert.Equal(t, jobs.ScanPayload{RepoID: "acme/web", Branch: "main"}, cmd.Payload)
}

func TestReceiver(t *testing.T) {
	ctx := context.Background()
	q := jobs.NewEphemeralQueue("analysis", nil)
	defer q.Close(ctx)
	r := NewReceiver(secret, q, nil)

	t.Run("bad signature enqueues nothing", func(t *testing.T) {
		body := []byte(prOpened)
		_, err := r.Receive(ctx, Delivery{ID: "d0", Event: EventPullRequest, Signature: Sign("wrong", body), Body: body})
		assert.True(t, errors.HasCode(err, errors.Unauthorized))
		assert.Zero(t, q.Stats().Queued)
	})

	t.Run("pull request is enqueued once", func(t *testing.T) {
		body := []byte(prOpened)
		d := Delivery{ID: "d1", Event: EventPullRequest, Signature: Sign(secret, body), Body: body}
		rec, err := r.Receive(ctx, d)
		require.NoError(t, err)
		assert.True(t, rec.Accepted)
		assert.Equal(t, jobs.JobPRAnalysis, rec.Job)
		require.NotEmpty(t, rec.JobID)

		job, err := q.GetJob(ctx, rec.JobID)
		require.NoError(t, err)
		p, err := jobs.ParsePRPayload(job)
		require.NoError(t, err)
		assert.Equal(t, 12, p.PRNumber)

		again, err := r.Receive(ctx, d)
		require.NoError(t, err)
		assert.True(t, again.Duplicate)
		assert.Equal(t, rec.JobID, again.JobID)
		assert.Equal(t, 1, q.Stats().Queued)
	})

	t.Run("ping is acknowledged", func(t *testing.T) {
		body := []byte(`{"zen":"hi"}`)
		rec, err := r.Receive(ctx, Delivery{ID: "d2", Event: EventPing, Signature: Sign(secret, body), Body: body})
		require.NoError(t, err)
		assert.Empty(t, rec.JobID)
		assert.Equal(t, 1, q.Stats().Queued)
	})

	t.Run("malformed payload", func(t *testing.T) {
		body := []byte(`not json`)
		_, err := r.Receive(ctx, Delivery{ID: "d3", Event: EventPush, Signature: Sign(secret, body), Body: body})
		assert.True(t, errors.HasCode(err, errors.Validation))
	})
}

func TestClaimsAreBounded(t *testing.T) {
	ctx := context.Background()
	r := NewReceiver(secret, nil, nil)
	for i := 0; i < recentDeliveries+10; i++ {
		c, owner, err := r.claim(ctx, fmt.Sprintf("delivery-%d", i))
		require.NoError(t, err)
		require.True(t, owner)
		r.settle(c, "job")
	}
	assert.Len(t, r.seen, recentDeliveries)
	assert.Len(t, r.order, recentDeliveries)
}

func TestConcurrentRedeliveryEnqueuesOnce(t *testing.T) {
	ctx := context.Background()
	q := jobs.NewEphemeralQueue("analysis", nil)
	defer q.Close(ctx)
	r := NewReceiver(secret, q, nil)

	body := []byte(prOpened)
	d := Delivery{ID: "same", Event: EventPullRequest, Signature: Sign(secret, body), Body: body}

	const n = 8
	receipts := make([]*Receipt, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec, err := r.Receive(ctx, d)
			assert.NoError(t, err)
			receipts[i] = rec
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, q.Stats().Queued)
	originals := 0
	for _, rec := range receipts {
		require.NotNil(t, rec)
		assert.Equal(t, receipts[0].JobID, rec.JobID)
		if !rec.Duplicate {
			originals++
		}
	}
	assert.Equal(t, 1, originals)
}

// failingQueue rejects its first enqueues.
type failingQueue struct {
	jobs.Queue
	failures int
}

func (f *failingQueue) Enqueue(ctx context.Context, name string, payload any) (*jobs.Job, error) {
	if f.failures > 0 {
		f.failures--
		return nil, errors.NewJobExecutionError("queue unavailable", nil)
	}
	return f.Queue.Enqueue(ctx, name, payload)
}

func TestFailedEnqueueReleasesDelivery(t *testing.T) {
	ctx := context.Background()
	inner := jobs.NewEphemeralQueue("analysis", nil)
	defer inner.Close(ctx)
	r := NewReceiver(secret, &failingQueue{Queue: inner, failures: 1}, nil)

	body := []byte(prOpened)
	d := Delivery{ID: "retry-me", Event: EventPullRequest, Signature: Sign(secret, body), Body: body}
	_, err := r.Receive(ctx, d)
	require.Error(t, err)

	rec, err := r.Receive(ctx, d)
	require.NoError(t, err)
	assert.False(t, rec.Duplicate)
	assert.NotEmpty(t, rec.JobID)
	assert.Equal(t, 1, inner.Stats().Queued)
}
