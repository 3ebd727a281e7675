package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatekeeper/internal/churn"
	"gatekeeper/internal/config"
	"gatekeeper/internal/errors"
	"gatekeeper/internal/events"
	"gatekeeper/internal/jobs"
	"gatekeeper/internal/pipeline"
	"gatekeeper/internal/risk"
	"gatekeeper/internal/scm"
	"gatekeeper/internal/store"
)

const repoID = "acme/web"

type fakeProvider struct {
	mu       sync.Mutex
	pr       scm.PullRequest
	changed  []scm.ChangedFile
	files    map[string]string
	prErr    error
	listErr  error
	readErr  error
	statuses []pipeline.Status
	reviews  []string
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) ListRepositoryTree(context.Context, string) ([]scm.TreeEntry, error) {
	var out []scm.TreeEntry
	for p, c := range f.files {
		out = append(out, scm.TreeEntry{Path: p, Size: int64(len(c))})
	}
	return out, nil
}

func (f *fakeProvider) GetPullRequest(_ context.Context, n int) (*scm.PullRequest, error) {
	if f.prErr != nil {
		return nil, f.prErr
	}
	pr := f.pr
	pr.Number = n
	return &pr, nil
}

func (f *fakeProvider) ListChangedFiles(context.Context, int) ([]scm.ChangedFile, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.changed, nil
}

func (f *fakeProvider) GetFileContent(_ context.Context, path, _ string) ([]byte, error) {
	if f.readErr != nil {
		return nil, f.readErr
	}
	c, ok := f.files[path]
	if !ok {
		return nil, errors.New(errors.NotFound, path+" not found", nil)
	}
	return []byte(c), nil
}

func (f *fakeProvider) PostCommitStatus(_ context.Context, _ string, v pipeline.Status, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, v)
	return nil
}

func (f *fakeProvider) PostReviewComment(_ context.Context, _ int, _, event string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reviews = append(f.reviews, event)
	return nil
}

type fakeChurn struct {
	records map[string]churn.Record
}

func (c *fakeChurn) AllFilesRecords(context.Context, int) map[string]churn.Record {
	out := make(map[string]churn.Record, len(c.records))
	for k, v := range c.records {
		out[k] = v
	}
	return out
}

type harness struct {
	orch     *Orchestrator
	store    *store.MemoryStore
	provider *fakeProvider
	churn    *fakeChurn
	bus      *events.Bus
	// churnRoots lists the working copies churn was mined from.
	churnRoots []string
}

func newHarness(t *testing.T, mutate func(*config.Config)) *harness {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Analysis.Workers = 2
	cfg.Analysis.ProgressEvery = 1
	if mutate != nil {
		mutate(cfg)
	}
	h := &harness{
		store:    store.NewMemoryStore(10),
		provider: &fakeProvider{files: map[string]string{}},
		churn:    &fakeChurn{records: map[string]churn.Record{}},
		bus:      events.NewBus(256, nil),
	}
	h.orch = New(cfg, Deps{
		Store:     h.store,
		Providers: func(string) (scm.Provider, error) { return h.provider, nil },
		Events:    h.bus,
		Churn: func(root string) ChurnSource {
			h.churnRoots = append(h.churnRoots, root)
			return h.churn
		},
	}, nil)
	return h
}

func writeFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
}

func drain(sub *events.Subscription) []events.Event {
	var out []events.Event
	for {
		select {
		case ev := <-sub.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestFullScanFromDisk(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, func(c *config.Config) { c.Analysis.MaxFileBytes = 400 })
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"src/app.js":          "import { helper } from './util'\nexport function run(a, b) {\n  if (a) {\n    if (b) {\n      return helper()\n    }\n  }\n}\n",
		"src/util.js":         "export function helper() {\n  return 1\n}\n",
		"tools/gen.py":        "def gen(x):\n    if x:\n        return 1\n    return 0\n",
		"node_modules/dep.js": "module.exports = 1\n",
		"README.md":           "# web\n",
		"src/big.js":          strings.Repeat("// padding line\n", 40),
	})
	h.churn.records["src/app.js"] = churn.Record{FileID: "src/app.js", CommitCountInWindow: 12, WindowDays: 90, PrimaryAuthor: "dev"}

	sub := h.bus.Subscribe(repoID)
	defer sub.Close()

	sum, err := h.orch.FullScan(ctx, ScanRequest{RepoID: repoID, Root: root, JobID: "job-1"})
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Files)
	assert.Equal(t, 3, sum.Analyzed)
	assert.Zero(t, sum.Failed)
	require.NotNil(t, sum.Metrics)

	recs, err := h.store.ListFiles(ctx, repoID)
	require.NoError(t, err)
	paths := make([]string, len(recs))
	for i, r := range recs {
		paths[i] = r.Path
	}
	assert.ElementsMatch(t, []string{"src/app.js", "src/util.js", "tools/gen.py"}, paths)

	app, err := h.store.GetFile(ctx, repoID, "src/app.js")
	require.NoError(t, err)
	assert.Equal(t, 12, app.Churn.CommitCountInWindow)
	assert.GreaterOrEqual(t, app.Report.CyclomaticComplexity, 3)
	assert.Equal(t, risk.New("src/app.js", app.Report.CyclomaticComplexity, 12), app.Risk)
	assert.NotEmpty(t, app.ContentHash)

	evs := drain(sub)
	require.NotEmpty(t, evs)
	progress := 0
	for _, ev := range evs {
		if ev.Type == events.TypeScanProgress {
			progress++
		}
	}
	assert.Equal(t, 3, progress)
	last := evs[len(evs)-1]
	require.Equal(t, events.TypeScanCompleted, last.Type)
	done := last.Data.(events.ScanCompleted)
	assert.Equal(t, "job-1", done.JobID)
	assert.Equal(t, 3, done.Analyzed)
}

func TestFullScanSkipsUnchanged(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"a.js": "function a(x) {\n  return x ? 1 : 2\n}\n",
		"b.js": "function b() {\n  return 2\n}\n",
	})

	_, err := h.orch.FullScan(ctx, ScanRequest{RepoID: repoID, Root: root})
	require.NoError(t, err)

	t.Run("unchanged files are skipped", func(t *testing.T) {
		sum, err := h.orch.FullScan(ctx, ScanRequest{RepoID: repoID, Root: root})
		require.NoError(t, err)
		assert.Zero(t, sum.Analyzed)
		assert.Equal(t, 2, sum.Skipped)
	})

	t.Run("force re-analyzes", func(t *testing.T) {
		sum, err := h.orch.FullScan(ctx, ScanRequest{RepoID: repoID, Root: root, Force: true})
		require.NoError(t, err)
		assert.Equal(t, 2, sum.Analyzed)
	})

	t.Run("churn change recomputes risk", func(t *testing.T) {
		h.churn.records["a.js"] = churn.Record{FileID: "a.js", CommitCountInWindow: 99, WindowDays: 90}
		sum, err := h.orch.FullScan(ctx, ScanRequest{RepoID: repoID, Root: root})
		require.NoError(t, err)
		assert.Equal(t, 1, sum.Analyzed)
		assert.Equal(t, 1, sum.Skipped)

		rec, err := h.store.GetFile(ctx, repoID, "a.js")
		require.NoError(t, err)
		assert.Equal(t, 99, rec.Churn.CommitCountInWindow)
		assert.Equal(t, risk.New("a.js", rec.Report.CyclomaticComplexity, 99), rec.Risk)
	})

	t.Run("content change is recorded in history", func(t *testing.T) {
		writeFiles(t, root, map[string]string{"b.js": "function b(x) {\n  if (x) { return 1 }\n  return 2\n}\n"})
		sum, err := h.orch.FullScan(ctx, ScanRequest{RepoID: repoID, Root: root})
		require.NoError(t, err)
		assert.Equal(t, 1, sum.Analyzed)

		rec, err := h.store.GetFile(ctx, repoID, "b.js")
		require.NoError(t, err)
		assert.NotEmpty(t, rec.History)
	})

	t.Run("deleted files are removed", func(t *testing.T) {
		require.NoError(t, os.Remove(filepath.Join(root, "a.js")))
		sum, err := h.orch.FullScan(ctx, ScanRequest{RepoID: repoID, Root: root})
		require.NoError(t, err)
		assert.Equal(t, 1, sum.Removed)
		_, err = h.store.GetFile(ctx, repoID, "a.js")
		assert.True(t, errors.HasCode(err, errors.NotFound))
	})
}

func TestFullScanFromProviderTree(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	h.provider.files = map[string]string{
		"lib/x.ts":      "export const x = (a: number) => a > 1 ? a : 0\n",
		"vendor/y.js":   "var y = 1\n",
		"docs/notes.md": "notes\n",
	}
	sum, err := h.orch.FullScan(ctx, ScanRequest{RepoID: repoID, Ref: "main"})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Files)
	assert.Equal(t, 1, sum.Analyzed)

	rec, err := h.store.GetFile(ctx, repoID, "lib/x.ts")
	require.NoError(t, err)
	assert.Zero(t, rec.Churn.CommitCountInWindow)
	assert.Empty(t, h.churnRoots, "no clone of the repository, so no local history")
}

func TestFullScanValidation(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.orch.FullScan(context.Background(), ScanRequest{})
	assert.True(t, errors.HasCode(err, errors.Validation))
}

func prHarness(t *testing.T) *harness {
	h := newHarness(t, nil)
	h.provider.pr = scm.PullRequest{Title: "WEB-42 run user scripts", Body: "Touches src/run.js", HeadSHA: "abc123"}
	h.provider.files = map[string]string{
		"src/run.js":   "function run(code) {\n  return eval(code)\n}\n",
		"src/clean.js": "function clean() {\n  return 1\n}\n",
	}
	h.provider.changed = []scm.ChangedFile{
		{Path: "src/run.js", Status: scm.StatusAdded, Patch: "@@ -0,0 +1,3 @@\n+function run(code) {\n+  return eval(code)\n+}\n"},
		{Path: "src/clean.js", Status: scm.StatusModified, Patch: "@@ -1 +1 @@\n+  return 1\n"},
		{Path: "src/gone.js", Status: scm.StatusModified},
		{Path: "src/old.js", Status: scm.StatusRemoved},
	}
	return h
}

func TestAnalyzePR(t *testing.T) {
	ctx := context.Background()
	h := prHarness(t)
	sub := h.bus.Subscribe(repoID)
	defer sub.Close()

	rec, err := h.orch.AnalyzePR(ctx, PRRequest{RepoID: repoID, PRNumber: 7})
	require.NoError(t, err)
	assert.Equal(t, pipeline.StatusBlock, rec.Status)
	assert.Equal(t, "abc123", rec.HeadSHA)
	assert.Equal(t, "WEB-42 run user scripts", rec.Title)
	require.NotEmpty(t, rec.BlockReasons)

	var security bool
	for _, f := range rec.Findings {
		if f.Layer == pipeline.LayerSecurity && f.Path == "src/run.js" {
			security = true
			assert.Equal(t, pipeline.SeverityHigh, f.Severity)
		}
	}
	assert.True(t, security)

	stored, err := h.store.GetPullRequest(ctx, repoID, 7)
	require.NoError(t, err)
	assert.Equal(t, rec.Status, stored.Status)

	assert.Equal(t, []pipeline.Status{pipeline.StatusBlock}, h.provider.statuses)
	assert.Equal(t, []string{"REQUEST_CHANGES"}, h.provider.reviews)

	evs := drain(sub)
	require.NotEmpty(t, evs)
	last := evs[len(evs)-1]
	require.Equal(t, events.TypePRCompleted, last.Type)
	assert.Equal(t, "BLOCK", last.Data.(events.PRCompleted).Status)
}

func TestAnalyzePRIsIdempotent(t *testing.T) {
	ctx := context.Background()
	h := prHarness(t)

	first, err := h.orch.AnalyzePR(ctx, PRRequest{RepoID: repoID, PRNumber: 7})
	require.NoError(t, err)
	second, err := h.orch.AnalyzePR(ctx, PRRequest{RepoID: repoID, PRNumber: 7})
	require.NoError(t, err)

	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.BlockReasons, second.BlockReasons)
	assert.Equal(t, first.RiskScore, second.RiskScore)
	assert.Equal(t, first.HealthScore, second.HealthScore)

	all, err := h.store.ListPullRequests(ctx, repoID, time.Time{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestOverride(t *testing.T) {
	ctx := context.Background()
	h := prHarness(t)

	_, err := h.orch.Override(ctx, repoID, 7, "hotfix")
	assert.True(t, errors.HasCode(err, errors.NotFound))

	_, err = h.orch.AnalyzePR(ctx, PRRequest{RepoID: repoID, PRNumber: 7})
	require.NoError(t, err)

	_, err = h.orch.Override(ctx, repoID, 7, "  ")
	assert.True(t, errors.HasCode(err, errors.Validation))

	rec, err := h.orch.Override(ctx, repoID, 7, "hotfix approved by lead")
	require.NoError(t, err)
	assert.Equal(t, pipeline.StatusOverridden, rec.Status)
	assert.Equal(t, pipeline.StatusOverridden, h.provider.statuses[len(h.provider.statuses)-1])

	t.Run("survives a re-run of the same head", func(t *testing.T) {
		rec, err := h.orch.AnalyzePR(ctx, PRRequest{RepoID: repoID, PRNumber: 7})
		require.NoError(t, err)
		assert.Equal(t, pipeline.StatusOverridden, rec.Status)
		assert.Equal(t, "hotfix approved by lead", rec.OverrideReason)
	})

	t.Run("cleared by a new head", func(t *testing.T) {
		rec, err := h.orch.AnalyzePR(ctx, PRRequest{RepoID: repoID, PRNumber: 7, HeadSHA: "def456"})
		require.NoError(t, err)
		assert.Equal(t, pipeline.StatusBlock, rec.Status)
		assert.Empty(t, rec.OverrideReason)
	})
}

func TestAnalyzePRProviderErrors(t *testing.T) {
	h := prHarness(t)
	h.provider.readErr = errors.NewRecoverableProviderError("rate limited", nil)
	_, err := h.orch.AnalyzePR(context.Background(), PRRequest{RepoID: repoID, PRNumber: 7})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.RecoverableProvider))

	_, err = h.orch.AnalyzePR(context.Background(), PRRequest{RepoID: repoID})
	assert.True(t, errors.HasCode(err, errors.Validation))
}

func TestFailedAnalysisRecordsPending(t *testing.T) {
	ctx := context.Background()
	rateLimited := errors.NewRecoverableProviderError("rate limited", nil)

	t.Run("new head replaces the previous verdict", func(t *testing.T) {
		h := prHarness(t)
		first, err := h.orch.AnalyzePR(ctx, PRRequest{RepoID: repoID, PRNumber: 7})
		require.NoError(t, err)
		require.Equal(t, pipeline.StatusBlock, first.Status)
		stored, err := h.store.GetPullRequest(ctx, repoID, 7)
		require.NoError(t, err)

		h.provider.pr.HeadSHA = "bbb222"
		h.provider.readErr = rateLimited
		_, err = h.orch.AnalyzePR(ctx, PRRequest{RepoID: repoID, PRNumber: 7})
		require.Error(t, err)

		rec, err := h.store.GetPullRequest(ctx, repoID, 7)
		require.NoError(t, err)
		assert.Equal(t, pipeline.StatusPending, rec.Status)
		assert.Equal(t, "bbb222", rec.HeadSHA)
		assert.Contains(t, rec.Error, "rate limited")
		assert.Empty(t, rec.BlockReasons)
		assert.Empty(t, rec.Findings)
		assert.Equal(t, stored.CreatedAt, rec.CreatedAt)

		_, err = h.orch.Override(ctx, repoID, 7, "ship it")
		assert.True(t, errors.HasCode(err, errors.Validation))

		h.provider.readErr = nil
		rec, err = h.orch.AnalyzePR(ctx, PRRequest{RepoID: repoID, PRNumber: 7})
		require.NoError(t, err)
		assert.Equal(t, pipeline.StatusBlock, rec.Status)
		assert.Empty(t, rec.Error)
	})

	tests := []struct {
		name    string
		mutate  func(*fakeProvider)
		reqHead string
		head    string
		wantErr string
	}{
		{"pull request lookup", func(f *fakeProvider) { f.prErr = rateLimited }, "ccc333", "ccc333", "get pull request"},
		{"changed files", func(f *fakeProvider) { f.listErr = rateLimited }, "", "abc123", "list changed files"},
		{"file content", func(f *fakeProvider) { f.readErr = rateLimited }, "", "abc123", "rate limited"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := prHarness(t)
			tt.mutate(h.provider)
			_, err := h.orch.AnalyzePR(ctx, PRRequest{RepoID: repoID, PRNumber: 8, HeadSHA: tt.reqHead})
			require.Error(t, err)

			rec, err := h.store.GetPullRequest(ctx, repoID, 8)
			require.NoError(t, err)
			assert.Equal(t, pipeline.StatusPending, rec.Status)
			assert.Equal(t, tt.head, rec.HeadSHA)
			assert.Contains(t, rec.Error, tt.wantErr)
		})
	}

	t.Run("override on the same head is kept", func(t *testing.T) {
		h := prHarness(t)
		_, err := h.orch.AnalyzePR(ctx, PRRequest{RepoID: repoID, PRNumber: 7})
		require.NoError(t, err)
		_, err = h.orch.Override(ctx, repoID, 7, "hotfix")
		require.NoError(t, err)

		h.provider.readErr = rateLimited
		_, err = h.orch.AnalyzePR(ctx, PRRequest{RepoID: repoID, PRNumber: 7})
		require.Error(t, err)

		rec, err := h.store.GetPullRequest(ctx, repoID, 7)
		require.NoError(t, err)
		assert.Equal(t, pipeline.StatusOverridden, rec.Status)
		assert.Empty(t, rec.Error)
	})
}

func TestOverrideBumpsUpdatedAt(t *testing.T) {
	ctx := context.Background()
	h := prHarness(t)
	_, err := h.orch.AnalyzePR(ctx, PRRequest{RepoID: repoID, PRNumber: 7})
	require.NoError(t, err)
	before, err := h.store.GetPullRequest(ctx, repoID, 7)
	require.NoError(t, err)

	later := before.UpdatedAt.Add(time.Hour)
	h.orch.now = func() time.Time { return later }
	_, err = h.orch.Override(ctx, repoID, 7, "hotfix")
	require.NoError(t, err)

	after, err := h.store.GetPullRequest(ctx, repoID, 7)
	require.NoError(t, err)
	assert.True(t, after.UpdatedAt.Equal(later.UTC()))
	assert.Equal(t, before.CreatedAt, after.CreatedAt)
}

func TestLinkTicket(t *testing.T) {
	changed := []scm.ChangedFile{{Path: "src/billing/invoice.ts"}, {Path: "src/auth.ts"}}
	explicit := &pipeline.Ticket{ID: "X-1"}

	tests := []struct {
		name   string
		req    PRRequest
		title  string
		body   string
		wantID string
		paths  []string
	}{
		{name: "explicit ticket", req: PRRequest{Ticket: explicit}, title: "ABC-9 x", wantID: "X-1"},
		{name: "requested id", req: PRRequest{TicketID: "PAY-7"}, title: "Fix invoices", wantID: "PAY-7"},
		{name: "key in title", title: "BILL-123 round invoice totals", body: "see src/billing/invoice.ts", wantID: "BILL-123", paths: []string{"src/billing/invoice.ts"}},
		{name: "no ticket", title: "Fix invoices"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := linkTicket(tt.req, tt.title, tt.body, changed)
			if tt.wantID == "" {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.wantID, got.ID)
			if tt.paths != nil {
				assert.Equal(t, tt.paths, got.Paths)
				assert.Equal(t, "round invoice totals", got.Title)
			}
		})
	}
}

func TestRegisterHandlers(t *testing.T) {
	ctx := context.Background()
	h := prHarness(t)
	q := jobs.NewEphemeralQueue("analysis", nil)
	defer q.Close(ctx)

	sub := h.bus.Subscribe(repoID)
	defer sub.Close()

	held, err := q.Enqueue(ctx, jobs.JobPRAnalysis, jobs.PRPayload{RepoID: repoID, PRNumber: 7})
	require.NoError(t, err)
	assert.Equal(t, jobs.JobQueued, held.Status)

	h.orch.RegisterHandlers(q)

	job, err := q.GetJob(ctx, held.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.JobCompleted, job.Status)
	assert.Equal(t, 100, job.Progress)

	_, err = h.store.GetPullRequest(ctx, repoID, 7)
	require.NoError(t, err)

	t.Run("failures publish job.failed", func(t *testing.T) {
		h.provider.readErr = errors.NewRecoverableProviderError("rate limited", nil)
		drain(sub)
		_, err := q.Enqueue(ctx, jobs.JobPRAnalysis, jobs.PRPayload{RepoID: repoID, PRNumber: 7})
		require.Error(t, err)
		assert.True(t, errors.HasCode(err, errors.JobExecution))

		evs := drain(sub)
		require.NotEmpty(t, evs)
		assert.Equal(t, events.TypeJobFailed, evs[len(evs)-1].Type)
	})

	t.Run("invalid payload", func(t *testing.T) {
		_, err := q.Enqueue(ctx, jobs.JobFullScan, map[string]string{"branch": "main"})
		assert.True(t, errors.HasCode(err, errors.JobExecution))
	})
}
