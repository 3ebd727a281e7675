package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/sourcegraph/conc/pool"

	"gatekeeper/internal/churn"
	"gatekeeper/internal/complexity"
	"gatekeeper/internal/depgraph"
	"gatekeeper/internal/errors"
	"gatekeeper/internal/events"
	"gatekeeper/internal/metrics"
	"gatekeeper/internal/risk"
	"gatekeeper/internal/scm"
	"gatekeeper/internal/store"
)

// ScanRequest asks for a full scan of a repository.
type ScanRequest struct {
	RepoID string
	// Root scans a working copy directly. When empty the provider's local
	// clone is walked, or its tree at Ref is read remotely.
	Root  string
	Ref   string
	Force bool
	JobID string
	// Progress receives 0-100 as files complete.
	Progress func(int)
}

// ScanSummary is the outcome of a full scan.
type ScanSummary struct {
	RepoID      string              `json:"repoId"`
	Files       int                 `json:"files"`
	Analyzed    int                 `json:"analyzed"`
	Skipped     int                 `json:"skipped"`
	Failed      int                 `json:"failed"`
	Removed     int                 `json:"removed"`
	Modules     int                 `json:"modules"`
	Cycles      [][]string          `json:"cycles"`
	Unstable    []depgraph.Coupling `json:"unstable,omitempty"`
	Metrics     *metrics.Summary    `json:"metrics,omitempty"`
	Hotspots    []risk.Score        `json:"hotspots,omitempty"`
	ElapsedMs   int64               `json:"elapsedMs"`
	CompletedAt time.Time           `json:"completedAt"`
}

// maxUnstable caps the unstable modules listed in a summary.
const maxUnstable = 10

type fileOutcome int

const (
	outcomeAnalyzed fileOutcome = iota
	outcomeSkipped
	outcomeFailed
)

// FullScan analyzes every analyzable file of a repository, records the
// results, rebuilds the dependency graph, and recomputes the repository
// metrics. Scans of one repository run one at a time.
func (o *Orchestrator) FullScan(ctx context.Context, req ScanRequest) (*ScanSummary, error) {
	if req.RepoID == "" {
		return nil, errors.NewValidationError("repoId is required", nil)
	}
	lock := o.repoLock(req.RepoID)
	lock.Lock()
	defer lock.Unlock()

	start := o.now()
	log := o.logger.With("repo", req.RepoID, "job", req.JobID)

	src, root, err := o.scanSource(req)
	if err != nil {
		return nil, err
	}
	exclude := excludeSet(o.cfg.Analysis.ExcludeDirs)
	all, err := src.list(ctx)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	files := selectFiles(all, exclude, o.cfg.Analysis.MaxFileBytes)
	log.Info("full scan started", "files", len(files), "root", root, "ref", req.Ref)

	records := map[string]churn.Record{}
	if root != "" {
		records = o.churn(root).AllFilesRecords(ctx, o.cfg.Analysis.ChurnWindowDays)
	}

	sum := &ScanSummary{RepoID: req.RepoID, Files: len(files), Cycles: [][]string{}}
	modules := make(map[string]depgraph.Module)
	var mu sync.Mutex
	processed := 0
	every := o.cfg.Analysis.ProgressEvery
	if every <= 0 {
		every = 10
	}

	workers := o.cfg.Analysis.Workers
	if workers <= 0 {
		workers = 4
	}
	p := pool.New().WithMaxGoroutines(workers).WithContext(ctx)
	for _, f := range files {
		p.Go(func(ctx context.Context) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			content, err := src.read(ctx, f.path)
			var outcome fileOutcome
			var mod *depgraph.Module
			if err != nil {
				log.Warn("failed to read file", "path", f.path, "error", err.Error())
				outcome = outcomeFailed
			} else {
				outcome, mod = o.scanFile(ctx, req, f.path, content, records[f.path])
			}

			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case outcomeAnalyzed:
				sum.Analyzed++
			case outcomeSkipped:
				sum.Skipped++
			default:
				sum.Failed++
			}
			if mod != nil {
				modules[f.path] = *mod
			}
			processed++
			if processed%every == 0 || processed == len(files) {
				prog := events.NewProgress(processed, len(files), f.path)
				o.events.Publish(req.RepoID, events.TypeScanProgress, prog)
				if req.Progress != nil {
					req.Progress(int(prog.Percentage))
				}
			}
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return nil, err
	}

	sum.Removed = o.pruneMissing(ctx, req.RepoID, all)

	graph := depgraph.Build(modules)
	sum.Modules = len(graph.Nodes())
	sum.Cycles = graph.Cycles()
	sum.Unstable = unstable(graph.AllCoupling())
	if o.graph != nil && sum.Modules > 0 {
		if err := o.graph.Write(ctx, req.RepoID, graph); err != nil {
			log.Warn("failed to write dependency graph", "error", err.Error())
		}
	}

	if m, err := o.metrics.RecomputeAll(ctx, req.RepoID); err != nil {
		log.Warn("failed to recompute metrics", "error", err.Error())
	} else {
		sum.Metrics = m
	}
	if hs, err := o.metrics.Hotspots(ctx, req.RepoID); err == nil {
		sum.Hotspots = hs
	}

	sum.CompletedAt = o.now().UTC()
	sum.ElapsedMs = sum.CompletedAt.Sub(start).Milliseconds()

	done := events.ScanCompleted{
		JobID:     req.JobID,
		Files:     sum.Files,
		Analyzed:  sum.Analyzed,
		Skipped:   sum.Skipped,
		Failed:    sum.Failed,
		Cycles:    len(sum.Cycles),
		ElapsedMs: sum.ElapsedMs,
	}
	if sum.Metrics != nil {
		done.DebtRatio = sum.Metrics.DebtRatio
		done.Hotspots = sum.Metrics.Hotspots
	}
	o.events.Publish(req.RepoID, events.TypeScanCompleted, done)

	log.Info("full scan completed",
		"files", sum.Files,
		"analyzed", sum.Analyzed,
		"skipped", sum.Skipped,
		"failed", sum.Failed,
		"removed", sum.Removed,
		"cycles", len(sum.Cycles),
		"elapsed", time.Duration(sum.ElapsedMs)*time.Millisecond,
	)
	return sum, nil
}

func (o *Orchestrator) scanSource(req ScanRequest) (fileSource, string, error) {
	exclude := excludeSet(o.cfg.Analysis.ExcludeDirs)
	if req.Root != "" {
		return &diskSource{root: req.Root, exclude: exclude}, req.Root, nil
	}
	provider, err := o.providers(req.RepoID)
	if err != nil {
		return nil, "", err
	}
	root, local := scm.LocalRoot(provider)
	if local && req.Ref == "" {
		return &diskSource{root: root, exclude: exclude}, root, nil
	}
	return &providerSource{provider: provider, ref: req.Ref}, root, nil
}

// scanFile analyzes one file and upserts its record. Files whose content
// and churn are unchanged since the last scan are skipped unless forced.
func (o *Orchestrator) scanFile(ctx context.Context, req ScanRequest, path string, content []byte, rec churn.Record) (fileOutcome, *depgraph.Module) {
	var mod *depgraph.Module
	if complexity.IsPrimary(complexity.LanguageFromPath(path)) {
		if m, err := depgraph.ExtractModule(ctx, path, content); err == nil {
			mod = &m
		}
	}

	hash := strconv.FormatUint(xxhash.Sum64(content), 16)
	if rec.FileID == "" {
		rec = churn.Record{FileID: path, WindowDays: o.cfg.Analysis.ChurnWindowDays, Authors: map[string]int{}}
	}

	prev, err := o.store.GetFile(ctx, req.RepoID, path)
	if err != nil && !errors.HasCode(err, errors.NotFound) {
		o.logger.Warn("failed to load file record", "repo", req.RepoID, "path", path, "error", err.Error())
		return outcomeFailed, mod
	}
	if prev != nil && !req.Force && prev.ContentHash == hash && prev.Report != nil &&
		prev.Churn != nil && prev.Churn.CommitCountInWindow == rec.CommitCountInWindow {
		return outcomeSkipped, mod
	}

	var report *complexity.ComplexityReport
	if prev != nil && !req.Force && prev.ContentHash == hash && prev.Report != nil {
		report = prev.Report
	} else {
		report, err = o.analyzer.Analyze(ctx, path, content)
		if err != nil {
			return outcomeFailed, mod
		}
	}
	report.FileID = path

	record := &store.FileRecord{
		RepoID:      req.RepoID,
		Path:        path,
		Language:    report.Language,
		ContentHash: hash,
		Report:      report,
		Churn:       &rec,
		Risk:        risk.New(path, report.CyclomaticComplexity, rec.CommitCountInWindow),
	}
	if err := o.store.UpsertFile(ctx, record); err != nil {
		o.logger.Warn("failed to store file record", "repo", req.RepoID, "path", path, "error", err.Error())
		return outcomeFailed, mod
	}
	return outcomeAnalyzed, mod
}

// pruneMissing deletes records of files no longer present in the listing.
func (o *Orchestrator) pruneMissing(ctx context.Context, repoID string, all []candidate) int {
	present := make(map[string]bool, len(all))
	for _, c := range all {
		present[c.path] = true
	}
	existing, err := o.store.ListFiles(ctx, repoID)
	if err != nil {
		o.logger.Warn("failed to list file records", "repo", repoID, "error", err.Error())
		return 0
	}
	removed := 0
	for _, rec := range existing {
		if present[rec.Path] {
			continue
		}
		if err := o.store.DeleteFile(ctx, repoID, rec.Path); err == nil {
			removed++
		}
	}
	return removed
}

func unstable(all []depgraph.Coupling) []depgraph.Coupling {
	var out []depgraph.Coupling
	for _, c := range all {
		if c.Efferent > 0 {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Instability != out[j].Instability {
			return out[i].Instability > out[j].Instability
		}
		return out[i].Path < out[j].Path
	})
	if len(out) > maxUnstable {
		out = out[:maxUnstable]
	}
	return out
}
