package pipeline

import (
	"context"
	"fmt"
	"math"
	"sort"

	"gatekeeper/internal/complexity"
)

// Baseline is the previously recorded complexity of one file.
type Baseline struct {
	Complexity      int
	Maintainability float64
}

// BaselineSource looks up stored baselines for changed paths. Paths with no
// prior analysis are absent from the returned map.
type BaselineSource interface {
	Baselines(ctx context.Context, repoID string, paths []string) (map[string]Baseline, error)
}

// Penalty maps complexity and maintainability onto 0..100, where 0 is a
// simple, maintainable file. Each point of complexity above 10 costs 3 and
// each point of maintainability below 65 costs 0.8.
func Penalty(cc int, mi float64) float64 {
	p := math.Max(0, float64(cc-10))*3 + math.Max(0, 65-mi)*0.8
	return clampScore(p)
}

// Health is 100 - Penalty.
func Health(cc int, mi float64) float64 {
	return 100 - Penalty(cc, mi)
}

// RatchetLayer blocks complexity regressions.
type RatchetLayer struct {
	Analyzer      *complexity.Registry
	Baselines     BaselineSource
	MaxComplexity int
	DeltaFloor    float64
}

// Name returns "complexity".
func (l *RatchetLayer) Name() string { return LayerRatchet }

// Run computes the health of the changed files. The delta is only compared
// against the floor for files that have a baseline; a change touching only
// new files is flagged as having none.
func (l *RatchetLayer) Run(ctx context.Context, in *Input, res *Result) (LayerResult, error) {
	type analyzed struct {
		path   string
		report *complexity.ComplexityReport
		health float64
	}
	var files []analyzed
	for _, f := range in.Files {
		if f.Removed() || len(f.Content) == 0 {
			continue
		}
		report, err := l.Analyzer.Analyze(ctx, f.Path, f.Content)
		if err != nil {
			return LayerResult{}, err
		}
		files = append(files, analyzed{
			path:   f.Path,
			report: report,
			health: Health(report.CyclomaticComplexity, report.MaintainabilityIndex),
		})
	}

	lr := LayerResult{Name: LayerRatchet, Status: LayerOK, Details: map[string]any{}}
	if len(files) == 0 {
		res.HealthScore = HealthScore{Current: 100}
		res.Scores.Complexity = 0
		lr.Status = LayerSkipped
		lr.Summary = "no analyzable files"
		return lr, nil
	}

	var baselines map[string]Baseline
	if l.Baselines != nil {
		paths := make([]string, len(files))
		for i, f := range files {
			paths[i] = f.path
		}
		var err error
		baselines, err = l.Baselines.Baselines(ctx, in.RepoID, paths)
		if err != nil {
			return LayerResult{}, fmt.Errorf("load baselines: %w", err)
		}
	}

	var sumCurrent, sumCompared, sumBaseline float64
	compared := 0
	perFile := make(map[string]any, len(files))
	var overLimit []string
	for _, f := range files {
		sumCurrent += f.health
		entry := map[string]any{
			"complexity":      f.report.CyclomaticComplexity,
			"maintainability": round2(f.report.MaintainabilityIndex),
			"health":          round2(f.health),
			"strategy":        string(f.report.Strategy),
		}
		if b, ok := baselines[f.path]; ok {
			bh := Health(b.Complexity, b.Maintainability)
			entry["baselineHealth"] = round2(bh)
			sumCompared += f.health
			sumBaseline += bh
			compared++
		}
		perFile[f.path] = entry

		if f.report.CyclomaticComplexity > l.MaxComplexity {
			overLimit = append(overLimit, f.path)
			res.AddFinding(Finding{
				Layer: LayerRatchet, Rule: "max-complexity", Category: "complexity", Severity: SeverityHigh,
				Path: f.path,
				Message: fmt.Sprintf("cyclomatic complexity %d exceeds the maximum of %d",
					f.report.CyclomaticComplexity, l.MaxComplexity),
			})
		}
	}
	lr.Details["files"] = perFile

	current := sumCurrent / float64(len(files))
	hs := HealthScore{Current: round2(current)}
	if compared > 0 {
		hs.HasBaseline = true
		hs.Baseline = round2(sumBaseline / float64(compared))
		hs.Delta = round2(sumCompared/float64(compared) - hs.Baseline)
	} else {
		res.AddFinding(Finding{
			Layer: LayerRatchet, Rule: "no-baseline", Category: "complexity", Severity: SeverityInfo,
			Message: "first analysis of these files: no ratchet baseline to compare against",
		})
	}
	res.HealthScore = hs
	res.Scores.Complexity = clampScore(100 - current)
	lr.Score = res.Scores.Complexity

	sort.Strings(overLimit)
	for _, p := range overLimit {
		res.Block(fmt.Sprintf("complexity: %s exceeds the maximum complexity of %d", p, l.MaxComplexity))
		lr.Status = LayerBlock
	}
	if hs.HasBaseline && hs.Delta < l.DeltaFloor {
		res.Block(fmt.Sprintf("complexity: health delta %.2f is below the floor of %.2f", hs.Delta, l.DeltaFloor))
		lr.Status = LayerBlock
	}

	if hs.HasBaseline {
		lr.Summary = fmt.Sprintf("health %.2f (delta %+.2f over %d files with a baseline)", hs.Current, hs.Delta, compared)
	} else {
		lr.Summary = fmt.Sprintf("health %.2f (no baseline)", hs.Current)
	}
	return lr, nil
}
