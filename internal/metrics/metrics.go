// Package metrics rolls file and pull request records up into repository
// health metrics.
package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"gatekeeper/internal/config"
	"gatekeeper/internal/pipeline"
	"gatekeeper/internal/risk"
	"gatekeeper/internal/slogutil"
	"gatekeeper/internal/store"
)

// Options are the rollup windows and thresholds.
type Options struct {
	BlockRateWindow   time.Duration
	RiskReducedWindow time.Duration
	HotspotThreshold  int
	HotspotTopN       int
}

// DefaultOptions returns a 7 day block-rate window, a 30 day risk-reduced
// window and hotspots above 70.
func DefaultOptions() Options {
	return Options{
		BlockRateWindow:   7 * 24 * time.Hour,
		RiskReducedWindow: 30 * 24 * time.Hour,
		HotspotThreshold:  risk.CriticalThreshold,
		HotspotTopN:       10,
	}
}

// OptionsFromConfig maps configuration onto Options.
func OptionsFromConfig(cfg *config.Config) Options {
	o := DefaultOptions()
	m := cfg.Metrics
	if m.BlockRateWindowDays > 0 {
		o.BlockRateWindow = time.Duration(m.BlockRateWindowDays) * 24 * time.Hour
	}
	if m.RiskReducedWindowDays > 0 {
		o.RiskReducedWindow = time.Duration(m.RiskReducedWindowDays) * 24 * time.Hour
	}
	if m.HotspotThreshold > 0 {
		o.HotspotThreshold = m.HotspotThreshold
	}
	if m.HotspotTopN > 0 {
		o.HotspotTopN = m.HotspotTopN
	}
	return o
}

// Summary is one recomputation of every metric.
type Summary struct {
	RepoID       string    `json:"repoId"`
	DebtRatio    float64   `json:"debtRatio"`
	BlockRate    float64   `json:"blockRate"`
	Hotspots     int       `json:"hotspots"`
	RiskReduced  float64   `json:"riskReduced"`
	CalculatedAt time.Time `json:"calculatedAt"`
}

// Aggregator computes metrics from a store.
type Aggregator struct {
	store  store.Store
	opts   Options
	logger *slog.Logger
	now    func() time.Time
}

// NewAggregator returns an aggregator over s.
func NewAggregator(s store.Store, opts Options, logger *slog.Logger) *Aggregator {
	return &Aggregator{store: s, opts: opts, logger: slogutil.OrDiscard(logger), now: time.Now}
}

// DebtRatio is the mean risk value across the repository's files.
func (a *Aggregator) DebtRatio(ctx context.Context, repoID string) (float64, error) {
	files, err := a.store.ListFiles(ctx, repoID)
	if err != nil {
		return 0, err
	}
	if len(files) == 0 {
		return 0, nil
	}
	values := make([]float64, len(files))
	for i, f := range files {
		values[i] = float64(f.Risk.Value)
	}
	return round2(stat.Mean(values, nil)), nil
}

// BlockRate is the percentage of pull requests analysed within the window
// whose verdict is BLOCK.
func (a *Aggregator) BlockRate(ctx context.Context, repoID string) (float64, error) {
	prs, err := a.store.ListPullRequests(ctx, repoID, a.now().Add(-a.opts.BlockRateWindow))
	if err != nil {
		return 0, err
	}
	total, blocked := 0, 0
	for _, pr := range prs {
		if !pr.Status.IsTerminal() {
			continue
		}
		total++
		if pr.Status == pipeline.StatusBlock {
			blocked++
		}
	}
	if total == 0 {
		return 0, nil
	}
	return round2(float64(blocked) / float64(total) * 100), nil
}

// Hotspots returns the riskiest files above the hotspot threshold, capped
// to HotspotTopN for reporting.
func (a *Aggregator) Hotspots(ctx context.Context, repoID string) ([]risk.Score, error) {
	scores, err := a.scores(ctx, repoID)
	if err != nil {
		return nil, err
	}
	return risk.TopHotspots(scores, a.opts.HotspotThreshold, a.opts.HotspotTopN), nil
}

// HotspotCount counts every file above the hotspot threshold. The report cap
// does not apply.
func (a *Aggregator) HotspotCount(ctx context.Context, repoID string) (int, error) {
	scores, err := a.scores(ctx, repoID)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, sc := range scores {
		if sc.Value > a.opts.HotspotThreshold {
			n++
		}
	}
	return n, nil
}

func (a *Aggregator) scores(ctx context.Context, repoID string) ([]risk.Score, error) {
	files, err := a.store.ListFiles(ctx, repoID)
	if err != nil {
		return nil, err
	}
	scores := make([]risk.Score, len(files))
	for i, f := range files {
		scores[i] = f.Risk
		scores[i].FileID = f.Path
	}
	return scores, nil
}

// RiskReduced sums the health improvements of passing pull requests within
// the window. Regressions do not subtract; the result is never negative.
func (a *Aggregator) RiskReduced(ctx context.Context, repoID string) (float64, error) {
	prs, err := a.store.ListPullRequests(ctx, repoID, a.now().Add(-a.opts.RiskReducedWindow))
	if err != nil {
		return 0, err
	}
	var sum float64
	for _, pr := range prs {
		if pr.Status != pipeline.StatusPass || !pr.HealthScore.HasBaseline {
			continue
		}
		if pr.HealthScore.Delta > 0 {
			sum += pr.HealthScore.Delta
		}
	}
	return round2(math.Max(0, sum)), nil
}

// RecomputeAll computes every metric and appends one snapshot per metric.
func (a *Aggregator) RecomputeAll(ctx context.Context, repoID string) (*Summary, error) {
	sum := &Summary{RepoID: repoID, CalculatedAt: a.now().UTC()}
	var err error
	if sum.DebtRatio, err = a.DebtRatio(ctx, repoID); err != nil {
		return nil, fmt.Errorf("debt ratio: %w", err)
	}
	if sum.BlockRate, err = a.BlockRate(ctx, repoID); err != nil {
		return nil, fmt.Errorf("block rate: %w", err)
	}
	if sum.Hotspots, err = a.HotspotCount(ctx, repoID); err != nil {
		return nil, fmt.Errorf("hotspots: %w", err)
	}
	if sum.RiskReduced, err = a.RiskReduced(ctx, repoID); err != nil {
		return nil, fmt.Errorf("risk reduced: %w", err)
	}

	values := map[store.MetricType]float64{
		store.MetricDebtRatio:   sum.DebtRatio,
		store.MetricBlockRate:   sum.BlockRate,
		store.MetricHotspots:    float64(sum.Hotspots),
		store.MetricRiskReduced: sum.RiskReduced,
	}
	for _, mt := range store.MetricTypes {
		snap := &store.MetricsSnapshot{RepoID: repoID, Type: mt, Value: values[mt], CalculatedAt: sum.CalculatedAt}
		if err := a.store.AppendMetric(ctx, snap); err != nil {
			return nil, fmt.Errorf("append %s: %w", mt, err)
		}
	}

	a.logger.Debug("metrics recomputed",
		"repo", repoID,
		"debtRatio", sum.DebtRatio,
		"blockRate", sum.BlockRate,
		"hotspots", sum.Hotspots,
		"riskReduced", sum.RiskReduced,
	)
	return sum, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
