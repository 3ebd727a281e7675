package metrics

import (
	"context"

	"gonum.org/v1/gonum/stat"

	"gatekeeper/internal/store"
)

// Trend directions.
const (
	Increasing = "increasing"
	Stable     = "stable"
	Decreasing = "decreasing"
)

// stableVelocity is the per-day slope below which a series counts as flat.
const stableVelocity = 0.01

// Trend is a least-squares fit over recent snapshots of one metric.
type Trend struct {
	Metric        store.MetricType `json:"metric"`
	Direction     string           `json:"direction"`
	Velocity      float64          `json:"velocity"` // change per day
	Latest        float64          `json:"latest"`
	Projection30d float64          `json:"projection30d"`
	DataPoints    int              `json:"dataPoints"`
}

// Trend fits the last n snapshots of metric.
func (a *Aggregator) Trend(ctx context.Context, repoID string, metric store.MetricType, n int) (*Trend, error) {
	snaps, err := a.store.ListMetrics(ctx, repoID, metric, n)
	if err != nil {
		return nil, err
	}
	return CalculateTrend(metric, snaps), nil
}

// CalculateTrend fits snapshots ordered oldest first. Fewer than two points,
// or points sharing one timestamp, are stable.
func CalculateTrend(metric store.MetricType, snaps []store.MetricsSnapshot) *Trend {
	t := &Trend{Metric: metric, Direction: Stable, DataPoints: len(snaps)}
	if len(snaps) == 0 {
		return t
	}
	t.Latest = snaps[len(snaps)-1].Value
	t.Projection30d = t.Latest
	if len(snaps) < 2 {
		return t
	}

	base := snaps[0].CalculatedAt
	xs := make([]float64, len(snaps))
	ys := make([]float64, len(snaps))
	for i, s := range snaps {
		xs[i] = s.CalculatedAt.Sub(base).Hours() / 24
		ys[i] = s.Value
	}
	if stat.Variance(xs, nil) == 0 {
		return t
	}

	_, slope := stat.LinearRegression(xs, ys, nil, false)
	t.Velocity = round2(slope)
	switch {
	case slope > stableVelocity:
		t.Direction = Increasing
	case slope < -stableVelocity:
		t.Direction = Decreasing
	}
	t.Projection30d = round2(max(0, t.Latest+slope*30))
	return t
}
