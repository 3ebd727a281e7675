package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatekeeper/internal/pipeline"
	"gatekeeper/internal/risk"
	"gatekeeper/internal/store"
)

func seedFiles(t *testing.T, s store.Store, values ...int) {
	t.Helper()
	for i, v := range values {
		path := string(rune('a'+i)) + ".ts"
		require.NoError(t, s.UpsertFile(context.Background(), &store.FileRecord{
			RepoID: "r", Path: path, ContentHash: path,
			Risk: risk.Score{FileID: path, Value: v, Category: risk.Categorize(v)},
		}))
	}
}

func seedPR(t *testing.T, s store.Store, n int, status pipeline.Status, delta float64, hasBaseline bool, age time.Duration) {
	t.Helper()
	require.NoError(t, s.UpsertPullRequest(context.Background(), &store.PullRequestRecord{
		RepoID: "r", PRNumber: n, Status: status,
		HealthScore: pipeline.HealthScore{Current: 80, Delta: delta, HasBaseline: hasBaseline},
		UpdatedAt:   time.Now().Add(-age),
	}))
}

func TestDebtRatioAndHotspots(t *testing.T) {
	s := store.NewMemoryStore(10)
	seedFiles(t, s, 10, 30, 80, 95)
	opts := DefaultOptions()
	opts.HotspotTopN = 1
	a := NewAggregator(s, opts, nil)

	debt, err := a.DebtRatio(context.Background(), "r")
	require.NoError(t, err)
	assert.Equal(t, 53.75, debt)

	hs, err := a.Hotspots(context.Background(), "r")
	require.NoError(t, err)
	require.Len(t, hs, 1)
	assert.Equal(t, "d.ts", hs[0].FileID)

	count, err := a.HotspotCount(context.Background(), "r")
	require.NoError(t, err)
	assert.Equal(t, 2, count, "the report cap does not limit the count")

	sum, err := a.RecomputeAll(context.Background(), "r")
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Hotspots)

	empty, err := a.DebtRatio(context.Background(), "other")
	require.NoError(t, err)
	assert.Zero(t, empty)
}

func TestBlockRateWindow(t *testing.T) {
	s := store.NewMemoryStore(10)
	day := 24 * time.Hour
	seedPR(t, s, 1, pipeline.StatusBlock, 0, false, day)
	seedPR(t, s, 2, pipeline.StatusPass, 0, false, 2*day)
	seedPR(t, s, 3, pipeline.StatusWarn, 0, false, 3*day)
	seedPR(t, s, 4, pipeline.StatusBlock, 0, false, 4*day)
	seedPR(t, s, 5, pipeline.StatusBlock, 0, false, 20*day)
	seedPR(t, s, 6, pipeline.StatusPending, 0, false, day)

	rate, err := NewAggregator(s, DefaultOptions(), nil).BlockRate(context.Background(), "r")
	require.NoError(t, err)
	assert.Equal(t, 50.0, rate)
}

func TestRiskReducedIsFlooredAndPassOnly(t *testing.T) {
	s := store.NewMemoryStore(10)
	day := 24 * time.Hour
	seedPR(t, s, 1, pipeline.StatusPass, 4.5, true, day)
	seedPR(t, s, 2, pipeline.StatusPass, -10, true, day)
	seedPR(t, s, 3, pipeline.StatusBlock, 8, true, day)
	seedPR(t, s, 4, pipeline.StatusPass, 6, false, day)
	seedPR(t, s, 5, pipeline.StatusPass, 2, true, 40*day)
	seedPR(t, s, 6, pipeline.StatusPass, 1.25, true, 2*day)

	a := NewAggregator(s, DefaultOptions(), nil)
	got, err := a.RiskReduced(context.Background(), "r")
	require.NoError(t, err)
	assert.Equal(t, 5.75, got)

	s2 := store.NewMemoryStore(10)
	seedPR(t, s2, 1, pipeline.StatusPass, -5, true, day)
	got, err = NewAggregator(s2, DefaultOptions(), nil).RiskReduced(context.Background(), "r")
	require.NoError(t, err)
	assert.Zero(t, got)
}

func TestRecomputeAllAppendsSnapshots(t *testing.T) {
	s := store.NewMemoryStore(10)
	seedFiles(t, s, 20, 90)
	seedPR(t, s, 1, pipeline.StatusBlock, 0, false, time.Hour)
	a := NewAggregator(s, DefaultOptions(), nil)

	for i := 0; i < 2; i++ {
		sum, err := a.RecomputeAll(context.Background(), "r")
		require.NoError(t, err)
		assert.Equal(t, 55.0, sum.DebtRatio)
		assert.Equal(t, 100.0, sum.BlockRate)
		assert.Equal(t, 1, sum.Hotspots)
	}
	for _, mt := range store.MetricTypes {
		snaps, err := s.ListMetrics(context.Background(), "r", mt, 0)
		require.NoError(t, err)
		assert.Len(t, snaps, 2, string(mt))
	}
}

func TestCalculateTrend(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	series := func(values ...float64) []store.MetricsSnapshot {
		out := make([]store.MetricsSnapshot, len(values))
		for i, v := range values {
			out[i] = store.MetricsSnapshot{Value: v, CalculatedAt: base.Add(time.Duration(i) * 24 * time.Hour)}
		}
		return out
	}

	tests := []struct {
		name      string
		snaps     []store.MetricsSnapshot
		direction string
		velocity  float64
	}{
		{"increasing", series(10, 12, 14, 16), Increasing, 2},
		{"decreasing", series(40, 30, 20), Decreasing, -10},
		{"flat", series(5, 5, 5), Stable, 0},
		{"single point", series(7), Stable, 0},
		{"empty", nil, Stable, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := CalculateTrend(store.MetricDebtRatio, tt.snaps)
			assert.Equal(t, tt.direction, tr.Direction)
			assert.InDelta(t, tt.velocity, tr.Velocity, 0.001)
			assert.Equal(t, len(tt.snaps), tr.DataPoints)
		})
	}

	tr := CalculateTrend(store.MetricDebtRatio, series(40, 30, 20))
	assert.Zero(t, tr.Projection30d)
}

func TestTrendFromStore(t *testing.T) {
	s := store.NewMemoryStore(10)
	base := time.Now().Add(-72 * time.Hour)
	for i, v := range []float64{1, 2, 3, 4} {
		require.NoError(t, s.AppendMetric(context.Background(), &store.MetricsSnapshot{
			RepoID: "r", Type: store.MetricHotspots, Value: v, CalculatedAt: base.Add(time.Duration(i) * 24 * time.Hour),
		}))
	}
	tr, err := NewAggregator(s, DefaultOptions(), nil).Trend(context.Background(), "r", store.MetricHotspots, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, tr.DataPoints)
	assert.Equal(t, Increasing, tr.Direction)
	assert.Equal(t, 4.0, tr.Latest)
}
