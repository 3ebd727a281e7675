package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"gatekeeper/internal/errors"
	"gatekeeper/internal/metrics"
	"gatekeeper/internal/store"
)

var (
	metricsRepo   string
	metricsPoints int
)

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Repository health rollups",
	Long: `Recompute and inspect the repository rollups: debtRatio (mean file
risk), blockRate (share of recent verdicts that blocked), hotspots (files
above the risk threshold) and riskReduced (risk removed by passing PRs).`,
}

var metricsRecomputeCmd = &cobra.Command{
	Use:   "recompute",
	Short: "Recompute every metric and record a snapshot",
	RunE:  runMetricsRecompute,
}

var metricsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the latest snapshot of every metric",
	RunE:  runMetricsShow,
}

var metricsTrendCmd = &cobra.Command{
	Use:   "trend <metric>",
	Short: "Fit a trend over the recent snapshots of a metric",
	Args:  cobra.ExactArgs(1),
	RunE:  runMetricsTrend,
}

func init() {
	metricsCmd.PersistentFlags().StringVar(&metricsRepo, "repo", "", "Repository ID owner/name (default: local/<repoRoot>)")
	metricsTrendCmd.Flags().IntVarP(&metricsPoints, "points", "n", 10, "Number of snapshots to fit")
	metricsCmd.AddCommand(metricsRecomputeCmd, metricsShowCmd, metricsTrendCmd)
	rootCmd.AddCommand(metricsCmd)
}

// withMetrics opens the app and resolves the repository ID.
func withMetrics(cmd *cobra.Command, fn func(ctx context.Context, a *app, repoID string) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := openApp(ctx, appOptions{})
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	repoID := metricsRepo
	if repoID == "" {
		abs, err := filepath.Abs(a.cfg.RepoRoot)
		if err != nil {
			return err
		}
		repoID = repoIDFor("", abs)
	}
	return fn(ctx, a, repoID)
}

func runMetricsRecompute(cmd *cobra.Command, args []string) error {
	f, err := format()
	if err != nil {
		return err
	}
	return withMetrics(cmd, func(ctx context.Context, a *app, repoID string) error {
		sum, err := a.orch.Metrics().RecomputeAll(ctx, repoID)
		if err != nil {
			return err
		}
		if f == FormatJSON {
			return writeJSON(os.Stdout, sum)
		}
		return renderSummary(sum)
	})
}

func renderSummary(sum *metrics.Summary) error {
	return renderTable(os.Stdout, []string{"Metric", "Value"}, [][]string{
		{string(store.MetricDebtRatio), fmt.Sprintf("%.2f", sum.DebtRatio)},
		{string(store.MetricBlockRate), fmt.Sprintf("%.2f%%", sum.BlockRate)},
		{string(store.MetricHotspots), strconv.Itoa(sum.Hotspots)},
		{string(store.MetricRiskReduced), fmt.Sprintf("%.2f", sum.RiskReduced)},
	})
}

func runMetricsShow(cmd *cobra.Command, args []string) error {
	f, err := format()
	if err != nil {
		return err
	}
	return withMetrics(cmd, func(ctx context.Context, a *app, repoID string) error {
		latest := make(map[store.MetricType]store.MetricsSnapshot)
		for _, mt := range store.MetricTypes {
			snaps, err := a.store.ListMetrics(ctx, repoID, mt, 1)
			if err != nil {
				return err
			}
			if len(snaps) > 0 {
				latest[mt] = snaps[len(snaps)-1]
			}
		}
		if f == FormatJSON {
			return writeJSON(os.Stdout, latest)
		}
		if len(latest) == 0 {
			color.Yellow("No metrics recorded for %s; run a scan first", repoID)
			return nil
		}
		rows := make([][]string, 0, len(latest))
		for _, mt := range store.MetricTypes {
			snap, ok := latest[mt]
			if !ok {
				continue
			}
			rows = append(rows, []string{string(mt), fmt.Sprintf("%.2f", snap.Value), snap.CalculatedAt.Local().Format("2006-01-02 15:04")})
		}
		return renderTable(os.Stdout, []string{"Metric", "Value", "Calculated"}, rows)
	})
}

func runMetricsTrend(cmd *cobra.Command, args []string) error {
	f, err := format()
	if err != nil {
		return err
	}
	metric, err := parseMetric(args[0])
	if err != nil {
		return err
	}
	return withMetrics(cmd, func(ctx context.Context, a *app, repoID string) error {
		trend, err := a.orch.Metrics().Trend(ctx, repoID, metric, metricsPoints)
		if err != nil {
			return err
		}
		if f == FormatJSON {
			return writeJSON(os.Stdout, trend)
		}
		fmt.Printf("%s over %d snapshots: %s\n", trend.Metric, trend.DataPoints, trendString(trend.Direction))
		fmt.Printf("  latest        %.2f\n", trend.Latest)
		fmt.Printf("  velocity      %+.3f per day\n", trend.Velocity)
		fmt.Printf("  in 30 days    %.2f\n", trend.Projection30d)
		return nil
	})
}

func parseMetric(s string) (store.MetricType, error) {
	for _, mt := range store.MetricTypes {
		if string(mt) == s {
			return mt, nil
		}
	}
	return "", errors.NewValidationError(fmt.Sprintf("unknown metric %q", s), nil).
		WithHint("one of debtRatio, blockRate, hotspots, riskReduced")
}

func trendString(direction string) string {
	switch direction {
	case metrics.Increasing:
		return color.YellowString(direction)
	case metrics.Decreasing:
		return color.GreenString(direction)
	default:
		return direction
	}
}
