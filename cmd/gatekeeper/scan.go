package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"gatekeeper/internal/orchestrator"
)

var (
	scanRepo  string
	scanRef   string
	scanForce bool
)

var scanCmd = &cobra.Command{
	Use:   "scan [path]",
	Short: "Run a full scan of a repository",
	Long: `Analyze every source file of a working copy (default: the current
directory), record complexity, churn and risk, rebuild the dependency graph
and recompute the repository metrics. With --ref the tree is read from the
source-control provider instead of the disk.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runScan,
}

func init() {
	scanCmd.Flags().StringVar(&scanRepo, "repo", "", "Repository ID owner/name (default: local/<dir>)")
	scanCmd.Flags().StringVar(&scanRef, "ref", "", "Scan the provider tree at this ref instead of the working copy")
	scanCmd.Flags().BoolVar(&scanForce, "force", false, "Re-analyze files whose content is unchanged")
	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, args []string) error {
	f, err := format()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := openApp(ctx, appOptions{graph: true})
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	req := orchestrator.ScanRequest{Ref: scanRef, Force: scanForce}
	if scanRef == "" {
		root := a.cfg.RepoRoot
		if len(args) > 0 {
			root = args[0]
		}
		if req.Root, err = filepath.Abs(root); err != nil {
			return err
		}
	}
	req.RepoID = repoIDFor(scanRepo, req.Root)

	if f == FormatHuman && isTTY(os.Stderr) {
		bar := newProgressBar("scanning " + req.RepoID)
		req.Progress = func(pct int) { _ = bar.Set(pct) }
		defer func() {
			_ = bar.Finish()
			_ = bar.Clear()
		}()
	}

	sum, err := a.orch.FullScan(ctx, req)
	if err != nil {
		return err
	}
	if f == FormatJSON {
		return writeJSON(os.Stdout, sum)
	}
	return printScanSummary(os.Stdout, sum)
}

// repoIDFor prefers an explicit ID, then local/<dir> for a working copy.
func repoIDFor(explicit, root string) string {
	if explicit != "" {
		return explicit
	}
	if root == "" {
		return ""
	}
	return "local/" + filepath.Base(root)
}

func newProgressBar(label string) *progressbar.ProgressBar {
	return progressbar.NewOptions(100,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetWidth(30),
		progressbar.OptionSetDescription(label),
		progressbar.OptionUseANSICodes(true),
		progressbar.OptionSetElapsedTime(false),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}

func printScanSummary(w io.Writer, sum *orchestrator.ScanSummary) error {
	fmt.Fprintf(w, "Scan of %s completed in %dms\n", sum.RepoID, sum.ElapsedMs)
	fmt.Fprintf(w, "  files %d, analyzed %d, unchanged %d, failed %d, removed %d\n",
		sum.Files, sum.Analyzed, sum.Skipped, sum.Failed, sum.Removed)
	fmt.Fprintf(w, "  modules %d, cycles %d\n", sum.Modules, len(sum.Cycles))
	if sum.Metrics != nil {
		fmt.Fprintf(w, "  debt ratio %.2f, hotspots %d\n", sum.Metrics.DebtRatio, sum.Metrics.Hotspots)
	}
	for _, c := range sum.Cycles {
		fmt.Fprintf(w, "  %s %s\n", color.YellowString("cycle:"), strings.Join(c, " -> "))
	}
	if len(sum.Hotspots) == 0 {
		return nil
	}
	fmt.Fprintln(w)
	rows := make([][]string, 0, len(sum.Hotspots))
	width := pathWidth(3)
	for i, h := range sum.Hotspots {
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			truncatePath(h.FileID, width),
			strconv.Itoa(h.Value),
			categoryString(h.Category),
		})
	}
	return renderTable(w, []string{"Rank", "File", "Risk", "Category"}, rows)
}
