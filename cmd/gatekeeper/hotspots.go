package main

import (
	"context"
	"os"
	"path/filepath"
	"strconv"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"gatekeeper/internal/churn"
	"gatekeeper/internal/complexity"
)

var (
	hotspotsRepo string
	hotspotsLive bool
)

var hotspotsCmd = &cobra.Command{
	Use:   "hotspots [path]",
	Short: "List the riskiest files",
	Long: `List files whose risk (complexity weighted by churn) is above the
hotspot threshold, from the last scan of the repository. With --live the
working copy is measured directly: files that are both frequently changed
and complex are listed without touching the store.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHotspots,
}

func init() {
	hotspotsCmd.Flags().StringVar(&hotspotsRepo, "repo", "", "Repository ID owner/name (default: local/<dir>)")
	hotspotsCmd.Flags().BoolVar(&hotspotsLive, "live", false, "Measure the working copy instead of reading the last scan")
	rootCmd.AddCommand(hotspotsCmd)
}

func runHotspots(cmd *cobra.Command, args []string) error {
	if hotspotsLive {
		return runLiveHotspots(cmd, args)
	}
	f, err := format()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := openApp(ctx, appOptions{})
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	repoID := hotspotsRepo
	if repoID == "" {
		root := a.cfg.RepoRoot
		if len(args) > 0 {
			root = args[0]
		}
		abs, err := filepath.Abs(root)
		if err != nil {
			return err
		}
		repoID = repoIDFor("", abs)
	}

	scores, err := a.orch.Metrics().Hotspots(ctx, repoID)
	if err != nil {
		return err
	}
	if f == FormatJSON {
		return writeJSON(os.Stdout, scores)
	}
	if len(scores) == 0 {
		color.Green("No hotspots in %s", repoID)
		return nil
	}
	width := pathWidth(3)
	rows := make([][]string, 0, len(scores))
	for i, s := range scores {
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			truncatePath(s.FileID, width),
			strconv.Itoa(s.Value),
			categoryString(s.Category),
		})
	}
	return renderTable(os.Stdout, []string{"Rank", "File", "Risk", "Category"}, rows)
}

func runLiveHotspots(cmd *cobra.Command, args []string) error {
	f, err := format()
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	root := cfg.RepoRoot
	if len(args) > 0 {
		root = args[0]
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	files, err := walkSources(abs, cfg.Analysis.ExcludeDirs)
	if err != nil {
		return err
	}
	registry := complexity.NewRegistry(logger)
	cc := make(map[string]int, len(files))
	for _, rel := range files {
		report, err := registry.AnalyzeFile(ctx, filepath.Join(abs, filepath.FromSlash(rel)), rel)
		if err != nil {
			continue
		}
		cc[rel] = report.CyclomaticComplexity
	}

	miner := churn.NewMiner(abs, churn.WithLogger(logger))
	counts := miner.AllFilesChurn(ctx, cfg.Analysis.ChurnWindowDays)
	hotspots := churn.IdentifyHotspots(counts, cc, cfg.Analysis.HotspotChurnMin, cfg.Analysis.HotspotComplexMin)

	if f == FormatJSON {
		return writeJSON(os.Stdout, hotspots)
	}
	if len(hotspots) == 0 {
		color.Green("No files with more than %d commits in %d days and complexity above %d",
			cfg.Analysis.HotspotChurnMin, cfg.Analysis.ChurnWindowDays, cfg.Analysis.HotspotComplexMin)
		return nil
	}
	width := pathWidth(4)
	rows := make([][]string, 0, len(hotspots))
	for i, h := range hotspots {
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			truncatePath(h.Path, width),
			strconv.Itoa(h.Churn),
			strconv.Itoa(h.Complexity),
			strconv.Itoa(h.Score),
		})
	}
	return renderTable(os.Stdout, []string{"Rank", "File", "Commits", "CC", "Score"}, rows)
}
