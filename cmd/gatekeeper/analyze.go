package main

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"gatekeeper/internal/complexity"
	"gatekeeper/internal/config"
)

var analyzeFunctions bool

var analyzeCmd = &cobra.Command{
	Use:   "analyze <path>...",
	Short: "Report the complexity of files without recording anything",
	Long: `Compute cyclomatic complexity and the maintainability index of the
given files or directories. Nothing is written to the store.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().BoolVar(&analyzeFunctions, "functions", false, "List per-function complexity")
	rootCmd.AddCommand(analyzeCmd)
}

func runAnalyze(cmd *cobra.Command, args []string) error {
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

	paths, err := expandPaths(args, cfg)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		color.Yellow("No source files found")
		return nil
	}

	registry := complexity.NewRegistry(newLogger(cfg))
	reports := make([]*complexity.ComplexityReport, 0, len(paths))
	for _, p := range paths {
		report, err := registry.AnalyzeFile(ctx, p, filepath.ToSlash(p))
		if err != nil {
			fmt.Fprintf(os.Stderr, "  %s error: %v\n", p, err)
			continue
		}
		reports = append(reports, report)
	}

	if f == FormatJSON {
		return writeJSON(os.Stdout, reports)
	}
	return printReports(os.Stdout, reports, cfg.Pipeline.MaxComplexity)
}

// expandPaths resolves files and directories into analyzable files.
func expandPaths(args []string, cfg *config.Config) ([]string, error) {
	var out []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			out = append(out, arg)
			continue
		}
		files, err := walkSources(arg, cfg.Analysis.ExcludeDirs)
		if err != nil {
			return nil, err
		}
		for _, rel := range files {
			out = append(out, filepath.Join(arg, filepath.FromSlash(rel)))
		}
	}
	sort.Strings(out)
	return out, nil
}

// walkSources lists the analyzable files under root as slash-separated
// relative paths, skipping excluded directory names.
func walkSources(root string, excludeDirs []string) ([]string, error) {
	exclude := make(map[string]bool, len(excludeDirs))
	for _, d := range excludeDirs {
		exclude[d] = true
	}
	var out []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && exclude[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !complexity.IsAnalyzable(path) {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	return out, err
}

func printReports(w io.Writer, reports []*complexity.ComplexityReport, maxComplexity int) error {
	width := pathWidth(6)
	rows := make([][]string, 0, len(reports))
	for _, r := range reports {
		cc := strconv.Itoa(r.CyclomaticComplexity)
		if r.CyclomaticComplexity > maxComplexity {
			cc = color.RedString("%d", r.CyclomaticComplexity)
		}
		rows = append(rows, []string{
			truncatePath(r.FileID, width),
			string(r.Language),
			cc,
			fmt.Sprintf("%.1f", r.MaintainabilityIndex),
			strconv.Itoa(r.LOC),
			strconv.Itoa(r.MaxFunctionComplexity()),
			string(r.Strategy),
		})
	}
	if err := renderTable(w, []string{"File", "Language", "CC", "MI", "LOC", "Max fn", "Strategy"}, rows); err != nil {
		return err
	}

	if !analyzeFunctions {
		return nil
	}
	for _, r := range reports {
		if len(r.Functions) == 0 {
			continue
		}
		fmt.Fprintf(w, "\n%s\n", r.FileID)
		fnRows := make([][]string, 0, len(r.Functions))
		for _, fn := range r.Functions {
			fnRows = append(fnRows, []string{
				fn.Name,
				strconv.Itoa(fn.StartLine),
				strconv.Itoa(fn.LOC),
				strconv.Itoa(fn.Complexity),
			})
		}
		if err := renderTable(w, []string{"Function", "Line", "LOC", "CC"}, fnRows); err != nil {
			return err
		}
	}
	return nil
}
