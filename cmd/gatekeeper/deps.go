package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"gatekeeper/internal/complexity"
	"gatekeeper/internal/depgraph"
)

var (
	depsTree  string
	depsDepth int
	depsTop   int
)

var depsCmd = &cobra.Command{
	Use:   "deps [path]",
	Short: "Show the import graph of JavaScript/TypeScript files",
	Long: `Build the import graph of a working copy and report import cycles and
the files with the highest instability (efferent / (afferent + efferent)).
With --tree, print the dependency tree of one file instead.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDeps,
}

func init() {
	depsCmd.Flags().StringVar(&depsTree, "tree", "", "Print the dependency tree of this file (path relative to the root)")
	depsCmd.Flags().IntVar(&depsDepth, "depth", 0, "Tree depth (default: analysis.dependencyDepth)")
	depsCmd.Flags().IntVar(&depsTop, "top", 10, "Number of unstable files to list")
	rootCmd.AddCommand(depsCmd)
}

type depsReport struct {
	Modules  int                 `json:"modules"`
	Edges    int                 `json:"edges"`
	Cycles   [][]string          `json:"cycles"`
	Coupling []depgraph.Coupling `json:"coupling"`
}

func runDeps(cmd *cobra.Command, args []string) error {
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

	graph, err := buildGraph(ctx, root, cfg.Analysis.ExcludeDirs)
	if err != nil {
		return err
	}

	if depsTree != "" {
		depth := depsDepth
		if depth <= 0 {
			depth = cfg.Analysis.DependencyDepth
		}
		target := filepath.ToSlash(depsTree)
		if _, ok := graph.Module(target); !ok {
			return fmt.Errorf("%s is not in the import graph", depsTree)
		}
		node := graph.Subtree(target, depth)
		if f == FormatJSON {
			return writeJSON(os.Stdout, node)
		}
		printTree(os.Stdout, node, "")
		return nil
	}

	coupling := graph.AllCoupling()
	sort.SliceStable(coupling, func(i, j int) bool {
		if coupling[i].Instability != coupling[j].Instability {
			return coupling[i].Instability > coupling[j].Instability
		}
		return coupling[i].Path < coupling[j].Path
	})
	if depsTop > 0 && len(coupling) > depsTop {
		coupling = coupling[:depsTop]
	}
	report := depsReport{
		Modules:  len(graph.Nodes()),
		Edges:    len(graph.Edges()),
		Cycles:   graph.Cycles(),
		Coupling: coupling,
	}
	if f == FormatJSON {
		return writeJSON(os.Stdout, report)
	}

	fmt.Printf("%d modules, %d imports, %d cycles\n", report.Modules, report.Edges, len(report.Cycles))
	for _, c := range report.Cycles {
		fmt.Printf("  %s %s\n", color.YellowString("cycle:"), strings.Join(c, " -> "))
	}
	if len(coupling) == 0 {
		return nil
	}
	fmt.Println()
	width := pathWidth(3)
	rows := make([][]string, 0, len(coupling))
	for _, c := range coupling {
		rows = append(rows, []string{
			truncatePath(c.Path, width),
			strconv.Itoa(c.Afferent),
			strconv.Itoa(c.Efferent),
			fmt.Sprintf("%.2f", c.Instability),
		})
	}
	return renderTable(os.Stdout, []string{"File", "Ca", "Ce", "Instability"}, rows)
}

// buildGraph extracts the modules of every primary-language file under root.
// Files that fail to parse are left out of the graph.
func buildGraph(ctx context.Context, root string, excludeDirs []string) (*depgraph.Graph, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	files, err := walkSources(abs, excludeDirs)
	if err != nil {
		return nil, err
	}
	modules := make(map[string]depgraph.Module)
	for _, rel := range files {
		if !complexity.IsPrimary(complexity.LanguageFromPath(rel)) {
			continue
		}
		src, err := os.ReadFile(filepath.Join(abs, filepath.FromSlash(rel)))
		if err != nil {
			return nil, err
		}
		m, err := depgraph.ExtractModule(ctx, rel, src)
		if err != nil {
			continue
		}
		modules[rel] = m
	}
	return depgraph.Build(modules), nil
}

func printTree(w io.Writer, n *depgraph.TreeNode, indent string) {
	suffix := ""
	if n.Truncated {
		suffix = " ..."
	}
	fmt.Fprintf(w, "%s%s%s\n", indent, n.Path, suffix)
	for _, c := range n.Children {
		printTree(w, c, indent+"  ")
	}
}
