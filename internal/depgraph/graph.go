// Package depgraph builds the import graph of the primary-language files
// in a repository and derives coupling metrics and cycles from it.
package depgraph

import (
	"context"
	"path"
	"sort"
	"strings"

	"gatekeeper/internal/errors"
	"gatekeeper/internal/syntax"
)

// DefaultMaxDepth bounds Subtree output on dense or cyclic graphs.
const DefaultMaxDepth = 3

// Module lists the imports and exports of one file.
type Module = syntax.Module

var resolveExtensions = []string{".js", ".jsx", ".ts", ".tsx", ".mjs", ".cjs"}

// ExtractModule parses a primary-language file and returns its imports and
// exports.
func ExtractModule(ctx context.Context, filePath string, src []byte) (Module, error) {
	dialect, ok := syntax.DialectForPath(filePath)
	if !ok {
		return Module{}, errors.NewValidationError("not a JavaScript/TypeScript file: "+filePath, nil)
	}
	m, err := syntax.ParseModule(ctx, src, dialect)
	if err != nil {
		return Module{}, errors.NewParseError("failed to extract imports from "+filePath, err)
	}
	return m, nil
}

// Coupling is the afferent (incoming) and efferent (outgoing) edge count of
// a file.
type Coupling struct {
	Path        string  `json:"path"`
	Afferent    int     `json:"afferent"`
	Efferent    int     `json:"efferent"`
	Instability float64 `json:"instability"`
}

// Edge is a resolved import between two files of the set.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Graph is a directed import graph over a file set. Imports that do not
// resolve to a file of the set are kept as external dependencies.
type Graph struct {
	nodes    []string
	modules  map[string]Module
	out      map[string][]string
	in       map[string][]string
	external map[string][]string
}

// Build resolves every module's relative imports against the file set.
func Build(modules map[string]Module) *Graph {
	g := &Graph{
		modules:  modules,
		out:      make(map[string][]string),
		in:       make(map[string][]string),
		external: make(map[string][]string),
	}
	for p := range modules {
		g.nodes = append(g.nodes, p)
	}
	sort.Strings(g.nodes)

	for _, from := range g.nodes {
		seen := map[string]bool{}
		for _, spec := range modules[from].Imports {
			to, ok := g.resolve(from, spec)
			if !ok {
				g.external[from] = append(g.external[from], spec)
				continue
			}
			if to == from || seen[to] {
				continue
			}
			seen[to] = true
			g.out[from] = append(g.out[from], to)
			g.in[to] = append(g.in[to], from)
		}
	}
	for _, p := range g.nodes {
		sort.Strings(g.out[p])
		sort.Strings(g.in[p])
	}
	return g
}

func (g *Graph) resolve(from, spec string) (string, bool) {
	if !strings.HasPrefix(spec, ".") && !strings.HasPrefix(spec, "/") {
		return "", false
	}
	base := path.Clean(path.Join(path.Dir(from), spec))
	if strings.HasPrefix(spec, "/") {
		base = strings.TrimPrefix(path.Clean(spec), "/")
	}

	candidates := []string{base}
	ext := path.Ext(base)
	if ext == ".js" || ext == ".jsx" || ext == ".mjs" || ext == ".cjs" {
		stem := strings.TrimSuffix(base, ext)
		candidates = append(candidates, stem+".ts", stem+".tsx")
	}
	for _, e := range resolveExtensions {
		candidates = append(candidates, base+e)
	}
	for _, e := range resolveExtensions {
		candidates = append(candidates, base+"/index"+e)
	}
	for _, c := range candidates {
		if _, ok := g.modules[c]; ok {
			return c, true
		}
	}
	return "", false
}

// Nodes returns the files of the graph, sorted.
func (g *Graph) Nodes() []string { return append([]string(nil), g.nodes...) }

// Module returns the extracted module of a file.
func (g *Graph) Module(p string) (Module, bool) {
	m, ok := g.modules[p]
	return m, ok
}

// Dependencies returns the files p imports.
func (g *Graph) Dependencies(p string) []string { return g.out[p] }

// Dependents returns the files importing p.
func (g *Graph) Dependents(p string) []string { return g.in[p] }

// External returns the unresolved (package) imports of p.
func (g *Graph) External(p string) []string { return g.external[p] }

// Edges returns all resolved edges, ordered by source then target.
func (g *Graph) Edges() []Edge {
	var edges []Edge
	for _, from := range g.nodes {
		for _, to := range g.out[from] {
			edges = append(edges, Edge{From: from, To: to})
		}
	}
	return edges
}

// Coupling returns the coupling counts and instability of p.
func (g *Graph) Coupling(p string) Coupling {
	ca, ce := len(g.in[p]), len(g.out[p])
	return Coupling{Path: p, Afferent: ca, Efferent: ce, Instability: instability(ca, ce)}
}

// Instability is Ce / (Ca + Ce): 0 is stable, 1 is unstable, and a file
// with no edges is 0.
func (g *Graph) Instability(p string) float64 {
	return instability(len(g.in[p]), len(g.out[p]))
}

func instability(ca, ce int) float64 {
	if ca+ce == 0 {
		return 0
	}
	return float64(ce) / float64(ca+ce)
}

// AllCoupling returns coupling for every file, sorted by path.
func (g *Graph) AllCoupling() []Coupling {
	out := make([]Coupling, 0, len(g.nodes))
	for _, p := range g.nodes {
		out = append(out, g.Coupling(p))
	}
	return out
}
