package syntax

import (
	"errors"
	"path/filepath"
	"sort"
	"strings"
)

// ErrNoCGO is returned when tree-sitter was not compiled in.
var ErrNoCGO = errors.New("tree-sitter parsing requires CGO")

// Dialect selects the grammar.
type Dialect string

const (
	JavaScript Dialect = "javascript"
	TypeScript Dialect = "typescript"
	TSX        Dialect = "tsx"
)

// Position is a 1-based source location.
type Position struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// Module lists the import specifiers and exported names of one file.
type Module struct {
	Imports []string `json:"imports"`
	Exports []string `json:"exports"`
}

// SortedImports returns a sorted copy of m.Imports.
func (m Module) SortedImports() []string {
	out := append([]string(nil), m.Imports...)
	sort.Strings(out)
	return out
}

// DialectForPath returns the grammar for a path, or false when the path is
// not a primary-language source file.
func DialectForPath(path string) (Dialect, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".js", ".jsx", ".mjs", ".cjs":
		return JavaScript, true
	case ".ts", ".mts", ".cts":
		return TypeScript, true
	case ".tsx":
		return TSX, true
	}
	return "", false
}
