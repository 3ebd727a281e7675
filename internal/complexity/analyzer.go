//go:build cgo

package complexity

import (
	"context"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"

	"gatekeeper/internal/errors"
	"gatekeeper/internal/syntax"
)

// TreeSitterStrategy computes McCabe complexity from a real syntax tree for
// JavaScript, TypeScript and TSX.
type TreeSitterStrategy struct {
	lang    Language
	dialect syntax.Dialect
}

// NewTreeSitterStrategy returns the syntax-tree strategy for a primary
// language, or nil for any other language.
func NewTreeSitterStrategy(lang Language) *TreeSitterStrategy {
	var d syntax.Dialect
	switch lang {
	case LangJavaScript:
		d = syntax.JavaScript
	case LangTypeScript:
		d = syntax.TypeScript
	case LangTSX:
		d = syntax.TSX
	default:
		return nil
	}
	return &TreeSitterStrategy{lang: lang, dialect: d}
}

// Kind returns StrategyTreeSitter.
func (s *TreeSitterStrategy) Kind() StrategyKind { return StrategyTreeSitter }

// Analyze parses content and returns a ParseError when the tree contains
// syntax errors, so the caller can fall back.
func (s *TreeSitterStrategy) Analyze(ctx context.Context, path string, content []byte) (*ComplexityReport, error) {
	parser := syntax.NewParser()
	defer parser.Close()

	tree, err := parser.Parse(ctx, content, s.dialect)
	if err != nil {
		return nil, errors.NewParseError("failed to parse "+path, err)
	}
	defer tree.Close()

	root := tree.Root()
	if errs := syntax.SyntaxErrors(root); len(errs) > 0 {
		return nil, errors.NewParseError(
			fmt.Sprintf("%s: syntax error at line %d", path, errs[0].Line), nil)
	}

	report := &ComplexityReport{
		FileID:       path,
		Language:     s.lang,
		LOC:          CountLOC(string(content)),
		Functions:    make([]FunctionMetrics, 0),
		Dependencies: syntax.ExtractModule(root, content).Imports,
		Strategy:     StrategyTreeSitter,
	}

	decisions := 0
	syntax.Walk(root, func(n *sitter.Node) bool {
		if syntax.IsDecision(n, content) {
			decisions++
		}
		if syntax.FunctionNodeTypes[n.Type()] {
			report.Functions = append(report.Functions, analyzeFunction(n, content))
		}
		return true
	})

	report.CyclomaticComplexity = 1 + decisions
	report.MaintainabilityIndex = MaintainabilityIndex(report.LOC, report.CyclomaticComplexity)
	return report, nil
}

// analyzeFunction counts decisions in the function body, excluding nested
// functions, which are reported separately.
func analyzeFunction(fn *sitter.Node, source []byte) FunctionMetrics {
	start := int(fn.StartPoint().Row) + 1
	end := int(fn.EndPoint().Row) + 1

	cc := 1
	syntax.Walk(fn, func(n *sitter.Node) bool {
		if n != fn && syntax.FunctionNodeTypes[n.Type()] {
			return false
		}
		if syntax.IsDecision(n, source) {
			cc++
		}
		return true
	})

	return FunctionMetrics{
		Name:       syntax.FunctionName(fn, source),
		Complexity: cc,
		LOC:        end - start + 1,
		StartLine:  start,
	}
}

func primaryStrategy(lang Language) Strategy {
	if s := NewTreeSitterStrategy(lang); s != nil {
		return s
	}
	return nil
}
