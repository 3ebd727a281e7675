//go:build cgo

// Package syntax wraps tree-sitter for the primary languages
// (JavaScript, TypeScript, TSX).
package syntax

import (
	"context"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// Available reports whether tree-sitter parsing is compiled in.
func Available() bool { return true }

// Tree is a parsed source file. Close must be called when done.
type Tree struct {
	tree   *sitter.Tree
	Source []byte
}

// Root returns the root node.
func (t *Tree) Root() *sitter.Node { return t.tree.RootNode() }

// Close releases the underlying tree.
func (t *Tree) Close() { t.tree.Close() }

// Parser wraps a tree-sitter parser. A Parser is not safe for concurrent use.
type Parser struct {
	parser *sitter.Parser
}

// NewParser creates a new tree-sitter parser.
func NewParser() *Parser {
	return &Parser{parser: sitter.NewParser()}
}

// Close releases parser resources.
func (p *Parser) Close() { p.parser.Close() }

// Parse parses source with the grammar for dialect.
func (p *Parser) Parse(ctx context.Context, source []byte, dialect Dialect) (*Tree, error) {
	lang, err := grammar(dialect)
	if err != nil {
		return nil, err
	}
	p.parser.SetLanguage(lang)
	tree, err := p.parser.ParseCtx(ctx, nil, source)
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	if tree == nil {
		return nil, fmt.Errorf("parse error: no tree produced")
	}
	return &Tree{tree: tree, Source: source}, nil
}

func grammar(d Dialect) (*sitter.Language, error) {
	switch d {
	case JavaScript:
		return javascript.GetLanguage(), nil
	case TypeScript:
		return typescript.GetLanguage(), nil
	case TSX:
		return tsx.GetLanguage(), nil
	default:
		return nil, fmt.Errorf("unsupported dialect: %s", d)
	}
}

// FunctionNodeTypes are the node types that introduce a function body.
var FunctionNodeTypes = map[string]bool{
	"function_declaration":           true,
	"function":                       true,
	"function_expression":            true,
	"arrow_function":                 true,
	"method_definition":              true,
	"generator_function":             true,
	"generator_function_declaration": true,
}

// DecisionNodeTypes contribute one path each to cyclomatic complexity.
// binary_expression counts only for &&, || and ??.
var DecisionNodeTypes = map[string]bool{
	"if_statement":       true,
	"for_statement":      true,
	"for_in_statement":   true,
	"while_statement":    true,
	"do_statement":       true,
	"switch_case":        true,
	"catch_clause":       true,
	"ternary_expression": true,
	"binary_expression":  true,
}

// IsDecision reports whether node adds a control-flow path.
func IsDecision(node *sitter.Node, source []byte) bool {
	t := node.Type()
	if !DecisionNodeTypes[t] {
		return false
	}
	if t != "binary_expression" {
		return true
	}
	op := node.ChildByFieldName("operator")
	if op == nil {
		return false
	}
	switch op.Content(source) {
	case "&&", "||", "??":
		return true
	}
	return false
}

// Walk visits node and its descendants depth-first. Returning false from
// visit skips the node's children.
func Walk(node *sitter.Node, visit func(*sitter.Node) bool) {
	if node == nil || !visit(node) {
		return
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		Walk(node.Child(i), visit)
	}
}

// SyntaxErrors returns the positions of ERROR and MISSING nodes.
func SyntaxErrors(root *sitter.Node) []Position {
	var out []Position
	if root == nil || !root.HasError() {
		return out
	}
	Walk(root, func(n *sitter.Node) bool {
		if n.Type() == "ERROR" || n.IsMissing() {
			p := n.StartPoint()
			out = append(out, Position{Line: int(p.Row) + 1, Column: int(p.Column) + 1})
			return false
		}
		return n.HasError()
	})
	return out
}

// FunctionName returns the declared name of a function node, or
// "<anonymous>" when it has none (including arrows bound to variables,
// which take the variable name).
func FunctionName(node *sitter.Node, source []byte) string {
	if name := node.ChildByFieldName("name"); name != nil {
		return name.Content(source)
	}
	if parent := node.Parent(); parent != nil {
		switch parent.Type() {
		case "variable_declarator", "public_field_definition", "pair", "assignment_expression":
			field := "name"
			if parent.Type() == "pair" {
				field = "key"
			} else if parent.Type() == "assignment_expression" {
				field = "left"
			}
			if n := parent.ChildByFieldName(field); n != nil {
				return n.Content(source)
			}
		}
	}
	return "<anonymous>"
}

// ParseModule parses source and extracts its imports and exports.
func ParseModule(ctx context.Context, source []byte, dialect Dialect) (Module, error) {
	p := NewParser()
	defer p.Close()
	tree, err := p.Parse(ctx, source, dialect)
	if err != nil {
		return Module{}, err
	}
	defer tree.Close()
	return ExtractModule(tree.Root(), source), nil
}

// ParseErrors parses source and returns the syntax error positions.
func ParseErrors(ctx context.Context, source []byte, dialect Dialect) ([]Position, error) {
	p := NewParser()
	defer p.Close()
	tree, err := p.Parse(ctx, source, dialect)
	if err != nil {
		return nil, err
	}
	defer tree.Close()
	return SyntaxErrors(tree.Root()), nil
}
