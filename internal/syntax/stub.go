//go:build !cgo

// Package syntax wraps tree-sitter for the primary languages
// (JavaScript, TypeScript, TSX). Without cgo, parsing is unavailable and
// callers fall back to their heuristic paths.
package syntax

import "context"

// Available reports whether tree-sitter parsing is compiled in.
func Available() bool { return false }

// Tree is never produced without cgo.
type Tree struct {
	Source []byte
}

// Close is a no-op.
func (t *Tree) Close() {}

// Parser is a placeholder without cgo.
type Parser struct{}

// NewParser returns a parser whose Parse always fails.
func NewParser() *Parser { return &Parser{} }

// Close is a no-op.
func (p *Parser) Close() {}

// Parse returns ErrNoCGO.
func (p *Parser) Parse(_ context.Context, _ []byte, _ Dialect) (*Tree, error) {
	return nil, ErrNoCGO
}

// ParseModule returns ErrNoCGO.
func ParseModule(_ context.Context, _ []byte, _ Dialect) (Module, error) {
	return Module{}, ErrNoCGO
}

// ParseErrors returns ErrNoCGO.
func ParseErrors(_ context.Context, _ []byte, _ Dialect) ([]Position, error) {
	return nil, ErrNoCGO
}
