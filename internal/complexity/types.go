// Package complexity computes per-file cyclomatic complexity and
// maintainability for polyglot source trees. JavaScript and TypeScript are
// parsed with tree-sitter; other languages use bounded regex scanning, and
// anything else falls back to a generic estimator.
package complexity

import (
	"path/filepath"
	"strings"
)

// Language represents a source language inferred from a file extension.
type Language string

const (
	LangJavaScript Language = "javascript"
	LangTypeScript Language = "typescript"
	LangTSX        Language = "tsx"
	LangPython     Language = "python"
	LangGo         Language = "go"
	LangJava       Language = "java"
	LangKotlin     Language = "kotlin"
	LangCSharp     Language = "csharp"
	LangC          Language = "c"
	LangCPP        Language = "cpp"
	LangRust       Language = "rust"
	LangRuby       Language = "ruby"
	LangPHP        Language = "php"
	LangSwift      Language = "swift"
	LangUnknown    Language = "unknown"
)

// StrategyKind names the analyzer family that produced a report.
type StrategyKind string

const (
	StrategyTreeSitter StrategyKind = "treesitter"
	StrategyHeuristic  StrategyKind = "heuristic"
	StrategyGeneric    StrategyKind = "generic"
)

// FunctionMetrics contains complexity metrics for a single function/method.
type FunctionMetrics struct {
	Name       string `json:"name"`
	Complexity int    `json:"complexity"`
	LOC        int    `json:"loc"`
	StartLine  int    `json:"startLine"`
}

// ComplexityReport is the shared output contract of every strategy.
type ComplexityReport struct {
	// FileID identifies the file within its repository (the relative path).
	FileID string `json:"fileId"`

	Language Language `json:"language"`

	// CyclomaticComplexity is 1 + decision points across the file. Always >= 1.
	CyclomaticComplexity int `json:"cyclomaticComplexity"`

	// MaintainabilityIndex is clamped to [0, 100].
	MaintainabilityIndex float64 `json:"maintainabilityIndex"`

	// LOC is the physical line count.
	LOC int `json:"loc"`

	Functions    []FunctionMetrics `json:"functions"`
	Dependencies []string          `json:"dependencies"`

	Strategy StrategyKind `json:"strategy"`

	// Fallback is set when the language strategy failed and the generic
	// estimator produced this report instead.
	Fallback       bool   `json:"fallback,omitempty"`
	FallbackReason string `json:"fallbackReason,omitempty"`
}

// MaxFunctionComplexity returns the highest per-function complexity, or the
// file complexity when no functions were segmented.
func (r *ComplexityReport) MaxFunctionComplexity() int {
	if len(r.Functions) == 0 {
		return r.CyclomaticComplexity
	}
	max := 0
	for _, f := range r.Functions {
		if f.Complexity > max {
			max = f.Complexity
		}
	}
	return max
}

var extensionLanguages = map[string]Language{
	".js":    LangJavaScript,
	".jsx":   LangJavaScript,
	".mjs":   LangJavaScript,
	".cjs":   LangJavaScript,
	".ts":    LangTypeScript,
	".mts":   LangTypeScript,
	".cts":   LangTypeScript,
	".tsx":   LangTSX,
	".py":    LangPython,
	".pyw":   LangPython,
	".go":    LangGo,
	".java":  LangJava,
	".kt":    LangKotlin,
	".kts":   LangKotlin,
	".cs":    LangCSharp,
	".c":     LangC,
	".h":     LangC,
	".cc":    LangCPP,
	".cpp":   LangCPP,
	".cxx":   LangCPP,
	".hpp":   LangCPP,
	".rs":    LangRust,
	".rb":    LangRuby,
	".php":   LangPHP,
	".swift": LangSwift,
}

// LanguageFromExtension returns the Language for a file extension.
func LanguageFromExtension(ext string) (Language, bool) {
	lang, ok := extensionLanguages[strings.ToLower(ext)]
	return lang, ok
}

// LanguageFromPath infers the language of a path, LangUnknown if unsupported.
func LanguageFromPath(path string) Language {
	if lang, ok := LanguageFromExtension(filepath.Ext(path)); ok {
		return lang
	}
	return LangUnknown
}

// IsAnalyzable reports whether path has a supported source extension.
func IsAnalyzable(path string) bool {
	_, ok := LanguageFromExtension(filepath.Ext(path))
	return ok
}

// IsPrimary reports whether lang is handled by the syntax-tree strategy.
func IsPrimary(lang Language) bool {
	return lang == LangJavaScript || lang == LangTypeScript || lang == LangTSX
}
