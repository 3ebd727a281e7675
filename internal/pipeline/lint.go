package pipeline

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"gatekeeper/internal/complexity"
	"gatekeeper/internal/syntax"
)

// LintIssue is one lint error or warning.
type LintIssue struct {
	Rule    string
	Line    int
	Message string
	Error   bool
}

// Linter checks one changed file.
type Linter interface {
	Lint(ctx context.Context, f ChangedFile) ([]LintIssue, error)
}

const maxLineLength = 120

type lintRule struct {
	id        string
	pattern   *regexp.Regexp
	message   string
	languages map[complexity.Language]bool
}

var jsLanguages = map[complexity.Language]bool{
	complexity.LangJavaScript: true,
	complexity.LangTypeScript: true,
	complexity.LangTSX:        true,
}

var warningRules = []lintRule{
	{id: "no-var", pattern: regexp.MustCompile(`(?:^|[;{}\s])var\s+[A-Za-z_$]`), message: "use let or const instead of var", languages: jsLanguages},
	{id: "eqeqeq", pattern: regexp.MustCompile(`[^=!<>]==[^=]|!=[^=]`), message: "use === and !== instead of == and !=", languages: jsLanguages},
	{id: "bare-except", pattern: regexp.MustCompile(`^\s*except\s*:`), message: "bare except clause", languages: map[complexity.Language]bool{complexity.LangPython: true}},
}

// BuiltinLinter reports syntax errors (tree-sitter for JS/TS, bracket
// balance elsewhere) as errors and style rule hits as warnings.
type BuiltinLinter struct{}

// NewBuiltinLinter returns the built-in linter.
func NewBuiltinLinter() *BuiltinLinter { return &BuiltinLinter{} }

// Lint checks syntax over the whole file and style rules over the added
// lines.
func (l *BuiltinLinter) Lint(ctx context.Context, f ChangedFile) ([]LintIssue, error) {
	var issues []LintIssue

	if dialect, ok := syntax.DialectForPath(f.Path); ok {
		positions, err := syntax.ParseErrors(ctx, f.Content, dialect)
		switch {
		case err == nil:
			for _, p := range positions {
				issues = append(issues, LintIssue{Rule: "syntax", Line: p.Line, Message: "syntax error", Error: true})
			}
		case errors.Is(err, syntax.ErrNoCGO):
			issues = append(issues, bracketIssues(f)...)
		default:
			return nil, err
		}
	} else if complexity.IsAnalyzable(f.Path) {
		issues = append(issues, bracketIssues(f)...)
	}

	for i, line := range strings.Split(f.AddedText(), "\n") {
		lineNo := i + 1
		if f.Patch != "" {
			lineNo = 0
		}
		if len(line) > maxLineLength {
			issues = append(issues, LintIssue{Rule: "max-len", Line: lineNo, Message: fmt.Sprintf("line exceeds %d characters", maxLineLength)})
		}
		if strings.TrimRight(line, " \t") != line {
			issues = append(issues, LintIssue{Rule: "no-trailing-spaces", Line: lineNo, Message: "trailing whitespace"})
		}
		for _, r := range warningRules {
			if r.languages[f.Language] && r.pattern.MatchString(line) {
				issues = append(issues, LintIssue{Rule: r.id, Line: lineNo, Message: r.message})
			}
		}
	}
	return issues, nil
}

var bracketPairs = map[rune]rune{')': '(', ']': '[', '}': '{'}

// bracketIssues reports unbalanced brackets outside strings and comments.
func bracketIssues(f ChangedFile) []LintIssue {
	hashComments := f.Language == complexity.LangPython || f.Language == complexity.LangRuby || f.Language == complexity.LangPHP
	slashComments := f.Language != complexity.LangPython && f.Language != complexity.LangRuby

	type open struct {
		ch   rune
		line int
	}
	var stack []open
	var issues []LintIssue

	src := []rune(string(f.Content))
	line := 1
	var quote rune
	inBlock := false

	for i := 0; i < len(src); i++ {
		c := src[i]
		next := rune(0)
		if i+1 < len(src) {
			next = src[i+1]
		}
		if c == '\n' {
			line++
			if quote != '`' {
				quote = 0
			}
			continue
		}
		switch {
		case inBlock:
			if c == '*' && next == '/' {
				inBlock = false
				i++
			}
			continue
		case quote != 0:
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
			continue
		}

		switch {
		case c == '"' || c == '\'' || c == '`':
			quote = c
		case slashComments && c == '/' && next == '/', hashComments && c == '#':
			for i < len(src) && src[i] != '\n' {
				i++
			}
			i--
		case slashComments && c == '/' && next == '*':
			inBlock = true
			i++
		case c == '(' || c == '[' || c == '{':
			stack = append(stack, open{ch: c, line: line})
		case c == ')' || c == ']' || c == '}':
			want := bracketPairs[c]
			if len(stack) > 0 && stack[len(stack)-1].ch == want {
				stack = stack[:len(stack)-1]
				continue
			}
			issues = append(issues, LintIssue{Rule: "syntax", Line: line, Message: fmt.Sprintf("unexpected %q", c), Error: true})
		}
	}
	for _, o := range stack {
		issues = append(issues, LintIssue{Rule: "syntax", Line: o.line, Message: fmt.Sprintf("unclosed %q", o.ch), Error: true})
	}
	return issues
}

// LintLayer counts lint errors and warnings across changed files.
type LintLayer struct {
	Linter        Linter
	MaxErrors     int
	WarnThreshold int
}

// Name returns "lint".
func (l *LintLayer) Name() string { return LayerLint }

// Run blocks when errors exceed MaxErrors and warns when warnings exceed
// WarnThreshold.
func (l *LintLayer) Run(ctx context.Context, in *Input, res *Result) (LayerResult, error) {
	errs, warns := 0, 0
	for _, f := range in.Files {
		if f.Removed() {
			continue
		}
		issues, err := l.Linter.Lint(ctx, f)
		if err != nil {
			return LayerResult{}, fmt.Errorf("lint %s: %w", f.Path, err)
		}
		for _, is := range issues {
			sev := SeverityLow
			if is.Error {
				errs++
				sev = SeverityMedium
			} else {
				warns++
			}
			res.AddFinding(Finding{
				Layer: LayerLint, Rule: is.Rule, Category: "lint", Severity: sev,
				Path: f.Path, Line: is.Line, Message: is.Message,
			})
		}
	}

	res.Scores.Lint = clampScore(float64(errs)*20 + float64(warns)*2)
	lr := LayerResult{
		Name:    LayerLint,
		Status:  LayerOK,
		Score:   res.Scores.Lint,
		Summary: fmt.Sprintf("%d errors, %d warnings", errs, warns),
		Details: map[string]any{"errors": errs, "warnings": warns},
	}
	if errs > l.MaxErrors {
		res.Block(fmt.Sprintf("lint: %d errors exceed the maximum of %d", errs, l.MaxErrors))
		lr.Status = LayerBlock
	} else if l.WarnThreshold > 0 && warns > l.WarnThreshold {
		res.Warn(fmt.Sprintf("lint: %d warnings exceed the threshold of %d", warns, l.WarnThreshold))
		lr.Status = LayerWarn
	}
	return lr, nil
}
