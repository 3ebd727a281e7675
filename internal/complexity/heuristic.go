package complexity

import (
	"context"
	"regexp"
	"strings"

	"gatekeeper/internal/errors"
)

var (
	doubleQuoted = regexp.MustCompile(`"(?:\\.|[^"\\])*"`)
	singleQuoted = regexp.MustCompile(`'(?:\\.|[^'\\])*'`)
	charLiteral  = regexp.MustCompile(`'(?:\\.|[^'\\])'`)
	backQuoted   = regexp.MustCompile("`[^`]*`")
)

// HeuristicStrategy is a bounded single-pass regex scanner. It counts
// control-flow tokens and segments functions by signature lines.
type HeuristicStrategy struct {
	lang  Language
	rules *languageRules
}

// NewHeuristicStrategy returns the scanner for lang, or nil if no rules exist.
func NewHeuristicStrategy(lang Language) *HeuristicStrategy {
	rules, ok := heuristicRules[lang]
	if !ok {
		return nil
	}
	return &HeuristicStrategy{lang: lang, rules: rules}
}

// Kind returns StrategyHeuristic.
func (s *HeuristicStrategy) Kind() StrategyKind { return StrategyHeuristic }

// openFunction tracks a function body while scanning.
type openFunction struct {
	metrics    FunctionMetrics
	indent     int
	braceDepth int
	parens     int
	opened     bool
}

// Analyze scans content line by line.
func (s *HeuristicStrategy) Analyze(ctx context.Context, path string, content []byte) (*ComplexityReport, error) {
	if isBinary(content) {
		return nil, errors.NewParseError("binary content in "+path, nil)
	}

	lines := splitLines(string(content))
	report := &ComplexityReport{
		FileID:    path,
		Language:  s.lang,
		LOC:       len(lines),
		Functions: make([]FunctionMetrics, 0),
		Strategy:  StrategyHeuristic,
	}

	decisions := 0
	depth := 0
	inBlock := false
	inDocstring := false
	var stack []*openFunction

	closeTop := func(endLine int) {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		top.metrics.LOC = endLine - top.metrics.StartLine + 1
		report.Functions = append(report.Functions, top.metrics)
	}

	for i, raw := range lines {
		if i%512 == 0 && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lineNo := i + 1

		if s.rules.style == blockIndent && s.lang == LangPython {
			if n := strings.Count(raw, `"""`) + strings.Count(raw, `'''`); n > 0 {
				if n%2 == 1 {
					inDocstring = !inDocstring
				}
				continue
			}
			if inDocstring {
				continue
			}
		}

		code := s.stripLine(raw, &inBlock)
		trimmed := strings.TrimSpace(code)

		if s.rules.style == blockIndent && trimmed != "" {
			indent := indentation(raw)
			for len(stack) > 0 && indent <= stack[len(stack)-1].indent {
				closeTop(previousNonBlank(lines, i))
			}
		}

		// A signature that never opened a body once its parameter list
		// closed is expression-bodied or a declaration.
		if s.rules.style == blockBraces && trimmed != "" && !strings.HasPrefix(trimmed, "{") {
			for len(stack) > 0 {
				top := stack[len(stack)-1]
				if top.opened || top.parens > 0 {
					break
				}
				closeTop(lineNo - 1)
			}
		}

		if trimmed != "" {
			if name, ok := s.matchSignature(code); ok {
				stack = append(stack, &openFunction{
					metrics:    FunctionMetrics{Name: name, Complexity: 1, StartLine: lineNo},
					indent:     indentation(raw),
					braceDepth: depth,
				})
			}
		}

		n := s.countDecisions(code)
		decisions += n
		if n > 0 && len(stack) > 0 {
			stack[len(stack)-1].metrics.Complexity += n
		}

		if s.rules.style == blockBraces {
			depth += strings.Count(code, "{") - strings.Count(code, "}")
			if len(stack) > 0 && !stack[len(stack)-1].opened {
				stack[len(stack)-1].parens += strings.Count(code, "(") - strings.Count(code, ")")
			}
			opens := strings.Contains(code, "{")
			for len(stack) > 0 {
				top := stack[len(stack)-1]
				if !top.opened && (depth > top.braceDepth || (opens && top.parens <= 0)) {
					top.opened = true
				}
				if top.opened && depth <= top.braceDepth {
					closeTop(lineNo)
					continue
				}
				break
			}
		}
	}

	for len(stack) > 0 {
		closeTop(len(lines))
	}

	report.CyclomaticComplexity = 1 + decisions
	report.MaintainabilityIndex = MaintainabilityIndex(report.LOC, report.CyclomaticComplexity)
	return report, nil
}

func (s *HeuristicStrategy) matchSignature(code string) (string, bool) {
	for _, re := range s.rules.signatures {
		m := re.FindStringSubmatch(code)
		if m == nil {
			continue
		}
		name := "<anonymous>"
		if idx := re.SubexpIndex("name"); idx >= 0 && m[idx] != "" {
			name = m[idx]
		}
		if notFunctionNames[name] {
			continue
		}
		return name, true
	}
	return "", false
}

func (s *HeuristicStrategy) countDecisions(code string) int {
	n := 0
	for _, re := range s.rules.decisions {
		n += len(re.FindAllStringIndex(code, -1))
	}
	return n
}

// stripLine removes string literals and comments, tracking block comments
// across lines through inBlock.
func (s *HeuristicStrategy) stripLine(line string, inBlock *bool) string {
	open, close := s.rules.blockComment[0], s.rules.blockComment[1]
	var b strings.Builder
	rest := line
	for rest != "" {
		if *inBlock {
			idx := strings.Index(rest, close)
			if idx < 0 {
				return b.String()
			}
			rest = rest[idx+len(close):]
			*inBlock = false
			continue
		}
		if open == "" {
			b.WriteString(rest)
			break
		}
		idx := strings.Index(rest, open)
		if idx < 0 {
			b.WriteString(rest)
			break
		}
		b.WriteString(rest[:idx])
		rest = rest[idx+len(open):]
		*inBlock = true
	}

	code := doubleQuoted.ReplaceAllString(b.String(), `""`)
	if s.rules.singleQuoteStrings {
		code = singleQuoted.ReplaceAllString(code, `''`)
	} else {
		code = charLiteral.ReplaceAllString(code, `' '`)
	}
	code = backQuoted.ReplaceAllString(code, "``")

	for _, marker := range s.rules.lineComments {
		if idx := strings.Index(code, marker); idx >= 0 {
			code = code[:idx]
		}
	}
	return code
}

func indentation(line string) int {
	n := 0
	for _, r := range line {
		switch r {
		case ' ':
			n++
		case '\t':
			n += 4
		default:
			return n
		}
	}
	return n
}

func previousNonBlank(lines []string, i int) int {
	for j := i - 1; j >= 0; j-- {
		if strings.TrimSpace(lines[j]) != "" {
			return j + 1
		}
	}
	return i
}

func isBinary(content []byte) bool {
	limit := len(content)
	if limit > 8000 {
		limit = 8000
	}
	for _, c := range content[:limit] {
		if c == 0 {
			return true
		}
	}
	return false
}
