package pipeline

import (
	"fmt"
	"math"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"gatekeeper/internal/complexity"
	"gatekeeper/internal/errors"
)

// Rule is a pattern rule used by the security and smell layers.
type Rule struct {
	ID       string
	Category string
	Severity Severity
	Pattern  *regexp.Regexp
	Message  string
	// Languages restricts the rule; empty means every language.
	Languages []complexity.Language
	// MinEntropy, when set, requires the first capture group to be at least
	// this random (Shannon bits per character).
	MinEntropy float64
}

// Applies reports whether the rule covers lang.
func (r Rule) Applies(lang complexity.Language) bool {
	if len(r.Languages) == 0 {
		return true
	}
	for _, l := range r.Languages {
		if l == lang {
			return true
		}
	}
	return false
}

// Match returns the 1-based line numbers of lines matching the rule.
func (r Rule) Match(text string) []int {
	var lines []int
	for i, line := range strings.Split(text, "\n") {
		m := r.Pattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		if r.MinEntropy > 0 && len(m) > 1 && ShannonEntropy(m[1]) < r.MinEntropy {
			continue
		}
		lines = append(lines, i+1)
	}
	return lines
}

// RuleSet groups the rules of the pattern layers.
type RuleSet struct {
	Security []Rule
	Smells   []Rule
}

var (
	js     = []complexity.Language{complexity.LangJavaScript, complexity.LangTypeScript, complexity.LangTSX}
	python = []complexity.Language{complexity.LangPython}
)

// DefaultRules returns the built-in security and smell rules.
func DefaultRules() *RuleSet {
	return &RuleSet{
		Security: []Rule{
			{ID: "dynamic-eval", Category: "code-execution", Severity: SeverityHigh, Pattern: regexp.MustCompile(`\beval\s*\(`), Message: "dynamic code execution with eval()"},
			{ID: "function-constructor", Category: "code-execution", Severity: SeverityHigh, Pattern: regexp.MustCompile(`\bnew\s+Function\s*\(`), Message: "dynamic code execution with new Function()", Languages: js},
			{ID: "string-timer", Category: "code-execution", Severity: SeverityHigh, Pattern: regexp.MustCompile(`\bset(?:Timeout|Interval)\s*\(\s*["'` + "`" + `]`), Message: "string passed to a timer is evaluated as code", Languages: js},
			{ID: "child-process-exec", Category: "command-injection", Severity: SeverityHigh, Pattern: regexp.MustCompile(`\b(?:child_process|execSync|exec)\s*\(\s*[^"'` + "`" + `)]*\+`), Message: "shell command built by string concatenation", Languages: js},
			{ID: "python-exec", Category: "code-execution", Severity: SeverityHigh, Pattern: regexp.MustCompile(`\bexec\s*\(`), Message: "dynamic code execution with exec()", Languages: python},
			{ID: "shell-true", Category: "command-injection", Severity: SeverityHigh, Pattern: regexp.MustCompile(`\bshell\s*=\s*True\b`), Message: "subprocess invoked through the shell", Languages: python},
			{ID: "os-system", Category: "command-injection", Severity: SeverityHigh, Pattern: regexp.MustCompile(`\bos\.system\s*\(`), Message: "shell command via os.system", Languages: python},
			{ID: "unsafe-deserialize", Category: "deserialization", Severity: SeverityHigh, Pattern: regexp.MustCompile(`\b(?:pickle\.loads?|yaml\.load)\s*\(`), Message: "unsafe deserialization", Languages: python},
			{ID: "inner-html", Category: "html-injection", Severity: SeverityHigh, Pattern: regexp.MustCompile(`\.(?:innerHTML|outerHTML)\s*\+?=`), Message: "raw HTML assignment", Languages: js},
			{ID: "dangerously-set-inner-html", Category: "html-injection", Severity: SeverityHigh, Pattern: regexp.MustCompile(`dangerouslySetInnerHTML`), Message: "raw HTML injection through dangerouslySetInnerHTML", Languages: js},
			{ID: "document-write", Category: "html-injection", Severity: SeverityHigh, Pattern: regexp.MustCompile(`\bdocument\.write(?:ln)?\s*\(`), Message: "raw HTML injection through document.write", Languages: js},
			{ID: "insert-adjacent-html", Category: "html-injection", Severity: SeverityHigh, Pattern: regexp.MustCompile(`\.insertAdjacentHTML\s*\(`), Message: "raw HTML injection through insertAdjacentHTML", Languages: js},

			{ID: "aws-access-key", Category: "secret", Severity: SeverityCritical, Pattern: regexp.MustCompile(`(?:^|[^A-Z0-9])((?:AKIA|ASIA|ABIA|ACCA)[A-Z0-9]{16})(?:[^A-Z0-9]|$)`), Message: "AWS access key ID"},
			{ID: "github-token", Category: "secret", Severity: SeverityCritical, Pattern: regexp.MustCompile(`(?:ghp|gho|ghu|ghs|ghr)_[A-Za-z0-9]{36,}|github_pat_[A-Za-z0-9]{22}_[A-Za-z0-9]{59}`), Message: "GitHub token"},
			{ID: "stripe-live-key", Category: "secret", Severity: SeverityCritical, Pattern: regexp.MustCompile(`(?:sk|rk)_live_[A-Za-z0-9]{24,}`), Message: "Stripe live key"},
			{ID: "slack-token", Category: "secret", Severity: SeverityCritical, Pattern: regexp.MustCompile(`xox[bpa]-[0-9]{10,13}-[0-9A-Za-z-]{20,}`), Message: "Slack token"},
			{ID: "private-key", Category: "secret", Severity: SeverityCritical, Pattern: regexp.MustCompile(`-----BEGIN (?:RSA |EC |DSA |OPENSSH |PGP )?PRIVATE KEY(?: BLOCK)?-----`), Message: "private key"},
			{ID: "google-api-key", Category: "secret", Severity: SeverityCritical, Pattern: regexp.MustCompile(`AIza[A-Za-z0-9_-]{35}`), Message: "Google API key"},
			{ID: "npm-token", Category: "secret", Severity: SeverityCritical, Pattern: regexp.MustCompile(`npm_[A-Za-z0-9]{36}`), Message: "npm token"},
			{ID: "generic-api-key", Category: "secret", Severity: SeverityHigh, Pattern: regexp.MustCompile(`(?i)(?:api[_-]?key|apikey)['":\s=]+['"]([A-Za-z0-9_\-]{20,64})['"]`), Message: "hard-coded API key", MinEntropy: 3.5},
			{ID: "generic-secret", Category: "secret", Severity: SeverityHigh, Pattern: regexp.MustCompile(`(?i)(?:secret|password|passwd|token)['":\s=]+['"]([A-Za-z0-9!@#$%^&*()_+\-=]{8,64})['"]`), Message: "hard-coded secret", MinEntropy: 3.0},
			{ID: "password-in-url", Category: "secret", Severity: SeverityHigh, Pattern: regexp.MustCompile(`[a-z]+://[^:/\s]+:([^@\s]{3,})@[^/\s]+`), Message: "credentials embedded in URL", MinEntropy: 2.5},
		},
		Smells: []Rule{
			{ID: "todo-marker", Category: "maintainability", Severity: SeverityLow, Pattern: regexp.MustCompile(`\b(?:TODO|FIXME|HACK|XXX)\b`), Message: "unresolved TODO/FIXME/HACK marker"},
			{ID: "console-debug", Category: "debug", Severity: SeverityLow, Pattern: regexp.MustCompile(`\bconsole\.(?:log|debug|trace|dir)\s*\(`), Message: "console debugging statement", Languages: js},
			{ID: "debugger", Category: "debug", Severity: SeverityLow, Pattern: regexp.MustCompile(`^\s*debugger\s*;?\s*$`), Message: "debugger statement", Languages: js},
			{ID: "python-print", Category: "debug", Severity: SeverityLow, Pattern: regexp.MustCompile(`^\s*print\s*\(`), Message: "print statement", Languages: python},
			{ID: "python-breakpoint", Category: "debug", Severity: SeverityLow, Pattern: regexp.MustCompile(`\b(?:breakpoint\(\)|pdb\.set_trace\(\))`), Message: "breakpoint left in code", Languages: python},
			{ID: "go-debug-print", Category: "debug", Severity: SeverityLow, Pattern: regexp.MustCompile(`\bfmt\.Print(?:ln|f)?\s*\(`), Message: "debug print", Languages: []complexity.Language{complexity.LangGo}},
			{ID: "java-stdout", Category: "debug", Severity: SeverityLow, Pattern: regexp.MustCompile(`System\.(?:out|err)\.print`), Message: "stdout debugging", Languages: []complexity.Language{complexity.LangJava, complexity.LangKotlin}},
		},
	}
}

// ShannonEntropy returns the bits per character of s.
func ShannonEntropy(s string) float64 {
	if s == "" {
		return 0
	}
	freq := make(map[rune]int)
	n := 0
	for _, r := range s {
		freq[r]++
		n++
	}
	var e float64
	for _, c := range freq {
		p := float64(c) / float64(n)
		e -= p * math.Log2(p)
	}
	return e
}

type ruleFile struct {
	Security []ruleSpec `yaml:"security"`
	Smells   []ruleSpec `yaml:"smells"`
}

type ruleSpec struct {
	ID         string   `yaml:"id"`
	Category   string   `yaml:"category"`
	Severity   string   `yaml:"severity"`
	Pattern    string   `yaml:"pattern"`
	Message    string   `yaml:"message"`
	Languages  []string `yaml:"languages"`
	MinEntropy float64  `yaml:"minEntropy"`
}

// LoadRules reads a YAML rule pack and appends its rules to the built-in
// set. Security rules are always at least high severity.
func LoadRules(path string) (*RuleSet, error) {
	rs := DefaultRules()
	if path == "" {
		return rs, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewConfigurationError("failed to read rules file "+path, err)
	}
	return mergeRules(rs, data)
}

func mergeRules(rs *RuleSet, data []byte) (*RuleSet, error) {
	var rf ruleFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, errors.NewConfigurationError("invalid rules file", err)
	}
	for _, spec := range rf.Security {
		r, err := spec.compile("security")
		if err != nil {
			return nil, err
		}
		if r.Severity != SeverityCritical {
			r.Severity = SeverityHigh
		}
		rs.Security = append(rs.Security, r)
	}
	for _, spec := range rf.Smells {
		r, err := spec.compile("maintainability")
		if err != nil {
			return nil, err
		}
		rs.Smells = append(rs.Smells, r)
	}
	return rs, nil
}

func (s ruleSpec) compile(defaultCategory string) (Rule, error) {
	if s.ID == "" || s.Pattern == "" {
		return Rule{}, errors.NewConfigurationError("rule needs an id and a pattern", nil)
	}
	re, err := regexp.Compile(s.Pattern)
	if err != nil {
		return Rule{}, errors.NewConfigurationError(fmt.Sprintf("rule %s has an invalid pattern", s.ID), err)
	}
	r := Rule{
		ID:         s.ID,
		Category:   s.Category,
		Severity:   Severity(strings.ToLower(s.Severity)),
		Pattern:    re,
		Message:    s.Message,
		MinEntropy: s.MinEntropy,
	}
	if r.Category == "" {
		r.Category = defaultCategory
	}
	if r.Severity == "" {
		r.Severity = SeverityLow
	}
	if r.Message == "" {
		r.Message = s.ID
	}
	for _, l := range s.Languages {
		r.Languages = append(r.Languages, complexity.Language(strings.ToLower(l)))
	}
	return r, nil
}
