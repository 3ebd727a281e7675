// Package ai defines the semantic-scan capability consumed by the verdict
// pipeline and an OpenAI-backed implementation of it.
package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Verdict is the scanner's overall classification.
type Verdict string

const (
	Good  Verdict = "GOOD"
	Risky Verdict = "RISKY"
	Bad   Verdict = "BAD"
)

// File is one changed file submitted for review.
type File struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// Finding is one issue reported by the scanner.
type Finding struct {
	Path     string `json:"path"`
	Line     int    `json:"line,omitempty"`
	Category string `json:"category"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

// Result is the structured answer of a scan. Category scores are 0..100,
// higher is healthier.
type Result struct {
	Verdict    Verdict            `json:"verdict"`
	Categories map[string]float64 `json:"categories"`
	Findings   []Finding          `json:"findings"`
	Summary    string             `json:"summary,omitempty"`
}

// Score is the mean category score, or 50 when there are none.
func (r *Result) Score() float64 {
	if len(r.Categories) == 0 {
		return 50
	}
	var sum float64
	for _, v := range r.Categories {
		sum += v
	}
	return sum / float64(len(r.Categories))
}

// Scanner reviews a bounded set of files.
type Scanner interface {
	Name() string
	Scan(ctx context.Context, files []File) (*Result, error)
}

// ParseResult decodes a model response. Markdown code fences around the
// JSON object are tolerated.
func ParseResult(text string) (*Result, error) {
	text = strings.TrimSpace(text)
	if start := strings.Index(text, "{"); start >= 0 {
		if end := strings.LastIndex(text, "}"); end > start {
			text = text[start : end+1]
		}
	}

	var r Result
	if err := json.Unmarshal([]byte(text), &r); err != nil {
		return nil, fmt.Errorf("invalid scan response: %w", err)
	}
	r.Verdict = Verdict(strings.ToUpper(strings.TrimSpace(string(r.Verdict))))
	switch r.Verdict {
	case Good, Risky, Bad:
	default:
		return nil, fmt.Errorf("invalid scan verdict %q", r.Verdict)
	}
	if r.Categories == nil {
		r.Categories = map[string]float64{}
	}
	for k, v := range r.Categories {
		if v < 0 {
			r.Categories[k] = 0
		} else if v > 100 {
			r.Categories[k] = 100
		}
	}
	return &r, nil
}
