package pipeline

import (
	"context"
	"fmt"
	"sort"
	"time"

	"gatekeeper/internal/ai"
)

// AILayer asks an external scanner for a semantic review. An absent,
// failing or slow scanner leaves a neutral score and a pending status; the
// verdict is then decided by the other layers.
type AILayer struct {
	Scanner  ai.Scanner
	MaxFiles int
	MaxBytes int
	Timeout  time.Duration
}

// Name returns "ai".
func (l *AILayer) Name() string { return LayerAI }

// Run blocks on BAD and warns on RISKY.
func (l *AILayer) Run(ctx context.Context, in *Input, res *Result) (LayerResult, error) {
	res.Scores.AI = neutralAIScore
	if l.Scanner == nil {
		return LayerResult{Name: LayerAI, Status: LayerSkipped, Score: neutralAIScore, Summary: "semantic scan not configured"}, nil
	}

	files := l.selectFiles(in.Files)
	if len(files) == 0 {
		return LayerResult{Name: LayerAI, Status: LayerSkipped, Score: neutralAIScore, Summary: "no files to scan"}, nil
	}

	scanCtx := ctx
	if l.Timeout > 0 {
		var cancel context.CancelFunc
		scanCtx, cancel = context.WithTimeout(ctx, l.Timeout)
		defer cancel()
	}

	result, err := l.Scanner.Scan(scanCtx, files)
	if err != nil {
		return LayerResult{
			Name:    LayerAI,
			Status:  LayerPending,
			Score:   neutralAIScore,
			Summary: fmt.Sprintf("semantic scan unavailable: %v", err),
			Details: map[string]any{"scanner": l.Scanner.Name()},
		}, nil
	}

	score := round2(result.Score())
	res.Scores.AI = score
	for _, f := range result.Findings {
		res.AddFinding(Finding{
			Layer: LayerAI, Rule: "ai-" + f.Category, Category: f.Category,
			Severity: normalizeSeverity(f.Severity), Path: f.Path, Line: f.Line, Message: f.Message,
		})
	}

	lr := LayerResult{
		Name:    LayerAI,
		Status:  LayerOK,
		Score:   score,
		Summary: fmt.Sprintf("verdict %s", result.Verdict),
		Details: map[string]any{
			"scanner":    l.Scanner.Name(),
			"verdict":    string(result.Verdict),
			"categories": result.Categories,
			"files":      len(files),
		},
	}
	switch result.Verdict {
	case ai.Bad:
		res.Block("ai: semantic scan rated the change BAD" + summarySuffix(result.Summary))
		lr.Status = LayerBlock
	case ai.Risky:
		res.Warn("ai: semantic scan rated the change RISKY" + summarySuffix(result.Summary))
		lr.Status = LayerWarn
	}
	return lr, nil
}

// selectFiles picks the largest changes first, within MaxFiles and a total
// of MaxBytes of content.
func (l *AILayer) selectFiles(changed []ChangedFile) []ai.File {
	candidates := make([]ChangedFile, 0, len(changed))
	for _, f := range changed {
		if !f.Removed() && f.AddedText() != "" {
			candidates = append(candidates, f)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return len(candidates[i].AddedText()) > len(candidates[j].AddedText())
	})

	var out []ai.File
	budget := l.MaxBytes
	for _, f := range candidates {
		if l.MaxFiles > 0 && len(out) >= l.MaxFiles {
			break
		}
		text := f.AddedText()
		if l.MaxBytes > 0 {
			if budget <= 0 {
				break
			}
			if len(text) > budget {
				text = text[:budget]
			}
			budget -= len(text)
		}
		out = append(out, ai.File{Path: f.Path, Content: text})
	}
	return out
}

func normalizeSeverity(s string) Severity {
	switch Severity(s) {
	case SeverityInfo, SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return Severity(s)
	}
	return SeverityMedium
}

func summarySuffix(s string) string {
	if s == "" {
		return ""
	}
	return ": " + s
}
