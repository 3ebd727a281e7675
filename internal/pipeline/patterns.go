package pipeline

import (
	"context"
	"fmt"
)

// SecurityLayer scans added text for risky constructs and inline secrets.
// Any match blocks.
type SecurityLayer struct {
	Rules []Rule
}

// Name returns "security".
func (l *SecurityLayer) Name() string { return LayerSecurity }

// Run records a high-severity finding per match.
func (l *SecurityLayer) Run(ctx context.Context, in *Input, res *Result) (LayerResult, error) {
	hits := 0
	weighted := 0.0
	for _, f := range in.Files {
		if err := ctx.Err(); err != nil {
			return LayerResult{}, err
		}
		if f.Removed() {
			continue
		}
		text := f.AddedText()
		for _, r := range l.Rules {
			if !r.Applies(f.Language) {
				continue
			}
			for _, line := range r.Match(text) {
				hits++
				sev, weight := SeverityHigh, 50.0
				if r.Severity == SeverityCritical {
					sev, weight = SeverityCritical, 100
				}
				weighted += weight
				res.AddFinding(Finding{
					Layer: LayerSecurity, Rule: r.ID, Category: "security", Severity: sev,
					Path: f.Path, Line: line, Message: r.Message,
				})
				res.Block(fmt.Sprintf("security: %s in %s (%s)", r.Message, f.Path, r.ID))
			}
		}
	}

	res.Scores.Security = clampScore(weighted)
	lr := LayerResult{
		Name:    LayerSecurity,
		Status:  LayerOK,
		Score:   res.Scores.Security,
		Summary: fmt.Sprintf("%d security matches", hits),
		Details: map[string]any{"matches": hits},
	}
	if hits > 0 {
		lr.Status = LayerBlock
	}
	return lr, nil
}

// SmellLayer counts maintainability markers. It can only warn.
type SmellLayer struct {
	Rules         []Rule
	WarnThreshold int
}

// Name returns "smells".
func (l *SmellLayer) Name() string { return LayerSmells }

// Run warns when the smell count reaches WarnThreshold.
func (l *SmellLayer) Run(ctx context.Context, in *Input, res *Result) (LayerResult, error) {
	count := 0
	byRule := map[string]int{}
	for _, f := range in.Files {
		if err := ctx.Err(); err != nil {
			return LayerResult{}, err
		}
		if f.Removed() {
			continue
		}
		text := f.AddedText()
		for _, r := range l.Rules {
			if !r.Applies(f.Language) {
				continue
			}
			for _, line := range r.Match(text) {
				count++
				byRule[r.ID]++
				res.AddFinding(Finding{
					Layer: LayerSmells, Rule: r.ID, Category: r.Category, Severity: SeverityLow,
					Path: f.Path, Line: line, Message: r.Message,
				})
			}
		}
	}

	res.Scores.Smells = clampScore(float64(count) * 10)
	lr := LayerResult{
		Name:    LayerSmells,
		Status:  LayerOK,
		Score:   res.Scores.Smells,
		Summary: fmt.Sprintf("%d code smells", count),
		Details: map[string]any{"count": count, "byRule": byRule},
	}
	if l.WarnThreshold > 0 && count >= l.WarnThreshold {
		res.Warn(fmt.Sprintf("smells: %d code smells reach the threshold of %d", count, l.WarnThreshold))
		lr.Status = LayerWarn
	}
	return lr, nil
}
