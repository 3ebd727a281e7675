package pipeline

import (
	"fmt"
	"strings"
)

// maxReviewFindings caps the findings listed in a review comment.
const maxReviewFindings = 25

// StatusDescription is the one-line summary posted as a commit status.
func StatusDescription(r *Result) string {
	switch r.Status {
	case StatusBlock:
		return truncate(fmt.Sprintf("Blocked: %s", r.BlockReasons[0]), 140)
	case StatusWarn:
		return truncate(fmt.Sprintf("Passed with warnings: %s", r.WarnReasons[0]), 140)
	case StatusPass:
		return fmt.Sprintf("Passed (health %.0f, risk %.0f)", r.HealthScore.Current, r.RiskScore)
	default:
		return "Analysis pending"
	}
}

// ReviewEvent maps a verdict onto a review action.
func ReviewEvent(s Status) string {
	switch s {
	case StatusBlock:
		return "REQUEST_CHANGES"
	case StatusPass:
		return "APPROVE"
	default:
		return "COMMENT"
	}
}

// ReviewBody renders the result as a Markdown review comment.
func ReviewBody(r *Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Gatekeeper verdict: **%s**\n\n", r.Status)

	if r.HealthScore.HasBaseline {
		fmt.Fprintf(&b, "Health score **%.1f** (%+.1f vs. baseline), risk score **%.1f**\n\n",
			r.HealthScore.Current, r.HealthScore.Delta, r.RiskScore)
	} else {
		fmt.Fprintf(&b, "Health score **%.1f** (no baseline yet), risk score **%.1f**\n\n",
			r.HealthScore.Current, r.RiskScore)
	}

	if len(r.BlockReasons) > 0 {
		b.WriteString("### Blocking\n")
		for _, reason := range r.BlockReasons {
			fmt.Fprintf(&b, "- %s\n", reason)
		}
		b.WriteString("\n")
	}
	if len(r.WarnReasons) > 0 {
		b.WriteString("### Warnings\n")
		for _, reason := range r.WarnReasons {
			fmt.Fprintf(&b, "- %s\n", reason)
		}
		b.WriteString("\n")
	}

	b.WriteString("| Layer | Status | Summary |\n|---|---|---|\n")
	for _, l := range r.Layers {
		fmt.Fprintf(&b, "| %s | %s | %s |\n", l.Name, l.Status, strings.ReplaceAll(l.Summary, "|", "\\|"))
	}

	shown := 0
	for _, f := range r.Findings {
		if f.Severity == SeverityInfo || f.Severity == SeverityLow {
			continue
		}
		if shown == 0 {
			b.WriteString("\n### Findings\n")
		}
		if shown == maxReviewFindings {
			b.WriteString("- …\n")
			break
		}
		loc := f.Path
		if f.Line > 0 {
			loc = fmt.Sprintf("%s:%d", f.Path, f.Line)
		}
		fmt.Fprintf(&b, "- **%s** `%s` %s (%s)\n", f.Severity, loc, f.Message, f.Rule)
		shown++
	}
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
