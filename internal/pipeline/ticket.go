package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// TicketLayer compares changed paths with the linked work item.
type TicketLayer struct {
	MinAlignment float64
}

// Name returns "ticket".
func (l *TicketLayer) Name() string { return LayerTicket }

var stopTokens = map[string]bool{
	"src": true, "lib": true, "app": true, "index": true, "main": true, "test": true, "tests": true,
	"spec": true, "internal": true, "pkg": true, "cmd": true, "the": true, "and": true, "for": true,
	"with": true, "from": true, "this": true, "that": true,
	"js": true, "jsx": true, "ts": true, "tsx": true, "py": true, "go": true, "java": true, "rb": true,
}

var tokenSplit = regexp.MustCompile(`[^A-Za-z0-9]+`)

// Run scores the share of changed files whose path relates to the ticket.
// Without a ticket the change is aligned with full confidence.
func (l *TicketLayer) Run(_ context.Context, in *Input, res *Result) (LayerResult, error) {
	if in.Ticket == nil {
		return LayerResult{
			Name: LayerTicket, Status: LayerOK, Score: 1,
			Summary: "no linked ticket",
			Details: map[string]any{"alignment": 1.0, "confidence": 1.0},
		}, nil
	}

	t := in.Ticket
	vocab := map[string]bool{}
	for _, tok := range tokens(t.Title + " " + t.Description) {
		vocab[tok] = true
	}
	for _, p := range t.Paths {
		for _, tok := range tokens(p) {
			vocab[tok] = true
		}
	}

	total, aligned := 0, 0
	var unrelated []string
	for _, f := range in.Files {
		total++
		if pathAligned(f.Path, t.Paths, vocab) {
			aligned++
		} else {
			unrelated = append(unrelated, f.Path)
		}
	}

	alignment := 1.0
	if total > 0 {
		alignment = float64(aligned) / float64(total)
	}
	confidence := 0.7
	if len(t.Paths) > 0 {
		confidence = 1.0
	} else if len(vocab) < 3 {
		confidence = 0.4
	}

	lr := LayerResult{
		Name:    LayerTicket,
		Status:  LayerOK,
		Score:   round2(alignment),
		Summary: fmt.Sprintf("%d of %d files relate to %s", aligned, total, t.ID),
		Details: map[string]any{
			"ticket":     t.ID,
			"alignment":  round2(alignment),
			"confidence": confidence,
			"unrelated":  unrelated,
		},
	}
	if alignment < l.MinAlignment {
		res.Warn(fmt.Sprintf("ticket: only %.0f%% of changed files relate to %s", alignment*100, t.ID))
		res.AddFinding(Finding{
			Layer: LayerTicket, Rule: "ticket-alignment", Category: "scope", Severity: SeverityMedium,
			Message: fmt.Sprintf("changes look unrelated to ticket %s", t.ID),
		})
		lr.Status = LayerWarn
	}
	return lr, nil
}

func pathAligned(path string, ticketPaths []string, vocab map[string]bool) bool {
	for _, p := range ticketPaths {
		p = strings.TrimSuffix(p, "/")
		if p != "" && (path == p || strings.HasPrefix(path, p+"/")) {
			return true
		}
	}
	for _, tok := range tokens(path) {
		if vocab[tok] {
			return true
		}
	}
	return false
}

// tokens splits text into lower-case words, breaking camelCase, and drops
// short and generic words.
func tokens(text string) []string {
	var out []string
	for _, part := range tokenSplit.Split(text, -1) {
		for _, w := range splitCamel(part) {
			w = strings.ToLower(w)
			if len(w) < 3 || stopTokens[w] {
				continue
			}
			out = append(out, w)
			if strings.HasSuffix(w, "s") && len(w) > 3 {
				out = append(out, strings.TrimSuffix(w, "s"))
			}
		}
	}
	return out
}

func splitCamel(s string) []string {
	var words []string
	start := 0
	runes := []rune(s)
	for i := 1; i < len(runes); i++ {
		if unicode.IsUpper(runes[i]) && !unicode.IsUpper(runes[i-1]) {
			words = append(words, string(runes[start:i]))
			start = i
		}
	}
	if start < len(runes) {
		words = append(words, string(runes[start:]))
	}
	return words
}
