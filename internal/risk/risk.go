// Package risk scores files by complexity scaled with a logarithmically
// damped churn factor.
package risk

import (
	"math"
	"sort"
)

// Category buckets a risk value.
type Category string

const (
	Healthy  Category = "healthy"
	Warning  Category = "warning"
	Critical Category = "critical"
)

const (
	// CriticalThreshold is the exclusive lower bound of Critical.
	CriticalThreshold = 70
	// WarningThreshold is the exclusive lower bound of Warning.
	WarningThreshold = 40
)

// Score is the risk of one file. It must be derived from the complexity
// and churn of the same analysis run.
type Score struct {
	FileID   string   `json:"fileId"`
	Value    int      `json:"value"`
	Category Category `json:"category"`
}

// ChurnFactor is max(1, log10(churn+1)+1).
func ChurnFactor(churn int) float64 {
	if churn < 0 {
		churn = 0
	}
	return math.Max(1, math.Log10(float64(churn+1))+1)
}

// Compute returns round(complexity × ChurnFactor(churn)).
func Compute(complexity, churn int) int {
	if complexity < 0 {
		complexity = 0
	}
	return int(math.Round(float64(complexity) * ChurnFactor(churn)))
}

// Categorize maps a risk value onto its category.
func Categorize(value int) Category {
	switch {
	case value > CriticalThreshold:
		return Critical
	case value > WarningThreshold:
		return Warning
	default:
		return Healthy
	}
}

// New scores one file.
func New(fileID string, complexity, churn int) Score {
	v := Compute(complexity, churn)
	return Score{FileID: fileID, Value: v, Category: Categorize(v)}
}

// TopHotspots returns the scores above threshold, highest first, capped at
// topN (topN <= 0 means no cap).
func TopHotspots(scores []Score, threshold, topN int) []Score {
	out := make([]Score, 0)
	for _, s := range scores {
		if s.Value > threshold {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Value != out[j].Value {
			return out[i].Value > out[j].Value
		}
		return out[i].FileID < out[j].FileID
	})
	if topN > 0 && len(out) > topN {
		out = out[:topN]
	}
	return out
}
