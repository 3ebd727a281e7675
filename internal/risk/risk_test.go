package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompute(t *testing.T) {
	tests := []struct {
		name              string
		complexity, churn int
		want              int
	}{
		{"no churn keeps complexity", 10, 0, 10},
		{"nine commits doubles", 10, 9, 20},
		{"ninety-nine commits triples", 10, 99, 30},
		{"rounded", 7, 3, 11},
		{"negative inputs clamp", -5, -3, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Compute(tt.complexity, tt.churn))
		})
	}
}

func TestComputeMonotonic(t *testing.T) {
	for cc := 1; cc <= 60; cc++ {
		for churn := 0; churn <= 200; churn++ {
			assert.LessOrEqual(t, Compute(cc, churn), Compute(cc+1, churn))
			assert.LessOrEqual(t, Compute(cc, churn), Compute(cc, churn+1))
		}
	}
}

func TestCategorize(t *testing.T) {
	assert.Equal(t, Healthy, Categorize(40))
	assert.Equal(t, Warning, Categorize(41))
	assert.Equal(t, Warning, Categorize(70))
	assert.Equal(t, Critical, Categorize(71))
}

func TestNew(t *testing.T) {
	s := New("a.js", 40, 9)
	assert.Equal(t, Score{FileID: "a.js", Value: 80, Category: Critical}, s)
}

func TestTopHotspots(t *testing.T) {
	scores := []Score{
		{FileID: "a", Value: 90}, {FileID: "b", Value: 71}, {FileID: "c", Value: 70},
		{FileID: "d", Value: 150}, {FileID: "e", Value: 90},
	}
	got := TopHotspots(scores, 70, 3)
	assert.Equal(t, []string{"d", "a", "e"}, ids(got))
	assert.Len(t, TopHotspots(scores, 70, 0), 4)
}

func ids(scores []Score) []string {
	out := make([]string, len(scores))
	for i, s := range scores {
		out[i] = s.FileID
	}
	return out
}
