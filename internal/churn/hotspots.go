package churn

import "sort"

// Hotspot is a file that is both frequently changed and complex.
type Hotspot struct {
	Path       string `json:"path"`
	Churn      int    `json:"churn"`
	Complexity int    `json:"complexity"`
	Score      int    `json:"score"`
}

// IdentifyHotspots returns the paths where churn exceeds churnThreshold and
// complexity exceeds complexityThreshold, sorted by churn × complexity,
// highest first.
func IdentifyHotspots(churn, complexity map[string]int, churnThreshold, complexityThreshold int) []Hotspot {
	out := make([]Hotspot, 0)
	for path, c := range churn {
		cc, ok := complexity[path]
		if !ok || c <= churnThreshold || cc <= complexityThreshold {
			continue
		}
		out = append(out, Hotspot{Path: path, Churn: c, Complexity: cc, Score: c * cc})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Path < out[j].Path
	})
	return out
}
