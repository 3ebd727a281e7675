package complexity

import (
	"math"
	"strings"
)

// MaintainabilityIndex computes
// clamp(171 - 5.2*ln(V) - 0.23*CC - 16.2*ln(LOC), 0, 100)
// where V = LOC * log2(max(1, CC)) approximates Halstead volume.
func MaintainabilityIndex(loc, cc int) float64 {
	if loc < 1 {
		loc = 1
	}
	if cc < 1 {
		cc = 1
	}
	volume := float64(loc) * math.Log2(math.Max(1, float64(cc)))
	// ln(0) is undefined; a single-path file has no information volume to penalize.
	if volume < 1 {
		volume = 1
	}
	mi := 171 - 5.2*math.Log(volume) - 0.23*float64(cc) - 16.2*math.Log(float64(loc))
	return clamp(mi, 0, 100)
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}

// CountLOC returns the number of physical lines in content.
// A trailing newline does not start a new line.
func CountLOC(content string) int {
	if content == "" {
		return 0
	}
	n := strings.Count(content, "\n")
	if !strings.HasSuffix(content, "\n") {
		n++
	}
	return n
}

// splitLines splits content into physical lines without the trailing empty line.
func splitLines(content string) []string {
	lines := strings.Split(content, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
