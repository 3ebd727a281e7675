//go:build !cgo

package complexity

// primaryStrategy is unavailable without cgo; primary-language files are
// served by the heuristic scanner instead.
func primaryStrategy(Language) Strategy { return nil }
