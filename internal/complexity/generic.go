package complexity

import (
	"context"
	"regexp"
)

// genericControlFlow matches control-flow keywords across most languages.
var genericControlFlow = regexp.MustCompile(`\b(?:if|elif|elsif|for|foreach|while|until|unless|case|when|catch|except|rescue)\b|&&|\|\||\s\?\s`)

// GenericStrategy is the catch-all estimator:
// complexity = max(controlFlowMatches, floor(LOC/20)), at least 1.
type GenericStrategy struct{}

// NewGenericStrategy returns the generic estimator.
func NewGenericStrategy() *GenericStrategy { return &GenericStrategy{} }

// Kind returns StrategyGeneric.
func (GenericStrategy) Kind() StrategyKind { return StrategyGeneric }

// Analyze never returns an error.
func (g GenericStrategy) Analyze(_ context.Context, path string, content []byte) (*ComplexityReport, error) {
	return g.estimate(path, LanguageFromPath(path), content), nil
}

func (GenericStrategy) estimate(path string, lang Language, content []byte) *ComplexityReport {
	text := string(content)
	loc := CountLOC(text)

	cc := len(genericControlFlow.FindAllStringIndex(text, -1))
	if bySize := loc / 20; bySize > cc {
		cc = bySize
	}
	if cc < 1 {
		cc = 1
	}

	return &ComplexityReport{
		FileID:               path,
		Language:             lang,
		CyclomaticComplexity: cc,
		MaintainabilityIndex: MaintainabilityIndex(loc, cc),
		LOC:                  loc,
		Functions:            []FunctionMetrics{},
		Dependencies:         []string{},
		Strategy:             StrategyGeneric,
	}
}
