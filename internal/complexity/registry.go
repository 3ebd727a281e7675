package complexity

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"gatekeeper/internal/slogutil"
)

// Strategy is one language analyzer. Implementations may return a
// ParseError; the Registry converts it into a generic fallback report.
type Strategy interface {
	Kind() StrategyKind
	Analyze(ctx context.Context, path string, content []byte) (*ComplexityReport, error)
}

// Registry maps languages to strategies, with the generic estimator as the
// catch-all.
type Registry struct {
	mu         sync.RWMutex
	strategies map[Language]Strategy
	generic    *GenericStrategy
	logger     *slog.Logger
}

// NewRegistry registers the tree-sitter strategy for the primary languages
// (when compiled in) and heuristic scanners for everything else.
func NewRegistry(logger *slog.Logger) *Registry {
	r := &Registry{
		strategies: make(map[Language]Strategy),
		generic:    NewGenericStrategy(),
		logger:     slogutil.OrDiscard(logger),
	}
	for lang := range heuristicRules {
		if IsPrimary(lang) {
			if s := primaryStrategy(lang); s != nil {
				r.strategies[lang] = s
				continue
			}
		}
		if s := NewHeuristicStrategy(lang); s != nil {
			r.strategies[lang] = s
		}
	}
	return r
}

// Register replaces the strategy for lang.
func (r *Registry) Register(lang Language, s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[lang] = s
}

// StrategyFor returns the strategy for lang, or the generic estimator.
func (r *Registry) StrategyFor(lang Language) Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.strategies[lang]; ok {
		return s
	}
	return r.generic
}

// Analyze always returns a report with CyclomaticComplexity >= 1 and a
// maintainability index within [0, 100]. Strategy errors and panics are
// replaced by the generic estimate. Only context cancellation is returned.
func (r *Registry) Analyze(ctx context.Context, path string, content []byte) (*ComplexityReport, error) {
	lang := LanguageFromPath(path)
	strategy := r.StrategyFor(lang)

	report, err := r.run(ctx, strategy, path, content)
	if err == nil && report != nil {
		normalize(report)
		return report, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	reason := "no report"
	if err != nil {
		reason = err.Error()
	}
	if strategy.Kind() != StrategyGeneric {
		r.logger.Debug("complexity fallback",
			"path", path,
			"strategy", string(strategy.Kind()),
			"reason", reason,
		)
	}

	fallback := r.generic.estimate(path, lang, content)
	fallback.Fallback = true
	fallback.FallbackReason = reason
	return fallback, nil
}

// AnalyzeFile reads path from disk and analyzes it under the name fileID.
func (r *Registry) AnalyzeFile(ctx context.Context, path, fileID string) (*ComplexityReport, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return r.Analyze(ctx, fileID, content)
}

func (r *Registry) run(ctx context.Context, s Strategy, path string, content []byte) (report *ComplexityReport, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			report = nil
			err = fmt.Errorf("analyzer panic: %v", rec)
		}
	}()
	return s.Analyze(ctx, path, content)
}

func normalize(r *ComplexityReport) {
	if r.CyclomaticComplexity < 1 {
		r.CyclomaticComplexity = 1
	}
	r.MaintainabilityIndex = clamp(r.MaintainabilityIndex, 0, 100)
	if r.Functions == nil {
		r.Functions = []FunctionMetrics{}
	}
	if r.Dependencies == nil {
		r.Dependencies = []string{}
	}
}
