package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"gatekeeper/internal/ai"
	"gatekeeper/internal/complexity"
	"gatekeeper/internal/config"
	"gatekeeper/internal/slogutil"
)

// Risk blend weights.
const (
	weightComplexity = 0.30
	weightLint       = 0.20
	weightSecurity   = 0.35
	weightSmells     = 0.15
)

// neutralAIScore is used when the semantic scan is unavailable.
const neutralAIScore = 50

// Layer names.
const (
	LayerLint     = "lint"
	LayerRatchet  = "complexity"
	LayerSecurity = "security"
	LayerSmells   = "smells"
	LayerTicket   = "ticket"
	LayerAI       = "ai"
)

// Layer is one stage of the pipeline. A layer reads the input, records
// findings, block and warn reasons on res, and reports its own outcome.
type Layer interface {
	Name() string
	Run(ctx context.Context, in *Input, res *Result) (LayerResult, error)
}

// Options are the pipeline thresholds.
type Options struct {
	MaxLintErrors      int
	LintWarnThreshold  int
	MaxComplexity      int
	DeltaFloor         float64
	SmellWarnThreshold int
	MinTicketAlignment float64
	AIMaxFiles         int
	AIMaxBytes         int
	AITimeout          time.Duration
}

// DefaultOptions returns the stock thresholds.
func DefaultOptions() Options {
	return Options{
		MaxLintErrors:      5,
		LintWarnThreshold:  20,
		MaxComplexity:      25,
		DeltaFloor:         -20,
		SmellWarnThreshold: 5,
		MinTicketAlignment: 0.3,
		AIMaxFiles:         10,
		AIMaxBytes:         60000,
		AITimeout:          30 * time.Second,
	}
}

// OptionsFromConfig maps configuration onto Options.
func OptionsFromConfig(cfg *config.Config) Options {
	o := DefaultOptions()
	p := cfg.Pipeline
	o.MaxLintErrors = p.MaxLintErrors
	o.LintWarnThreshold = p.LintWarnThreshold
	o.MaxComplexity = p.MaxComplexity
	o.DeltaFloor = p.DeltaFloor
	o.SmellWarnThreshold = p.SmellWarnThreshold
	o.MinTicketAlignment = p.MinTicketAlignment
	if cfg.AI.MaxFiles > 0 {
		o.AIMaxFiles = cfg.AI.MaxFiles
	}
	if cfg.AI.MaxBytes > 0 {
		o.AIMaxBytes = cfg.AI.MaxBytes
	}
	if cfg.AI.TimeoutSec > 0 {
		o.AITimeout = time.Duration(cfg.AI.TimeoutSec) * time.Second
	}
	return o
}

// Deps are the collaborators of the built-in layers. Any of them may be nil.
type Deps struct {
	Analyzer  *complexity.Registry
	Baselines BaselineSource
	Linter    Linter
	Scanner   ai.Scanner
	Rules     *RuleSet
}

// Pipeline runs its layers in order.
type Pipeline struct {
	layers []Layer
	logger *slog.Logger
}

// New builds the standard six-layer pipeline.
func New(opts Options, deps Deps, logger *slog.Logger) *Pipeline {
	if deps.Analyzer == nil {
		deps.Analyzer = complexity.NewRegistry(logger)
	}
	if deps.Linter == nil {
		deps.Linter = NewBuiltinLinter()
	}
	rules := deps.Rules
	if rules == nil {
		rules = DefaultRules()
	}
	return NewWithLayers(logger,
		&LintLayer{Linter: deps.Linter, MaxErrors: opts.MaxLintErrors, WarnThreshold: opts.LintWarnThreshold},
		&RatchetLayer{Analyzer: deps.Analyzer, Baselines: deps.Baselines, MaxComplexity: opts.MaxComplexity, DeltaFloor: opts.DeltaFloor},
		&SecurityLayer{Rules: rules.Security},
		&SmellLayer{Rules: rules.Smells, WarnThreshold: opts.SmellWarnThreshold},
		&TicketLayer{MinAlignment: opts.MinTicketAlignment},
		&AILayer{Scanner: deps.Scanner, MaxFiles: opts.AIMaxFiles, MaxBytes: opts.AIMaxBytes, Timeout: opts.AITimeout},
	)
}

// NewWithLayers builds a pipeline from explicit layers.
func NewWithLayers(logger *slog.Logger, layers ...Layer) *Pipeline {
	return &Pipeline{layers: layers, logger: slogutil.OrDiscard(logger)}
}

// Layers returns the layer names in run order.
func (p *Pipeline) Layers() []string {
	names := make([]string, len(p.layers))
	for i, l := range p.layers {
		names[i] = l.Name()
	}
	return names
}

// Run executes every layer and always returns a terminal verdict. A layer
// that fails or panics is recorded as an error and the run continues.
func (p *Pipeline) Run(ctx context.Context, in *Input) *Result {
	res := &Result{
		RepoID:       in.RepoID,
		PRNumber:     in.PRNumber,
		HeadSHA:      in.HeadSHA,
		Status:       StatusPending,
		HealthScore:  HealthScore{Current: 100},
		Scores:       Scores{AI: neutralAIScore},
		Layers:       make([]LayerResult, 0, len(p.layers)),
		Findings:     make([]Finding, 0),
		BlockReasons: make([]string, 0),
		WarnReasons:  make([]string, 0),
	}

	for _, layer := range p.layers {
		start := time.Now()
		lr, err := p.runLayer(ctx, layer, in, res)
		if err != nil {
			p.logger.Warn("pipeline layer failed",
				"layer", layer.Name(),
				"repo", in.RepoID,
				"pr", in.PRNumber,
				"error", err.Error(),
			)
			lr = LayerResult{Name: layer.Name(), Status: LayerError, Summary: err.Error()}
			res.AddFinding(Finding{
				Layer:    layer.Name(),
				Rule:     "layer-error",
				Category: "pipeline",
				Severity: SeverityInfo,
				Message:  fmt.Sprintf("%s layer did not complete: %v", layer.Name(), err),
			})
		}
		if lr.Name == "" {
			lr.Name = layer.Name()
		}
		res.Layers = append(res.Layers, lr)
		p.logger.Debug("pipeline layer done",
			"layer", layer.Name(),
			"status", string(lr.Status),
			"duration", time.Since(start).String(),
		)
	}

	finalize(res)
	return res
}

func (p *Pipeline) runLayer(ctx context.Context, l Layer, in *Input, res *Result) (lr LayerResult, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return l.Run(ctx, in, res)
}

// finalize blends the risk score and derives the verdict. Block reasons
// take precedence over warnings regardless of the order they were added.
func finalize(res *Result) {
	s := res.Scores
	res.RiskScore = round2(weightComplexity*s.Complexity +
		weightLint*s.Lint +
		weightSecurity*s.Security +
		weightSmells*s.Smells)

	switch {
	case len(res.BlockReasons) > 0:
		res.Status = StatusBlock
	case len(res.WarnReasons) > 0:
		res.Status = StatusWarn
	default:
		res.Status = StatusPass
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func clampScore(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}
