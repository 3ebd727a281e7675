// Package orchestrator runs full repository scans and pull request
// analyses, wiring the analyzers, the verdict pipeline, persistence, and
// event publishing together.
package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"gatekeeper/internal/churn"
	"gatekeeper/internal/complexity"
	"gatekeeper/internal/config"
	"gatekeeper/internal/depgraph"
	"gatekeeper/internal/events"
	"gatekeeper/internal/metrics"
	"gatekeeper/internal/pipeline"
	"gatekeeper/internal/scm"
	"gatekeeper/internal/slogutil"
	"gatekeeper/internal/store"
)

// ChurnSource answers history queries for one working copy.
type ChurnSource interface {
	AllFilesRecords(ctx context.Context, windowDays int) map[string]churn.Record
}

// GraphSink receives the dependency graph of each scan.
type GraphSink interface {
	Write(ctx context.Context, repoID string, g *depgraph.Graph) error
}

// ProviderFunc returns the source-control provider for a repository.
type ProviderFunc func(repoID string) (scm.Provider, error)

// Deps are the collaborators of an Orchestrator. Store and Providers are
// required; the rest default.
type Deps struct {
	Store     store.Store
	Providers ProviderFunc
	Analyzer  *complexity.Registry
	Pipeline  *pipeline.Pipeline
	Metrics   *metrics.Aggregator
	Events    events.Publisher
	Churn     func(root string) ChurnSource
	Graph     GraphSink
}

// Orchestrator coordinates analysis runs.
type Orchestrator struct {
	cfg       *config.Config
	store     store.Store
	providers ProviderFunc
	analyzer  *complexity.Registry
	pipeline  *pipeline.Pipeline
	metrics   *metrics.Aggregator
	events    events.Publisher
	churn     func(root string) ChurnSource
	graph     GraphSink
	logger    *slog.Logger
	now       func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New builds an orchestrator.
func New(cfg *config.Config, deps Deps, logger *slog.Logger) *Orchestrator {
	logger = slogutil.OrDiscard(logger)
	o := &Orchestrator{
		cfg:       cfg,
		store:     deps.Store,
		providers: deps.Providers,
		analyzer:  deps.Analyzer,
		pipeline:  deps.Pipeline,
		metrics:   deps.Metrics,
		events:    deps.Events,
		churn:     deps.Churn,
		graph:     deps.Graph,
		logger:    logger,
		now:       time.Now,
		locks:     make(map[string]*sync.Mutex),
	}
	if o.providers == nil {
		o.providers = func(repoID string) (scm.Provider, error) {
			return scm.Open(cfg, repoID, logger)
		}
	}
	if o.analyzer == nil {
		o.analyzer = complexity.NewRegistry(logger)
	}
	if o.pipeline == nil {
		o.pipeline = pipeline.New(pipeline.OptionsFromConfig(cfg), pipeline.Deps{
			Analyzer:  o.analyzer,
			Baselines: store.Baselines{Store: deps.Store},
		}, logger)
	}
	if o.metrics == nil {
		o.metrics = metrics.NewAggregator(deps.Store, metrics.OptionsFromConfig(cfg), logger)
	}
	if o.events == nil {
		o.events = events.Discard{}
	}
	if o.churn == nil {
		timeout := time.Duration(cfg.Analysis.GitTimeoutMs) * time.Millisecond
		o.churn = func(root string) ChurnSource {
			return churn.NewMiner(root, churn.WithTimeout(timeout), churn.WithLogger(logger))
		}
	}
	return o
}

// Metrics returns the aggregator used after each run.
func (o *Orchestrator) Metrics() *metrics.Aggregator { return o.metrics }

// repoLock serializes runs against one repository.
func (o *Orchestrator) repoLock(repoID string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	l, ok := o.locks[repoID]
	if !ok {
		l = &sync.Mutex{}
		o.locks[repoID] = l
	}
	return l
}
