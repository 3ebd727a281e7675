package main

import (
	"context"
	"log/slog"
	"strings"

	"gatekeeper/internal/ai"
	"gatekeeper/internal/complexity"
	"gatekeeper/internal/config"
	"gatekeeper/internal/depgraph"
	"gatekeeper/internal/events"
	"gatekeeper/internal/jobs"
	"gatekeeper/internal/orchestrator"
	"gatekeeper/internal/pipeline"
	"gatekeeper/internal/store"
)

// app holds the services a command needs. Fields a command did not ask for
// stay nil.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	store  store.Store
	bus    *events.Bus
	orch   *orchestrator.Orchestrator
	queues *jobs.Registry
	sink   *depgraph.Neo4jSink
}

type appOptions struct {
	// queues opens the job queue registry.
	queues bool
	// graph connects the Neo4j sink when one is configured.
	graph bool
}

func openApp(ctx context.Context, opts appOptions) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg)
	a := &app{cfg: cfg, logger: logger}

	a.store, err = store.Open(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.bus = events.NewBus(256, logger)

	analyzer := complexity.NewRegistry(logger)
	rules, err := pipeline.LoadRules(cfg.Pipeline.RulesFile)
	if err != nil {
		a.close(ctx)
		return nil, err
	}
	pl := pipeline.New(pipeline.OptionsFromConfig(cfg), pipeline.Deps{
		Analyzer:  analyzer,
		Baselines: store.Baselines{Store: a.store},
		Scanner:   newScanner(cfg, logger),
		Rules:     rules,
	}, logger)

	deps := orchestrator.Deps{
		Store:    a.store,
		Analyzer: analyzer,
		Pipeline: pl,
		Events:   a.bus,
	}
	if opts.graph && cfg.Graph.Neo4jURI != "" {
		sink, err := depgraph.NewNeo4jSink(ctx, depgraph.Neo4jConfig{
			URI:      cfg.Graph.Neo4jURI,
			Username: cfg.Graph.Neo4jUser,
			Password: cfg.Graph.Neo4jPassword,
			Database: cfg.Graph.Neo4jDatabase,
		})
		if err != nil {
			logger.Warn("neo4j graph sink unavailable", "error", err.Error())
		} else {
			a.sink = sink
			deps.Graph = sink
		}
	}
	a.orch = orchestrator.New(cfg, deps, logger)

	if opts.queues {
		a.queues, err = jobs.Open(ctx, cfg, logger)
		if err != nil {
			a.close(ctx)
			return nil, err
		}
	}
	return a, nil
}

// newScanner returns the configured semantic scanner, or nil when none is.
func newScanner(cfg *config.Config, logger *slog.Logger) ai.Scanner {
	switch strings.ToLower(cfg.AI.Provider) {
	case "openai":
		if cfg.AI.APIKey == "" {
			logger.Warn("ai.provider is openai but no API key is set, semantic scan disabled")
			return nil
		}
		return ai.NewOpenAIScanner(ai.OpenAIConfig{
			APIKey:  cfg.AI.APIKey,
			BaseURL: cfg.AI.BaseURL,
			Model:   cfg.AI.Model,
		}, logger)
	default:
		return nil
	}
}

func (a *app) close(ctx context.Context) {
	if a.queues != nil {
		if err := a.queues.CloseAll(ctx); err != nil {
			a.logger.Warn("failed to close job queues", "error", err.Error())
		}
	}
	if a.sink != nil {
		if err := a.sink.Close(ctx); err != nil {
			a.logger.Warn("failed to close graph sink", "error", err.Error())
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("failed to close store", "error", err.Error())
		}
	}
}
