package jobs

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"gatekeeper/internal/config"
	"gatekeeper/internal/errors"
	"gatekeeper/internal/slogutil"
)

// DefaultQueue is the queue analysis jobs run on.
const DefaultQueue = "analysis"

// Backends
const (
	BackendAuto      = "auto"
	BackendDurable   = "durable"
	BackendEphemeral = "ephemeral"
)

// Registry owns the process's named queues. The backend is chosen once
// when the registry opens and applies to every queue it creates.
type Registry struct {
	backend string
	dataDir string
	opts    DurableOptions
	logger  *slog.Logger

	mu     sync.Mutex
	queues map[string]Queue
}

// Open selects the queue backend from cfg and opens the default queue.
// Production requires the durable backend: choosing ephemeral, or a durable
// store that cannot open, is a configuration error. In development "auto"
// falls back to the ephemeral backend.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Registry, error) {
	logger = slogutil.OrDiscard(logger)
	r := &Registry{
		dataDir: cfg.DataDir,
		opts:    DurableOptionsFromConfig(cfg.Queue),
		logger:  logger,
		queues:  make(map[string]Queue),
	}

	backend := strings.ToLower(cfg.Queue.Backend)
	if backend == "" {
		backend = BackendAuto
	}

	switch backend {
	case BackendEphemeral:
		if cfg.IsProduction() {
			return nil, errors.NewConfigurationError("ephemeral job queue is not allowed in production", nil).
				WithHint("set queue.backend to durable or auto")
		}
		r.backend = BackendEphemeral

	case BackendDurable, BackendAuto:
		r.backend = BackendDurable
		q, err := r.openDurable(ctx, DefaultQueue)
		if err == nil {
			r.queues[DefaultQueue] = q
			break
		}
		if backend == BackendDurable || cfg.IsProduction() {
			return nil, errors.NewConfigurationError("durable job queue unavailable", err).
				WithHint("check dataDir is writable, or set queue.backend=ephemeral outside production")
		}
		logger.Warn("durable job queue unavailable, using ephemeral queue", "error", err.Error())
		r.backend = BackendEphemeral

	default:
		return nil, errors.NewConfigurationError("unknown queue backend "+cfg.Queue.Backend, nil)
	}

	if _, err := r.Get(ctx, DefaultQueue); err != nil {
		return nil, err
	}
	logger.Info("job queues ready", "backend", r.backend)
	return r, nil
}

// Backend returns the selected backend.
func (r *Registry) Backend() string { return r.backend }

func (r *Registry) openDurable(ctx context.Context, name string) (*DurableQueue, error) {
	file := "jobs.db"
	if name != DefaultQueue {
		file = "jobs-" + name + ".db"
	}
	store, err := OpenStore(r.dataDir, file, r.logger)
	if err != nil {
		return nil, err
	}
	q := NewDurableQueue(name, store, r.opts, r.logger)
	if err := q.Start(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return q, nil
}

// Get returns the named queue, creating it on first use.
func (r *Registry) Get(ctx context.Context, name string) (Queue, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if q, ok := r.queues[name]; ok {
		return q, nil
	}
	var q Queue
	if r.backend == BackendDurable {
		dq, err := r.openDurable(ctx, name)
		if err != nil {
			return nil, errors.NewConfigurationError("failed to open queue "+name, err)
		}
		q = dq
	} else {
		q = NewEphemeralQueue(name, r.logger)
	}
	r.queues[name] = q
	return q, nil
}

// Default returns the analysis queue.
func (r *Registry) Default() Queue {
	q, _ := r.Get(context.Background(), DefaultQueue)
	return q
}

// Names lists the open queues.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.queues))
	for n := range r.queues {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Stats returns the stats of every open queue.
func (r *Registry) Stats() map[string]Stats {
	r.mu.Lock()
	queues := make(map[string]Queue, len(r.queues))
	for n, q := range r.queues {
		queues[n] = q
	}
	r.mu.Unlock()

	out := make(map[string]Stats, len(queues))
	for n, q := range queues {
		out[n] = q.Stats()
	}
	return out
}

// CloseAll closes every queue.
func (r *Registry) CloseAll(ctx context.Context) error {
	r.mu.Lock()
	queues := r.queues
	r.queues = make(map[string]Queue)
	r.mu.Unlock()

	var errs []error
	for name, q := range queues {
		if err := q.Close(ctx); err != nil {
			r.logger.Warn("failed to close queue", "queue", name, "error", err.Error())
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
