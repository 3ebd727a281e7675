// Package store persists file records, pull request verdicts and metric
// snapshots.
package store

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"gatekeeper/internal/churn"
	"gatekeeper/internal/complexity"
	"gatekeeper/internal/config"
	"gatekeeper/internal/errors"
	"gatekeeper/internal/pipeline"
	"gatekeeper/internal/risk"
)

// DefaultHistoryLimit is the number of prior snapshots kept per file.
const DefaultHistoryLimit = 10

// Snapshot is a prior state of a file record.
type Snapshot struct {
	ContentHash     string    `json:"contentHash"`
	Complexity      int       `json:"complexity"`
	Maintainability float64   `json:"maintainability"`
	Churn           int       `json:"churn"`
	Risk            int       `json:"risk"`
	RecordedAt      time.Time `json:"recordedAt"`
}

// FileRecord is the latest analysis of one file in a repository.
type FileRecord struct {
	RepoID      string                       `json:"repoId"`
	Path        string                       `json:"path"`
	Language    complexity.Language          `json:"language"`
	ContentHash string                       `json:"contentHash"`
	Report      *complexity.ComplexityReport `json:"report"`
	Churn       *churn.Record                `json:"churn,omitempty"`
	Risk        risk.Score                   `json:"risk"`
	History     []Snapshot                   `json:"history"`
	UpdatedAt   time.Time                    `json:"updatedAt"`
}

// snapshot captures r as a history entry.
func (r *FileRecord) snapshot() Snapshot {
	s := Snapshot{ContentHash: r.ContentHash, Risk: r.Risk.Value, RecordedAt: r.UpdatedAt}
	if r.Report != nil {
		s.Complexity = r.Report.CyclomaticComplexity
		s.Maintainability = r.Report.MaintainabilityIndex
	}
	if r.Churn != nil {
		s.Churn = r.Churn.CommitCountInWindow
	}
	return s
}

// PullRequestRecord is the verdict of one pull request.
type PullRequestRecord struct {
	RepoID          string                 `json:"repoId"`
	PRNumber        int                    `json:"prNumber"`
	HeadSHA         string                 `json:"headSha"`
	Title           string                 `json:"title"`
	Status          pipeline.Status        `json:"status"`
	HealthScore     pipeline.HealthScore   `json:"healthScore"`
	RiskScore       float64                `json:"riskScore"`
	AnalysisResults []pipeline.LayerResult `json:"analysisResults"`
	Findings        []pipeline.Finding     `json:"findings"`
	BlockReasons    []string               `json:"blockReasons"`
	WarnReasons     []string               `json:"warnReasons"`
	OverrideReason  string                 `json:"overrideReason,omitempty"`
	// Error explains a PENDING record whose analysis could not finish.
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// PullRequestFromResult converts a pipeline result into a record.
func PullRequestFromResult(res *pipeline.Result, title string) *PullRequestRecord {
	return &PullRequestRecord{
		RepoID:          res.RepoID,
		PRNumber:        res.PRNumber,
		HeadSHA:         res.HeadSHA,
		Title:           title,
		Status:          res.Status,
		HealthScore:     res.HealthScore,
		RiskScore:       res.RiskScore,
		AnalysisResults: res.Layers,
		Findings:        res.Findings,
		BlockReasons:    res.BlockReasons,
		WarnReasons:     res.WarnReasons,
	}
}

// MetricType names a rollup.
type MetricType string

const (
	MetricDebtRatio   MetricType = "debtRatio"
	MetricBlockRate   MetricType = "blockRate"
	MetricHotspots    MetricType = "hotspots"
	MetricRiskReduced MetricType = "riskReduced"
)

// MetricTypes lists every rollup in display order.
var MetricTypes = []MetricType{MetricDebtRatio, MetricBlockRate, MetricHotspots, MetricRiskReduced}

// MetricsSnapshot is one append-only metric value. An empty RepoID is a
// global rollup.
type MetricsSnapshot struct {
	ID           int64      `json:"id"`
	RepoID       string     `json:"repoId,omitempty"`
	Type         MetricType `json:"metricType"`
	Value        float64    `json:"value"`
	CalculatedAt time.Time  `json:"calculatedAt"`
}

// Store is the persistence boundary. Get methods return a NOT_FOUND
// GateError for missing keys.
type Store interface {
	// UpsertFile replaces the record for (RepoID, Path). When the content
	// changed, the previous state is pushed onto the bounded history.
	UpsertFile(ctx context.Context, rec *FileRecord) error
	GetFile(ctx context.Context, repoID, path string) (*FileRecord, error)
	ListFiles(ctx context.Context, repoID string) ([]*FileRecord, error)
	DeleteFile(ctx context.Context, repoID, path string) error

	// UpsertPullRequest replaces the record for (RepoID, PRNumber),
	// keeping CreatedAt.
	UpsertPullRequest(ctx context.Context, rec *PullRequestRecord) error
	GetPullRequest(ctx context.Context, repoID string, number int) (*PullRequestRecord, error)
	// ListPullRequests returns records updated at or after since, newest
	// first. An empty repoID lists every repository.
	ListPullRequests(ctx context.Context, repoID string, since time.Time) ([]*PullRequestRecord, error)

	AppendMetric(ctx context.Context, snap *MetricsSnapshot) error
	// ListMetrics returns up to limit snapshots of one type, oldest first.
	ListMetrics(ctx context.Context, repoID string, metric MetricType, limit int) ([]MetricsSnapshot, error)

	Close() error
}

// Open builds the store selected by cfg.Storage.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Store, error) {
	limit := cfg.Storage.HistoryLimit
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	switch cfg.Storage.Driver {
	case "memory":
		return NewMemoryStore(limit), nil
	case "", "sqlite":
		dsn := cfg.Storage.DSN
		if dsn == "" {
			dsn = filepath.Join(cfg.DataDir, "gatekeeper.db")
		}
		return OpenSQL(ctx, DriverSQLite, dsn, limit, logger)
	case "postgres":
		return OpenSQL(ctx, DriverPostgres, cfg.Storage.DSN, limit, logger)
	case "mysql":
		return OpenSQL(ctx, DriverMySQL, cfg.Storage.DSN, limit, logger)
	default:
		return nil, errors.NewConfigurationError("unknown storage driver "+cfg.Storage.Driver, nil)
	}
}

func notFound(what string) error {
	return errors.New(errors.NotFound, what+" not found", nil)
}

// pushHistory appends prev to history when the content changed and trims
// the result to the newest limit entries.
func pushHistory(prev *FileRecord, limit int) []Snapshot {
	history := append([]Snapshot(nil), prev.History...)
	history = append(history, prev.snapshot())
	if len(history) > limit {
		history = history[len(history)-limit:]
	}
	return history
}
