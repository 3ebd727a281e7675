package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"gatekeeper/internal/churn"
	"gatekeeper/internal/complexity"
	"gatekeeper/internal/errors"
	"gatekeeper/internal/pipeline"
	"gatekeeper/internal/risk"
	"gatekeeper/internal/slogutil"
)

// SQLStore implements Store on sqlite, postgres or mysql.
type SQLStore struct {
	db           *sqlx.DB
	driver       Driver
	historyLimit int
	logger       *slog.Logger
	now          func() time.Time
}

// OpenSQL connects, migrates and returns a store. For sqlite, dsn may be a
// plain file path; its directory is created.
func OpenSQL(ctx context.Context, driver Driver, dsn string, historyLimit int, logger *slog.Logger) (*SQLStore, error) {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	logger = slogutil.OrDiscard(logger)

	if driver == DriverSQLite {
		var err error
		if dsn, err = sqliteDSN(dsn); err != nil {
			return nil, err
		}
	}

	db, err := sqlx.Open(driver.sqlDriver(), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		// One writer; read-modify-write upserts would otherwise race for the lock.
		db.SetMaxOpenConns(1)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping %s: %w", driver, err)
	}
	if err := migrateUp(db.DB, driver); err != nil {
		_ = db.Close()
		return nil, err
	}

	logger.Debug("store opened", "driver", string(driver))
	return &SQLStore{db: db, driver: driver, historyLimit: historyLimit, logger: logger, now: time.Now}, nil
}

func sqliteDSN(dsn string) (string, error) {
	if dsn == ":memory:" {
		return "file::memory:?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", nil
	}
	if strings.HasPrefix(dsn, "file:") {
		return dsn, nil
	}
	abs, err := filepath.Abs(dsn)
	if err != nil {
		return "", fmt.Errorf("failed to resolve sqlite path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}
	return fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)", abs), nil
}

// Close closes the connection pool.
func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLStore) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Error("failed to rollback transaction", "error", err.Error(), "rollback_error", rbErr.Error())
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type fileRow struct {
	RepoID       string         `db:"repo_id"`
	Path         string         `db:"path"`
	Language     string         `db:"language"`
	ContentHash  string         `db:"content_hash"`
	Report       string         `db:"report"`
	Churn        sql.NullString `db:"churn"`
	RiskValue    int            `db:"risk_value"`
	RiskCategory string         `db:"risk_category"`
	History      []byte         `db:"history"`
	UpdatedAt    int64          `db:"updated_at"`
}

const fileColumns = `repo_id, path, language, content_hash, report, churn, risk_value, risk_category, history, updated_at`

var fileUpsertColumns = []string{
	"repo_id", "path", "language", "content_hash", "report", "churn",
	"risk_value", "risk_category", "history", "updated_at",
}

func (r *fileRow) record() (*FileRecord, error) {
	rec := &FileRecord{
		RepoID:      r.RepoID,
		Path:        r.Path,
		Language:    complexity.Language(r.Language),
		ContentHash: r.ContentHash,
		Risk:        risk.Score{FileID: r.Path, Value: r.RiskValue, Category: risk.Category(r.RiskCategory)},
		UpdatedAt:   time.UnixMilli(r.UpdatedAt).UTC(),
	}
	if err := json.Unmarshal([]byte(r.Report), &rec.Report); err != nil {
		return nil, fmt.Errorf("failed to decode report of %s: %w", r.Path, err)
	}
	if r.Churn.Valid && r.Churn.String != "" {
		rec.Churn = &churn.Record{}
		if err := json.Unmarshal([]byte(r.Churn.String), rec.Churn); err != nil {
			return nil, fmt.Errorf("failed to decode churn of %s: %w", r.Path, err)
		}
	}
	history, err := decodeHistory(r.History)
	if err != nil {
		return nil, err
	}
	rec.History = history
	return rec, nil
}

func (s *SQLStore) UpsertFile(ctx context.Context, rec *FileRecord) error {
	report, err := json.Marshal(rec.Report)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	var churnJSON sql.NullString
	if rec.Churn != nil {
		data, err := json.Marshal(rec.Churn)
		if err != nil {
			return fmt.Errorf("failed to encode churn: %w", err)
		}
		churnJSON = sql.NullString{String: string(data), Valid: true}
	}
	updated := rec.UpdatedAt
	if updated.IsZero() {
		updated = s.now()
	}

	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		var prev fileRow
		err := tx.GetContext(ctx, &prev,
			s.db.Rebind(`SELECT `+fileColumns+` FROM files WHERE repo_id = ? AND path = ?`+forUpdate(s.driver)),
			rec.RepoID, rec.Path)
		exists := err == nil
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to load file %s: %w", rec.Path, err)
		}

		history := []Snapshot{}
		if exists {
			old, err := prev.record()
			if err != nil {
				return err
			}
			history = old.History
			if old.ContentHash != rec.ContentHash {
				history = pushHistory(old, s.historyLimit)
			}
		}
		blob, err := encodeHistory(history)
		if err != nil {
			return err
		}

		args := []any{
			rec.RepoID, rec.Path, string(rec.Language), rec.ContentHash, string(report), churnJSON,
			rec.Risk.Value, string(rec.Risk.Category), blob, updated.UnixMilli(),
		}
		query := upsertSQL(s.driver, "files", fileUpsertColumns, []string{"repo_id", "path"}, fileUpsertColumns[2:])
		if _, err := tx.ExecContext(ctx, s.db.Rebind(query), args...); err != nil {
			return fmt.Errorf("failed to upsert file %s: %w", rec.Path, err)
		}
		return nil
	})
}

func (s *SQLStore) GetFile(ctx context.Context, repoID, path string) (*FileRecord, error) {
	var row fileRow
	err := s.db.GetContext(ctx, &row,
		s.db.Rebind(`SELECT `+fileColumns+` FROM files WHERE repo_id = ? AND path = ?`), repoID, path)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("file " + path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load file %s: %w", path, err)
	}
	return row.record()
}

func (s *SQLStore) ListFiles(ctx context.Context, repoID string) ([]*FileRecord, error) {
	var rows []fileRow
	if err := s.db.SelectContext(ctx, &rows,
		s.db.Rebind(`SELECT `+fileColumns+` FROM files WHERE repo_id = ? ORDER BY path`), repoID); err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	out := make([]*FileRecord, 0, len(rows))
	for i := range rows {
		rec, err := rows[i].record()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *SQLStore) DeleteFile(ctx context.Context, repoID, path string) error {
	if _, err := s.db.ExecContext(ctx,
		s.db.Rebind(`DELETE FROM files WHERE repo_id = ? AND path = ?`), repoID, path); err != nil {
		return fmt.Errorf("failed to delete file %s: %w", path, err)
	}
	return nil
}

type prRow struct {
	RepoID         string  `db:"repo_id"`
	PRNumber       int     `db:"pr_number"`
	HeadSHA        string  `db:"head_sha"`
	Title          string  `db:"title"`
	Status         string  `db:"status"`
	HealthCurrent  float64 `db:"health_current"`
	HealthDelta    float64 `db:"health_delta"`
	HealthBaseline float64 `db:"health_baseline"`
	HasBaseline    int     `db:"has_baseline"`
	RiskScore      float64 `db:"risk_score"`
	Results        string  `db:"results"`
	Findings       string  `db:"findings"`
	BlockReasons   string  `db:"block_reasons"`
	WarnReasons    string  `db:"warn_reasons"`
	OverrideReason string  `db:"override_reason"`
	ErrorMessage   string  `db:"error_message"`
	CreatedAt      int64   `db:"created_at"`
	UpdatedAt      int64   `db:"updated_at"`
}

var prUpsertColumns = []string{
	"repo_id", "pr_number", "head_sha", "title", "status",
	"health_current", "health_delta", "health_baseline", "has_baseline",
	"risk_score", "results", "findings", "block_reasons", "warn_reasons",
	"override_reason", "error_message", "created_at", "updated_at",
}

// prUpdateColumns leaves created_at as first written.
var prUpdateColumns = []string{
	"head_sha", "title", "status",
	"health_current", "health_delta", "health_baseline", "has_baseline",
	"risk_score", "results", "findings", "block_reasons", "warn_reasons",
	"override_reason", "error_message", "updated_at",
}

const prColumns = `repo_id, pr_number, head_sha, title, status, health_current, health_delta,
	health_baseline, has_baseline, risk_score, results, findings, block_reasons, warn_reasons,
	override_reason, error_message, created_at, updated_at`

func (r *prRow) record() (*PullRequestRecord, error) {
	rec := &PullRequestRecord{
		RepoID:   r.RepoID,
		PRNumber: r.PRNumber,
		HeadSHA:  r.HeadSHA,
		Title:    r.Title,
		Status:   pipeline.Status(r.Status),
		HealthScore: pipeline.HealthScore{
			Current:     r.HealthCurrent,
			Delta:       r.HealthDelta,
			Baseline:    r.HealthBaseline,
			HasBaseline: r.HasBaseline != 0,
		},
		RiskScore:      r.RiskScore,
		OverrideReason: r.OverrideReason,
		Error:          r.ErrorMessage,
		CreatedAt:      time.UnixMilli(r.CreatedAt).UTC(),
		UpdatedAt:      time.UnixMilli(r.UpdatedAt).UTC(),
	}
	fields := []struct {
		raw string
		dst any
	}{
		{r.Results, &rec.AnalysisResults},
		{r.Findings, &rec.Findings},
		{r.BlockReasons, &rec.BlockReasons},
		{r.WarnReasons, &rec.WarnReasons},
	}
	for _, f := range fields {
		if err := json.Unmarshal([]byte(f.raw), f.dst); err != nil {
			return nil, fmt.Errorf("failed to decode pull request %d: %w", r.PRNumber, err)
		}
	}
	return rec, nil
}

func jsonText(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (s *SQLStore) UpsertPullRequest(ctx context.Context, rec *PullRequestRecord) error {
	results, err := jsonText(nonNil(rec.AnalysisResults))
	if err != nil {
		return fmt.Errorf("failed to encode analysis results: %w", err)
	}
	findings, err := jsonText(nonNil(rec.Findings))
	if err != nil {
		return fmt.Errorf("failed to encode findings: %w", err)
	}
	blocks, _ := jsonText(nonNil(rec.BlockReasons))
	warns, _ := jsonText(nonNil(rec.WarnReasons))

	now := s.now()
	updated := rec.UpdatedAt
	if updated.IsZero() {
		updated = now
	}
	hasBaseline := 0
	if rec.HealthScore.HasBaseline {
		hasBaseline = 1
	}

	created := now
	if !rec.CreatedAt.IsZero() {
		created = rec.CreatedAt
	}

	args := []any{
		rec.RepoID, rec.PRNumber, rec.HeadSHA, rec.Title, string(rec.Status),
		rec.HealthScore.Current, rec.HealthScore.Delta, rec.HealthScore.Baseline, hasBaseline,
		rec.RiskScore, results, findings, blocks, warns, rec.OverrideReason, rec.Error,
		created.UnixMilli(), updated.UnixMilli(),
	}
	query := upsertSQL(s.driver, "pull_requests", prUpsertColumns, []string{"repo_id", "pr_number"}, prUpdateColumns)
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("failed to upsert pull request %d: %w", rec.PRNumber, err)
	}
	return nil
}

func (s *SQLStore) GetPullRequest(ctx context.Context, repoID string, number int) (*PullRequestRecord, error) {
	var row prRow
	err := s.db.GetContext(ctx, &row,
		s.db.Rebind(`SELECT `+prColumns+` FROM pull_requests WHERE repo_id = ? AND pr_number = ?`), repoID, number)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(fmt.Sprintf("pull request %s#%d", repoID, number))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load pull request %d: %w", number, err)
	}
	return row.record()
}

func (s *SQLStore) ListPullRequests(ctx context.Context, repoID string, since time.Time) ([]*PullRequestRecord, error) {
	query := `SELECT ` + prColumns + ` FROM pull_requests WHERE updated_at >= ?`
	args := []any{since.UnixMilli()}
	if repoID != "" {
		query += ` AND repo_id = ?`
		args = append(args, repoID)
	}
	query += ` ORDER BY updated_at DESC, pr_number DESC`

	var rows []prRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list pull requests: %w", err)
	}
	out := make([]*PullRequestRecord, 0, len(rows))
	for i := range rows {
		rec, err := rows[i].record()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *SQLStore) AppendMetric(ctx context.Context, snap *MetricsSnapshot) error {
	if snap.CalculatedAt.IsZero() {
		snap.CalculatedAt = s.now().UTC()
	}
	args := []any{snap.RepoID, string(snap.Type), snap.Value, snap.CalculatedAt.UnixMilli()}
	query := `INSERT INTO metrics_snapshots (repo_id, metric_type, value, calculated_at) VALUES (?, ?, ?, ?)`

	if s.driver == DriverPostgres {
		if err := s.db.GetContext(ctx, &snap.ID, s.db.Rebind(query+` RETURNING id`), args...); err != nil {
			return fmt.Errorf("failed to append metric: %w", err)
		}
		return nil
	}
	res, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return fmt.Errorf("failed to append metric: %w", err)
	}
	if snap.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("failed to read metric id: %w", err)
	}
	return nil
}

func (s *SQLStore) ListMetrics(ctx context.Context, repoID string, metric MetricType, limit int) ([]MetricsSnapshot, error) {
	query := `SELECT id, repo_id, metric_type, value, calculated_at FROM metrics_snapshots
		WHERE repo_id = ? AND metric_type = ? ORDER BY id DESC`
	args := []any{repoID, string(metric)}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	var rows []struct {
		ID           int64   `db:"id"`
		RepoID       string  `db:"repo_id"`
		Type         string  `db:"metric_type"`
		Value        float64 `db:"value"`
		CalculatedAt int64   `db:"calculated_at"`
	}
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list metrics: %w", err)
	}
	out := make([]MetricsSnapshot, len(rows))
	for i, r := range rows {
		out[len(rows)-1-i] = MetricsSnapshot{
			ID:           r.ID,
			RepoID:       r.RepoID,
			Type:         MetricType(r.Type),
			Value:        r.Value,
			CalculatedAt: time.UnixMilli(r.CalculatedAt).UTC(),
		}
	}
	return out, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
