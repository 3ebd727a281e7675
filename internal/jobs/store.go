package jobs

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

	_ "modernc.org/sqlite"

	"gatekeeper/internal/errors"
	"gatekeeper/internal/slogutil"
)

// Store persists jobs in a SQLite database.
type Store struct {
	conn   *sql.DB
	logger *slog.Logger
	dbPath string
}

const jobColumns = `id, name, payload, status, attempts, max_attempts, progress, run_at, created_at, started_at, completed_at, error, result`

// OpenStore opens or creates the jobs database at dir/file.
func OpenStore(dir, file string, logger *slog.Logger) (*Store, error) {
	logger = slogutil.OrDiscard(logger)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dir, file)
	dsn := "file:" + dbPath +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=cache_size(-16000)"

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open jobs database: %w", err)
	}
	// Claims run in a transaction; one connection keeps them serialized.
	conn.SetMaxOpenConns(1)

	store := &Store{conn: conn, logger: logger, dbPath: dbPath}
	if err := store.initializeSchema(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to initialize jobs schema: %w", err)
	}
	logger.Debug("opened jobs database", "path", dbPath)
	return store, nil
}

func (s *Store) initializeSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			payload TEXT,
			status TEXT NOT NULL DEFAULT 'queued',
			attempts INTEGER NOT NULL DEFAULT 0,
			max_attempts INTEGER NOT NULL DEFAULT 1,
			progress INTEGER NOT NULL DEFAULT 0,
			run_at INTEGER NOT NULL,
			created_at INTEGER NOT NULL,
			started_at INTEGER,
			completed_at INTEGER,
			error TEXT,
			result TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_jobs_claim ON jobs(status, run_at);
		CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_jobs_name ON jobs(name);
	`
	_, err := s.conn.Exec(schema)
	return err
}

// Path returns the database file.
func (s *Store) Path() string { return s.dbPath }

// Close closes the database connection.
func (s *Store) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

// CreateJob inserts a new job.
func (s *Store) CreateJob(ctx context.Context, job *Job) error {
	_, err := s.conn.ExecContext(ctx, `INSERT INTO jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID,
		job.Name,
		nullBytes(job.Payload),
		job.Status,
		job.Attempts,
		job.MaxAttempts,
		job.Progress,
		millis(job.RunAt),
		millis(job.CreatedAt),
		nullTime(job.StartedAt),
		nullTime(job.CompletedAt),
		nullString(job.Error),
		nullBytes(job.Result),
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	s.logger.Debug("created job", "jobId", job.ID, "name", job.Name)
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	row := s.conn.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, errors.New(errors.NotFound, "job not found: "+id, nil)
	}
	return job, err
}

// UpdateJob writes the mutable fields of job. When from is set the update
// only applies while the stored status still equals it; ok reports whether
// a row changed.
func (s *Store) UpdateJob(ctx context.Context, job *Job, from JobStatus) (bool, error) {
	query := `UPDATE jobs SET
			status = ?, attempts = ?, progress = ?, run_at = ?,
			started_at = ?, completed_at = ?, error = ?, result = ?
		WHERE id = ?`
	args := []any{
		job.Status,
		job.Attempts,
		job.Progress,
		millis(job.RunAt),
		nullTime(job.StartedAt),
		nullTime(job.CompletedAt),
		nullString(job.Error),
		nullBytes(job.Result),
		job.ID,
	}
	if from != "" {
		query += ` AND status = ?`
		args = append(args, from)
	}
	res, err := s.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to update job: %w", err)
	}
	rows, _ := res.RowsAffected()
	return rows > 0, nil
}

// SetProgress records the progress of a running job.
func (s *Store) SetProgress(ctx context.Context, id string, progress int) error {
	_, err := s.conn.ExecContext(ctx,
		`UPDATE jobs SET progress = ? WHERE id = ? AND status = 'running'`, clampProgress(progress), id)
	return err
}

// ClaimNext marks the oldest due queued job as running and returns it.
// When names is non-nil only those job names are eligible. It returns nil
// when nothing is due.
func (s *Store) ClaimNext(ctx context.Context, names []string, now time.Time) (*Job, error) {
	if names != nil && len(names) == 0 {
		return nil, nil
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	query := `SELECT ` + jobColumns + ` FROM jobs WHERE status = 'queued' AND run_at <= ?`
	args := []any{millis(now)}
	if names != nil {
		query += fmt.Sprintf(" AND name IN (%s)", placeholders(len(names)))
		for _, n := range names {
			args = append(args, n)
		}
	}
	query += ` ORDER BY run_at, created_at, rowid LIMIT 1`

	job, err := scanJob(tx.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	job.MarkStarted()
	if _, err := tx.ExecContext(ctx,
		`UPDATE jobs SET status = ?, attempts = ?, started_at = ?, progress = 0 WHERE id = ?`,
		job.Status, job.Attempts, nullTime(job.StartedAt), job.ID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return job, nil
}

// RecoverRunning requeues jobs left running by a previous process.
func (s *Store) RecoverRunning(ctx context.Context) (int64, error) {
	res, err := s.conn.ExecContext(ctx,
		`UPDATE jobs SET status = 'queued', run_at = ? WHERE status = 'running'`, millis(time.Now()))
	if err != nil {
		return 0, fmt.Errorf("failed to recover running jobs: %w", err)
	}
	return res.RowsAffected()
}

// ListJobs retrieves jobs matching the given options, newest first.
func (s *Store) ListJobs(ctx context.Context, opts ListJobsOptions) (*ListJobsResponse, error) {
	var conditions []string
	var args []any

	if len(opts.Status) > 0 {
		for _, status := range opts.Status {
			args = append(args, status)
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", placeholders(len(opts.Status))))
	}
	if len(opts.Name) > 0 {
		for _, n := range opts.Name {
			args = append(args, n)
		}
		conditions = append(conditions, fmt.Sprintf("name IN (%s)", placeholders(len(opts.Name))))
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	var totalCount int
	if err := s.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM jobs "+whereClause, args...).Scan(&totalCount); err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM jobs %s ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`, jobColumns, whereClause)
	args = append(args, opts.limit(), opts.Offset)

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	jobs := make([]JobSummary, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job.ToSummary())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating jobs: %w", err)
	}

	return &ListJobsResponse{Jobs: jobs, TotalCount: totalCount}, nil
}

// CountByStatus counts jobs in each status.
func (s *Store) CountByStatus(ctx context.Context) (map[JobStatus]int, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[JobStatus]int)
	for rows.Next() {
		var status JobStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// Prune keeps the most recent keepCompleted completed jobs and the most
// recent keepFailed failed or cancelled jobs. A negative limit keeps all.
func (s *Store) Prune(ctx context.Context, keepCompleted, keepFailed int) (int64, error) {
	var total int64
	buckets := []struct {
		statuses string
		keep     int
	}{
		{"'completed'", keepCompleted},
		{"'failed', 'cancelled'", keepFailed},
	}
	for _, b := range buckets {
		if b.keep < 0 {
			continue
		}
		res, err := s.conn.ExecContext(ctx, fmt.Sprintf(`
			DELETE FROM jobs
			WHERE status IN (%[1]s)
			AND id NOT IN (
				SELECT id FROM jobs WHERE status IN (%[1]s)
				ORDER BY completed_at DESC, rowid DESC LIMIT ?
			)`, b.statuses), b.keep)
		if err != nil {
			return total, fmt.Errorf("failed to prune jobs: %w", err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var job Job
	var payload, errMsg, result sql.NullString
	var runAt, createdAt int64
	var startedAt, completedAt sql.NullInt64

	err := row.Scan(
		&job.ID,
		&job.Name,
		&payload,
		&job.Status,
		&job.Attempts,
		&job.MaxAttempts,
		&job.Progress,
		&runAt,
		&createdAt,
		&startedAt,
		&completedAt,
		&errMsg,
		&result,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan job: %w", err)
	}

	if payload.Valid {
		job.Payload = json.RawMessage(payload.String)
	}
	if result.Valid {
		job.Result = json.RawMessage(result.String)
	}
	job.Error = errMsg.String
	job.RunAt = fromMillis(runAt)
	job.CreatedAt = fromMillis(createdAt)
	if startedAt.Valid {
		t := fromMillis(startedAt.Int64)
		job.StartedAt = &t
	}
	if completedAt.Valid {
		t := fromMillis(completedAt.Int64)
		job.CompletedAt = &t
	}
	return &job, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func millis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullBytes(b []byte) sql.NullString {
	return nullString(string(b))
}

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}
