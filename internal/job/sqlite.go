package job

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Compile-time check that SQLiteRepository implements Repository.
var _ Repository = (*SQLiteRepository)(nil)

// SQLiteRepository persists jobs in a SQLite database so job history
// survives restarts.
type SQLiteRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenSQLite opens (creating if needed) the job database at path.
func OpenSQLite(ctx context.Context, path string, logger *slog.Logger) (*SQLiteRepository, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil { // #nosec G301
			return nil, fmt.Errorf("create job db dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	r := &SQLiteRepository{db: db, logger: logger.With(slog.String("component", "job.sqlite"))}
	if err := r.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init job schema: %w", err)
	}
	return r, nil
}

func (r *SQLiteRepository) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS jobs (
    id TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    status TEXT NOT NULL,
    progress INTEGER NOT NULL DEFAULT 0,
    stage TEXT NOT NULL DEFAULT '',
    error TEXT NOT NULL DEFAULT '',
    error_kind TEXT NOT NULL DEFAULT '',
    result BLOB,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    started_at TEXT NOT NULL DEFAULT '',
    completed_at TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_jobs_created ON jobs(created_at);
`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

// Close releases the database.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

// Save inserts or updates job.
func (r *SQLiteRepository) Save(ctx context.Context, job *Job) error {
	j := job.Clone()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO jobs(id, kind, status, progress, stage, error, error_kind, result, created_at, updated_at, started_at, completed_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   status=excluded.status, progress=excluded.progress, stage=excluded.stage,
		   error=excluded.error, error_kind=excluded.error_kind, result=excluded.result,
		   updated_at=excluded.updated_at, started_at=excluded.started_at, completed_at=excluded.completed_at`,
		j.ID, string(j.Kind), string(j.Status), j.Progress, j.Stage, j.Error, j.ErrorKind, []byte(j.Result),
		formatTime(j.CreatedAt), formatTime(j.UpdatedAt), formatTime(j.StartedAt), formatTime(j.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("save job %s: %w", j.ID, err)
	}
	return nil
}

const selectColumns = `SELECT id, kind, status, progress, stage, error, error_kind, result, created_at, updated_at, started_at, completed_at FROM jobs`

// FindByID retrieves the job with the given ID.
func (r *SQLiteRepository) FindByID(ctx context.Context, id string) (*Job, error) {
	row := r.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find job %s: %w", id, err)
	}
	return job, nil
}

// List returns all jobs ordered by creation time.
func (r *SQLiteRepository) List(ctx context.Context) ([]*Job, error) {
	rows, err := r.db.QueryContext(ctx, selectColumns+` ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// Delete removes the job with the given ID.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete job %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrJobNotFound
	}
	return nil
}

// PruneFinished removes terminal jobs that completed before cutoff and
// returns how many were removed.
func (r *SQLiteRepository) PruneFinished(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM jobs WHERE completed_at != '' AND completed_at < ?`, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("prune jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		r.logger.Info("pruned finished jobs", slog.Int64("count", n))
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(s scanner) (*Job, error) {
	var (
		j                                Job
		kind, status                     string
		result                           []byte
		created, updated, started, ended string
	)
	if err := s.Scan(&j.ID, &kind, &status, &j.Progress, &j.Stage, &j.Error, &j.ErrorKind, &result,
		&created, &updated, &started, &ended); err != nil {
		return nil, err
	}
	j.Kind = Kind(kind)
	j.Status = Status(status)
	if len(result) > 0 {
		j.Result = result
	}
	j.CreatedAt = parseTime(created)
	j.UpdatedAt = parseTime(updated)
	j.StartedAt = parseTime(started)
	j.CompletedAt = parseTime(ended)
	return &j, nil
}

// Timestamps are stored as fixed-width UTC text so they sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
