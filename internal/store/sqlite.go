package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/shsh-operator/internal/domain"
	"github.com/ashureev/shsh-operator/internal/shared"
	_ "modernc.org/sqlite"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL mode for concurrent readers during audit appends.
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		client_id TEXT NOT NULL,
		model TEXT NOT NULL,
		max_steps INTEGER NOT NULL,
		steps INTEGER NOT NULL DEFAULT 0,
		state TEXT NOT NULL,
		error TEXT,
		started_at INTEGER NOT NULL,
		finished_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);

	CREATE TABLE IF NOT EXISTS audit_entries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT,
		ts INTEGER NOT NULL,
		command TEXT NOT NULL,
		input TEXT NOT NULL,
		stdout TEXT NOT NULL,
		stderr TEXT NOT NULL,
		exit_code INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_audit_run ON audit_entries(run_id);
	CREATE INDEX IF NOT EXISTS idx_audit_ts ON audit_entries(ts);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateRun inserts a new run record.
func (s *SQLiteStore) CreateRun(ctx context.Context, run *domain.Run) error {
	query := `
	INSERT INTO runs (run_id, client_id, model, max_steps, steps, state, started_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`

	return shared.RetryOnConflict(ctx, shared.DefaultRetryPolicy, "create_run", func() error {
		_, err := s.db.ExecContext(ctx, query,
			run.ID, run.ClientID, run.Model, run.MaxSteps, run.Steps,
			string(run.State), run.StartedAt.UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("insert run: %w", err)
		}
		return nil
	})
}

// FinishRun records the terminal state of a run.
func (s *SQLiteStore) FinishRun(ctx context.Context, runID string, state domain.RunState, steps int, errMsg string, finishedAt time.Time) error {
	query := `UPDATE runs SET state = ?, steps = ?, error = ?, finished_at = ? WHERE run_id = ?`

	var errVal interface{}
	if errMsg != "" {
		errVal = errMsg
	}

	var rows int64
	err := shared.RetryOnConflict(ctx, shared.DefaultRetryPolicy, "finish_run", func() error {
		result, err := s.db.ExecContext(ctx, query, string(state), steps, errVal, finishedAt.UnixMilli(), runID)
		if err != nil {
			return fmt.Errorf("update run: %w", err)
		}
		rows, err = result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if rows == 0 {
		slog.Warn("FinishRun affected 0 rows", "run_id", runID)
		return fmt.Errorf("run %s not found", runID)
	}
	return nil
}

const runColumns = `run_id, client_id, model, max_steps, steps, state, error, started_at, finished_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*domain.Run, error) {
	var run domain.Run
	var state string
	var errMsg sql.NullString
	var startedAt int64
	var finishedAt sql.NullInt64

	if err := row.Scan(
		&run.ID, &run.ClientID, &run.Model, &run.MaxSteps, &run.Steps,
		&state, &errMsg, &startedAt, &finishedAt,
	); err != nil {
		return nil, err
	}

	run.State = domain.RunState(state)
	run.Error = errMsg.String
	run.StartedAt = time.UnixMilli(startedAt)
	if finishedAt.Valid {
		ts := time.UnixMilli(finishedAt.Int64)
		run.FinishedAt = &ts
	}
	return &run, nil
}

// GetRun retrieves a run by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*domain.Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id = ?`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan run row: %w", err)
	}
	return run, nil
}

// ListRuns returns the most recent runs first.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]*domain.Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`,
		clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close runs rows", "error", closeErr)
		}
	}()

	var runs []*domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// AppendAudit stores one audit entry.
func (s *SQLiteStore) AppendAudit(ctx context.Context, entry *domain.AuditEntry) error {
	query := `
	INSERT INTO audit_entries (run_id, ts, command, input, stdout, stderr, exit_code)
	VALUES (?, ?, ?, ?, ?, ?, ?)`

	var runID interface{}
	if entry.RunID != "" {
		runID = entry.RunID
	}

	return shared.RetryOnConflict(ctx, shared.DefaultRetryPolicy, "append_audit", func() error {
		result, err := s.db.ExecContext(ctx, query,
			runID, entry.Timestamp.UnixMilli(), entry.Command,
			entry.Input, entry.Stdout, entry.Stderr, entry.ExitCode,
		)
		if err != nil {
			return fmt.Errorf("insert audit entry: %w", err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("get audit entry id: %w", err)
		}
		entry.ID = id
		return nil
	})
}

// ListAudit returns audit entries, newest first.
func (s *SQLiteStore) ListAudit(ctx context.Context, filter AuditFilter) ([]*domain.AuditEntry, error) {
	query := `SELECT id, run_id, ts, command, input, stdout, stderr, exit_code FROM audit_entries`
	var args []interface{}
	if filter.RunID != "" {
		query += ` WHERE run_id = ?`
		args = append(args, filter.RunID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, clampLimit(filter.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close audit rows", "error", closeErr)
		}
	}()

	var entries []*domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		var runID sql.NullString
		var ts int64
		if err := rows.Scan(&e.ID, &runID, &ts, &e.Command, &e.Input, &e.Stdout, &e.Stderr, &e.ExitCode); err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		e.RunID = runID.String
		e.Timestamp = time.UnixMilli(ts)
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return entries, nil
}

// PruneBefore deletes finished runs and audit entries older than cutoff.
func (s *SQLiteStore) PruneBefore(ctx context.Context, cutoff time.Time) (int64, int64, error) {
	threshold := cutoff.UnixMilli()

	auditRes, err := s.db.ExecContext(ctx, `DELETE FROM audit_entries WHERE ts < ?`, threshold)
	if err != nil {
		return 0, 0, fmt.Errorf("prune audit entries: %w", err)
	}
	entries, err := auditRes.RowsAffected()
	if err != nil {
		return 0, 0, fmt.Errorf("audit rows affected: %w", err)
	}

	runRes, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE finished_at IS NOT NULL AND finished_at < ?`, threshold)
	if err != nil {
		return 0, entries, fmt.Errorf("prune runs: %w", err)
	}
	runs, err := runRes.RowsAffected()
	if err != nil {
		return 0, entries, fmt.Errorf("run rows affected: %w", err)
	}

	return runs, entries, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

var _ Repository = (*SQLiteStore)(nil)
