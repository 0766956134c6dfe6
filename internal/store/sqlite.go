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

	"github.com/EmilLidir/spinbot-discord/internal/domain"
	"github.com/EmilLidir/spinbot-discord/internal/shared"
	_ "modernc.org/sqlite"
)

// MemoryPath keeps the history in process memory.
const MemoryPath = ":memory:"

// ErrNotFound is returned when updating a run that was never created.
var ErrNotFound = errors.New("run not found")

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository. MemoryPath selects an
// in-memory database that lives as long as the store.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	var dsn string
	if dbPath == MemoryPath {
		dsn = MemoryPath
	} else {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
		dsn = "file:" + dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if dbPath == MemoryPath {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(8)
		db.SetMaxIdleConns(2)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		requester TEXT NOT NULL,
		username TEXT NOT NULL,
		requested INTEGER NOT NULL,
		attempted INTEGER NOT NULL DEFAULT 0,
		replied INTEGER NOT NULL DEFAULT 0,
		missed INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		started_at INTEGER NOT NULL,
		finished_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
	CREATE INDEX IF NOT EXISTS idx_runs_finished ON runs(finished_at) WHERE finished_at IS NOT NULL;

	CREATE TABLE IF NOT EXISTS run_rewards (
		run_id TEXT NOT NULL,
		category TEXT NOT NULL,
		amount INTEGER NOT NULL,
		PRIMARY KEY (run_id, category)
	);
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

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// CreateRun records a run that has just started.
func (s *SQLiteStore) CreateRun(ctx context.Context, run *domain.Run) error {
	query := `
	INSERT INTO runs (id, requester, username, requested, status, started_at)
	VALUES (?, ?, ?, ?, ?, ?)`

	return s.withRetry(ctx, "create run", run.ID, func() error {
		_, err := s.db.ExecContext(ctx, query,
			run.ID, run.Requester, run.Username, run.Requested,
			string(run.Status), run.StartedAt.UnixMilli(),
		)
		return err
	})
}

// FinishRun stores the final counters, status and rewards of a run.
func (s *SQLiteStore) FinishRun(ctx context.Context, run *domain.Run) error {
	return s.withRetry(ctx, "finish run", run.ID, func() error {
		return s.finishRunOnce(ctx, run)
	})
}

func (s *SQLiteStore) finishRunOnce(ctx context.Context, run *domain.Run) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var finishedAt any
	if !run.FinishedAt.IsZero() {
		finishedAt = run.FinishedAt.UnixMilli()
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE runs SET attempted = ?, replied = ?, missed = ?, status = ?, error = ?, finished_at = ?
		WHERE id = ?`,
		run.Attempted, run.Replied, run.Missed, string(run.Status), run.Error, finishedAt, run.ID,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM run_rewards WHERE run_id = ?`, run.ID); err != nil {
		return fmt.Errorf("clear rewards: %w", err)
	}
	for category, amount := range run.Rewards {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO run_rewards (run_id, category, amount) VALUES (?, ?, ?)`,
			run.ID, category, amount,
		); err != nil {
			return fmt.Errorf("insert reward %q: %w", category, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

const runColumns = `id, requester, username, requested, attempted, replied, missed, status, error, started_at, finished_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*domain.Run, error) {
	var run domain.Run
	var status string
	var startedAt int64
	var finishedAt sql.NullInt64

	if err := row.Scan(
		&run.ID, &run.Requester, &run.Username,
		&run.Requested, &run.Attempted, &run.Replied, &run.Missed,
		&status, &run.Error, &startedAt, &finishedAt,
	); err != nil {
		return nil, err
	}

	run.Status = domain.RunStatus(status)
	run.StartedAt = time.UnixMilli(startedAt)
	if finishedAt.Valid {
		run.FinishedAt = time.UnixMilli(finishedAt.Int64)
	}
	return &run, nil
}

// GetRun retrieves a run by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*domain.Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan run row: %w", err)
	}

	if run.Rewards, err = s.loadRewards(ctx, run.ID); err != nil {
		return nil, err
	}
	return run, nil
}

// ListRuns returns the most recent runs, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]*domain.Run, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}

	var runs []*domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	if err := rows.Close(); err != nil {
		slog.Warn("failed to close runs rows", "error", err)
	}

	// Rewards are loaded after the cursor is released; an in-memory store
	// has a single connection.
	for _, run := range runs {
		if run.Rewards, err = s.loadRewards(ctx, run.ID); err != nil {
			return nil, err
		}
	}
	return runs, nil
}

func (s *SQLiteStore) loadRewards(ctx context.Context, runID string) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT category, amount FROM run_rewards WHERE run_id = ?`, runID)
	if err != nil {
		return nil, fmt.Errorf("query rewards: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close rewards rows", "error", closeErr)
		}
	}()

	rewards := make(map[string]int64)
	for rows.Next() {
		var category string
		var amount int64
		if err := rows.Scan(&category, &amount); err != nil {
			return nil, fmt.Errorf("scan reward row: %w", err)
		}
		rewards[category] = amount
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rewards: %w", err)
	}
	return rewards, nil
}

// DeleteRunsBefore removes finished runs that ended before cutoff. Runs still
// in progress are kept whatever their age.
func (s *SQLiteStore) DeleteRunsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	err := s.withRetry(ctx, "delete runs", "", func() (err error) {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin: %w", err)
		}
		defer func() {
			if err != nil {
				_ = tx.Rollback()
			}
		}()

		threshold := cutoff.UnixMilli()
		if _, err = tx.ExecContext(ctx, `
			DELETE FROM run_rewards WHERE run_id IN (
				SELECT id FROM runs WHERE finished_at IS NOT NULL AND finished_at < ?
			)`, threshold); err != nil {
			return fmt.Errorf("delete rewards: %w", err)
		}
		result, err := tx.ExecContext(ctx,
			`DELETE FROM runs WHERE finished_at IS NOT NULL AND finished_at < ?`, threshold)
		if err != nil {
			return fmt.Errorf("delete runs: %w", err)
		}
		if deleted, err = result.RowsAffected(); err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		return tx.Commit()
	})
	return deleted, err
}

// withRetry runs op, retrying SQLITE_BUSY and locked errors with exponential
// backoff: 100ms, 200ms.
func (s *SQLiteStore) withRetry(ctx context.Context, what, runID string, op func() error) error {
	const maxRetries = 3
	baseDelay := 100 * time.Millisecond

	var err error
	for i := 0; i < maxRetries; i++ {
		if err = op(); err == nil {
			return nil
		}
		if !shared.IsSQLiteConflictError(err) || i == maxRetries-1 {
			break
		}

		delay := baseDelay * time.Duration(1<<i)
		slog.Debug("SQLite busy, retrying", "op", what, "run_id", runID, "attempt", i+1, "delay", delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	if errors.Is(err, ErrNotFound) {
		return err
	}
	return fmt.Errorf("%s: %w", what, err)
}
