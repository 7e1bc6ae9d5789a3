package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/mikey/batch-mailer/internal/core"
	"go.uber.org/zap"
)

// sqliteTimeLayout sorts lexically in time order
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore is a SQLite implementation of the RunRepository interface
type SQLiteStore struct {
	db          *sql.DB
	logger      *zap.Logger
	retention   time.Duration
	cleanupFreq time.Duration
	stopCh      chan struct{}
}

// NewSQLiteStore opens (and if needed creates) the run history database
func NewSQLiteStore(dbPath string, logger *zap.Logger, retention, cleanupFreq time.Duration) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	// Create table if it doesn't exist
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS dispatch_runs (
			id TEXT PRIMARY KEY,
			state TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			emails_sent INTEGER NOT NULL,
			errors INTEGER NOT NULL,
			attempted INTEGER NOT NULL,
			failed_emails INTEGER NOT NULL,
			invalid_addresses INTEGER NOT NULL,
			batches_total INTEGER NOT NULL,
			batches_done INTEGER NOT NULL,
			success_rate REAL NOT NULL,
			average_speed REAL NOT NULL,
			delivery_confidence REAL NOT NULL,
			relay_health REAL NOT NULL,
			started_at TEXT NOT NULL,
			finished_at TEXT NOT NULL
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	// Create index on finished_at for faster cleanup
	_, err = db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_dispatch_runs_finished_at ON dispatch_runs(finished_at)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create index: %w", err)
	}

	store := &SQLiteStore{
		db:          db,
		logger:      logger,
		retention:   retention,
		cleanupFreq: cleanupFreq,
		stopCh:      make(chan struct{}),
	}

	// Start background cleanup
	if cleanupFreq > 0 && retention > 0 {
		go store.startCleanupTask()
	}

	return store, nil
}

// Save stores a run result
func (s *SQLiteStore) Save(ctx context.Context, result *core.RunResult) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO dispatch_runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, runArgs(result, sqliteTimeLayout)...)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

// Get retrieves a run by id
func (s *SQLiteStore) Get(ctx context.Context, id string) (*core.RunResult, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+runColumns+`
		FROM dispatch_runs
		WHERE id = ?
	`, id)

	result, err := scanRun(row, sqliteTimeLayout)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrRunNotFound
		}
		return nil, fmt.Errorf("failed to query run: %w", err)
	}
	return result, nil
}

// List returns the most recent runs, newest first
func (s *SQLiteStore) List(ctx context.Context, limit int) ([]*core.RunResult, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+runColumns+`
		FROM dispatch_runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var results []*core.RunResult
	for rows.Next() {
		result, err := scanRun(rows, sqliteTimeLayout)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		results = append(results, result)
	}
	return results, rows.Err()
}

// Cleanup removes runs that finished before the retention window
func (s *SQLiteStore) Cleanup(ctx context.Context) error {
	cutoff := time.Now().Add(-s.retention).UTC().Format(sqliteTimeLayout)

	result, err := s.db.ExecContext(ctx, `
		DELETE FROM dispatch_runs
		WHERE finished_at < ?
	`, cutoff)
	if err != nil {
		return fmt.Errorf("failed to clean up old runs: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		s.logger.Warn("Failed to get rows affected during cleanup", zap.Error(err))
	} else {
		s.logger.Debug("Cleaned up old runs", zap.Int64("removed", rowsAffected))
	}

	return nil
}

// startCleanupTask starts a background task to remove old runs
func (s *SQLiteStore) startCleanupTask() {
	ticker := time.NewTicker(s.cleanupFreq)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.Cleanup(context.Background()); err != nil {
				s.logger.Error("Failed to clean up run history", zap.Error(err))
			}
		case <-s.stopCh:
			return
		}
	}
}

// Stop stops the background cleanup task and closes the database connection
func (s *SQLiteStore) Stop() {
	close(s.stopCh)
	if err := s.db.Close(); err != nil {
		s.logger.Error("Failed to close SQLite database", zap.Error(err))
	}
}
