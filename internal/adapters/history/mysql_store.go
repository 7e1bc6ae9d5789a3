package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/mikey/batch-mailer/internal/core"
	"go.uber.org/zap"
)

// mysqlTimeLayout matches DATETIME(6) values read back as text
const mysqlTimeLayout = "2006-01-02 15:04:05.000000"

// MySQLStore is a MySQL implementation of the RunRepository interface
type MySQLStore struct {
	db          *sql.DB
	logger      *zap.Logger
	retention   time.Duration
	cleanupFreq time.Duration
	stopCh      chan struct{}
}

// NewMySQLStore connects to MySQL and creates the run table if needed
func NewMySQLStore(dsn string, logger *zap.Logger, retention, cleanupFreq time.Duration) (*MySQLStore, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid MySQL DSN: %w", err)
	}
	// Timestamps are scanned as text and parsed with mysqlTimeLayout
	cfg.ParseTime = false
	cfg.Loc = time.UTC

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create MySQL connector: %w", err)
	}
	db := sql.OpenDB(connector)

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to MySQL database: %w", err)
	}

	// Create table if it doesn't exist
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS dispatch_runs (
			id CHAR(36) PRIMARY KEY,
			state VARCHAR(16) NOT NULL,
			reason TEXT NOT NULL,
			emails_sent BIGINT UNSIGNED NOT NULL,
			errors BIGINT UNSIGNED NOT NULL,
			attempted BIGINT UNSIGNED NOT NULL,
			failed_emails BIGINT UNSIGNED NOT NULL,
			invalid_addresses BIGINT UNSIGNED NOT NULL,
			batches_total INT NOT NULL,
			batches_done INT NOT NULL,
			success_rate DOUBLE NOT NULL,
			average_speed DOUBLE NOT NULL,
			delivery_confidence DOUBLE NOT NULL,
			relay_health DOUBLE NOT NULL,
			started_at DATETIME(6) NOT NULL,
			finished_at DATETIME(6) NOT NULL,
			INDEX idx_dispatch_runs_finished_at (finished_at),
			INDEX idx_dispatch_runs_started_at (started_at)
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	store := &MySQLStore{
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
func (s *MySQLStore) Save(ctx context.Context, result *core.RunResult) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO dispatch_runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			state = VALUES(state),
			reason = VALUES(reason),
			emails_sent = VALUES(emails_sent),
			errors = VALUES(errors),
			attempted = VALUES(attempted),
			failed_emails = VALUES(failed_emails),
			invalid_addresses = VALUES(invalid_addresses),
			batches_total = VALUES(batches_total),
			batches_done = VALUES(batches_done),
			success_rate = VALUES(success_rate),
			average_speed = VALUES(average_speed),
			delivery_confidence = VALUES(delivery_confidence),
			relay_health = VALUES(relay_health),
			started_at = VALUES(started_at),
			finished_at = VALUES(finished_at)
	`, runArgs(result, mysqlTimeLayout)...)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

// Get retrieves a run by id
func (s *MySQLStore) Get(ctx context.Context, id string) (*core.RunResult, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+runColumns+`
		FROM dispatch_runs
		WHERE id = ?
	`, id)

	result, err := scanRun(row, mysqlTimeLayout)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrRunNotFound
		}
		return nil, fmt.Errorf("failed to query run: %w", err)
	}
	return result, nil
}

// List returns the most recent runs, newest first
func (s *MySQLStore) List(ctx context.Context, limit int) ([]*core.RunResult, error) {
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
		result, err := scanRun(rows, mysqlTimeLayout)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		results = append(results, result)
	}
	return results, rows.Err()
}

// Cleanup removes runs that finished before the retention window
func (s *MySQLStore) Cleanup(ctx context.Context) error {
	cutoff := time.Now().Add(-s.retention).UTC().Format(mysqlTimeLayout)

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
func (s *MySQLStore) startCleanupTask() {
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
func (s *MySQLStore) Stop() {
	close(s.stopCh)
	if err := s.db.Close(); err != nil {
		s.logger.Error("Failed to close MySQL database", zap.Error(err))
	}
}
