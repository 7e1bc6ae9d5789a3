package history

import (
	"fmt"
	"time"

	"github.com/mikey/batch-mailer/internal/core"
)

// runColumns is the column list shared by the SQL stores, in scan order
const runColumns = `id, state, reason, emails_sent, errors, attempted, failed_emails,
	invalid_addresses, batches_total, batches_done, success_rate, average_speed,
	delivery_confidence, relay_health, started_at, finished_at`

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

// runArgs returns the insert arguments for a result, timestamps formatted with layout
func runArgs(r *core.RunResult, layout string) []any {
	return []any{
		r.ID,
		string(r.State),
		r.Reason,
		r.Stats.EmailsSent,
		r.Stats.Errors,
		r.Stats.Attempted,
		r.Stats.FailedEmails,
		r.Stats.InvalidAddresses,
		r.Stats.BatchesTotal,
		r.Stats.BatchesDone,
		r.Stats.SuccessRate,
		r.Stats.AverageSpeed,
		r.Stats.DeliveryConfidence,
		r.Stats.RelayHealth,
		r.StartedAt.UTC().Format(layout),
		r.FinishedAt.UTC().Format(layout),
	}
}

// scanRun reads one row in runColumns order
func scanRun(row rowScanner, layout string) (*core.RunResult, error) {
	var r core.RunResult
	var state, startedAt, finishedAt string

	err := row.Scan(
		&r.ID,
		&state,
		&r.Reason,
		&r.Stats.EmailsSent,
		&r.Stats.Errors,
		&r.Stats.Attempted,
		&r.Stats.FailedEmails,
		&r.Stats.InvalidAddresses,
		&r.Stats.BatchesTotal,
		&r.Stats.BatchesDone,
		&r.Stats.SuccessRate,
		&r.Stats.AverageSpeed,
		&r.Stats.DeliveryConfidence,
		&r.Stats.RelayHealth,
		&startedAt,
		&finishedAt,
	)
	if err != nil {
		return nil, err
	}
	r.State = core.RunState(state)

	// Parse timestamps
	if r.StartedAt, err = time.Parse(layout, startedAt); err != nil {
		return nil, fmt.Errorf("failed to parse started_at timestamp: %w", err)
	}
	if r.FinishedAt, err = time.Parse(layout, finishedAt); err != nil {
		return nil, fmt.Errorf("failed to parse finished_at timestamp: %w", err)
	}
	r.Stats.StartTime = r.StartedAt

	return &r, nil
}
