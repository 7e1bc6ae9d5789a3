package reporter

import (
	"context"
	"time"

	"github.com/mikey/batch-mailer/internal/core"
	"github.com/mikey/batch-mailer/internal/ports"
	"go.uber.org/zap"
)

// DefaultInterval is used when no positive reporting interval is configured
const DefaultInterval = 5 * time.Second

// LogReporter periodically logs a statistics snapshot while a run is in flight
type LogReporter struct {
	source   ports.StatsReader
	interval time.Duration
	logger   *zap.Logger
}

// NewLogReporter creates a new progress reporter
func NewLogReporter(source ports.StatsReader, interval time.Duration, logger *zap.Logger) *LogReporter {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &LogReporter{
		source:   source,
		interval: interval,
		logger:   logger,
	}
}

// Run reports on every tick while a run is dispatching. It returns nil once the
// run it watched reaches a terminal state, or when ctx is done.
func (r *LogReporter) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	active := false
	for {
		select {
		case <-ticker.C:
			state := r.source.State()
			switch {
			case state == core.RunStateDispatching:
				active = true
				r.Report()
			case state == core.RunStateValidating:
				active = true
			case active && state.IsTerminal():
				// Final figures for the run just observed
				r.Report()
				return nil
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// Report logs the current snapshot
func (r *LogReporter) Report() {
	stats := r.source.Snapshot()
	r.logger.Info("Dispatch progress",
		zap.String("state", string(r.source.State())),
		zap.Int("batches_done", stats.BatchesDone),
		zap.Int("batches_total", stats.BatchesTotal),
		zap.Uint64("emails_sent", stats.EmailsSent),
		zap.Uint64("failed_emails", stats.FailedEmails),
		zap.Uint64("errors", stats.Errors),
		zap.Uint64("invalid_addresses", stats.InvalidAddresses),
		zap.Float64("success_rate", stats.SuccessRate),
		zap.Float64("emails_per_second", stats.AverageSpeed),
		zap.Float64("delivery_confidence", stats.DeliveryConfidence),
		zap.Float64("relay_health", stats.RelayHealth))
}

var _ ports.ProgressReporter = (*LogReporter)(nil)
