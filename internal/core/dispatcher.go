package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// historySaveTimeout bounds the write of a run summary
const historySaveTimeout = 5 * time.Second

// dropWarningBurst is how many malformed-address warnings are logged before
// the limiter falls back to one per second
const dropWarningBurst = 20

// Dispatcher sends a recipient list through the relay pool one batch at a time.
// A Dispatcher runs one list at a time; concurrent calls to Run race on the
// shared pool and statistics.
type Dispatcher struct {
	pool         *RelayPool
	stats        *StatsAggregator
	template     MessageTemplate
	maxBatchSize int
	history      RunRepository
	logger       *zap.Logger
	sleep        SleepFunc
	dropLimiter  *rate.Limiter

	mu    sync.RWMutex
	state RunState
}

// NewDispatcher creates a new dispatcher. history may be nil to disable run history.
func NewDispatcher(
	pool *RelayPool,
	stats *StatsAggregator,
	template MessageTemplate,
	maxBatchSize int,
	history RunRepository,
	logger *zap.Logger,
) *Dispatcher {
	if maxBatchSize <= 0 {
		maxBatchSize = DefaultMaxBatchSize
	}

	return &Dispatcher{
		pool:         pool,
		stats:        stats,
		template:     template,
		maxBatchSize: maxBatchSize,
		history:      history,
		logger:       logger,
		sleep:        SleepContext,
		dropLimiter:  rate.NewLimiter(rate.Every(time.Second), dropWarningBurst),
		state:        RunStateIdle,
	}
}

// SetSleepFunc replaces the function used to wait between batches
func (d *Dispatcher) SetSleepFunc(fn SleepFunc) {
	d.sleep = fn
}

// State returns the current run state
func (d *Dispatcher) State() RunState {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

// Snapshot returns a copy of the live run statistics
func (d *Dispatcher) Snapshot() RunStats {
	return d.stats.Snapshot()
}

// MaxBatchSize returns the configured batch size ceiling
func (d *Dispatcher) MaxBatchSize() int {
	return d.maxBatchSize
}

func (d *Dispatcher) setState(state RunState) {
	d.mu.Lock()
	d.state = state
	d.mu.Unlock()

	d.logger.Debug("Run state changed", zap.String("state", string(state)))
}

// Run sends recipients in batches of batchSize. Per-batch failures are counted
// and never stop the run; an empty list, a bad batch size or a pool with no
// reachable relay aborts it before anything is sent. Cancelling ctx stops the
// run before the next batch is picked up; a send in progress always finishes.
func (d *Dispatcher) Run(ctx context.Context, recipients []string, batchSize int) (*RunResult, error) {
	result := &RunResult{
		ID:        uuid.NewString(),
		State:     RunStateIdle,
		StartedAt: time.Now(),
	}
	d.setState(RunStateIdle)
	d.stats.Reset()

	logger := d.logger.With(zap.String("run_id", result.ID))

	// Fail fast before touching any relay
	if len(recipients) == 0 {
		return d.abort(ctx, result, newError("run", "", ErrConfig, "recipient list is empty"))
	}
	if d.pool == nil || d.pool.Size() == 0 {
		return d.abort(ctx, result, newError("run", "", ErrConfig, "relay pool is empty"))
	}
	if batchSize <= 0 {
		return d.abort(ctx, result, newError("run", "", ErrConfig, "batch size must be positive, got %d", batchSize))
	}
	if batchSize > d.maxBatchSize {
		logger.Warn("Batch size above maximum, clamping",
			zap.Int("requested", batchSize),
			zap.Int("max", d.maxBatchSize))
		batchSize = d.maxBatchSize
	}

	d.setState(RunStateValidating)
	reachable, err := d.pool.ValidateAll(ctx)
	if err != nil {
		if ctx.Err() != nil {
			result.Stats = d.stats.Snapshot()
			return d.cancel(ctx, logger, result, context.Cause(ctx))
		}
		return d.abort(ctx, result, err)
	}

	batches := SplitBatches(recipients, batchSize)
	d.stats.Begin(len(batches))
	d.stats.SetRelayHealth(reachable, d.pool.Size())

	d.setState(RunStateDispatching)
	logger.Info("Dispatch started",
		zap.Int("recipients", len(recipients)),
		zap.Int("batches", len(batches)),
		zap.Int("batch_size", batchSize),
		zap.Int("relays", reachable))

	var stopErr error
	for i, batch := range batches {
		if ctx.Err() != nil {
			stopErr = context.Cause(ctx)
			break
		}

		d.dispatchBatch(ctx, logger, i, len(batches), batch)

		if i < len(batches)-1 {
			delay := NextDelay(i)
			logger.Debug("Pausing before next batch", zap.Duration("delay", delay))
			if err := d.sleep(ctx, delay); err != nil {
				stopErr = err
				break
			}
		}

		d.pool.AdvancePhase()
	}

	result.Stats = d.stats.Finish()

	if stopErr != nil {
		return d.cancel(ctx, logger, result, stopErr)
	}

	result.FinishedAt = time.Now()
	result.State = RunStateCompleted
	d.setState(result.State)
	logger.Info("Dispatch completed",
		zap.Uint64("emails_sent", result.Stats.EmailsSent),
		zap.Uint64("errors", result.Stats.Errors),
		zap.Float64("success_rate", result.Stats.SuccessRate),
		zap.Float64("emails_per_second", result.Stats.AverageSpeed),
		zap.Duration("elapsed", result.FinishedAt.Sub(result.StartedAt)))
	d.saveHistory(ctx, result)

	return result, nil
}

// dispatchBatch builds and sends the message for one batch and records the outcome
func (d *Dispatcher) dispatchBatch(ctx context.Context, logger *zap.Logger, index, total int, batch []string) {
	relay := d.pool.Select(index)
	endpoint := relay.Endpoint()

	msg, invalid := BuildMessage(d.template, batch)
	if len(invalid) > 0 {
		d.stats.RecordInvalid(len(invalid))
		suppressed := 0
		for _, addr := range invalid {
			if d.dropLimiter.Allow() {
				logger.Warn("Dropping malformed address",
					zap.Int("batch", index+1),
					zap.String("address", addr))
			} else {
				suppressed++
			}
		}
		if suppressed > 0 {
			logger.Debug("Malformed address warnings suppressed", zap.Int("count", suppressed))
		}
	}

	if len(msg.Bcc) == 0 {
		logger.Warn("Batch has no valid recipients, skipping", zap.Int("batch", index+1))
		d.stats.RecordSkipped()
		return
	}

	logger.Info("Sending batch",
		zap.Int("batch", index+1),
		zap.Int("total", total),
		zap.Int("recipients", len(msg.Bcc)),
		zap.String("relay", endpoint.Name()))

	// A send runs to completion even if the run is cancelled meanwhile
	start := time.Now()
	if err := relay.Send(context.WithoutCancel(ctx), msg); err != nil {
		d.stats.RecordFailure(len(msg.Bcc))
		logger.Error("Batch send failed",
			zap.Int("batch", index+1),
			zap.String("relay", endpoint.Name()),
			zap.Error(err))
		return
	}

	d.stats.RecordSuccess(len(msg.Bcc))
	logger.Debug("Batch sent",
		zap.Int("batch", index+1),
		zap.Int("recipients", len(msg.Bcc)),
		zap.Duration("took", time.Since(start)))
}

// cancel ends a run stopped by its context
func (d *Dispatcher) cancel(ctx context.Context, logger *zap.Logger, result *RunResult, cause error) (*RunResult, error) {
	result.State = RunStateCancelled
	result.Reason = cause.Error()
	result.FinishedAt = time.Now()
	d.setState(result.State)

	logger.Warn("Dispatch cancelled",
		zap.Int("batches_done", result.Stats.BatchesDone),
		zap.Int("batches_total", result.Stats.BatchesTotal),
		zap.Uint64("emails_sent", result.Stats.EmailsSent))
	d.saveHistory(ctx, result)

	return result, fmt.Errorf("dispatch cancelled: %w", cause)
}

// abort ends a run before any send
func (d *Dispatcher) abort(ctx context.Context, result *RunResult, reason error) (*RunResult, error) {
	result.State = RunStateAborted
	result.Reason = reason.Error()
	result.Stats = d.stats.Snapshot()
	result.FinishedAt = time.Now()
	d.setState(result.State)

	d.logger.Error("Dispatch aborted",
		zap.String("run_id", result.ID),
		zap.Error(reason))
	d.saveHistory(ctx, result)

	return result, fmt.Errorf("%w: %w", ErrAborted, reason)
}

// saveHistory stores the result when a history repository is configured
func (d *Dispatcher) saveHistory(ctx context.Context, result *RunResult) {
	if d.history == nil {
		return
	}

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), historySaveTimeout)
	defer cancel()

	if err := d.history.Save(saveCtx, result); err != nil {
		d.logger.Error("Failed to save run history",
			zap.String("run_id", result.ID),
			zap.Error(err))
	}
}

// IsAborted reports whether err ended a run before any send
func IsAborted(err error) bool {
	return errors.Is(err, ErrAborted)
}
