package core

import (
	"sync"
	"time"
)

// confidenceWeight is the weight of the newest batch outcome in DeliveryConfidence
const confidenceWeight = 0.1

// StatsAggregator accumulates the statistics of a run. The dispatch loop is
// the only writer; readers get value copies through Snapshot.
type StatsAggregator struct {
	mu    sync.RWMutex
	stats RunStats
	now   func() time.Time
}

// NewStatsAggregator creates a zeroed aggregator
func NewStatsAggregator() *StatsAggregator {
	a := &StatsAggregator{now: time.Now}
	a.stats = a.zero()
	return a
}

func (a *StatsAggregator) zero() RunStats {
	return RunStats{
		SuccessRate:        100,
		StartTime:          a.now(),
		DeliveryConfidence: 1,
		RelayHealth:        1,
	}
}

// Reset zeroes every counter and restarts the clock
func (a *StatsAggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.stats = a.zero()
}

// Snapshot returns a copy of the current statistics
func (a *StatsAggregator) Snapshot() RunStats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return a.stats
}

// Begin resets the statistics for a run of the given number of batches
func (a *StatsAggregator) Begin(batches int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.stats = a.zero()
	a.stats.BatchesTotal = batches
}

// SetRelayHealth records how many relays passed validation
func (a *StatsAggregator) SetRelayHealth(reachable, total int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if total <= 0 {
		a.stats.RelayHealth = 0
		return
	}
	a.stats.RelayHealth = clamp01(float64(reachable) / float64(total))
}

// RecordSuccess counts a batch delivered to n recipients
func (a *StatsAggregator) RecordSuccess(n int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.stats.EmailsSent += uint64(n)
	a.stats.Attempted += uint64(n)
	a.stats.BatchesDone++
	a.stats.DeliveryConfidence = clamp01((1-confidenceWeight)*a.stats.DeliveryConfidence + confidenceWeight)
	a.refresh()
}

// RecordFailure counts a batch of n recipients that the relay did not accept
func (a *StatsAggregator) RecordFailure(n int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.stats.Errors++
	a.stats.FailedEmails += uint64(n)
	a.stats.Attempted += uint64(n)
	a.stats.BatchesDone++
	a.stats.DeliveryConfidence = clamp01((1 - confidenceWeight) * a.stats.DeliveryConfidence)
	a.refresh()
}

// RecordSkipped counts a batch that had nothing left to send
func (a *StatsAggregator) RecordSkipped() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.stats.BatchesDone++
	a.refresh()
}

// RecordInvalid counts recipients dropped as malformed
func (a *StatsAggregator) RecordInvalid(n int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.stats.InvalidAddresses += uint64(n)
}

// Finish computes the final rates and returns them
func (a *StatsAggregator) Finish() RunStats {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.refresh()
	return a.stats
}

// refresh recomputes the derived rates. Caller holds the write lock.
//
// SuccessRate is per email: sent / (sent + failed) * 100, and 100 before
// anything was attempted.
func (a *StatsAggregator) refresh() {
	if a.stats.Attempted == 0 {
		a.stats.SuccessRate = 100
	} else {
		a.stats.SuccessRate = float64(a.stats.EmailsSent) / float64(a.stats.Attempted) * 100
	}

	elapsed := a.now().Sub(a.stats.StartTime).Seconds()
	if elapsed > 0 {
		a.stats.AverageSpeed = float64(a.stats.EmailsSent) / elapsed
	} else {
		a.stats.AverageSpeed = 0
	}
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
