package core

import (
	"context"
	"time"
)

// MaxPacingDelay caps every inter-batch delay
const MaxPacingDelay = 10 * time.Second

// pacingTable holds the delays for the first ten batches, in milliseconds
var pacingTable = [10]int64{100, 100, 200, 300, 500, 800, 1300, 2100, 3400, 5500}

// pacingExtension holds the delays past the table. Batch i >= 10 restarts the
// recurrence b' = a + b from the base pair (100, 100) and takes the
// ((i mod 10) + 1)-th value of 100, 200, 300, 500, ..., 8900, clamped to
// MaxPacingDelay.
var pacingExtension = buildPacingExtension()

func buildPacingExtension() [10]int64 {
	var ext [10]int64
	a, b := int64(100), int64(100)
	ext[0] = b
	for n := 1; n < len(ext); n++ {
		a, b = b, a+b
		ext[n] = b
	}
	limit := MaxPacingDelay.Milliseconds()
	for i := range ext {
		if ext[i] > limit {
			ext[i] = limit
		}
	}
	return ext
}

// NextDelay returns the pause to insert after the batch at the given index
func NextDelay(batchIndex int) time.Duration {
	if batchIndex < 0 {
		batchIndex = 0
	}
	if batchIndex < len(pacingTable) {
		return time.Duration(pacingTable[batchIndex]) * time.Millisecond
	}
	return time.Duration(pacingExtension[batchIndex%len(pacingExtension)]) * time.Millisecond
}

// SleepFunc waits for d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

// SleepContext waits for the specified duration or until the context is cancelled
func SleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
