package ports

import (
	"context"
)

// ProgressReporter defines the interface for reporting a run while it is in flight
type ProgressReporter interface {
	// Run reports until ctx is done
	Run(ctx context.Context) error

	// Report emits a single report immediately
	Report()
}
