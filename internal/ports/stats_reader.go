package ports

import (
	"github.com/mikey/batch-mailer/internal/core"
)

// StatsReader defines the read side of run statistics used by reporting
type StatsReader interface {
	// Snapshot returns a copy of the current statistics
	Snapshot() core.RunStats

	// State returns the current run state
	State() core.RunState
}
