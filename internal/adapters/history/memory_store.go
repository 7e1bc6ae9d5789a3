package history

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mikey/batch-mailer/internal/core"
	"go.uber.org/zap"
)

// defaultListLimit applies when List is called without a positive limit
const defaultListLimit = 20

// MemoryStore is an in-memory implementation of the RunRepository interface
type MemoryStore struct {
	runs        map[string]*core.RunResult
	mu          sync.RWMutex
	logger      *zap.Logger
	retention   time.Duration
	cleanupFreq time.Duration
	stopCh      chan struct{}
	stopOnce    sync.Once
}

// NewMemoryStore creates a new in-memory run history
func NewMemoryStore(logger *zap.Logger, retention, cleanupFreq time.Duration) *MemoryStore {
	store := &MemoryStore{
		runs:        make(map[string]*core.RunResult),
		logger:      logger,
		retention:   retention,
		cleanupFreq: cleanupFreq,
		stopCh:      make(chan struct{}),
	}

	// Start background cleanup
	if cleanupFreq > 0 && retention > 0 {
		go store.startCleanupTask()
	}

	return store
}

// Save stores a copy of a run result
func (s *MemoryStore) Save(_ context.Context, result *core.RunResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *result
	s.runs[result.ID] = &stored
	return nil
}

// Get retrieves a run by id
func (s *MemoryStore) Get(_ context.Context, id string) (*core.RunResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return nil, core.ErrRunNotFound
	}
	found := *run
	return &found, nil
}

// List returns the most recent runs, newest first
func (s *MemoryStore) List(_ context.Context, limit int) ([]*core.RunResult, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	s.mu.RLock()
	results := make([]*core.RunResult, 0, len(s.runs))
	for _, run := range s.runs {
		copied := *run
		results = append(results, &copied)
	}
	s.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool {
		return results[i].StartedAt.After(results[j].StartedAt)
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Cleanup removes runs that finished before the retention window
func (s *MemoryStore) Cleanup(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-s.retention)
	removed := 0

	for id, run := range s.runs {
		if run.FinishedAt.Before(cutoff) {
			delete(s.runs, id)
			removed++
		}
	}

	s.logger.Debug("Cleaned up old runs", zap.Int("removed", removed))
	return nil
}

// startCleanupTask starts a background task to remove old runs
func (s *MemoryStore) startCleanupTask() {
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

// Stop stops the background cleanup task
func (s *MemoryStore) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}
