package factory

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mikey/batch-mailer/internal/adapters/history"
	"github.com/mikey/batch-mailer/internal/config"
	"github.com/mikey/batch-mailer/internal/core"
	"go.uber.org/zap"
)

// HistoryStore is a run repository that owns background resources
type HistoryStore interface {
	core.RunRepository
	Stop()
}

// HistoryFactory creates run history stores based on configuration
type HistoryFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewHistoryFactory creates a new history factory
func NewHistoryFactory(cfg *config.Config, logger *zap.Logger) *HistoryFactory {
	return &HistoryFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateHistoryStore creates a run history store based on the configuration.
// It returns nil when history is disabled.
func (f *HistoryFactory) CreateHistoryStore() (HistoryStore, error) {
	historyConfig, err := f.cfg.GetHistory()
	if err != nil {
		return nil, err
	}
	if !historyConfig.Enabled {
		f.logger.Debug("Run history disabled")
		return nil, nil
	}

	switch historyConfig.Type {
	case "none", "":
		return nil, nil
	case "memory":
		return history.NewMemoryStore(f.logger, historyConfig.Retention, historyConfig.CleanupFrequency), nil
	case "sqlite":
		// Ensure directory exists
		if err := os.MkdirAll(filepath.Dir(historyConfig.SQLitePath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create SQLite directory: %w", err)
		}
		store, err := history.NewSQLiteStore(historyConfig.SQLitePath, f.logger, historyConfig.Retention, historyConfig.CleanupFrequency)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "mysql":
		store, err := history.NewMySQLStore(historyConfig.MySQLDSN, f.logger, historyConfig.Retention, historyConfig.CleanupFrequency)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported history type: %s", historyConfig.Type)
	}
}
