package di

import (
	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/mikey/batch-mailer/internal/adapters/reporter"
	"github.com/mikey/batch-mailer/internal/config"
	"github.com/mikey/batch-mailer/internal/core"
	"github.com/mikey/batch-mailer/internal/factory"
	"github.com/mikey/batch-mailer/internal/logging"
	"github.com/mikey/batch-mailer/internal/ports"
	"github.com/mikey/batch-mailer/internal/utils"
)

// Options carries the command line settings that shape the container
type Options struct {
	ConfigFile string
	Verbose    bool
	JSONLog    bool
}

// BuildContainer creates and configures a dependency injection container
func BuildContainer(opts Options) (*dig.Container, error) {
	container := dig.New()

	// Register options
	if err := container.Provide(func() Options { return opts }); err != nil {
		return nil, err
	}

	// Register configuration
	if err := container.Provide(func(opts Options) (*config.Config, error) {
		return config.NewFromFile(opts.ConfigFile)
	}); err != nil {
		return nil, err
	}

	// Register logger. Command line flags win over the logging section.
	if err := container.Provide(func(opts Options, cfg *config.Config) (*zap.Logger, error) {
		if opts.Verbose || opts.JSONLog {
			return logging.InitConsoleLogger(opts.Verbose, opts.JSONLog)
		}
		return logging.InitLogger(cfg)
	}); err != nil {
		return nil, err
	}

	// Register factories
	if err := container.Provide(factory.NewTextProcessorFactory); err != nil {
		return nil, err
	}
	if err := container.Provide(factory.NewTransportFactory); err != nil {
		return nil, err
	}
	if err := container.Provide(factory.NewHistoryFactory); err != nil {
		return nil, err
	}
	if err := container.Provide(factory.NewRecipientFactory); err != nil {
		return nil, err
	}
	if err := container.Provide(factory.NewDispatcherFactory); err != nil {
		return nil, err
	}

	// Register text processor
	if err := container.Provide(func(f *factory.TextProcessorFactory) *utils.TextProcessor {
		return f.CreateTextProcessor()
	}); err != nil {
		return nil, err
	}

	// Register relay pool
	if err := container.Provide(func(f *factory.TransportFactory) (*core.RelayPool, error) {
		return f.CreateRelayPool()
	}); err != nil {
		return nil, err
	}

	// Register run history (nil when disabled)
	if err := container.Provide(func(f *factory.HistoryFactory) (factory.HistoryStore, error) {
		return f.CreateHistoryStore()
	}); err != nil {
		return nil, err
	}

	// Register statistics aggregator
	if err := container.Provide(core.NewStatsAggregator); err != nil {
		return nil, err
	}

	// Register dispatcher and its read side
	if err := container.Provide(func(
		f *factory.DispatcherFactory,
		pool *core.RelayPool,
		stats *core.StatsAggregator,
		store factory.HistoryStore,
	) (*core.Dispatcher, error) {
		return f.CreateDispatcher(pool, stats, store)
	}); err != nil {
		return nil, err
	}
	if err := container.Provide(func(d *core.Dispatcher) ports.StatsReader {
		return d
	}); err != nil {
		return nil, err
	}

	// Register progress reporter
	if err := container.Provide(func(cfg *config.Config, source ports.StatsReader, logger *zap.Logger) (ports.ProgressReporter, error) {
		interval, err := cfg.GetReportingInterval()
		if err != nil {
			return nil, err
		}
		return reporter.NewLogReporter(source, interval, logger.Named("progress")), nil
	}); err != nil {
		return nil, err
	}

	return container, nil
}
