package factory

import (
	"fmt"

	"github.com/mikey/batch-mailer/internal/config"
	"github.com/mikey/batch-mailer/internal/core"
	"github.com/mikey/batch-mailer/internal/utils"
	"go.uber.org/zap"
)

// DispatcherFactory creates the message template and the dispatcher
type DispatcherFactory struct {
	cfg           *config.Config
	logger        *zap.Logger
	textProcessor *utils.TextProcessor
}

// NewDispatcherFactory creates a new dispatcher factory
func NewDispatcherFactory(cfg *config.Config, logger *zap.Logger, textProcessor *utils.TextProcessor) *DispatcherFactory {
	return &DispatcherFactory{
		cfg:           cfg,
		logger:        logger,
		textProcessor: textProcessor,
	}
}

// CreateTemplate builds the message template from the message section
func (f *DispatcherFactory) CreateTemplate() (core.MessageTemplate, error) {
	msg, err := f.cfg.GetMessage()
	if err != nil {
		return core.MessageTemplate{}, err
	}

	from, err := core.ParseRecipient(f.textProcessor.NormalizeAddress(msg.From))
	if err != nil {
		return core.MessageTemplate{}, fmt.Errorf("%w: message.from: %v", core.ErrConfig, err)
	}

	to := ""
	if msg.To != "" {
		if to, err = core.ParseRecipient(f.textProcessor.NormalizeAddress(msg.To)); err != nil {
			return core.MessageTemplate{}, fmt.Errorf("%w: message.to: %v", core.ErrConfig, err)
		}
	}

	return core.MessageTemplate{
		From:    from,
		To:      to,
		Subject: f.textProcessor.ProcessSubject(msg.Subject),
		Body:    f.textProcessor.ProcessBody(msg.Body),
		Headers: msg.Headers,
	}, nil
}

// BatchSize returns the configured default batch size
func (f *DispatcherFactory) BatchSize() int {
	return f.cfg.GetBatch().Size
}

// CreateDispatcher creates a dispatcher over pool. store may be nil.
func (f *DispatcherFactory) CreateDispatcher(pool *core.RelayPool, stats *core.StatsAggregator, store HistoryStore) (*core.Dispatcher, error) {
	tpl, err := f.CreateTemplate()
	if err != nil {
		return nil, err
	}

	// Keep the repository nil rather than a typed nil
	var repo core.RunRepository
	if store != nil {
		repo = store
	}

	return core.NewDispatcher(pool, stats, tpl, f.cfg.GetBatch().MaxSize, repo, f.logger), nil
}
