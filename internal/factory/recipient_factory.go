package factory

import (
	"github.com/mikey/batch-mailer/internal/adapters/recipients"
	"github.com/mikey/batch-mailer/internal/config"
	"github.com/mikey/batch-mailer/internal/ports"
	"github.com/mikey/batch-mailer/internal/suppression"
	"github.com/mikey/batch-mailer/internal/utils"
	"go.uber.org/zap"
)

// RecipientFactory creates recipient sources
type RecipientFactory struct {
	cfg           *config.Config
	logger        *zap.Logger
	textProcessor *utils.TextProcessor
}

// NewRecipientFactory creates a new recipient factory
func NewRecipientFactory(cfg *config.Config, logger *zap.Logger, textProcessor *utils.TextProcessor) *RecipientFactory {
	return &RecipientFactory{
		cfg:           cfg,
		logger:        logger,
		textProcessor: textProcessor,
	}
}

// CreateRecipientSource creates a file source. A non-empty path overrides recipients.file.
func (f *RecipientFactory) CreateRecipientSource(path string) ports.RecipientSource {
	recipientsConfig := f.cfg.GetRecipients()
	if path == "" {
		path = recipientsConfig.File
	}

	opts := recipients.Options{
		Deduplicate: recipientsConfig.Deduplicate,
		Suppression: suppression.NewChecker(recipientsConfig.SuppressedDomains, f.logger),
	}
	return recipients.NewFileSource(path, opts, f.textProcessor, f.logger)
}
