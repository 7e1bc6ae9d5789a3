package factory

import (
	"github.com/mikey/batch-mailer/internal/utils"
	"go.uber.org/zap"
)

// TextProcessorFactory creates the processor shared by the recipient loader
// and the message template: it normalises addresses to NFC with a lowercase
// domain, collapses and truncates subjects, and converts body line endings.
type TextProcessorFactory struct {
	logger *zap.Logger
}

// NewTextProcessorFactory creates a new TextProcessorFactory
func NewTextProcessorFactory(logger *zap.Logger) *TextProcessorFactory {
	return &TextProcessorFactory{
		logger: logger,
	}
}

// CreateTextProcessor creates the processor, logging under "text"
func (f *TextProcessorFactory) CreateTextProcessor() *utils.TextProcessor {
	return utils.NewTextProcessor(f.logger.Named("text"))
}
