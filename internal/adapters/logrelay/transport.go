package logrelay

import (
	"context"

	"github.com/mikey/batch-mailer/internal/core"
	"go.uber.org/zap"
)

// Transport opens dry-run relays that log each message instead of sending it
type Transport struct {
	logger *zap.Logger
}

// NewTransport creates a new dry-run transport
func NewTransport(logger *zap.Logger) *Transport {
	return &Transport{logger: logger}
}

// Open creates a dry-run handle
func (t *Transport) Open(endpoint core.RelayEndpoint) (core.RelayHandle, error) {
	return &Handle{
		endpoint: endpoint,
		logger:   t.logger.With(zap.String("relay", endpoint.Name())),
	}, nil
}

// Handle logs messages handed to it. It never fails.
type Handle struct {
	endpoint core.RelayEndpoint
	logger   *zap.Logger
}

// Endpoint returns the relay endpoint
func (h *Handle) Endpoint() core.RelayEndpoint {
	return h.endpoint
}

// Probe always succeeds
func (h *Handle) Probe(_ context.Context) error {
	return nil
}

// Send logs a summary of the message
func (h *Handle) Send(_ context.Context, msg *core.Message) error {
	h.logger.Info("Dry run: message not sent",
		zap.String("from", msg.From),
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.String("message_id", msg.MessageID),
		zap.Int("bcc", len(msg.Bcc)),
		zap.Int("envelope_recipients", len(msg.Recipients())),
		zap.Int("body_bytes", len(msg.Body)))

	if ce := h.logger.Check(zap.DebugLevel, "Dry run recipients"); ce != nil {
		ce.Write(zap.Strings("bcc", msg.Bcc))
	}
	return nil
}

// Close is a no-op
func (h *Handle) Close() error {
	return nil
}
