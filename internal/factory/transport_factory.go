package factory

import (
	"fmt"

	"github.com/mikey/batch-mailer/internal/adapters/logrelay"
	"github.com/mikey/batch-mailer/internal/adapters/ses"
	"github.com/mikey/batch-mailer/internal/adapters/smtprelay"
	"github.com/mikey/batch-mailer/internal/config"
	"github.com/mikey/batch-mailer/internal/core"
	"go.uber.org/zap"
)

// TransportFactory creates relay transports and the relay pool based on configuration
type TransportFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewTransportFactory creates a new transport factory
func NewTransportFactory(cfg *config.Config, logger *zap.Logger) *TransportFactory {
	return &TransportFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateEndpoints returns the configured relays in configuration order
func (f *TransportFactory) CreateEndpoints() ([]core.RelayEndpoint, error) {
	relays, err := f.cfg.GetRelays()
	if err != nil {
		return nil, err
	}

	endpoints := make([]core.RelayEndpoint, 0, len(relays))
	for i, relay := range relays {
		switch relay.Kind {
		case core.RelayKindSMTP, core.RelayKindSES, core.RelayKindLog:
		default:
			return nil, fmt.Errorf("%w: relay %d: unsupported kind %q", core.ErrConfig, i, relay.Kind)
		}
		endpoints = append(endpoints, core.RelayEndpoint{
			Host:     relay.Host,
			Port:     relay.Port,
			Username: relay.Username,
			Password: relay.Password,
			TLS:      relay.TLS,
			Identity: relay.Identity,
			Kind:     relay.Kind,
		})
	}

	return endpoints, nil
}

// CreateTransport creates a transport that opens each relay with the adapter for its kind
func (f *TransportFactory) CreateTransport() (*RelayTransport, error) {
	settings, err := f.cfg.GetRelaySettings()
	if err != nil {
		return nil, err
	}

	return &RelayTransport{
		byKind: map[string]core.Transport{
			core.RelayKindSMTP: smtprelay.NewTransport(settings.Timeout, settings.HeloName, f.logger),
			core.RelayKindSES:  ses.NewTransport(f.logger),
			core.RelayKindLog:  logrelay.NewTransport(f.logger),
		},
	}, nil
}

// CreateRelayPool opens every configured relay
func (f *TransportFactory) CreateRelayPool() (*core.RelayPool, error) {
	endpoints, err := f.CreateEndpoints()
	if err != nil {
		return nil, err
	}
	transport, err := f.CreateTransport()
	if err != nil {
		return nil, err
	}
	return core.NewRelayPool(endpoints, transport, f.logger)
}

// RelayTransport routes Open to the transport registered for the endpoint kind
type RelayTransport struct {
	byKind map[string]core.Transport
}

// NewRelayTransport creates a router over the given transports
func NewRelayTransport(byKind map[string]core.Transport) *RelayTransport {
	return &RelayTransport{byKind: byKind}
}

// Open opens endpoint with the transport for its kind. An empty kind is SMTP.
func (t *RelayTransport) Open(endpoint core.RelayEndpoint) (core.RelayHandle, error) {
	kind := endpoint.Kind
	if kind == "" {
		kind = core.RelayKindSMTP
	}

	transport, ok := t.byKind[kind]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported relay kind %q", core.ErrConfig, kind)
	}
	return transport.Open(endpoint)
}
