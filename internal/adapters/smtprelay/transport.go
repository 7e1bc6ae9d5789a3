package smtprelay

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/mail"
	"os"
	"sync/atomic"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/mikey/batch-mailer/internal/core"
	"go.uber.org/zap"
)

// Transport opens handles to SMTP relays
type Transport struct {
	timeout  time.Duration
	heloName string
	logger   *zap.Logger
}

// NewTransport creates a new SMTP transport
func NewTransport(timeout time.Duration, heloName string, logger *zap.Logger) *Transport {
	if timeout <= 0 {
		timeout = core.DefaultRelayTimeout
	}
	if heloName == "" {
		// Get hostname for EHLO
		if hostname, err := os.Hostname(); err == nil {
			heloName = hostname
		} else {
			heloName = "localhost"
		}
	}

	return &Transport{
		timeout:  timeout,
		heloName: heloName,
		logger:   logger,
	}
}

// Open creates a handle for an SMTP relay. Connections are made per operation.
func (t *Transport) Open(endpoint core.RelayEndpoint) (core.RelayHandle, error) {
	if endpoint.Host == "" {
		return nil, fmt.Errorf("relay host is empty")
	}
	if endpoint.Port <= 0 || endpoint.Port > 65535 {
		return nil, fmt.Errorf("relay port %d out of range", endpoint.Port)
	}

	return &Handle{
		endpoint: endpoint,
		timeout:  t.timeout,
		heloName: t.heloName,
		logger:   t.logger.With(zap.String("relay", endpoint.Name())),
		tlsConfig: &tls.Config{
			ServerName: endpoint.Host,
			MinVersion: tls.VersionTLS12,
		},
	}, nil
}

// Handle is a connection handle to one SMTP relay
type Handle struct {
	endpoint  core.RelayEndpoint
	timeout   time.Duration
	heloName  string
	logger    *zap.Logger
	tlsConfig *tls.Config

	// set once the relay has advertised STARTTLS on a plain connection
	startTLS atomic.Bool
}

// Endpoint returns the relay endpoint
func (h *Handle) Endpoint() core.RelayEndpoint {
	return h.endpoint
}

// Probe connects, greets the relay and quits
func (h *Handle) Probe(ctx context.Context) error {
	c, err := h.connect(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrConnection, err)
	}
	defer c.Close()

	if err := c.Noop(); err != nil {
		return fmt.Errorf("%w: NOOP failed: %v", core.ErrConnection, err)
	}
	if err := c.Quit(); err != nil {
		h.logger.Debug("QUIT command failed after probe", zap.Error(err))
	}

	return nil
}

// Send delivers a message in one SMTP transaction
func (h *Handle) Send(ctx context.Context, msg *core.Message) error {
	from, err := mail.ParseAddress(msg.From)
	if err != nil {
		return fmt.Errorf("%w: invalid sender %q: %v", core.ErrSend, msg.From, err)
	}

	data, err := Render(msg, time.Now())
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrSend, err)
	}

	c, err := h.connect(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrSend, err)
	}
	defer c.Close()

	// Set the sender
	if err := c.Mail(from.Address, nil); err != nil {
		return fmt.Errorf("%w: MAIL FROM failed: %v", core.ErrSend, err)
	}

	// The visible address is delivered but does not decide the outcome
	toAccepted := false
	if msg.To != "" {
		if err := c.Rcpt(msg.To, nil); err != nil {
			h.logger.Warn("RCPT TO failed for visible recipient",
				zap.String("recipient", msg.To),
				zap.Error(err))
		} else {
			toAccepted = true
		}
	}

	accepted := 0
	rejected := 0
	for _, recipient := range msg.Bcc {
		// Already given to the relay as the visible address
		if recipient == msg.To {
			if toAccepted {
				accepted++
			} else {
				rejected++
			}
			continue
		}
		if err := c.Rcpt(recipient, nil); err != nil {
			rejected++
			h.logger.Warn("RCPT TO failed for recipient",
				zap.String("recipient", recipient),
				zap.Error(err))
			// Continue with other recipients even if one fails
			continue
		}
		accepted++
	}

	if accepted == 0 {
		if err := c.Reset(); err != nil {
			h.logger.Debug("RSET command failed", zap.Error(err))
		}
		return fmt.Errorf("%w: all %d batch recipients were rejected", core.ErrSend, rejected)
	}

	// Send the message data
	wc, err := c.Data()
	if err != nil {
		return fmt.Errorf("%w: DATA command failed: %v", core.ErrSend, err)
	}

	if _, err := wc.Write(data); err != nil {
		wc.Close()
		return fmt.Errorf("%w: failed to write message data: %v", core.ErrSend, err)
	}

	if err := wc.Close(); err != nil {
		return fmt.Errorf("%w: message not accepted: %v", core.ErrSend, err)
	}

	// Quit the connection
	if err := c.Quit(); err != nil {
		h.logger.Warn("QUIT command failed", zap.Error(err))
		// Not returning an error here as the message has already been accepted
	}

	if rejected > 0 {
		h.logger.Info("Message accepted with rejected recipients",
			zap.Int("accepted", accepted),
			zap.Int("rejected", rejected))
	}

	return nil
}

// Close is a no-op; connections do not outlive a single operation
func (h *Handle) Close() error {
	return nil
}

// connect dials the relay, greets it, upgrades to TLS when offered and authenticates
func (h *Handle) connect(ctx context.Context) (*smtp.Client, error) {
	c, err := h.greet(ctx)
	if err != nil {
		return nil, err
	}

	if h.endpoint.Username != "" {
		if ok, _ := c.Extension("AUTH"); !ok {
			c.Close()
			return nil, errors.New("relay does not advertise AUTH")
		}
		auth := sasl.NewPlainClient("", h.endpoint.Username, h.endpoint.Password)
		if err := c.Auth(auth); err != nil {
			c.Close()
			return nil, fmt.Errorf("AUTH failed: %w", err)
		}
	}

	return c, nil
}

// greet returns a client that has completed EHLO, over TLS whenever the relay
// supports it
func (h *Handle) greet(ctx context.Context) (*smtp.Client, error) {
	if h.endpoint.TLS || !h.startTLS.Load() {
		conn, err := h.dial(ctx, h.endpoint.TLS)
		if err != nil {
			return nil, err
		}
		c := h.newClient(conn)
		if err := c.Hello(h.heloName); err != nil {
			c.Close()
			return nil, fmt.Errorf("EHLO failed: %w", err)
		}
		if h.endpoint.TLS {
			return c, nil
		}
		if ok, _ := c.Extension("STARTTLS"); !ok {
			return c, nil
		}

		// Redial and upgrade before anything is sent in the clear
		h.startTLS.Store(true)
		if err := c.Quit(); err != nil {
			c.Close()
		}
	}

	conn, err := h.dial(ctx, false)
	if err != nil {
		return nil, err
	}
	c, err := smtp.NewClientStartTLS(conn, h.tlsConfig)
	if err != nil {
		return nil, fmt.Errorf("STARTTLS failed: %w", err)
	}
	h.setTimeouts(c)
	if err := c.Hello(h.heloName); err != nil {
		c.Close()
		return nil, fmt.Errorf("EHLO after STARTTLS failed: %w", err)
	}
	return c, nil
}

// dial opens a TCP connection, wrapped in TLS when implicit is set
func (h *Handle) dial(ctx context.Context, implicit bool) (net.Conn, error) {
	addr := h.endpoint.Address()
	dialer := &net.Dialer{Timeout: h.timeout}

	var conn net.Conn
	var err error
	if implicit {
		tlsDialer := &tls.Dialer{NetDialer: dialer, Config: h.tlsConfig}
		conn, err = tlsDialer.DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	return conn, nil
}

func (h *Handle) newClient(conn net.Conn) *smtp.Client {
	c := smtp.NewClient(conn)
	h.setTimeouts(c)
	return c
}

// setTimeouts bounds each command and the message submission by the relay timeout
func (h *Handle) setTimeouts(c *smtp.Client) {
	c.CommandTimeout = h.timeout
	c.SubmissionTimeout = h.timeout
}
