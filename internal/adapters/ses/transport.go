// Package ses implements a relay transport that sends through the AWS SES v2 API.
package ses

import (
	"context"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/mikey/batch-mailer/internal/core"
	"go.uber.org/zap"
)

// API is the subset of the SES v2 client used by the transport.
// Tests substitute a mock implementation.
type API interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
	GetAccount(ctx context.Context, params *sesv2.GetAccountInput, optFns ...func(*sesv2.Options)) (*sesv2.GetAccountOutput, error)
}

// maxDestinations is the SES limit on To, Cc and Bcc addresses per request
const maxDestinations = 50

// ClientFunc builds an SES client for an endpoint
type ClientFunc func(ctx context.Context, endpoint core.RelayEndpoint) (API, error)

// Transport opens handles to SES regions. The endpoint host is the AWS region;
// username and password, when both set, are static access keys.
type Transport struct {
	newClient ClientFunc
	logger    *zap.Logger
}

// NewTransport creates an SES transport backed by the AWS SDK
func NewTransport(logger *zap.Logger) *Transport {
	return NewTransportWithClient(DefaultClient, logger)
}

// NewTransportWithClient creates an SES transport with a custom client constructor
func NewTransportWithClient(newClient ClientFunc, logger *zap.Logger) *Transport {
	return &Transport{
		newClient: newClient,
		logger:    logger,
	}
}

// DefaultClient loads AWS configuration for the endpoint's region
func DefaultClient(ctx context.Context, endpoint core.RelayEndpoint) (API, error) {
	var opts []func(*awsconfig.LoadOptions) error

	opts = append(opts, awsconfig.WithRegion(endpoint.Host))

	if endpoint.Username != "" && endpoint.Password != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(endpoint.Username, endpoint.Password, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return sesv2.NewFromConfig(awsCfg), nil
}

// Open creates a handle for an SES region
func (t *Transport) Open(endpoint core.RelayEndpoint) (core.RelayHandle, error) {
	if endpoint.Host == "" {
		return nil, fmt.Errorf("SES relay needs a region in host")
	}

	client, err := t.newClient(context.Background(), endpoint)
	if err != nil {
		return nil, err
	}

	return &Handle{
		endpoint: endpoint,
		client:   client,
		logger:   t.logger.With(zap.String("relay", endpoint.Name())),
	}, nil
}

// Handle sends messages through one SES region
type Handle struct {
	endpoint core.RelayEndpoint
	client   API
	logger   *zap.Logger
}

// Endpoint returns the relay endpoint
func (h *Handle) Endpoint() core.RelayEndpoint {
	return h.endpoint
}

// Probe checks that the account is reachable and allowed to send
func (h *Handle) Probe(ctx context.Context) error {
	out, err := h.client.GetAccount(ctx, &sesv2.GetAccountInput{})
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrConnection, err)
	}
	if !out.SendingEnabled {
		return fmt.Errorf("%w: sending is disabled for this account", core.ErrConnection)
	}
	return nil
}

// Send delivers the message with every batch recipient in Bcc. Batches larger
// than one request allows are split; the visible address receives one copy.
func (h *Handle) Send(ctx context.Context, msg *core.Message) error {
	chunks := splitBcc(msg.Bcc, maxDestinations-1)
	for i, bcc := range chunks {
		to := ""
		if i == 0 {
			to = msg.To
		}

		out, err := h.client.SendEmail(ctx, buildInput(msg, to, bcc))
		if err != nil {
			if i > 0 {
				h.logger.Warn("SES request failed after part of the batch was accepted",
					zap.Int("part", i+1),
					zap.Int("parts", len(chunks)))
			}
			return fmt.Errorf("%w: %v", core.ErrSend, err)
		}

		h.logger.Debug("SES accepted message",
			zap.String("ses_message_id", aws.ToString(out.MessageId)),
			zap.Int("part", i+1),
			zap.Int("recipients", len(bcc)))
	}
	return nil
}

// splitBcc cuts recipients into groups of at most size; an empty list yields
// one empty group so the visible address is still sent
func splitBcc(recipients []string, size int) [][]string {
	if len(recipients) == 0 {
		return [][]string{nil}
	}
	var groups [][]string
	for start := 0; start < len(recipients); start += size {
		end := min(start+size, len(recipients))
		groups = append(groups, recipients[start:end])
	}
	return groups
}

// Close is a no-op
func (h *Handle) Close() error {
	return nil
}

// buildInput creates one SES request for a batch message
func buildInput(msg *core.Message, to string, bcc []string) *sesv2.SendEmailInput {
	dest := &types.Destination{
		BccAddresses: bcc,
	}
	if to != "" {
		dest.ToAddresses = []string{to}
	}

	names := make([]string, 0, len(msg.Headers))
	for name := range msg.Headers {
		names = append(names, name)
	}
	sort.Strings(names)

	var headers []types.MessageHeader
	for _, name := range names {
		headers = append(headers, types.MessageHeader{
			Name:  aws.String(name),
			Value: aws.String(msg.Headers[name]),
		})
	}

	return &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(msg.From),
		Destination:      dest,
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{
					Data:    aws.String(msg.Subject),
					Charset: aws.String("UTF-8"),
				},
				Body: &types.Body{
					Text: &types.Content{
						Data:    aws.String(msg.Body),
						Charset: aws.String("UTF-8"),
					},
				},
				Headers: headers,
			},
		},
	}
}
