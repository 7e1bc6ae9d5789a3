package ses

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/mikey/batch-mailer/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// mockSESClient implements API for testing
type mockSESClient struct {
	sendErr        error
	accountErr     error
	sendingEnabled bool
	failOnCall     int
	lastInput      *sesv2.SendEmailInput
	inputs         []*sesv2.SendEmailInput
	callCount      int
}

func (m *mockSESClient) SendEmail(_ context.Context, params *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	m.callCount++
	m.lastInput = params
	m.inputs = append(m.inputs, params)
	if m.sendErr != nil && (m.failOnCall == 0 || m.failOnCall == m.callCount) {
		return nil, m.sendErr
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("ses-msg-1")}, nil
}

func (m *mockSESClient) GetAccount(_ context.Context, _ *sesv2.GetAccountInput, _ ...func(*sesv2.Options)) (*sesv2.GetAccountOutput, error) {
	if m.accountErr != nil {
		return nil, m.accountErr
	}
	return &sesv2.GetAccountOutput{SendingEnabled: m.sendingEnabled}, nil
}

func openWithMock(t *testing.T, mock *mockSESClient) core.RelayHandle {
	t.Helper()
	transport := NewTransportWithClient(func(_ context.Context, _ core.RelayEndpoint) (API, error) {
		return mock, nil
	}, zaptest.NewLogger(t))

	handle, err := transport.Open(core.RelayEndpoint{Host: "eu-west-1", Kind: core.RelayKindSES})
	require.NoError(t, err)
	return handle
}

func TestTransport_OpenRequiresRegion(t *testing.T) {
	transport := NewTransportWithClient(func(context.Context, core.RelayEndpoint) (API, error) {
		return &mockSESClient{}, nil
	}, zaptest.NewLogger(t))

	_, err := transport.Open(core.RelayEndpoint{Kind: core.RelayKindSES})
	assert.Error(t, err)
}

func TestTransport_OpenClientError(t *testing.T) {
	transport := NewTransportWithClient(func(context.Context, core.RelayEndpoint) (API, error) {
		return nil, errors.New("no credentials")
	}, zaptest.NewLogger(t))

	_, err := transport.Open(core.RelayEndpoint{Host: "us-east-1", Kind: core.RelayKindSES})
	assert.EqualError(t, err, "no credentials")
}

func TestHandle_Probe(t *testing.T) {
	assert.NoError(t, openWithMock(t, &mockSESClient{sendingEnabled: true}).Probe(context.Background()))

	err := openWithMock(t, &mockSESClient{sendingEnabled: false}).Probe(context.Background())
	assert.ErrorIs(t, err, core.ErrConnection)

	err = openWithMock(t, &mockSESClient{accountErr: errors.New("throttled")}).Probe(context.Background())
	assert.ErrorIs(t, err, core.ErrConnection)
}

func TestHandle_Send(t *testing.T) {
	mock := &mockSESClient{}
	handle := openWithMock(t, mock)

	msg := &core.Message{
		From:    "news@example.com",
		To:      "list@example.com",
		Bcc:     []string{"a@example.org", "b@example.org"},
		Subject: "Monthly update",
		Body:    "Hello",
		Headers: map[string]string{"X-Campaign": "spring", "List-Id": "news.example.com"},
	}
	require.NoError(t, handle.Send(context.Background(), msg))

	require.Equal(t, 1, mock.callCount)
	input := mock.lastInput
	assert.Equal(t, "news@example.com", aws.ToString(input.FromEmailAddress))
	assert.Equal(t, []string{"list@example.com"}, input.Destination.ToAddresses)
	assert.Equal(t, []string{"a@example.org", "b@example.org"}, input.Destination.BccAddresses)

	simple := input.Content.Simple
	require.NotNil(t, simple)
	assert.Equal(t, "Monthly update", aws.ToString(simple.Subject.Data))
	assert.Equal(t, "Hello", aws.ToString(simple.Body.Text.Data))
	require.Len(t, simple.Headers, 2)
	assert.Equal(t, "List-Id", aws.ToString(simple.Headers[0].Name))
	assert.Equal(t, "X-Campaign", aws.ToString(simple.Headers[1].Name))
}

func TestHandle_SendError(t *testing.T) {
	mock := &mockSESClient{sendErr: errors.New("MessageRejected")}
	handle := openWithMock(t, mock)

	err := handle.Send(context.Background(), &core.Message{From: "news@example.com", Bcc: []string{"a@example.org"}})
	assert.ErrorIs(t, err, core.ErrSend)
	assert.Nil(t, mock.lastInput.Destination.ToAddresses)
}

func bccList(n int) []string {
	addrs := make([]string, n)
	for i := range addrs {
		addrs[i] = fmt.Sprintf("user%03d@example.org", i)
	}
	return addrs
}

func TestHandle_SendSplitsLargeBatch(t *testing.T) {
	mock := &mockSESClient{}
	handle := openWithMock(t, mock)

	bcc := bccList(120)
	msg := &core.Message{From: "news@example.com", To: "list@example.com", Bcc: bcc, Subject: "Monthly update"}
	require.NoError(t, handle.Send(context.Background(), msg))

	require.Equal(t, 3, mock.callCount)
	var delivered []string
	for i, input := range mock.inputs {
		dest := input.Destination
		assert.LessOrEqual(t, len(dest.ToAddresses)+len(dest.BccAddresses), 50)
		if i == 0 {
			assert.Equal(t, []string{"list@example.com"}, dest.ToAddresses)
		} else {
			assert.Empty(t, dest.ToAddresses)
		}
		delivered = append(delivered, dest.BccAddresses...)
	}
	assert.Equal(t, bcc, delivered)
	assert.Len(t, mock.inputs[0].Destination.BccAddresses, 49)
}

func TestHandle_SendSplitBatchFailure(t *testing.T) {
	mock := &mockSESClient{sendErr: errors.New("Throttling"), failOnCall: 2}
	handle := openWithMock(t, mock)

	msg := &core.Message{From: "news@example.com", Bcc: bccList(150)}
	err := handle.Send(context.Background(), msg)
	assert.ErrorIs(t, err, core.ErrSend)
	assert.Equal(t, 2, mock.callCount, "no request after a failed one")
}
