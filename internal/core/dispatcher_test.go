package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

var testTemplate = MessageTemplate{
	From:    "news@example.com",
	Subject: "Monthly update",
	Body:    "Hello",
}

type dispatcherFixture struct {
	transport  *fakeTransport
	pool       *RelayPool
	stats      *StatsAggregator
	repo       *memoryRepo
	sleep      *recordingSleep
	dispatcher *Dispatcher
}

func newFixture(t *testing.T, hosts ...string) *dispatcherFixture {
	t.Helper()

	transport := newFakeTransport()
	pool, err := NewRelayPool(endpoints(hosts...), transport, zaptest.NewLogger(t))
	require.NoError(t, err)

	f := &dispatcherFixture{
		transport: transport,
		pool:      pool,
		stats:     NewStatsAggregator(),
		repo:      &memoryRepo{},
		sleep:     &recordingSleep{},
	}
	f.dispatcher = NewDispatcher(f.pool, f.stats, testTemplate, DefaultMaxBatchSize, f.repo, zaptest.NewLogger(t))
	f.dispatcher.SetSleepFunc(f.sleep.sleep)
	return f
}

func (f *dispatcherFixture) sentBatchSizes() []int {
	var sizes []int
	for _, h := range f.transport.opened {
		for _, msg := range h.messages() {
			sizes = append(sizes, len(msg.Bcc))
		}
	}
	return sizes
}

func TestDispatcher_EmptyRecipientsAborts(t *testing.T) {
	f := newFixture(t, "a", "b")

	result, err := f.dispatcher.Run(context.Background(), nil, 4)

	require.Error(t, err)
	assert.True(t, IsAborted(err))
	assert.ErrorIs(t, err, ErrConfig)
	assert.Equal(t, RunStateAborted, result.State)
	assert.Equal(t, RunStateAborted, f.dispatcher.State())
	assert.NotEmpty(t, result.Reason)

	probes, sends := f.transport.totalCalls()
	assert.Zero(t, probes, "transport must not be touched")
	assert.Zero(t, sends)

	require.Len(t, f.repo.runs, 1)
	assert.Equal(t, RunStateAborted, f.repo.runs[0].State)
}

func TestDispatcher_InvalidBatchSizeAborts(t *testing.T) {
	f := newFixture(t, "a")

	_, err := f.dispatcher.Run(context.Background(), addresses(3), 0)
	assert.ErrorIs(t, err, ErrConfig)
	assert.ErrorIs(t, err, ErrAborted)

	_, sends := f.transport.totalCalls()
	assert.Zero(t, sends)
}

func TestDispatcher_NoReachableRelayAborts(t *testing.T) {
	f := newFixture(t, "a", "b")
	f.transport.probeErr["a"] = ErrConnection
	f.transport.probeErr["b"] = ErrConnection

	result, err := f.dispatcher.Run(context.Background(), addresses(10), 4)

	assert.ErrorIs(t, err, ErrNoRelayAvailable)
	assert.True(t, IsAborted(err))
	assert.Equal(t, RunStateAborted, result.State)

	_, sends := f.transport.totalCalls()
	assert.Zero(t, sends)
}

func TestDispatcher_AllBatchesSucceed(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newFixture(t, "a", "b")

	result, err := f.dispatcher.Run(context.Background(), addresses(10), 4)
	require.NoError(t, err)

	assert.Equal(t, RunStateCompleted, result.State)
	assert.ElementsMatch(t, []int{4, 4, 2}, f.sentBatchSizes())
	assert.Equal(t, uint64(10), result.Stats.EmailsSent)
	assert.Zero(t, result.Stats.Errors)
	assert.Equal(t, 100.0, result.Stats.SuccessRate)
	assert.Equal(t, 3, result.Stats.BatchesDone)
	assert.Equal(t, 3, result.Stats.BatchesTotal)
	assert.Equal(t, 1.0, result.Stats.RelayHealth)

	// No pause after the final batch
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 100 * time.Millisecond}, f.sleep.recorded())

	saved, err := f.repo.Get(context.Background(), result.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStateCompleted, saved.State)
}

func TestDispatcher_SecondBatchFails(t *testing.T) {
	f := newFixture(t, "a", "b")
	f.transport.sendErr = func(call int, _ *Message) error {
		if call == 2 {
			return ErrSend
		}
		return nil
	}

	result, err := f.dispatcher.Run(context.Background(), addresses(10), 4)
	require.NoError(t, err, "per-batch failures do not fail the run")

	assert.Equal(t, RunStateCompleted, result.State)
	assert.Equal(t, uint64(6), result.Stats.EmailsSent)
	assert.Equal(t, uint64(1), result.Stats.Errors)
	assert.Equal(t, uint64(4), result.Stats.FailedEmails)
	assert.InDelta(t, 60.0, result.Stats.SuccessRate, 1e-9)
	assert.Equal(t, 3, result.Stats.BatchesDone)

	_, sends := f.transport.totalCalls()
	assert.Equal(t, 3, sends, "no retry of the failed batch")
}

func TestDispatcher_LastBatchFails(t *testing.T) {
	f := newFixture(t, "a", "b")
	f.transport.sendErr = func(call int, _ *Message) error {
		if call == 3 {
			return ErrSend
		}
		return nil
	}

	result, err := f.dispatcher.Run(context.Background(), addresses(10), 4)
	require.NoError(t, err)

	assert.Equal(t, uint64(8), result.Stats.EmailsSent)
	assert.Equal(t, uint64(1), result.Stats.Errors)
	assert.Equal(t, uint64(2), result.Stats.FailedEmails)
	assert.InDelta(t, 80.0, result.Stats.SuccessRate, 1e-9)
}

func TestDispatcher_UnreachableRelaySkipped(t *testing.T) {
	f := newFixture(t, "a", "b", "c")
	f.transport.probeErr["b"] = ErrConnection

	result, err := f.dispatcher.Run(context.Background(), addresses(40), 2)
	require.NoError(t, err)

	assert.Equal(t, uint64(40), result.Stats.EmailsSent)
	assert.InDelta(t, 2.0/3.0, result.Stats.RelayHealth, 1e-9)
	for _, h := range f.transport.opened {
		if h.endpoint.Host == "b" {
			assert.Empty(t, h.messages())
		}
	}
}

func TestDispatcher_MalformedAddressesDropped(t *testing.T) {
	f := newFixture(t, "a")

	recipients := []string{"ok1@example.com", "broken", "ok2@example.com", "also broken@"}
	result, err := f.dispatcher.Run(context.Background(), recipients, 2)
	require.NoError(t, err)

	assert.Equal(t, uint64(2), result.Stats.EmailsSent)
	assert.Equal(t, uint64(2), result.Stats.InvalidAddresses)

	var bcc []string
	for _, msg := range f.transport.opened[0].messages() {
		bcc = append(bcc, msg.Bcc...)
		assert.Equal(t, testTemplate.From, msg.To)
	}
	assert.Equal(t, []string{"ok1@example.com", "ok2@example.com"}, bcc)
}

func TestDispatcher_AllInvalidBatchSkipped(t *testing.T) {
	f := newFixture(t, "a")

	result, err := f.dispatcher.Run(context.Background(), []string{"x", "y", "ok@example.com"}, 2)
	require.NoError(t, err)

	_, sends := f.transport.totalCalls()
	assert.Equal(t, 1, sends)
	assert.Equal(t, 2, result.Stats.BatchesDone)
	assert.Equal(t, uint64(1), result.Stats.EmailsSent)
	assert.Zero(t, result.Stats.Errors)
}

func TestDispatcher_BatchSizeClamped(t *testing.T) {
	f := newFixture(t, "a")
	f.dispatcher = NewDispatcher(f.pool, f.stats, testTemplate, 3, nil, zaptest.NewLogger(t))
	f.dispatcher.SetSleepFunc(f.sleep.sleep)

	result, err := f.dispatcher.Run(context.Background(), addresses(7), 100)
	require.NoError(t, err)

	assert.Equal(t, []int{3, 3, 1}, f.sentBatchSizes())
	assert.Equal(t, 3, result.Stats.BatchesTotal)
	assert.Equal(t, 3, f.dispatcher.MaxBatchSize())
}

func TestDispatcher_CancelDuringPause(t *testing.T) {
	f := newFixture(t, "a")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f.sleep.hook = func(call int) error {
		if call == 2 {
			cancel()
		}
		return nil
	}

	result, err := f.dispatcher.Run(ctx, addresses(10), 2)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, IsAborted(err))
	assert.Equal(t, RunStateCancelled, result.State)
	assert.Equal(t, 2, result.Stats.BatchesDone)
	assert.Equal(t, 5, result.Stats.BatchesTotal)
	assert.Equal(t, uint64(4), result.Stats.EmailsSent)

	require.Len(t, f.repo.runs, 1)
	assert.Equal(t, RunStateCancelled, f.repo.runs[0].State)
}

func TestDispatcher_CancelledBeforeStart(t *testing.T) {
	f := newFixture(t, "a")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := f.dispatcher.Run(ctx, addresses(4), 2)

	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, IsAborted(err))
	assert.Equal(t, RunStateCancelled, result.State)
	_, sends := f.transport.totalCalls()
	assert.Zero(t, sends)
	require.Len(t, f.repo.runs, 1)
	assert.Equal(t, RunStateCancelled, f.repo.runs[0].State)
}

func TestDispatcher_CancelledDuringValidation(t *testing.T) {
	f := newFixture(t, "a", "b")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Relay "a" is down and the run is interrupted while "b" is probed
	f.transport.onProbe = func(host string) {
		if host == "b" {
			cancel()
		}
	}
	f.transport.probeErr["a"] = errors.New("connection refused")

	result, err := f.dispatcher.Run(ctx, addresses(4), 2)

	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, IsAborted(err))
	assert.Equal(t, RunStateCancelled, result.State)
	assert.Equal(t, RunStateCancelled, f.dispatcher.State())
	_, sends := f.transport.totalCalls()
	assert.Zero(t, sends)
}

func TestDispatcher_SendSurvivesCancellation(t *testing.T) {
	f := newFixture(t, "a")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Cancel from inside the send; the fake refuses cancelled contexts
	f.transport.sendErr = func(call int, _ *Message) error {
		cancel()
		return nil
	}

	result, err := f.dispatcher.Run(ctx, addresses(4), 2)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, uint64(2), result.Stats.EmailsSent)
	assert.Zero(t, result.Stats.Errors)
}

func TestDispatcher_StatsResetBetweenRuns(t *testing.T) {
	f := newFixture(t, "a")

	_, err := f.dispatcher.Run(context.Background(), addresses(6), 3)
	require.NoError(t, err)

	result, err := f.dispatcher.Run(context.Background(), addresses(2), 3)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), result.Stats.EmailsSent)
	assert.Equal(t, uint64(2), f.dispatcher.Snapshot().EmailsSent)
	assert.Len(t, f.repo.runs, 2)
	assert.NotEqual(t, f.repo.runs[0].ID, f.repo.runs[1].ID)
}

type failingRepo struct{ memoryRepo }

func (r *failingRepo) Save(context.Context, *RunResult) error {
	return errors.New("disk full")
}

func TestDispatcher_HistoryFailureIgnored(t *testing.T) {
	f := newFixture(t, "a")
	f.dispatcher = NewDispatcher(f.pool, f.stats, testTemplate, 0, &failingRepo{}, zaptest.NewLogger(t))
	f.dispatcher.SetSleepFunc(f.sleep.sleep)

	result, err := f.dispatcher.Run(context.Background(), addresses(3), 3)
	require.NoError(t, err)
	assert.Equal(t, RunStateCompleted, result.State)
	assert.Equal(t, DefaultMaxBatchSize, f.dispatcher.MaxBatchSize())
}
