package core

import (
	"context"
	"errors"
	"sync"
	"time"
)

// fakeTransport hands out fakeHandles and counts sends across all of them
type fakeTransport struct {
	mu        sync.Mutex
	opened    []*fakeHandle
	openErr   map[string]error
	probeErr  map[string]error
	sendErr   func(call int, msg *Message) error
	onProbe   func(host string)
	sendCalls int
	probes    int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		openErr:  map[string]error{},
		probeErr: map[string]error{},
	}
}

func (t *fakeTransport) Open(endpoint RelayEndpoint) (RelayHandle, error) {
	if err := t.openErr[endpoint.Host]; err != nil {
		return nil, err
	}
	h := &fakeHandle{endpoint: endpoint, transport: t}
	t.mu.Lock()
	t.opened = append(t.opened, h)
	t.mu.Unlock()
	return h, nil
}

func (t *fakeTransport) totalCalls() (probes, sends int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.probes, t.sendCalls
}

type fakeHandle struct {
	endpoint  RelayEndpoint
	transport *fakeTransport

	mu     sync.Mutex
	sent   []*Message
	closed bool
}

func (h *fakeHandle) Endpoint() RelayEndpoint {
	return h.endpoint
}

func (h *fakeHandle) Probe(ctx context.Context) error {
	h.transport.mu.Lock()
	h.transport.probes++
	probeErr := h.transport.probeErr[h.endpoint.Host]
	onProbe := h.transport.onProbe
	h.transport.mu.Unlock()

	if onProbe != nil {
		onProbe(h.endpoint.Host)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return probeErr
}

func (h *fakeHandle) Send(ctx context.Context, msg *Message) error {
	if ctx.Err() != nil {
		return errors.New("send context cancelled")
	}

	h.transport.mu.Lock()
	h.transport.sendCalls++
	call := h.transport.sendCalls
	sendErr := h.transport.sendErr
	h.transport.mu.Unlock()

	if sendErr != nil {
		if err := sendErr(call, msg); err != nil {
			return err
		}
	}

	h.mu.Lock()
	h.sent = append(h.sent, msg)
	h.mu.Unlock()
	return nil
}

func (h *fakeHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}

func (h *fakeHandle) messages() []*Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*Message(nil), h.sent...)
}

// memoryRepo is a minimal RunRepository for dispatcher tests
type memoryRepo struct {
	mu   sync.Mutex
	runs []*RunResult
}

func (r *memoryRepo) Save(_ context.Context, result *RunResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *result
	r.runs = append(r.runs, &copied)
	return nil
}

func (r *memoryRepo) Get(_ context.Context, id string) (*RunResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, run := range r.runs {
		if run.ID == id {
			return run, nil
		}
	}
	return nil, ErrRunNotFound
}

func (r *memoryRepo) List(_ context.Context, limit int) ([]*RunResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if limit > len(r.runs) || limit <= 0 {
		limit = len(r.runs)
	}
	return append([]*RunResult(nil), r.runs[:limit]...), nil
}

func (r *memoryRepo) Cleanup(_ context.Context) error {
	return nil
}

// recordingSleep returns immediately and remembers every requested delay
type recordingSleep struct {
	mu     sync.Mutex
	delays []time.Duration
	hook   func(call int) error
}

func (s *recordingSleep) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	call := len(s.delays)
	hook := s.hook
	s.mu.Unlock()

	if hook != nil {
		if err := hook(call); err != nil {
			return err
		}
	}
	return ctx.Err()
}

func (s *recordingSleep) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

func endpoints(hosts ...string) []RelayEndpoint {
	eps := make([]RelayEndpoint, len(hosts))
	for i, host := range hosts {
		eps[i] = RelayEndpoint{Host: host, Port: 587, Kind: RelayKindSMTP}
	}
	return eps
}
