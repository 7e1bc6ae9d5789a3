package core

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultRelayTimeout bounds every dial and command on a relay handle
const DefaultRelayTimeout = 30 * time.Second

// selectionStride is half the golden ratio conjugate. A run advances the phase
// by the same amount after each batch, so consecutive selections step around
// the unit circle by the full conjugate and every relay is visited early.
const selectionStride = 0.30901699437494745

// phaseIncrement is added to the rotation phase after each batch
const phaseIncrement = selectionStride

// RelayPool holds the relay handles of a run and decides which one sends each batch
type RelayPool struct {
	handles   []RelayHandle
	logger    *zap.Logger
	mu        sync.Mutex
	phase     float64
	reachable []bool
}

// NewRelayPool opens one handle per endpoint. Reachability is not checked here.
func NewRelayPool(endpoints []RelayEndpoint, transport Transport, logger *zap.Logger) (*RelayPool, error) {
	if len(endpoints) == 0 {
		return nil, newError("initialize relay pool", "", ErrConfig, "no relays configured")
	}

	handles := make([]RelayHandle, 0, len(endpoints))
	for _, endpoint := range endpoints {
		handle, err := transport.Open(endpoint)
		if err != nil {
			for _, h := range handles {
				h.Close()
			}
			return nil, &DispatchError{Op: "open relay", Relay: endpoint.Name(), Err: errors.Join(ErrConfig, err)}
		}
		handles = append(handles, handle)
		logger.Debug("Relay added to pool",
			zap.String("relay", endpoint.Name()),
			zap.String("kind", endpoint.Kind))
	}

	reachable := make([]bool, len(handles))
	for i := range reachable {
		reachable[i] = true
	}

	logger.Info("Relay pool initialized", zap.Int("relays", len(handles)))

	return &RelayPool{
		handles:   handles,
		logger:    logger,
		reachable: reachable,
	}, nil
}

// Size returns the number of relays in the pool
func (p *RelayPool) Size() int {
	return len(p.handles)
}

// ValidateAll probes every relay and returns how many answered.
// Unreachable relays stay in the pool but are passed over by Select.
func (p *RelayPool) ValidateAll(ctx context.Context) (int, error) {
	results := make([]bool, len(p.handles))
	count := 0

	for i, handle := range p.handles {
		endpoint := handle.Endpoint()
		if err := handle.Probe(ctx); err != nil {
			p.logger.Warn("Relay unreachable, skipping",
				zap.Int("index", i),
				zap.String("relay", endpoint.Name()),
				zap.Error(err))
			continue
		}
		p.logger.Debug("Relay reachable",
			zap.Int("index", i),
			zap.String("relay", endpoint.Name()))
		results[i] = true
		count++
	}

	p.mu.Lock()
	p.reachable = results
	p.mu.Unlock()

	if count == 0 {
		return 0, newError("validate relays", "", ErrNoRelayAvailable, "0 of %d relays reachable", len(p.handles))
	}

	p.logger.Info("Relays validated",
		zap.Int("reachable", count),
		zap.Int("total", len(p.handles)))

	return count, nil
}

// SelectIndex maps a batch index and the current phase into [0, Size())
func (p *RelayPool) SelectIndex(batchIndex int) int {
	p.mu.Lock()
	phase := p.phase
	p.mu.Unlock()

	return selectIndex(phase, batchIndex, len(p.handles))
}

// Select returns the relay for a batch. When the chosen relay failed
// validation the next reachable one in pool order is used instead.
func (p *RelayPool) Select(batchIndex int) RelayHandle {
	idx := p.SelectIndex(batchIndex)

	p.mu.Lock()
	defer p.mu.Unlock()

	size := len(p.handles)
	for step := 0; step < size; step++ {
		candidate := (idx + step) % size
		if p.reachable[candidate] {
			return p.handles[candidate]
		}
	}
	return p.handles[idx]
}

// AdvancePhase moves the rotation phase forward by a fixed increment
func (p *RelayPool) AdvancePhase() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.phase = math.Mod(p.phase+phaseIncrement, 1.0)
}

// Close closes every relay handle
func (p *RelayPool) Close() error {
	var errs []error
	for _, handle := range p.handles {
		if err := handle.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// selectIndex reduces the rotation position into [0, size). Callers may pass
// any batch index, negative ones included.
func selectIndex(phase float64, batchIndex, size int) int {
	if size <= 1 {
		return 0
	}

	pos := math.Mod(phase+float64(batchIndex)*selectionStride, 1.0)
	if pos < 0 {
		pos += 1.0
	}

	idx := int(math.Floor(pos*float64(size))) % size
	if idx < 0 {
		idx += size
	}
	return idx
}
