package core

import (
	"errors"
	"fmt"
)

var (
	// ErrConfig is returned when the run cannot start with the given configuration
	ErrConfig = errors.New("invalid configuration")
	// ErrNoRelayAvailable is returned when no relay passed validation
	ErrNoRelayAvailable = errors.New("no relay available")
	// ErrConnection is returned when a relay cannot be reached
	ErrConnection = errors.New("relay unreachable")
	// ErrAddress is returned for a malformed recipient address
	ErrAddress = errors.New("malformed address")
	// ErrSend is returned when a relay rejects or times out a message
	ErrSend = errors.New("send failed")
	// ErrAborted is returned when a run stops before any send
	ErrAborted = errors.New("run aborted")
	// ErrRunNotFound is returned by history stores for unknown run ids
	ErrRunNotFound = errors.New("run not found")
)

// DispatchError carries the operation and relay that produced an error
type DispatchError struct {
	Op    string
	Relay string
	Err   error
}

func (e *DispatchError) Error() string {
	if e.Relay != "" {
		return fmt.Sprintf("%s (%s): %v", e.Op, e.Relay, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// newError wraps a kind sentinel with a detail message
func newError(op, relay string, kind error, format string, args ...any) error {
	return &DispatchError{
		Op:    op,
		Relay: relay,
		Err:   fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...)),
	}
}
