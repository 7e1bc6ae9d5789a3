package core

import (
	"context"
)

// Transport opens handles to outbound relays
type Transport interface {
	// Open builds a handle for the endpoint without contacting it
	Open(endpoint RelayEndpoint) (RelayHandle, error)
}

// RelayHandle is a connection handle to one relay
type RelayHandle interface {
	// Probe checks that the relay is reachable
	Probe(ctx context.Context) error

	// Send delivers a message through the relay
	Send(ctx context.Context, msg *Message) error

	// Endpoint returns the endpoint this handle was opened for
	Endpoint() RelayEndpoint

	// Close releases any resources held by the handle
	Close() error
}

// RunRepository defines the interface for storing finished runs
type RunRepository interface {
	// Save stores a run result
	Save(ctx context.Context, result *RunResult) error

	// Get retrieves a run by id
	Get(ctx context.Context, id string) (*RunResult, error)

	// List returns the most recent runs, newest first
	List(ctx context.Context, limit int) ([]*RunResult, error)

	// Cleanup removes runs older than the retention period
	Cleanup(ctx context.Context) error
}
