package core

import (
	"fmt"
	"time"
)

// Relay kinds understood by the transport router
const (
	RelayKindSMTP = "smtp"
	RelayKindSES  = "ses"
	RelayKindLog  = "log"
)

// RelayEndpoint represents a configured outbound mail relay
type RelayEndpoint struct {
	Host     string
	Port     int
	Username string
	Password string
	TLS      bool
	Identity string
	Kind     string
}

// Address returns the host:port pair used to dial the relay
func (e RelayEndpoint) Address() string {
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}

// Name returns the identity tag, falling back to the address
func (e RelayEndpoint) Name() string {
	if e.Identity != "" {
		return e.Identity
	}
	return e.Address()
}

// Message represents one outbound message carrying a whole batch
type Message struct {
	From      string
	To        string
	Bcc       []string
	Subject   string
	Body      string
	Headers   map[string]string
	MessageID string
}

// Recipients returns every envelope recipient, visible address first
func (m *Message) Recipients() []string {
	rcpts := make([]string, 0, len(m.Bcc)+1)
	if m.To != "" {
		rcpts = append(rcpts, m.To)
	}
	return append(rcpts, m.Bcc...)
}

// MessageTemplate holds the fixed parts of every batch message
type MessageTemplate struct {
	From    string
	To      string
	Subject string
	Body    string
	Headers map[string]string
}

// RunStats represents the aggregated statistics of one dispatch run
type RunStats struct {
	EmailsSent       uint64
	Errors           uint64
	Attempted        uint64
	FailedEmails     uint64
	InvalidAddresses uint64
	BatchesTotal     int
	BatchesDone      int
	SuccessRate      float64
	AverageSpeed     float64
	StartTime        time.Time
	// DeliveryConfidence is a moving average of batch outcomes in [0,1]
	DeliveryConfidence float64
	// RelayHealth is the share of configured relays that passed validation
	RelayHealth float64
}

// RunState is the lifecycle state of a dispatch run
type RunState string

const (
	RunStateIdle        RunState = "idle"
	RunStateValidating  RunState = "validating"
	RunStateDispatching RunState = "dispatching"
	RunStateCompleted   RunState = "completed"
	RunStateAborted     RunState = "aborted"
	RunStateCancelled   RunState = "cancelled"
)

// IsTerminal reports whether the run can no longer change state
func (s RunState) IsTerminal() bool {
	switch s {
	case RunStateCompleted, RunStateAborted, RunStateCancelled:
		return true
	}
	return false
}

// RunResult represents the outcome of a finished run
type RunResult struct {
	ID         string
	State      RunState
	Reason     string
	Stats      RunStats
	StartedAt  time.Time
	FinishedAt time.Time
}
