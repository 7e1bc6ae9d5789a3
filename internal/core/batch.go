package core

import (
	"fmt"
	"net/mail"
	"strings"

	"github.com/google/uuid"
)

// DefaultMaxBatchSize is the largest number of recipients carried by one message
const DefaultMaxBatchSize = 777

// SplitBatches cuts recipients into ordered, non-overlapping chunks of at most
// size entries. The chunks share the backing array of recipients.
func SplitBatches(recipients []string, size int) [][]string {
	if size <= 0 || len(recipients) == 0 {
		return nil
	}

	batches := make([][]string, 0, (len(recipients)+size-1)/size)
	for start := 0; start < len(recipients); start += size {
		end := start + size
		if end > len(recipients) {
			end = len(recipients)
		}
		batches = append(batches, recipients[start:end:end])
	}
	return batches
}

// BuildMessage creates the message for one batch. Every well-formed address
// becomes a hidden recipient; malformed ones are returned separately.
func BuildMessage(tpl MessageTemplate, batch []string) (*Message, []string) {
	msg := &Message{
		From:      tpl.From,
		To:        tpl.To,
		Subject:   tpl.Subject,
		Body:      tpl.Body,
		Headers:   tpl.Headers,
		Bcc:       make([]string, 0, len(batch)),
		MessageID: newMessageID(tpl.From),
	}
	if msg.To == "" {
		msg.To = tpl.From
	}

	var invalid []string
	for _, recipient := range batch {
		addr, err := ParseRecipient(recipient)
		if err != nil {
			invalid = append(invalid, recipient)
			continue
		}
		msg.Bcc = append(msg.Bcc, addr)
	}

	return msg, invalid
}

// ParseRecipient validates a single address and returns its bare form
func ParseRecipient(recipient string) (string, error) {
	trimmed := strings.TrimSpace(recipient)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty address", ErrAddress)
	}

	addr, err := mail.ParseAddress(trimmed)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrAddress, recipient, err)
	}

	// A bare local part parses but cannot be routed
	at := strings.LastIndex(addr.Address, "@")
	if at <= 0 || at == len(addr.Address)-1 {
		return "", fmt.Errorf("%w: %q has no domain", ErrAddress, recipient)
	}

	return addr.Address, nil
}

// newMessageID builds a unique Message-ID in the sender's domain
func newMessageID(from string) string {
	domain := "localhost"
	if addr, err := mail.ParseAddress(from); err == nil {
		if at := strings.LastIndex(addr.Address, "@"); at >= 0 && at < len(addr.Address)-1 {
			domain = addr.Address[at+1:]
		}
	}
	return fmt.Sprintf("<%s@%s>", uuid.NewString(), domain)
}
