package ports

import (
	"context"
)

// RecipientSource defines the interface for loading the ordered recipient list
type RecipientSource interface {
	// Load returns every recipient address in send order
	Load(ctx context.Context) ([]string, error)
}
