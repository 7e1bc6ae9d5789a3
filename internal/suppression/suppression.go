package suppression

import (
	"strings"

	"go.uber.org/zap"
)

// Checker reports whether a recipient's domain is on the suppression list
type Checker struct {
	domains map[string]struct{}
	logger  *zap.Logger
}

// NewChecker creates a new suppression checker
func NewChecker(domains []string, logger *zap.Logger) *Checker {
	// Normalize domains (lowercase, no leading @)
	normalized := make(map[string]struct{}, len(domains))
	for _, domain := range domains {
		domain = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(domain)), "@")
		if domain == "" {
			continue
		}
		normalized[domain] = struct{}{}
	}

	if len(normalized) > 0 && logger != nil {
		logger.Info("Initialized suppression checker", zap.Int("domains", len(normalized)))
	}

	return &Checker{
		domains: normalized,
		logger:  logger,
	}
}

// Len returns the number of suppressed domains
func (c *Checker) Len() int {
	return len(c.domains)
}

// IsSuppressed checks if the recipient's domain, or any parent domain, is suppressed
func (c *Checker) IsSuppressed(recipient string) bool {
	if len(c.domains) == 0 {
		return false
	}

	// Extract domain from email address
	at := strings.LastIndex(recipient, "@")
	if at < 0 || at == len(recipient)-1 {
		return false
	}
	domain := strings.ToLower(strings.TrimSuffix(recipient[at+1:], ">"))

	for {
		if _, ok := c.domains[domain]; ok {
			if c.logger != nil {
				c.logger.Debug("Recipient domain is suppressed",
					zap.String("domain", domain),
					zap.String("email", recipient))
			}
			return true
		}
		dot := strings.IndexByte(domain, '.')
		if dot < 0 {
			return false
		}
		domain = domain[dot+1:]
	}
}
