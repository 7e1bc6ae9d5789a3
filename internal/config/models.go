package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// RelayConfig represents the configuration of one outbound relay
type RelayConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	TLS      bool   `mapstructure:"tls"`
	Identity string `mapstructure:"identity"`
	Kind     string `mapstructure:"kind"`
}

// RelaySettings represents settings shared by every relay
type RelaySettings struct {
	Timeout  time.Duration
	HeloName string
}

// BatchConfig represents the batching configuration
type BatchConfig struct {
	Size    int
	MaxSize int
}

// MessageConfig represents the fixed content of every batch message
type MessageConfig struct {
	From    string
	To      string
	Subject string
	Body    string
	Headers map[string]string
}

// RecipientsConfig represents the recipient source configuration
type RecipientsConfig struct {
	File              string
	Deduplicate       bool
	SuppressedDomains []string
}

// HistoryConfig represents the run history configuration
type HistoryConfig struct {
	Enabled          bool
	Type             string
	Retention        time.Duration
	CleanupFrequency time.Duration
	SQLitePath       string
	MySQLDSN         string
}

// GetRelays returns the configured relays
func (c *Config) GetRelays() ([]RelayConfig, error) {
	var relays []RelayConfig
	if err := c.v.UnmarshalKey("relays", &relays); err != nil {
		return nil, fmt.Errorf("invalid relays section: %w", err)
	}

	for i := range relays {
		relays[i].Kind = strings.ToLower(strings.TrimSpace(relays[i].Kind))
		if relays[i].Kind == "" {
			relays[i].Kind = "smtp"
		}
		if relays[i].Port == 0 && relays[i].Kind == "smtp" {
			if relays[i].TLS {
				relays[i].Port = 465
			} else {
				relays[i].Port = 587
			}
		}
	}

	return relays, nil
}

// GetRelaySettings returns the settings shared by every relay
func (c *Config) GetRelaySettings() (RelaySettings, error) {
	timeout, err := c.GetDuration("relay.timeout")
	if err != nil {
		return RelaySettings{}, fmt.Errorf("invalid relay timeout: %w", err)
	}

	return RelaySettings{
		Timeout:  timeout,
		HeloName: c.GetString("relay.helo_name"),
	}, nil
}

// GetBatch returns the batching configuration
func (c *Config) GetBatch() BatchConfig {
	return BatchConfig{
		Size:    c.GetInt("batch.size"),
		MaxSize: c.GetInt("batch.max_size"),
	}
}

// GetMessage returns the message configuration. A body_file, when set, takes
// precedence over the inline body.
func (c *Config) GetMessage() (MessageConfig, error) {
	msg := MessageConfig{
		From:    c.GetString("message.from"),
		To:      c.GetString("message.to"),
		Subject: c.GetString("message.subject"),
		Body:    c.GetString("message.body"),
		Headers: c.GetStringMapString("message.headers"),
	}

	if path := c.GetString("message.body_file"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return MessageConfig{}, fmt.Errorf("failed to read message body file: %w", err)
		}
		msg.Body = string(data)
	}

	if msg.From == "" {
		return MessageConfig{}, fmt.Errorf("message.from is required")
	}

	return msg, nil
}

// GetRecipients returns the recipient source configuration
func (c *Config) GetRecipients() RecipientsConfig {
	return RecipientsConfig{
		File:              c.GetString("recipients.file"),
		Deduplicate:       c.GetBool("recipients.deduplicate"),
		SuppressedDomains: c.GetStringSlice("recipients.suppressed_domains"),
	}
}

// GetHistory returns the run history configuration
func (c *Config) GetHistory() (HistoryConfig, error) {
	retention, err := c.GetDuration("history.retention")
	if err != nil {
		return HistoryConfig{}, fmt.Errorf("invalid history retention: %w", err)
	}
	cleanupFreq, err := c.GetDuration("history.cleanup_frequency")
	if err != nil {
		return HistoryConfig{}, fmt.Errorf("invalid history cleanup frequency: %w", err)
	}

	return HistoryConfig{
		Enabled:          c.GetBool("history.enabled"),
		Type:             c.GetString("history.type"),
		Retention:        retention,
		CleanupFrequency: cleanupFreq,
		SQLitePath:       c.GetString("history.sqlite_path"),
		MySQLDSN:         c.GetString("history.mysql_dsn"),
	}, nil
}

// GetReportingInterval returns how often progress is reported during a run
func (c *Config) GetReportingInterval() (time.Duration, error) {
	return c.GetDuration("reporting.interval")
}
