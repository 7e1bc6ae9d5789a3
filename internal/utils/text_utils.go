package utils

import (
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"
)

// MaxSubjectSize is the longest subject kept, in bytes, before encoding
const MaxSubjectSize = 998

// TextProcessor provides utilities for cleaning message text and addresses
type TextProcessor struct {
	logger *zap.Logger
}

// NewTextProcessor creates a new TextProcessor
func NewTextProcessor(logger *zap.Logger) *TextProcessor {
	return &TextProcessor{
		logger: logger,
	}
}

// TruncateText safely truncates text to the specified maximum size
// and ensures the result is valid UTF-8
func (tp *TextProcessor) TruncateText(text string, maxSize int) string {
	// If no limit or text is already within limits, return as is
	if maxSize <= 0 || len(text) <= maxSize {
		return text
	}

	// First truncate to the byte limit
	truncated := text[:maxSize]

	// Back off to the start of a rune
	for len(truncated) > 0 && !utf8.ValidString(truncated) {
		truncated = truncated[:len(truncated)-1]
	}

	tp.logger.Debug("Text truncated",
		zap.Int("original_size", len(text)),
		zap.Int("truncated_size", len(truncated)),
		zap.Int("max_size", maxSize))

	return truncated
}

// SanitizeUTF8 drops invalid UTF-8 bytes from text
func (tp *TextProcessor) SanitizeUTF8(text string) string {
	if utf8.ValidString(text) {
		return text
	}

	sanitized := strings.ToValidUTF8(text, "")

	tp.logger.Debug("Text sanitized",
		zap.Int("original_size", len(text)),
		zap.Int("sanitized_size", len(sanitized)))

	return sanitized
}

// Normalize returns text in Unicode NFC form
func (tp *TextProcessor) Normalize(text string) string {
	return norm.NFC.String(text)
}

// ProcessSubject produces a single-line, valid, bounded subject
func (tp *TextProcessor) ProcessSubject(subject string) string {
	subject = tp.Normalize(tp.SanitizeUTF8(subject))
	subject = strings.Join(strings.Fields(subject), " ")
	return tp.TruncateText(subject, MaxSubjectSize)
}

// ProcessBody sanitizes the body and normalizes line endings to LF
func (tp *TextProcessor) ProcessBody(body string) string {
	body = tp.Normalize(tp.SanitizeUTF8(body))
	body = strings.ReplaceAll(body, "\r\n", "\n")
	return strings.ReplaceAll(body, "\r", "\n")
}

// NormalizeAddress trims an address, applies NFC and lowercases its domain.
// The local part keeps its case.
func (tp *TextProcessor) NormalizeAddress(addr string) string {
	addr = tp.Normalize(strings.TrimSpace(addr))
	at := strings.LastIndex(addr, "@")
	if at < 0 {
		return addr
	}
	return addr[:at+1] + strings.ToLower(addr[at+1:])
}
