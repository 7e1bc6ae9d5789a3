package utils

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
)

func TestTextProcessor_TruncateText(t *testing.T) {
	tp := NewTextProcessor(zaptest.NewLogger(t))

	assert.Equal(t, "hello", tp.TruncateText("hello", 0))
	assert.Equal(t, "hello", tp.TruncateText("hello", 10))
	assert.Equal(t, "hel", tp.TruncateText("hello", 3))

	// "é" is two bytes; cutting through it backs off to the previous rune
	out := tp.TruncateText("aé", 2)
	assert.Equal(t, "a", out)
	assert.True(t, utf8.ValidString(out))
}

func TestTextProcessor_SanitizeUTF8(t *testing.T) {
	tp := NewTextProcessor(zaptest.NewLogger(t))

	assert.Equal(t, "valid ü", tp.SanitizeUTF8("valid ü"))
	assert.Equal(t, "ab", tp.SanitizeUTF8("a\xffb"))
}

func TestTextProcessor_ProcessSubject(t *testing.T) {
	tp := NewTextProcessor(zaptest.NewLogger(t))

	assert.Equal(t, "Monthly news", tp.ProcessSubject("  Monthly\r\n   news \t"))

	// Decomposed e + combining acute becomes the composed form
	assert.Equal(t, "caf\u00e9", tp.ProcessSubject("cafe\u0301"))

	long := strings.Repeat("x", MaxSubjectSize+50)
	assert.Len(t, tp.ProcessSubject(long), MaxSubjectSize)
}

func TestTextProcessor_ProcessBody(t *testing.T) {
	tp := NewTextProcessor(zaptest.NewLogger(t))

	assert.Equal(t, "line1\nline2\nline3", tp.ProcessBody("line1\r\nline2\rline3"))
}

func TestTextProcessor_NormalizeAddress(t *testing.T) {
	tp := NewTextProcessor(zaptest.NewLogger(t))

	assert.Equal(t, "John.Doe@example.com", tp.NormalizeAddress("  John.Doe@EXAMPLE.Com "))
	assert.Equal(t, "nodomain", tp.NormalizeAddress("nodomain"))
}
