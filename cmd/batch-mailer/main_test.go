package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mikey/batch-mailer/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestFiles(t *testing.T) (configPath, listPath string) {
	t.Helper()
	dir := t.TempDir()

	listPath = filepath.Join(dir, "list.txt")
	require.NoError(t, os.WriteFile(listPath, []byte("a@example.org\nb@example.org\nbroken\nc@example.org\nd@example.org\n"), 0o600))

	configPath = filepath.Join(dir, "config.yaml")
	config := `
relays:
  - host: dry-a
    kind: log
  - host: dry-b
    kind: log
batch:
  size: 2
message:
  from: news@example.com
  subject: Test run
  body: Hello
history:
  type: sqlite
  sqlite_path: ` + filepath.Join(dir, "history.db") + `
reporting:
  interval: 10ms
logging:
  level: error
`
	require.NoError(t, os.WriteFile(configPath, []byte(config), 0o600))
	return configPath, listPath
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestSendAndHistory(t *testing.T) {
	configPath, listPath := writeTestFiles(t)

	out, err := execute(t, "--config", configPath, "send", "--recipients", listPath)
	require.NoError(t, err)
	assert.Contains(t, out, string(core.RunStateCompleted))
	assert.Contains(t, out, "emails sent:       4")
	assert.Contains(t, out, "invalid addresses: 1")
	assert.Contains(t, out, "batches:           3/3")

	out, err = execute(t, "--config", configPath, "history", "--limit", "5")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "ID"))
	assert.Contains(t, lines[1], "completed")

	runID := strings.Fields(lines[1])[0]
	out, err = execute(t, "--config", configPath, "history", runID)
	require.NoError(t, err)
	assert.Contains(t, out, "Run "+runID)
}

func TestSendBatchSizeFlag(t *testing.T) {
	configPath, listPath := writeTestFiles(t)

	out, err := execute(t, "--config", configPath, "send", "-r", listPath, "--batch-size", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "batches:           1/1")
}

func TestSendEmptyListFails(t *testing.T) {
	configPath, _ := writeTestFiles(t)
	empty := filepath.Join(t.TempDir(), "empty.txt")
	require.NoError(t, os.WriteFile(empty, []byte("# nobody\n"), 0o600))

	out, err := execute(t, "--config", configPath, "send", "--recipients", empty)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrAborted)
	assert.Contains(t, out, string(core.RunStateAborted))
	assert.Equal(t, exitAborted, exitCode(err))
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, exitFailure, exitCode(errors.New("config file not found")))
	assert.Equal(t, exitFailure, exitCode(fmt.Errorf("dispatch cancelled: %w", context.Canceled)))
	assert.Equal(t, exitAborted, exitCode(fmt.Errorf("%w: %w", core.ErrAborted, core.ErrNoRelayAvailable)))
}

func TestValidate(t *testing.T) {
	configPath, _ := writeTestFiles(t)

	out, err := execute(t, "--config", configPath, "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "2/2 relays reachable")
}

func TestPrintRuns(t *testing.T) {
	var out bytes.Buffer
	run := &core.RunResult{
		ID:        "run-1",
		State:     core.RunStateCancelled,
		StartedAt: time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC),
		Stats:     core.RunStats{EmailsSent: 10, FailedEmails: 2, SuccessRate: 83.3},
	}
	require.NoError(t, printRuns(&out, []*core.RunResult{run}))

	assert.Contains(t, out.String(), "run-1")
	assert.Contains(t, out.String(), "cancelled")
	assert.Contains(t, out.String(), "83.3%")
}
