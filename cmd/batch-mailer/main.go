package main

import (
	"os"

	"github.com/mikey/batch-mailer/internal/core"
	"github.com/mikey/batch-mailer/internal/di"
	"github.com/spf13/cobra"
)

// Exit codes
const (
	exitFailure = 1
	exitAborted = 2
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}

// exitCode separates runs refused before any send from other failures
func exitCode(err error) int {
	if core.IsAborted(err) {
		return exitAborted
	}
	return exitFailure
}

func newRootCmd() *cobra.Command {
	var opts di.Options

	cmd := &cobra.Command{
		Use:          "batch-mailer",
		Short:        "Send one message to a large recipient list through a pool of relays",
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigFile, "config", "", "Path to config file (default: search /etc/batch-mailer, ~/.batch-mailer, ./configs, .)")
	cmd.PersistentFlags().BoolVar(&opts.Verbose, "verbose", false, "Enable verbose logging")
	cmd.PersistentFlags().BoolVar(&opts.JSONLog, "json-log", false, "Output logs in JSON format")

	cmd.AddCommand(
		sendCmd(&opts),
		validateCmd(&opts),
		historyCmd(&opts),
	)
	return cmd
}
