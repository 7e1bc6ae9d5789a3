package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mikey/batch-mailer/internal/core"
	"github.com/mikey/batch-mailer/internal/di"
	"github.com/mikey/batch-mailer/internal/factory"
	"github.com/mikey/batch-mailer/internal/ports"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func sendCmd(opts *di.Options) *cobra.Command {
	var recipientsFile string
	var batchSize int

	c := &cobra.Command{
		Use:   "send",
		Short: "Dispatch the configured message to every recipient",
		RunE: func(cmd *cobra.Command, _ []string) error {
			container, err := di.BuildContainer(*opts)
			if err != nil {
				return err
			}

			return container.Invoke(func(
				logger *zap.Logger,
				recipientFactory *factory.RecipientFactory,
				dispatcherFactory *factory.DispatcherFactory,
				pool *core.RelayPool,
				store factory.HistoryStore,
				dispatcher *core.Dispatcher,
				progress ports.ProgressReporter,
			) error {
				defer logger.Sync()
				defer pool.Close()
				if store != nil {
					defer store.Stop()
				}

				ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
				defer stop()

				recipients, err := recipientFactory.CreateRecipientSource(recipientsFile).Load(ctx)
				if err != nil {
					return err
				}

				size := dispatcherFactory.BatchSize()
				if cmd.Flags().Changed("batch-size") {
					size = batchSize
				}

				result, err := dispatch(ctx, dispatcher, progress, recipients, size)
				if result != nil {
					printResult(cmd.OutOrStdout(), result)
				}
				return err
			})
		},
	}

	c.Flags().StringVarP(&recipientsFile, "recipients", "r", "", "Recipient list, one address per line or first CSV column (default: recipients.file)")
	c.Flags().IntVarP(&batchSize, "batch-size", "b", 0, "Recipients per message (default: batch.size)")
	return c
}

// dispatch runs the dispatcher with progress reporting alongside it
func dispatch(ctx context.Context, dispatcher *core.Dispatcher, progress ports.ProgressReporter, recipients []string, size int) (*core.RunResult, error) {
	g, gctx := errgroup.WithContext(ctx)
	reportCtx, stopReporting := context.WithCancel(gctx)
	defer stopReporting()

	var result *core.RunResult
	g.Go(func() error {
		defer stopReporting()
		var err error
		result, err = dispatcher.Run(gctx, recipients, size)
		return err
	})
	g.Go(func() error {
		return progress.Run(reportCtx)
	})

	err := g.Wait()
	return result, err
}

func printResult(w io.Writer, result *core.RunResult) {
	stats := result.Stats
	fmt.Fprintf(w, "Run %s %s\n", result.ID, result.State)
	if result.Reason != "" {
		fmt.Fprintf(w, "  reason:            %s\n", result.Reason)
	}
	fmt.Fprintf(w, "  batches:           %d/%d\n", stats.BatchesDone, stats.BatchesTotal)
	fmt.Fprintf(w, "  emails sent:       %d\n", stats.EmailsSent)
	fmt.Fprintf(w, "  failed emails:     %d (%d batch errors)\n", stats.FailedEmails, stats.Errors)
	fmt.Fprintf(w, "  invalid addresses: %d\n", stats.InvalidAddresses)
	fmt.Fprintf(w, "  success rate:      %.1f%%\n", stats.SuccessRate)
	fmt.Fprintf(w, "  speed:             %.2f emails/s\n", stats.AverageSpeed)
	fmt.Fprintf(w, "  elapsed:           %s\n", result.FinishedAt.Sub(result.StartedAt).Round(time.Millisecond))
}
