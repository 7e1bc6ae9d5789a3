package main

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/mikey/batch-mailer/internal/core"
	"github.com/mikey/batch-mailer/internal/di"
	"github.com/mikey/batch-mailer/internal/factory"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func historyCmd(opts *di.Options) *cobra.Command {
	var limit int

	c := &cobra.Command{
		Use:   "history [RUN_ID]",
		Short: "List recent runs, or show one run in detail",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			container, err := di.BuildContainer(*opts)
			if err != nil {
				return err
			}

			return container.Invoke(func(logger *zap.Logger, store factory.HistoryStore) error {
				defer logger.Sync()
				if store == nil {
					return errors.New("run history is disabled")
				}
				defer store.Stop()

				if len(args) == 1 {
					result, err := store.Get(cmd.Context(), args[0])
					if err != nil {
						return err
					}
					printResult(cmd.OutOrStdout(), result)
					return nil
				}

				runs, err := store.List(cmd.Context(), limit)
				if err != nil {
					return err
				}
				return printRuns(cmd.OutOrStdout(), runs)
			})
		},
	}

	c.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of runs to list")
	return c
}

func printRuns(w io.Writer, runs []*core.RunResult) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tSTATE\tSENT\tFAILED\tINVALID\tSUCCESS")
	for _, run := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%.1f%%\n",
			run.ID,
			run.StartedAt.Local().Format(time.DateTime),
			run.State,
			run.Stats.EmailsSent,
			run.Stats.FailedEmails,
			run.Stats.InvalidAddresses,
			run.Stats.SuccessRate)
	}
	return tw.Flush()
}
