package main

import (
	"fmt"

	"github.com/mikey/batch-mailer/internal/core"
	"github.com/mikey/batch-mailer/internal/di"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func validateCmd(opts *di.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Probe every configured relay and report how many are reachable",
		RunE: func(cmd *cobra.Command, _ []string) error {
			container, err := di.BuildContainer(*opts)
			if err != nil {
				return err
			}

			return container.Invoke(func(logger *zap.Logger, pool *core.RelayPool) error {
				defer logger.Sync()
				defer pool.Close()

				reachable, err := pool.ValidateAll(cmd.Context())
				fmt.Fprintf(cmd.OutOrStdout(), "%d/%d relays reachable\n", reachable, pool.Size())
				return err
			})
		},
	}
}
