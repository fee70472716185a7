package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Runs the scheduler and the HTTP API until interrupted",
		Long: `Starts the recurring ingest-then-classify schedule, running once
immediately and then every schedule.interval, alongside the read-only HTTP API.`,
		RunE: withApp(func(cmd *cobra.Command, a App) error {
			if err := a.Serve(cmd.Context()); err != nil {
				return err
			}
			zap.L().Info("serve command finished")
			return nil
		}),
	}
}
