package cmd

import (
	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Performs one ingest-then-classify run and exits",
		RunE: withApp(func(cmd *cobra.Command, a App) error {
			summary, err := a.RunOnce(cmd.Context())
			if perr := printJSON(cmd.OutOrStdout(), summary); perr != nil {
				return perr
			}
			return err
		}),
	}
}

func newIngestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest",
		Short: "Sweeps the taxonomy into the raw collection without classifying",
		RunE: withApp(func(cmd *cobra.Command, a App) error {
			stats, err := a.Ingest(cmd.Context())
			if perr := printJSON(cmd.OutOrStdout(), stats); perr != nil {
				return perr
			}
			return err
		}),
	}
}

func newClassifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "classify",
		Short: "Classifies every raw record not yet in a partition",
		RunE: withApp(func(cmd *cobra.Command, a App) error {
			stats, err := a.Classify(cmd.Context())
			if perr := printJSON(cmd.OutOrStdout(), stats); perr != nil {
				return perr
			}
			return err
		}),
	}
}
