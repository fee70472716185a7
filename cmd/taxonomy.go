package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/govwatch/internal/taxonomy"
)

func newTaxonomyCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:         "taxonomy",
		Short:       "Validates and lists the keyword taxonomy",
		Annotations: map[string]string{standaloneAnnotation: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			tax, err := taxonomy.Load(file)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CATEGORY\tKEYWORDS")
			for _, cat := range tax.Categories() {
				fmt.Fprintf(tw, "%s\t%d\n", cat.Name, len(cat.Keywords))
			}
			fmt.Fprintf(tw, "total\t%d\n", tax.Len())
			if err := tw.Flush(); err != nil {
				return fmt.Errorf("write output: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "taxonomy YAML file (default: built-in taxonomy)")
	return cmd
}
