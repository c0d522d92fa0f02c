package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newFiltersCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "filters",
		Short: "List the available filters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			src, err := a.catalogSource()
			if err != nil {
				return err
			}
			filters, err := src.Filters(cmd.Context())
			if err != nil {
				return fmt.Errorf("list filters: %w", err)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tDESCRIPTION")
			fmt.Fprintln(w, "--\t----\t-----------")
			for _, f := range filters {
				fmt.Fprintf(w, "%s\t%s\t%s\n", f.ID, f.Name, f.Description)
			}
			return w.Flush()
		},
	}
}
