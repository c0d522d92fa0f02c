package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newRunsCommand(a *app) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Show recent transform outcomes from the run log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.cfg.Database.DSN == "" {
				return errors.New("POSTGRES_DSN is required to read the run log")
			}
			runs, err := a.runStore(cmd.Context())
			if err != nil {
				return err
			}
			recent, err := runs.Recent(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("list runs: %w", err)
			}
			if len(recent) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "WHEN\tSESSION\tFILTER\tOUTCOME\tERROR\tFACES\tDURATION")
			for _, r := range recent {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%dms\n",
					r.CreatedAt.Local().Format("2006-01-02 15:04:05"),
					r.SessionID, r.FilterID, r.Outcome, r.ErrorKind, r.FaceCount, r.DurationMS)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of runs to show")
	return cmd
}
