package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/aristath/quorum/internal/persistence"
)

var runsLimit int

var runsCmd = &cobra.Command{
	Use:   "runs <db> [run-id]",
	Short: "List recorded runs, or show one",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := persistence.NewSQLiteStore(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		defer store.Close()

		if len(args) == 2 {
			res, err := store.GetRun(cmd.Context(), args[1])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		}

		runs, err := store.ListRuns(cmd.Context(), runsLimit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No recorded runs.")
			return nil
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tSTARTED\tDURATION\tSTATUS\tSUB-TASKS\tTASK")
		for _, r := range runs {
			fmt.Fprintf(tw, "%s\t%s\t%v\t%s\t%d\t%s\n",
				r.ID, r.Started.Format(time.DateTime), r.Finished.Sub(r.Started).Round(time.Second),
				r.Status, r.SubTasks, truncateTask(r.Task, 50))
		}
		return tw.Flush()
	},
}

func init() {
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "Maximum runs to list (0 = all)")
}

func truncateTask(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
