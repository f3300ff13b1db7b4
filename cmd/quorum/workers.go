package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var workersFile string

var workersCmd = &cobra.Command{
	Use:   "workers",
	Short: "List the worker directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		dir, err := loadDirectory(cfg, workersFile)
		if err != nil {
			return fmt.Errorf("load workers: %w", err)
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tREPUTATION\tCAPABILITY")
		for _, p := range dir.List() {
			fmt.Fprintf(tw, "%s\t%.1f\t%s\n", p.ID, p.Reputation, p.CapabilityText)
		}
		return tw.Flush()
	},
}

func init() {
	workersCmd.Flags().StringVar(&workersFile, "workers", "", "Worker profile file (YAML or JSON); overrides workers_file")
}
