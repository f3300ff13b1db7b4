package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "quorum",
	Short: "Decompose a task and solve it with a quorum of workers and judges",
	Long: `Quorum breaks a task into a graph of sub-tasks, dispatches each ready
sub-task to several workers, scores every answer with a panel of judges,
retries below-threshold sub-tasks with self-critique, and synthesizes the
accepted answers into one final answer.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (defaults to ~/.quorum/config.json merged with .quorum/config.json)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(workersCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(runsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
