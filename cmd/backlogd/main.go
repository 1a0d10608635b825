// Package main implements the backlogd CLI: session-persisted
// orchestration of a requirements document through decomposition,
// execution, and verification.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	version    = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "backlogd",
	Short: "Session-persisted task orchestration engine",
	Long: `backlogd turns a requirements document into a hierarchical backlog,
executes it leaf-by-leaf through external worker commands, and durably
checkpoints progress so a run can resume or branch after interruption.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(sessionsCmd)
}
