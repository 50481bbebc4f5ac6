// Package cli defines the filedrop command tree.
package cli

import (
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "filedrop",
	Short: "Multi-tenant file-watching pipeline for back-office automation",
	Long: "Watches configured drop directories, dispatches files to SQL and\n" +
		"loader-log processors, and archives results with full audit trail,\n" +
		"circuit breakers, and graceful degradation.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config YAML (default ~/.filedrop/config.yaml)")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
