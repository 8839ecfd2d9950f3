package main

import (
	"github.com/spf13/cobra"
)

var configPath string

// rootCmd is the base command.
var rootCmd = &cobra.Command{
	Use:   "aegis",
	Short: "Enterprise AI gateway",
	Long: `Aegis is an enterprise AI gateway: a single OpenAI-compatible
endpoint in front of multiple upstream LLM providers, with cost-aware
routing and failover, hierarchical budget enforcement, semantic caching,
payload security scanning and a tamper-evident audit ledger.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "aegis.yaml", "path to the configuration file")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(versionCmd)
}
