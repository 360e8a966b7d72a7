package cmd

import (
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "scriptval",
	Short: "scriptval - scripted result validation for volunteer computing projects",
	Long: `scriptval runs the init, compare and cleanup callbacks of a result
validator against user scripts. Per-application validators and cleaners are
looked up by workload id in the script; an optional auxiliary module
(boinctools by default) provides update_process and continue_children hooks.

Scripts can be written in Risor, Lua or as expr registries in YAML.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "scriptval.yaml", "Path to the validator configuration")

	// Add subcommands
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(versionCmd)
}
