// Package cli wires the stackd command tree.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/stackd-io/stackd/internal/logging"
)

var logLevel string

var rootCmd = &cobra.Command{
	Use:   "stackd",
	Short: "Declarative provisioning and deployment pipelines",
	Long: `Stackd converges declarative infrastructure graphs and ships build
artifacts onto the machines it provisioned.

  • Typed PKL resource declarations with dependency ordering
  • Dry-run plans before anything billable happens
  • Pipelines that provision, extract outputs, and deploy in one run`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Init(logLevel)
	},
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(destroyCmd)
	rootCmd.AddCommand(refreshCmd)
	rootCmd.AddCommand(stateCmd)
	rootCmd.AddCommand(outputCmd)
	rootCmd.AddCommand(graphCmd)
	rootCmd.AddCommand(taintCmd)
	rootCmd.AddCommand(untaintCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(versionCmd)
}
