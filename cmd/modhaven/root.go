package main

import (
	"github.com/spf13/cobra"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the ModHaven CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "modhaven",
		Short: "ModHaven - a game mod manager with an extension runtime",
		Long: `ModHaven manages game modification packages and runs a host
process whose behavior is assembled from dynamically discovered
extension packages.`,
	}

	// Global flag for config file path
	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")

	cmd.AddCommand(NewRunCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewExtensionsCmd())
	cmd.AddCommand(NewSchemaCmd())

	return cmd
}
