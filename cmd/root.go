// Package cmd contains the querypilot command line interface.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "querypilot",
	Short: "QueryPilot - natural language to SQL service",
	Long: `QueryPilot turns natural language questions into validated, read-only SQL
and runs it against a target PostgreSQL warehouse.

Run "querypilot serve" to start the HTTP API server.`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
