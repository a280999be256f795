package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "quartermaster",
	Short: "Resource-aware task orchestration engine",
	Long: `Quartermaster plans, budgets, and executes dependency graphs of tasks
against external agent runners while tracking every token and dollar.

Each submitted task gets a complexity score, an effort tier, and a resource
budget. Tasks decompose into role nodes (coordinator, researcher,
specialists, validator) that execute concurrently under a usage ledger,
a result cache, and a quality gate.`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
