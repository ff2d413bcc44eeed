package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "hivemind",
	Short: "Multi-agent swarm coordination engine",
	Long: `Hivemind coordinates a swarm of specialized agents on shared objectives.

Objectives are decomposed into dependency graphs, tasks are assigned to
agents by capability affinity and track record, and the swarm communicates
under a configurable topology. Group decisions go through weighted voting,
shared state lives in a versioned memory store, and stalled or failed
agents are detected and their work reassigned.

Core capabilities:
- Decomposes objectives into parallelizable task graphs
- Scores and assigns tasks across agent specialties
- Runs consensus proposals with pluggable voting strategies
- Persists coordination state for crash recovery
- Steals work from overloaded agents to keep the swarm busy`,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
}
