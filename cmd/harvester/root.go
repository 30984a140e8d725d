package main

import (
	"github.com/spf13/cobra"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "harvester",
		Short: "Admission-controlled crawl orchestrator for drug registries",
		Long: `harvester runs resilient, checkpointed harvests of regulatory drug
registries. Terms are processed sequentially while items within a term run
concurrently under a global admission gate; partial batches are persisted
incrementally and consolidated per term, so interrupted runs lose at most
one unflushed batch.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML; env vars use the HARVESTER_ prefix)")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newHistoryCmd())
	return cmd
}
