package cmd

import (
	"github.com/spf13/cobra"

	"github.com/ecmem/engine/pkg/memory"
)

func newRecallCmd() *cobra.Command {
	var tokenBudget int

	cmd := &cobra.Command{
		Use:   "recall <query>",
		Short: "Walk the causal chain backward into a problem->solution narrative",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEpisodic(cmd, args[0], tokenBudget, (*memory.Engine).Recall)
		},
	}

	cmd.Flags().IntVar(&tokenBudget, "token-budget", 0, "Override the configured token budget (0 = use config default)")
	return cmd
}
