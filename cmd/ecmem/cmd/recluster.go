package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newReclusterCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recluster",
		Short: "Recompute HDBSCAN clusters over the project's chunks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			engine, err := openEngine(ctx, cfg)
			if err != nil {
				return err
			}
			defer engine.Close()

			result, err := engine.Recluster(ctx, slugify("."))
			if err != nil {
				return fmt.Errorf("recluster: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%d clusters, %d chunks assigned, %d noise points reassigned\n",
				result.NumClusters, result.AssignedChunks, result.ReassignedNoise)
			return nil
		},
	}
}
