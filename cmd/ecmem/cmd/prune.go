package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newPruneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Start a background decay/orphan-edge prune pass",
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

			progress, err := engine.StartBackgroundPrune(ctx, slugify("."))
			if err != nil {
				return fmt.Errorf("start prune: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "prune %s: %d edges scanned, %d deleted, %d chunks scanned, %d orphaned\n",
				progress.Status, progress.EdgesScanned, progress.EdgesDeleted, progress.ChunksScanned, progress.ChunksOrphaned)
			return nil
		},
	}
}
