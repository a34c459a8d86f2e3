package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ecmem/engine/pkg/memory"
)

func newSearchCmd() *cobra.Command {
	var agentFilter string

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Hybrid vector+keyword search over the memory store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
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

			resp, err := engine.Search(ctx, memory.SearchRequest{
				ProjectID:   slugify("."),
				Query:       args[0],
				AgentFilter: agentFilter,
			})
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}

			printResultChunks(cmd, resp.Chunks, resp.TokenCount, resp.DurationMs)
			return nil
		},
	}

	cmd.Flags().StringVar(&agentFilter, "agent", "", "Restrict results to chunks from this agent id")
	return cmd
}
