package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ecmem/engine/pkg/memory"
)

func newPredictCmd() *cobra.Command {
	var tokenBudget int

	cmd := &cobra.Command{
		Use:   "predict <query>",
		Short: "Walk the causal chain forward to project the likely continuation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEpisodic(cmd, args[0], tokenBudget, (*memory.Engine).Predict)
		},
	}

	cmd.Flags().IntVar(&tokenBudget, "token-budget", 0, "Override the configured token budget (0 = use config default)")
	return cmd
}

// runEpisodic shares the open-engine/print-narrative plumbing between
// recall and predict, which differ only in chain direction.
func runEpisodic(cmd *cobra.Command, query string, tokenBudget int, op func(*memory.Engine, context.Context, memory.EpisodicRequest) (*memory.EpisodicResponse, error)) error {
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

	resp, err := op(engine, ctx, memory.EpisodicRequest{
		ProjectID:   slugify("."),
		Query:       query,
		TokenBudget: tokenBudget,
	})
	if err != nil {
		return fmt.Errorf("episodic query: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "mode=%s tokens=%d duration=%dms\n\n%s\n", resp.Mode, resp.TokenCount, resp.DurationMs, resp.Narrative)
	return nil
}
