package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ecmem/engine/internal/ingest"
	"github.com/ecmem/engine/internal/store"
	"github.com/ecmem/engine/internal/ui"
)

func newIngestCmd() *cobra.Command {
	var skipIfExists bool
	var noTUI bool

	cmd := &cobra.Command{
		Use:   "ingest <transcript-path>",
		Short: "Ingest a session transcript into the memory store",
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

			projectID := slugify(".")
			if err := engine.EnsureProject(ctx, &store.Project{ID: projectID, Slug: projectID, Name: projectID}); err != nil {
				return fmt.Errorf("ensure project: %w", err)
			}

			renderer := ui.NewRenderer(ui.NewConfig(cmd.OutOrStdout(), ui.WithForcePlain(noTUI), ui.WithProjectDir(projectID)))
			if err := renderer.Start(ctx); err != nil {
				return fmt.Errorf("start progress renderer: %w", err)
			}
			defer func() { _ = renderer.Stop() }()
			engine.SetProgressRenderer(renderer)

			result, err := engine.IngestSession(ctx, projectID, args[0], ingest.Options{SkipIfExists: skipIfExists})
			if err != nil {
				return fmt.Errorf("ingest session: %w", err)
			}
			_ = renderer.Stop()

			if result.Skipped {
				fmt.Fprintf(cmd.OutOrStdout(), "session already ingested, skipped\n")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ingested %d chunks, %d edges (%d cross-session, %d sub-agent) in %dms\n",
				result.ChunkCount, result.EdgeCount, result.CrossSessionEdges, result.SubAgentEdges, result.DurationMs)
			return nil
		},
	}

	cmd.Flags().BoolVar(&skipIfExists, "skip-if-exists", true, "Skip ingestion if the session was already recorded")
	cmd.Flags().BoolVar(&noTUI, "no-tui", false, "Force plain text progress output instead of the interactive TUI")
	return cmd
}
