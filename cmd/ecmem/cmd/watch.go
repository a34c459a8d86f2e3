package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ecmem/engine/internal/ingest"
	"github.com/ecmem/engine/internal/store"
)

func newWatchCmd() *cobra.Command {
	var skipIfExists bool

	cmd := &cobra.Command{
		Use:   "watch [dir]",
		Short: "Watch a directory for new or changed session transcripts and ingest them as they land",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := "."
			if len(args) == 1 {
				root = args[0]
			}

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

			projectID := slugify(root)
			if err := engine.EnsureProject(ctx, &store.Project{ID: projectID, Slug: projectID, Name: projectID}); err != nil {
				return fmt.Errorf("ensure project: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "watching %s for session transcripts (project %q), press ctrl-c to stop\n", root, projectID)
			return engine.Watch(ctx, root, projectID, ingest.Options{SkipIfExists: skipIfExists})
		},
	}

	cmd.Flags().BoolVar(&skipIfExists, "skip-if-exists", false, "Skip a transcript whose session was already ingested, even if it has changed")
	return cmd
}
