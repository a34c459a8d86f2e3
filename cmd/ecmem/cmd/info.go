package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ecmem/engine/internal/ui"
)

func newInfoCmd() *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "info",
		Short: "Show memory store statistics for the current project",
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

			projectID := slugify(".")
			status, err := engine.Status(ctx, projectID, projectID)
			if err != nil {
				return fmt.Errorf("info: %w", err)
			}

			renderer := ui.NewStatusRenderer(cmd.OutOrStdout(), false)
			if jsonOut {
				return renderer.RenderJSON(*status)
			}
			return renderer.Render(*status)
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print status as JSON")
	return cmd
}
