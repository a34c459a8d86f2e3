package cmd

import (
	"fmt"
	"regexp"

	"github.com/spf13/cobra"

	"github.com/ecmem/engine/internal/logging"
)

func newLogsCmd() *cobra.Command {
	var source string
	var level string
	var pattern string
	var tailN int
	var follow bool
	var noColor bool
	var showSource bool

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "View ecmem's debug logs (written when a command ran with --debug)",
		RunE: func(cmd *cobra.Command, args []string) error {
			src := logging.ParseLogSource(source)
			paths, err := logging.FindLogFileBySource(src, "")
			if err != nil {
				return err
			}

			cfg := logging.ViewerConfig{Level: level, NoColor: noColor, ShowSource: showSource || src == logging.LogSourceAll}
			if pattern != "" {
				re, err := regexp.Compile(pattern)
				if err != nil {
					return fmt.Errorf("invalid --grep pattern: %w", err)
				}
				cfg.Pattern = re
			}
			viewer := logging.NewViewer(cfg, cmd.OutOrStdout())

			entries, err := viewer.TailMultiple(paths, tailN)
			if err != nil {
				return fmt.Errorf("tail logs: %w", err)
			}
			viewer.Print(entries)

			if !follow {
				return nil
			}

			ctx := cmd.Context()
			entryCh := make(chan logging.LogEntry, 64)
			go func() {
				for entry := range entryCh {
					viewer.Print([]logging.LogEntry{entry})
				}
			}()
			return viewer.FollowMultiple(ctx, paths, entryCh)
		},
	}

	cmd.Flags().StringVar(&source, "source", "go", "Log source to view: go, ollama, or all")
	cmd.Flags().StringVar(&level, "level", "", "Minimum level to show (debug, info, warn, error)")
	cmd.Flags().StringVar(&pattern, "grep", "", "Only show lines matching this regular expression")
	cmd.Flags().IntVar(&tailN, "tail", 100, "Number of trailing lines to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep watching for new log lines")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "Disable ANSI colors")
	cmd.Flags().BoolVar(&showSource, "show-source", false, "Prefix each line with its log source")
	return cmd
}
