package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ecmem/engine/internal/search"
)

// printResultChunks renders a set of retrieved chunks in the terse,
// greppable one-line-per-chunk format the rest of the CLI shares.
func printResultChunks(cmd *cobra.Command, chunks []search.ResultChunk, tokenCount int, durationMs int64) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%d chunks, %d tokens, %dms\n\n", len(chunks), tokenCount, durationMs)
	for i, c := range chunks {
		fmt.Fprintf(out, "[%d] %s (%s, score=%.3f, %s)\n%s\n\n",
			i+1, c.ChunkID, c.Source, c.Score, c.CreatedAt.Format("2006-01-02 15:04"), c.Content)
	}
}
