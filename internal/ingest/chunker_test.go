package ingest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ecmem/engine/internal/store"
)

func msg(agent string, ct store.ContentType, text string) Message {
	return Message{AgentID: agent, ContentType: ct, Text: text}
}

func TestChunkTurns_MergesSmallTurns(t *testing.T) {
	turns := []Turn{
		{Messages: []Message{msg("main", store.ContentTypeUser, "hi")}},
		{Messages: []Message{msg("main", store.ContentTypeAssistant, "hello")}},
	}
	drafts := ChunkTurns(turns, ChunkOptions{MinTokensPerChunk: 1000, MaxTokensPerChunk: 2000})
	require.Len(t, drafts, 1)
	require.Equal(t, 1, drafts[0].TurnStart)
	require.Equal(t, 2, drafts[0].TurnEnd)
	require.Contains(t, drafts[0].Content, "[User]")
	require.Contains(t, drafts[0].Content, "[Assistant]")
}

func TestChunkTurns_SplitsOversizedGroupAtMessageBoundaries(t *testing.T) {
	paragraph := strings.Repeat("word ", 40) // ~50 tokens at 4 chars/token
	big := strings.Join([]string{paragraph, paragraph, paragraph, paragraph, paragraph}, "\n\n")
	turns := []Turn{
		{Messages: []Message{msg("main", store.ContentTypeUser, big)}},
		{Messages: []Message{msg("main", store.ContentTypeAssistant, big)}},
	}
	drafts := ChunkTurns(turns, ChunkOptions{MinTokensPerChunk: 1, MaxTokensPerChunk: 100})
	require.Greater(t, len(drafts), 2)
	var rejoined string
	for _, d := range drafts {
		rejoined += d.Content
	}
	require.Equal(t, 2*5*40, strings.Count(rejoined, "word"))
}

func TestChunkTurns_StripsThinkingByDefault(t *testing.T) {
	turns := []Turn{
		{Messages: []Message{
			msg("main", store.ContentTypeThinking, "internal reasoning"),
			msg("main", store.ContentTypeUser, "hello"),
		}},
	}
	drafts := ChunkTurns(turns, ChunkOptions{})
	for _, d := range drafts {
		require.NotContains(t, d.Content, "internal reasoning")
	}
}

func TestChunkTurns_KeepsThinkingWhenRequested(t *testing.T) {
	turns := []Turn{
		{Messages: []Message{
			msg("main", store.ContentTypeThinking, "internal reasoning"),
			msg("main", store.ContentTypeUser, "hello"),
		}},
	}
	drafts := ChunkTurns(turns, ChunkOptions{IncludeThinking: true})
	var all string
	for _, d := range drafts {
		all += d.Content
	}
	require.Contains(t, all, "internal reasoning")
}

func TestSplitTextPreservingCodeBlocks_KeepsFencedBlockIntact(t *testing.T) {
	text := "intro paragraph\n\n```go\nfunc main() {\n\tprint(1)\n}\n```\n\nclosing paragraph"
	parts := splitTextPreservingCodeBlocks(text, 1)
	var rejoined string
	for _, p := range parts {
		rejoined += p
	}
	require.Contains(t, rejoined, "```go\nfunc main() {\n\tprint(1)\n}\n```")
	for _, p := range parts {
		require.Equal(t, 0, strings.Count(p, "```")%2)
	}
}
