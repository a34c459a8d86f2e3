package mcp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestServer_ListResources_IncludesQueryMetrics(t *testing.T) {
	srv, _ := newTestServer(t)
	resources, cursor, err := srv.ListResources(context.Background(), "")
	require.NoError(t, err)
	require.Empty(t, cursor)
	found := false
	for _, r := range resources {
		if r.URI == "ecmem://query_metrics" {
			found = true
		}
	}
	require.True(t, found)
}

func TestServer_ReadResource_UnknownSchemeNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	_, err := srv.ReadResource(context.Background(), "file://whatever")
	require.Error(t, err)
	mcpErr, ok := err.(*MCPError)
	require.True(t, ok)
	require.Equal(t, ErrCodeMethodNotFound, mcpErr.Code)
}

func TestServer_ReadResource_ChunkRoundTrip(t *testing.T) {
	ctx := context.Background()
	srv, _ := newTestServer(t)
	path := writeServerTestTranscript(t, t.TempDir())

	searchOut, err := srv.handleIngestSessionTool(ctx, IngestSessionInput{Path: path})
	require.NoError(t, err)
	require.Greater(t, searchOut.ChunkCount, 0)

	res, err := srv.handleSearchTool(ctx, SearchInput{Query: "read a file"})
	require.NoError(t, err)
	require.NotEmpty(t, res.Chunks)

	chunkID := res.Chunks[0].ChunkID
	content, err := srv.ReadResource(ctx, "chunk://"+chunkID)
	require.NoError(t, err)
	require.NotEmpty(t, content.Content)
}

func TestServer_ReadResource_UnknownChunkNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	_, err := srv.ReadResource(context.Background(), "chunk://does-not-exist")
	require.Error(t, err)
	mcpErr, ok := err.(*MCPError)
	require.True(t, ok)
	require.Equal(t, ErrCodeIndexNotFound, mcpErr.Code)
}
