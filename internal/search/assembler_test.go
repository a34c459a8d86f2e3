package search

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ecmem/engine/internal/embed"
	"github.com/ecmem/engine/internal/store"
)

func newTestAssembler(t *testing.T) (*Assembler, *store.SQLiteStore, *store.BleveKeywordIndex, *embed.StaticEmbedder) {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(context.Background(), filepath.Join(dir, "memory.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	kw, err := store.OpenBleveKeywordIndex(filepath.Join(dir, "bleve"))
	require.NoError(t, err)
	t.Cleanup(func() { kw.Close() })

	embedder := embed.NewStaticEmbedder(embed.DefaultDimensions)
	vecs := store.NewBruteForceVectorStore(s, "p1")

	a := NewAssembler(s, vecs, kw, embedder, Config{TokenBudget: 500})
	return a, s, kw, embedder
}

func seedChunk(t *testing.T, s *store.SQLiteStore, kw *store.BleveKeywordIndex, embedder *embed.StaticEmbedder, id, sessionID, agentID, content string, age time.Duration) {
	t.Helper()
	ctx := context.Background()
	c := &store.Chunk{
		ID: id, ProjectID: "p1", SessionID: sessionID, AgentID: agentID,
		ContentType: store.ContentTypeUser, Content: content,
		CreatedAt: time.Now().UTC().Add(-age),
	}
	require.NoError(t, s.SaveChunks(ctx, []*store.Chunk{c}))

	vec, err := embedder.Embed(ctx, content)
	require.NoError(t, err)
	require.NoError(t, s.SaveVectors(ctx, []string{id}, [][]float32{vec}, embedder.ModelName()))
	require.NoError(t, kw.Index(ctx, []*store.Document{{ID: id, Content: content}}))
}

func TestAssemble_ReturnsTextWithinBudgetAndSeeds(t *testing.T) {
	a, s, kw, embedder := newTestAssembler(t)
	require.NoError(t, s.SaveProject(context.Background(), &store.Project{ID: "p1", Slug: "p1", Name: "p1", CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC()}))

	seedChunk(t, s, kw, embedder, "c1", "s1", "main", "discussing the billing migration plan", 0)
	seedChunk(t, s, kw, embedder, "c2", "s1", "main", "follow up on billing migration risks", time.Hour)
	seedChunk(t, s, kw, embedder, "c3", "s2", "helper", "unrelated lunch scheduling chat", 48*time.Hour)

	resp, err := a.Assemble(context.Background(), Query{Text: "billing migration plan", Filter: Filter{ProjectID: "p1"}})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Text)
	require.LessOrEqual(t, resp.TokenCount, 600)
	require.NotEmpty(t, resp.SeedIDs)
	require.LessOrEqual(t, len(resp.SeedIDs), 5)
	require.NotEmpty(t, resp.QueryEmbedding)
}

func TestAssemble_SessionBoostRanksCurrentSessionHigher(t *testing.T) {
	a, s, kw, embedder := newTestAssembler(t)
	require.NoError(t, s.SaveProject(context.Background(), &store.Project{ID: "p1", Slug: "p1", Name: "p1", CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC()}))

	seedChunk(t, s, kw, embedder, "cur", "current", "main", "billing migration notes", time.Hour)
	seedChunk(t, s, kw, embedder, "old", "other", "main", "billing migration notes", time.Hour)

	resp, err := a.Assemble(context.Background(), Query{Text: "billing migration notes", Filter: Filter{ProjectID: "p1"}, CurrentSessionID: "current"})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Chunks)

	scores := make(map[string]float64, len(resp.Chunks))
	for _, c := range resp.Chunks {
		scores[c.ChunkID] = c.Score
	}
	require.Greater(t, scores["cur"], scores["old"])
}

func TestEstimateTokens_UsesCharsPerTokenHeuristic(t *testing.T) {
	require.Equal(t, 2, estimateTokens("12345678"))
}
