package chain

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ecmem/engine/internal/store"
)

type fakeMeta struct {
	chunks map[string]*store.Chunk
	vecs   map[string][]float32
	from   map[string][]*store.Edge
	to     map[string][]*store.Edge
}

func (f *fakeMeta) GetChunk(_ context.Context, id string) (*store.Chunk, error) {
	return f.chunks[id], nil
}
func (f *fakeMeta) GetEdgesFrom(_ context.Context, chunkID string) ([]*store.Edge, error) {
	return f.from[chunkID], nil
}
func (f *fakeMeta) GetEdgesTo(_ context.Context, chunkID string) ([]*store.Edge, error) {
	return f.to[chunkID], nil
}
func (f *fakeMeta) GetVector(_ context.Context, chunkID string) ([]float32, error) {
	return f.vecs[chunkID], nil
}

func chunkAt(id, session, agent string, mins int) *store.Chunk {
	return &store.Chunk{
		ID: id, SessionID: session, AgentID: agent,
		Content:   "content " + id,
		CreatedAt: time.Date(2026, 1, 1, 0, mins, 0, 0, time.UTC),
	}
}

func linearMeta() *fakeMeta {
	// a -> b -> c, strictly decreasing edge weight so traversal order is deterministic.
	m := &fakeMeta{
		chunks: map[string]*store.Chunk{
			"a": chunkAt("a", "s1", "main", 0),
			"b": chunkAt("b", "s1", "main", 1),
			"c": chunkAt("c", "s1", "main", 2),
		},
		vecs: map[string][]float32{
			"a": {1, 0}, "b": {1, 0}, "c": {1, 0},
		},
		from: map[string][]*store.Edge{},
		to:   map[string][]*store.Edge{},
	}
	m.from["a"] = []*store.Edge{{SourceChunkID: "a", TargetChunkID: "b", Weight: 0.9}}
	m.from["b"] = []*store.Edge{{SourceChunkID: "b", TargetChunkID: "c", Weight: 0.8}}
	m.to["c"] = []*store.Edge{{SourceChunkID: "b", TargetChunkID: "c", Weight: 0.8}}
	m.to["b"] = []*store.Edge{{SourceChunkID: "a", TargetChunkID: "b", Weight: 0.9}}
	return m
}

func TestWalkChains_FollowsForwardEdgesToHighestWeightNeighbor(t *testing.T) {
	m := linearMeta()
	walks, err := WalkChains(context.Background(), m, []string{"a"}, Options{
		Direction: Forward, TokenBudget: 1000, QueryEmbedding: []float32{1, 0},
	})
	require.NoError(t, err)
	require.Len(t, walks, 1)
	ids := []string{}
	for _, n := range walks[0].Nodes {
		ids = append(ids, n.ChunkID)
	}
	require.Equal(t, []string{"a", "b", "c"}, ids)
}

func TestWalkChains_BackwardWalksViaGetEdgesTo(t *testing.T) {
	m := linearMeta()
	walks, err := WalkChains(context.Background(), m, []string{"c"}, Options{
		Direction: Backward, TokenBudget: 1000, QueryEmbedding: []float32{1, 0},
	})
	require.NoError(t, err)
	require.Len(t, walks, 1)
	ids := []string{}
	for _, n := range walks[0].Nodes {
		ids = append(ids, n.ChunkID)
	}
	require.Equal(t, []string{"c", "b", "a"}, ids)
}

func TestWalkChains_SharedVisitedSetPreventsOverlap(t *testing.T) {
	m := linearMeta()
	walks, err := WalkChains(context.Background(), m, []string{"a", "b"}, Options{
		Direction: Forward, TokenBudget: 1000, QueryEmbedding: []float32{1, 0},
	})
	require.NoError(t, err)
	require.Len(t, walks, 2)
	require.Equal(t, "a", walks[0].SeedID)
	require.Equal(t, []string{"a", "b", "c"}, idsOf(walks[0]))
	require.Empty(t, walks[1].Nodes, "seed b was already visited by the first chain")
}

func TestWalkChains_SkipsAgentMismatchButFollowsEdges(t *testing.T) {
	m := linearMeta()
	m.chunks["b"] = chunkAt("b", "s1", "helper", 1) // mismatched agent
	walks, err := WalkChains(context.Background(), m, []string{"a"}, Options{
		Direction: Forward, TokenBudget: 1000, QueryEmbedding: []float32{1, 0},
		AgentFilter: "main",
	})
	require.NoError(t, err)
	require.Equal(t, []string{"a", "c"}, idsOf(walks[0]))
}

func TestWalkChains_AbandonsAfterTooManyConsecutiveSkips(t *testing.T) {
	m := &fakeMeta{
		chunks: map[string]*store.Chunk{
			"a": chunkAt("a", "s1", "main", 0),
			"b": chunkAt("b", "s1", "helper", 1),
			"c": chunkAt("c", "s1", "helper", 2),
		},
		vecs: map[string][]float32{"a": {1, 0}, "b": {1, 0}, "c": {1, 0}},
		from: map[string][]*store.Edge{
			"a": {{SourceChunkID: "a", TargetChunkID: "b", Weight: 0.9}},
			"b": {{SourceChunkID: "b", TargetChunkID: "c", Weight: 0.8}},
		},
		to: map[string][]*store.Edge{},
	}
	walks, err := WalkChains(context.Background(), m, []string{"a"}, Options{
		Direction: Forward, TokenBudget: 1000, QueryEmbedding: []float32{1, 0},
		AgentFilter: "main", MaxSkippedConsecutive: 1,
	})
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, idsOf(walks[0]))
}

func TestWalkChains_StopsAtMaxDepth(t *testing.T) {
	m := linearMeta()
	walks, err := WalkChains(context.Background(), m, []string{"a"}, Options{
		Direction: Forward, TokenBudget: 1000, QueryEmbedding: []float32{1, 0},
		MaxDepth: 1,
	})
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, idsOf(walks[0]))
}

func TestSelectBestChain_PicksLargestMedianSimilarity(t *testing.T) {
	walks := []Walk{
		{SeedID: "a", Nodes: []Node{{ChunkID: "1", Similarity: 0.1}, {ChunkID: "2", Similarity: 0.2}}},
		{SeedID: "b", Nodes: []Node{{ChunkID: "3", Similarity: 0.9}, {ChunkID: "4", Similarity: 0.8}}},
		{SeedID: "c", Nodes: []Node{{ChunkID: "5", Similarity: 0.99}}}, // length 1, ineligible
	}
	best, ok := SelectBestChain(walks)
	require.True(t, ok)
	require.Equal(t, "b", best.SeedID)
}

func TestSelectBestChain_NoneQualify(t *testing.T) {
	_, ok := SelectBestChain([]Walk{{SeedID: "a", Nodes: []Node{{ChunkID: "1"}}}})
	require.False(t, ok)
}

func idsOf(w Walk) []string {
	ids := make([]string, len(w.Nodes))
	for i, n := range w.Nodes {
		ids[i] = n.ChunkID
	}
	return ids
}
