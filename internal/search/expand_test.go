package search

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ecmem/engine/internal/store"
)

type fakeClusterMeta struct {
	clustersByChunk map[string][]*store.ClusterAssignment
	membersByCluster map[string][]*store.ClusterAssignment
	chunks          map[string]*store.Chunk
}

func (f *fakeClusterMeta) GetClustersForChunk(_ context.Context, chunkID string) ([]*store.ClusterAssignment, error) {
	return f.clustersByChunk[chunkID], nil
}

func (f *fakeClusterMeta) GetClusterAssignments(_ context.Context, clusterID string) ([]*store.ClusterAssignment, error) {
	return f.membersByCluster[clusterID], nil
}

func (f *fakeClusterMeta) GetChunks(_ context.Context, ids []string) ([]*store.Chunk, error) {
	var out []*store.Chunk
	for _, id := range ids {
		if c, ok := f.chunks[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func TestExpandClusters_AddsUnseenSiblingsScoredByProbability(t *testing.T) {
	meta := &fakeClusterMeta{
		clustersByChunk: map[string][]*store.ClusterAssignment{
			"seed": {{ClusterID: "c1", ChunkID: "seed", Probability: 0.9}},
		},
		membersByCluster: map[string][]*store.ClusterAssignment{
			"c1": {
				{ClusterID: "c1", ChunkID: "seed", Probability: 0.9},
				{ClusterID: "c1", ChunkID: "sib1", Probability: 0.8},
				{ClusterID: "c1", ChunkID: "sib2", Probability: 0.4},
			},
		},
		chunks: map[string]*store.Chunk{
			"sib1": {ID: "sib1", ProjectID: "p1"},
			"sib2": {ID: "sib2", ProjectID: "p1"},
		},
	}

	hits := []FusedHit{{ChunkID: "seed", Score: 1.0}}
	existing := map[string]bool{"seed": true}

	out, err := ExpandClusters(context.Background(), meta, hits, existing, Filter{}, 5, 5)
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, "sib1", out[0].ChunkID)
	require.InDelta(t, 0.8, out[0].Score, 1e-9)
	require.Equal(t, SourceCluster, out[0].TopSource)
}

func TestExpandClusters_RespectsProjectFilter(t *testing.T) {
	meta := &fakeClusterMeta{
		clustersByChunk: map[string][]*store.ClusterAssignment{
			"seed": {{ClusterID: "c1", ChunkID: "seed", Probability: 0.9}},
		},
		membersByCluster: map[string][]*store.ClusterAssignment{
			"c1": {{ClusterID: "c1", ChunkID: "other-project", Probability: 0.7}},
		},
		chunks: map[string]*store.Chunk{
			"other-project": {ID: "other-project", ProjectID: "p2"},
		},
	}
	out, err := ExpandClusters(context.Background(), meta, []FusedHit{{ChunkID: "seed", Score: 1}}, map[string]bool{"seed": true}, Filter{ProjectID: "p1"}, 5, 5)
	require.NoError(t, err)
	require.Empty(t, out)
}

func TestExpandClusters_ZeroLimitsReturnNothing(t *testing.T) {
	out, err := ExpandClusters(context.Background(), &fakeClusterMeta{}, nil, nil, Filter{}, 0, 0)
	require.NoError(t, err)
	require.Empty(t, out)
}
