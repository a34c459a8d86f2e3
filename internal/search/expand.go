package search

import (
	"context"
	"sort"

	"github.com/ecmem/engine/internal/store"
	"github.com/ecmem/engine/internal/xerrors"
)

// clusterMeta is the subset of store.MetadataStore cluster expansion
// needs, narrowed for testability.
type clusterMeta interface {
	GetClustersForChunk(ctx context.Context, chunkID string) ([]*store.ClusterAssignment, error)
	GetClusterAssignments(ctx context.Context, clusterID string) ([]*store.ClusterAssignment, error)
	GetChunks(ctx context.Context, ids []string) ([]*store.Chunk, error)
}

// ExpandClusters pulls in cluster-sibling chunks: for up to
// maxClusters distinct clusters referenced by the top RRF hits, pull up
// to maxSiblings member chunk ids not already present among existing,
// scored as triggeringHit.score * (1 - assignment.distance). A sibling's
// distance is derived from its own HDBSCAN membership probability
// (distance = 1 - probability), since the store records probability and
// outlier score rather than a literal distance.
func ExpandClusters(ctx context.Context, meta clusterMeta, hits []FusedHit, existing map[string]bool, filter Filter, maxClusters, maxSiblings int) ([]FusedHit, error) {
	if maxClusters <= 0 || maxSiblings <= 0 {
		return nil, nil
	}

	triggerScore := make(map[string]float64)
	var clusterOrder []string
	seenClusters := make(map[string]bool)

	for _, h := range hits {
		if len(clusterOrder) >= maxClusters {
			break
		}
		assignments, err := meta.GetClustersForChunk(ctx, h.ChunkID)
		if err != nil {
			return nil, xerrors.New(xerrors.CodeContextAssembly, "failed to load cluster membership for hit", err)
		}
		for _, a := range assignments {
			if seenClusters[a.ClusterID] {
				continue
			}
			seenClusters[a.ClusterID] = true
			clusterOrder = append(clusterOrder, a.ClusterID)
			if h.Score > triggerScore[a.ClusterID] {
				triggerScore[a.ClusterID] = h.Score
			}
			if len(clusterOrder) >= maxClusters {
				break
			}
		}
	}

	var out []FusedHit
	for _, clusterID := range clusterOrder {
		members, err := meta.GetClusterAssignments(ctx, clusterID)
		if err != nil {
			return nil, xerrors.New(xerrors.CodeContextAssembly, "failed to load cluster assignments for expansion", err)
		}
		sort.Slice(members, func(i, j int) bool { return members[i].ChunkID < members[j].ChunkID })

		added := 0
		for _, m := range members {
			if added >= maxSiblings {
				break
			}
			if existing[m.ChunkID] {
				continue
			}
			if !passesFilter(ctx, meta, m.ChunkID, filter) {
				continue
			}
			distance := 1 - m.Probability
			out = append(out, FusedHit{
				ChunkID:   m.ChunkID,
				Score:     triggerScore[clusterID] * (1 - distance),
				TopSource: SourceCluster,
			})
			existing[m.ChunkID] = true
			added++
		}
	}
	return out, nil
}

func passesFilter(ctx context.Context, meta clusterMeta, chunkID string, filter Filter) bool {
	if filter.ProjectID == "" && filter.AgentID == "" {
		return true
	}
	chunks, err := meta.GetChunks(ctx, []string{chunkID})
	if err != nil || len(chunks) == 0 {
		return false
	}
	c := chunks[0]
	if filter.ProjectID != "" && c.ProjectID != filter.ProjectID {
		return false
	}
	if filter.AgentID != "" && c.AgentID != filter.AgentID {
		return false
	}
	return true
}
