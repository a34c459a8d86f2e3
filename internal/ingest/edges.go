package ingest

import "github.com/ecmem/engine/internal/store"

// detectEdges derives causal edges between chunks: every adjacent pair of
// chunks within a session gets an adjacency edge; a chunk that opens a
// session following an earlier one in the same project gets a
// cross_session edge from the prior session's last chunk; a chunk whose
// spawn depth increases from its predecessor gets a brief edge (parent
// handing off to a sub-agent); a decrease gets a debrief edge (sub-agent
// reporting back). Every new edge starts at uniform initial weight 1.0.
func detectEdges(chunks []*store.Chunk, prevSessionTail *store.Chunk) []*store.Edge {
	var edges []*store.Edge

	if prevSessionTail != nil && len(chunks) > 0 {
		edges = append(edges, newEdge(prevSessionTail.ID, chunks[0].ID, store.EdgeTypeCrossSession))
	}

	for i := 1; i < len(chunks); i++ {
		prev, cur := chunks[i-1], chunks[i]
		switch {
		case cur.SpawnDepth > prev.SpawnDepth:
			edges = append(edges, newEdge(prev.ID, cur.ID, store.EdgeTypeBrief))
		case cur.SpawnDepth < prev.SpawnDepth:
			edges = append(edges, newEdge(prev.ID, cur.ID, store.EdgeTypeDebrief))
		default:
			edges = append(edges, newEdge(prev.ID, cur.ID, store.EdgeTypeAdjacency))
		}
	}
	return edges
}

func newEdge(source, target string, edgeType store.EdgeType) *store.Edge {
	return &store.Edge{
		SourceChunkID: source,
		TargetChunkID: target,
		EdgeType:      edgeType,
		Weight:        1.0,
		LinkCount:     1,
	}
}
