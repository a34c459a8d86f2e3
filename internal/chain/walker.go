package chain

import (
	"context"
	"sort"

	"github.com/ecmem/engine/internal/chunk"
	"github.com/ecmem/engine/internal/search"
	"github.com/ecmem/engine/internal/store"
	"github.com/ecmem/engine/internal/xerrors"
)

// metaStore is the subset of store.MetadataStore the walker needs,
// narrowed for testability.
type metaStore interface {
	GetChunk(ctx context.Context, id string) (*store.Chunk, error)
	GetEdgesFrom(ctx context.Context, chunkID string) ([]*store.Edge, error)
	GetEdgesTo(ctx context.Context, chunkID string) ([]*store.Edge, error)
	GetVector(ctx context.Context, chunkID string) ([]float32, error)
}

// WalkChains grows one causal chain per seed by
// repeatedly following the highest-initial_weight unvisited edge in the
// requested direction, sharing one visited-set across all seeds so
// chains never overlap.
func WalkChains(ctx context.Context, meta metaStore, seeds []string, opts Options) ([]Walk, error) {
	opts = opts.withDefaults()

	visited := make(map[string]bool, len(seeds)*4)
	walks := make([]Walk, 0, len(seeds))

	for _, seed := range seeds {
		if visited[seed] {
			walks = append(walks, Walk{SeedID: seed})
			continue
		}
		w, err := walkOne(ctx, meta, seed, opts, visited)
		if err != nil {
			return nil, err
		}
		walks = append(walks, w)
	}
	return walks, nil
}

func walkOne(ctx context.Context, meta metaStore, seed string, opts Options, visited map[string]bool) (Walk, error) {
	w := Walk{SeedID: seed}

	current := seed
	depth := 0
	tokensUsed := 0
	consecutiveSkips := 0

	for {
		if err := ctx.Err(); err != nil {
			return w, err
		}

		c, err := meta.GetChunk(ctx, current)
		if err != nil {
			return Walk{}, xerrors.New(xerrors.CodeContextAssembly, "failed to load chunk during chain walk", err)
		}
		if c == nil {
			break
		}
		visited[current] = true

		if opts.AgentFilter != "" && c.AgentID != opts.AgentFilter {
			consecutiveSkips++
			if consecutiveSkips > opts.MaxSkippedConsecutive {
				break
			}
		} else {
			consecutiveSkips = 0

			pieceTokens := estimateTokens(c.Content)
			if len(w.Nodes) > 0 && tokensUsed+pieceTokens > opts.TokenBudget {
				break
			}

			vec, err := meta.GetVector(ctx, current)
			if err != nil {
				return Walk{}, xerrors.New(xerrors.CodeContextAssembly, "failed to load vector during chain walk", err)
			}
			w.Nodes = append(w.Nodes, Node{
				ChunkID:    c.ID,
				SessionID:  c.SessionID,
				AgentID:    c.AgentID,
				Content:    c.Content,
				CreatedAt:  c.CreatedAt,
				Similarity: search.AngularSimilarity(opts.QueryEmbedding, vec),
			})
			tokensUsed += pieceTokens
		}

		if depth == opts.MaxDepth {
			break
		}

		next, err := bestUnvisitedNeighbor(ctx, meta, current, opts.Direction, visited)
		if err != nil {
			return Walk{}, err
		}
		if next == "" {
			break
		}
		current = next
		depth++
	}

	return w, nil
}

// bestUnvisitedNeighbor picks the unvisited neighbour reached via the
// highest-weight edge in the requested direction, tie-broken by the
// neighbour chunk id ascending (the edges table has no single surrogate
// id column; this is the nearest faithful reading of the edge-id
// tie-break given that schema).
func bestUnvisitedNeighbor(ctx context.Context, meta metaStore, current string, direction Direction, visited map[string]bool) (string, error) {
	var edges []*store.Edge
	var err error
	if direction == Forward {
		edges, err = meta.GetEdgesFrom(ctx, current)
	} else {
		edges, err = meta.GetEdgesTo(ctx, current)
	}
	if err != nil {
		return "", xerrors.New(xerrors.CodeContextAssembly, "failed to load edges during chain walk", err)
	}

	best := ""
	bestWeight := -1.0
	for _, e := range edges {
		neighbor := e.TargetChunkID
		if direction == Backward {
			neighbor = e.SourceChunkID
		}
		if visited[neighbor] {
			continue
		}
		if e.Weight > bestWeight || (e.Weight == bestWeight && neighbor < best) {
			best = neighbor
			bestWeight = e.Weight
		}
	}
	return best, nil
}

func estimateTokens(s string) int {
	return len(s) / chunk.TokensPerChar
}

// SelectBestChain picks the single best chain out of a set of walks:
// among
// chains of length >= 2, the one with the largest median per-node cosine
// similarity wins; ties go to the earlier seed (the first occurrence in
// walks, since WalkChains preserves seed order).
func SelectBestChain(walks []Walk) (Walk, bool) {
	bestIdx := -1
	bestMedian := -1.0
	for i, w := range walks {
		if len(w.Nodes) < 2 {
			continue
		}
		m := medianSimilarity(w.Nodes)
		if m > bestMedian {
			bestMedian = m
			bestIdx = i
		}
	}
	if bestIdx == -1 {
		return Walk{}, false
	}
	return walks[bestIdx], true
}

func medianSimilarity(nodes []Node) float64 {
	sims := make([]float64, len(nodes))
	for i, n := range nodes {
		sims[i] = n.Similarity
	}
	sort.Float64s(sims)
	mid := len(sims) / 2
	if len(sims)%2 == 1 {
		return sims[mid]
	}
	return (sims[mid-1] + sims[mid]) / 2
}
