package store

import (
	"context"
	"math"
	"sort"

	"github.com/ecmem/engine/internal/xerrors"
)

// BruteForceVectorStore implements VectorStore with a linear scan over
// every vector in the project, scored by cosine similarity. There is no
// approximate index here by design (see VectorStore's doc comment);
// correctness over a bounded-size episodic memory outweighs sublinear
// search.
type BruteForceVectorStore struct {
	meta      MetadataStore
	projectID string
}

// NewBruteForceVectorStore scopes a search surface to one project's
// vectors, read fresh from meta on every call.
func NewBruteForceVectorStore(meta MetadataStore, projectID string) *BruteForceVectorStore {
	return &BruteForceVectorStore{meta: meta, projectID: projectID}
}

func (v *BruteForceVectorStore) Search(ctx context.Context, query []float32, k int) ([]*VectorHit, error) {
	vectors, err := v.meta.GetAllVectors(ctx, v.projectID)
	if err != nil {
		return nil, xerrors.New(xerrors.CodeVectorSearchFailed, "failed to load vectors for search", err)
	}
	if len(vectors) == 0 {
		return nil, nil
	}

	qNorm := l2Norm(query)
	hits := make([]*VectorHit, 0, len(vectors))
	for chunkID, vec := range vectors {
		if len(vec) != len(query) {
			continue
		}
		sim := cosineSimilarity(query, vec, qNorm)
		hits = append(hits, &VectorHit{
			ChunkID:  chunkID,
			Distance: 1 - sim,
			Score:    sim,
		})
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func cosineSimilarity(a, b []float32, aNorm float64) float32 {
	var dot, bSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bSq += float64(b[i]) * float64(b[i])
	}
	denom := aNorm * math.Sqrt(bSq)
	if denom == 0 {
		return 0
	}
	return float32(dot / denom)
}

func l2Norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}
