package search

import "math"

// mmrCandidate is one item MMR chooses among: its relevance to the
// query and the vector used to score similarity against already-picked
// items.
type mmrCandidate struct {
	ChunkID   string
	Relevance float64
	Vector    []float32
}

// MMRRerank greedily reorders candidates by Maximal Marginal Relevance:
// at each step it picks the candidate maximizing
// lambda*relevance(q,c) - (1-lambda)*max_{s in selected} similarity(c,s),
// using angular similarity on the stored vectors. lambda=1 behaves like
// plain relevance ranking; lambda=0 maximizes diversity.
func MMRRerank(candidates []mmrCandidate, lambda float64) []string {
	remaining := make([]mmrCandidate, len(candidates))
	copy(remaining, candidates)

	selected := make([]string, 0, len(candidates))
	var selectedVectors [][]float32

	for len(remaining) > 0 {
		bestIdx := -1
		bestScore := math.Inf(-1)
		for i, c := range remaining {
			diversity := 0.0
			for _, sv := range selectedVectors {
				sim := AngularSimilarity(c.Vector, sv)
				if sim > diversity {
					diversity = sim
				}
			}
			score := lambda*c.Relevance - (1-lambda)*diversity
			if score > bestScore || (score == bestScore && (bestIdx == -1 || c.ChunkID < remaining[bestIdx].ChunkID)) {
				bestScore = score
				bestIdx = i
			}
		}

		picked := remaining[bestIdx]
		selected = append(selected, picked.ChunkID)
		selectedVectors = append(selectedVectors, picked.Vector)
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}
	return selected
}

// AngularSimilarity returns cosine similarity, 0 if either vector has
// zero norm or the dimensions disagree. Grounded on the same formula the
// brute-force vector store uses for search scoring.
func AngularSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, aSq, bSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		aSq += float64(a[i]) * float64(a[i])
		bSq += float64(b[i]) * float64(b[i])
	}
	denom := math.Sqrt(aSq) * math.Sqrt(bSq)
	if denom == 0 {
		return 0
	}
	return dot / denom
}
