package search

import "sort"

// FuseRRF combines an arbitrary number of ranked lists using Reciprocal
// Rank Fusion: for each item, fused score is the sum over
// every list containing it of weight_list / (k + rank_in_list), rank
// 1-indexed. The source tag attached to each result is whichever input
// list contributed the largest single term to its score.
//
// Results are sorted by score (desc), tie-broken by chunk id (asc) for
// determinism.
func FuseRRF(lists []RankedList, k int) []FusedHit {
	if k <= 0 {
		k = DefaultRRFConstant
	}

	scores := make(map[string]*FusedHit)
	for _, list := range lists {
		for rank, hit := range list.Hits {
			fh, ok := scores[hit.ChunkID]
			if !ok {
				fh = &FusedHit{ChunkID: hit.ChunkID, contributed: make(map[SourceTag]float64)}
				scores[hit.ChunkID] = fh
			}
			term := list.Weight / float64(k+rank+1)
			fh.Score += term
			fh.contributed[list.Source] += term
		}
	}

	results := make([]FusedHit, 0, len(scores))
	for _, fh := range scores {
		fh.TopSource = topSource(fh.contributed)
		results = append(results, *fh)
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ChunkID < results[j].ChunkID
	})
	return results
}

// sourcePriority breaks score ties deterministically when two lists
// contributed equally to an item's fused score.
var sourcePriority = []SourceTag{SourceVector, SourceKeyword, SourceCluster, SourceGraph}

func topSource(contributed map[SourceTag]float64) SourceTag {
	var best SourceTag
	bestScore := -1.0
	for _, src := range sourcePriority {
		score, ok := contributed[src]
		if ok && score > bestScore {
			best = src
			bestScore = score
		}
	}
	return best
}
