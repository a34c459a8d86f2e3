package hdbscan

import (
	"math"
	"sort"
)

// labelPoints assigns each point to the selected cluster it falls
// under (or -1 for noise), plus a membership probability and a GLOSH
// outlier score.
func labelPoints(n int, nodes []*condensedNode, selected []int) (labels []int, probabilities, outlierScores []float64) {
	byID := make(map[int]*condensedNode, len(nodes))
	for _, nd := range nodes {
		byID[nd.id] = nd
	}
	isSelected := make(map[int]bool, len(selected))
	for _, id := range selected {
		isSelected[id] = true
	}
	sort.Ints(selected)
	rankOf := make(map[int]int, len(selected))
	for i, id := range selected {
		rankOf[id] = i
	}

	pointDeathNode := make([]int, n)
	pointDeathLambda := make([]float64, n)
	for i := range pointDeathNode {
		pointDeathNode[i] = -1
	}
	globalMaxLambda := 0.0
	for _, nd := range nodes {
		for p, lambda := range nd.deaths {
			pointDeathNode[p] = nd.id
			pointDeathLambda[p] = lambda
			if !math.IsInf(lambda, 1) && lambda > globalMaxLambda {
				globalMaxLambda = lambda
			}
		}
	}

	clusterMaxLambda := make(map[int]float64, len(selected))
	clusterBirth := make(map[int]float64, len(selected))
	pointLabel := make([]int, n)
	for i := range pointLabel {
		pointLabel[i] = -1
	}

	for p := 0; p < n; p++ {
		id := pointDeathNode[p]
		for id != -1 && !isSelected[id] {
			id = byID[id].parentID
		}
		if id == -1 {
			continue
		}
		pointLabel[p] = id
		if _, ok := clusterBirth[id]; !ok {
			clusterBirth[id] = byID[id].birthLambda
		}
		lambda := pointDeathLambda[p]
		if !math.IsInf(lambda, 1) && lambda > clusterMaxLambda[id] {
			clusterMaxLambda[id] = lambda
		}
	}

	labels = make([]int, n)
	probabilities = make([]float64, n)
	outlierScores = make([]float64, n)

	for p := 0; p < n; p++ {
		id := pointLabel[p]
		if id == -1 {
			labels[p] = -1
			probabilities[p] = 0
		} else {
			labels[p] = rankOf[id]
			birth := clusterBirth[id]
			max := clusterMaxLambda[id]
			lambda := pointDeathLambda[p]
			if math.IsInf(lambda, 1) || max <= birth {
				probabilities[p] = 1
			} else {
				prob := (lambda - birth) / (max - birth)
				probabilities[p] = clamp01(prob)
			}
		}

		if id == -1 {
			outlierScores[p] = 1
			continue
		}
		lambda := pointDeathLambda[p]
		if globalMaxLambda <= 0 || math.IsInf(lambda, 1) {
			outlierScores[p] = 0
		} else {
			outlierScores[p] = clamp01(1 - lambda/globalMaxLambda)
		}
	}

	return labels, probabilities, outlierScores
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// exemplars picks, per cluster (0-based, matching labelPoints' output),
// up to three member points closest in angular distance to their
// cluster's L2-normalized centroid, ties broken by point index.
func exemplars(points [][]float32, labels []int, numClusters int) [][]int {
	members := make([][]int, numClusters)
	for p, l := range labels {
		if l >= 0 {
			members[l] = append(members[l], p)
		}
	}

	result := make([][]int, numClusters)
	for c, idxs := range members {
		if len(idxs) == 0 {
			continue
		}
		centroid := centroidOf(points, idxs)

		type scored struct {
			idx  int
			dist float64
		}
		scoredPoints := make([]scored, len(idxs))
		for i, idx := range idxs {
			scoredPoints[i] = scored{idx: idx, dist: angularDistance(points[idx], centroid)}
		}
		sort.Slice(scoredPoints, func(i, j int) bool {
			if scoredPoints[i].dist != scoredPoints[j].dist {
				return scoredPoints[i].dist < scoredPoints[j].dist
			}
			return scoredPoints[i].idx < scoredPoints[j].idx
		})

		limit := 3
		if len(scoredPoints) < limit {
			limit = len(scoredPoints)
		}
		picked := make([]int, limit)
		for i := 0; i < limit; i++ {
			picked[i] = scoredPoints[i].idx
		}
		result[c] = picked
	}
	return result
}

func centroidOf(points [][]float32, idxs []int) []float32 {
	dim := len(points[idxs[0]])
	sum := make([]float64, dim)
	for _, idx := range idxs {
		for d, v := range points[idx] {
			sum[d] += float64(v)
		}
	}
	centroid := make([]float32, dim)
	var normSq float64
	for d := range sum {
		centroid[d] = float32(sum[d] / float64(len(idxs)))
		normSq += float64(centroid[d]) * float64(centroid[d])
	}
	if normSq == 0 {
		return centroid
	}
	inv := float32(1.0 / math.Sqrt(normSq))
	for d := range centroid {
		centroid[d] *= inv
	}
	return centroid
}
