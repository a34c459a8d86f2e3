package hdbscan

import "container/heap"

// mstEdge is one edge of the mutual-reachability minimum spanning tree.
type mstEdge struct {
	From, To int
	Weight   float64
}

type pqItem struct {
	from, to int
	weight   float64
}

// edgePQ is a min-heap of candidate MST edges, ordered by weight with
// ties broken by the lower endpoint index and then the higher one, so
// that MST construction is deterministic regardless of scan order.
type edgePQ []*pqItem

func (pq edgePQ) Len() int { return len(pq) }

func (pq edgePQ) Less(i, j int) bool {
	a, b := pq[i], pq[j]
	if a.weight != b.weight {
		return a.weight < b.weight
	}
	aLo, aHi := a.from, a.to
	if aLo > aHi {
		aLo, aHi = aHi, aLo
	}
	bLo, bHi := b.from, b.to
	if bLo > bHi {
		bLo, bHi = bHi, bLo
	}
	if aLo != bLo {
		return aLo < bLo
	}
	return aHi > bHi
}

func (pq edgePQ) Swap(i, j int) { pq[i], pq[j] = pq[j], pq[i] }

func (pq *edgePQ) Push(x any) { *pq = append(*pq, x.(*pqItem)) }

func (pq *edgePQ) Pop() any {
	old := *pq
	n := len(old)
	item := old[n-1]
	*pq = old[:n-1]
	return item
}

// mutualReachabilityMST builds the minimum spanning tree of the complete
// mutual-reachability graph using Prim's algorithm: mrd(i,j) =
// max(coreDist[i], coreDist[j], dist(i,j)). The graph is never
// materialized; edge weights are computed on demand as vertices join
// the tree.
func mutualReachabilityMST(points [][]float32, coreDist []float64, metric Metric) []mstEdge {
	n := len(points)
	if n < 2 {
		return nil
	}

	visited := make([]bool, n)
	edges := make([]mstEdge, 0, n-1)

	pq := &edgePQ{}
	heap.Init(pq)
	visited[0] = true
	pushCandidates(pq, points, coreDist, metric, visited, 0)

	for len(edges) < n-1 && pq.Len() > 0 {
		item := heap.Pop(pq).(*pqItem)
		if visited[item.to] {
			continue
		}
		visited[item.to] = true
		edges = append(edges, mstEdge{From: item.from, To: item.to, Weight: item.weight})
		pushCandidates(pq, points, coreDist, metric, visited, item.to)
	}

	return edges
}

func pushCandidates(pq *edgePQ, points [][]float32, coreDist []float64, metric Metric, visited []bool, from int) {
	for j := range points {
		if visited[j] {
			continue
		}
		d := distance(metric, points[from], points[j])
		mrd := d
		if coreDist[from] > mrd {
			mrd = coreDist[from]
		}
		if coreDist[j] > mrd {
			mrd = coreDist[j]
		}
		heap.Push(pq, &pqItem{from: from, to: j, weight: mrd})
	}
}
