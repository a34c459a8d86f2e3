package hdbscan

import "sort"

// treeNode is one node of the single-linkage dendrogram: either a leaf
// (a single point) or an internal merge of two components at a given
// mutual-reachability distance.
type treeNode struct {
	left, right *treeNode
	height      float64
	size        int
	points      []int
}

// buildDendrogram turns the MST into a binary merge tree by replaying
// its edges in ascending weight order through a union-find, the
// standard way to derive a single-linkage hierarchy from a minimum
// spanning tree. Ties use the same lower/higher endpoint rule as MST
// construction so the tree shape is deterministic.
func buildDendrogram(n int, edges []mstEdge) *treeNode {
	sorted := make([]mstEdge, len(edges))
	copy(sorted, edges)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Weight != b.Weight {
			return a.Weight < b.Weight
		}
		aLo, aHi := a.From, a.To
		if aLo > aHi {
			aLo, aHi = aHi, aLo
		}
		bLo, bHi := b.From, b.To
		if bLo > bHi {
			bLo, bHi = bHi, bLo
		}
		if aLo != bLo {
			return aLo < bLo
		}
		return aHi > bHi
	})

	uf := newUnionFind(n)
	nodes := make([]*treeNode, n)
	for i := range nodes {
		nodes[i] = &treeNode{size: 1, points: []int{i}}
	}

	components := make(map[int]*treeNode, n)
	for i := 0; i < n; i++ {
		components[i] = nodes[i]
	}

	for _, e := range sorted {
		ra, rb := uf.find(e.From), uf.find(e.To)
		if ra == rb {
			continue
		}
		left, right := components[ra], components[rb]
		merged := &treeNode{
			left:   left,
			right:  right,
			height: e.Weight,
			size:   left.size + right.size,
			points: append(append(make([]int, 0, left.size+right.size), left.points...), right.points...),
		}
		uf.union(ra, rb)
		root := uf.find(ra)
		delete(components, ra)
		delete(components, rb)
		components[root] = merged
	}

	for _, node := range components {
		return node
	}
	if n == 1 {
		return nodes[0]
	}
	return nil
}
