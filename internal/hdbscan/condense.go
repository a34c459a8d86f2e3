package hdbscan

import "math"

// condensedNode is a surviving node of the condensed tree: a cluster
// that persisted across one or more dendrogram merges before either
// splitting into two clusters large enough to survive, or dissolving
// entirely into noise.
type condensedNode struct {
	id          int
	parentID    int // -1 for the root
	birthLambda float64
	size        int
	// deaths maps a point index to the lambda at which it fell out of
	// this node directly (not inherited by a child cluster).
	deaths map[int]float64
}

func lambdaOf(height float64) float64 {
	if height <= 0 {
		return math.Inf(1)
	}
	return 1.0 / height
}

// condenseTree walks the dendrogram top-down from its root, collapsing
// runs of merges that don't produce two min-cluster-size-sized children
// into a single surviving cluster, and recording the lambda at which
// each point falls out of whichever cluster currently contains it.
func condenseTree(root *treeNode, minClusterSize int) []*condensedNode {
	if root == nil {
		return nil
	}
	if minClusterSize < 1 {
		minClusterSize = 1
	}

	var nodes []*condensedNode
	byID := make(map[int]*condensedNode)
	nextID := 0

	ensure := func(parent int, birth float64, size int) *condensedNode {
		cn := &condensedNode{id: nextID, parentID: parent, birthLambda: birth, size: size, deaths: make(map[int]float64)}
		byID[cn.id] = cn
		nodes = append(nodes, cn)
		nextID++
		return cn
	}

	var walk func(n *treeNode, clusterID int)
	walk = func(n *treeNode, clusterID int) {
		cur := byID[clusterID]
		if n.left == nil {
			if minClusterSize <= 1 {
				cur.deaths[n.points[0]] = cur.birthLambda
			}
			return
		}

		lambda := lambdaOf(n.height)
		leftBig := n.left.size >= minClusterSize
		rightBig := n.right.size >= minClusterSize

		switch {
		case leftBig && rightBig:
			left := ensure(clusterID, lambda, n.left.size)
			walk(n.left, left.id)
			right := ensure(clusterID, lambda, n.right.size)
			walk(n.right, right.id)
		case leftBig && !rightBig:
			for _, p := range n.right.points {
				cur.deaths[p] = lambda
			}
			walk(n.left, clusterID)
		case rightBig && !leftBig:
			for _, p := range n.left.points {
				cur.deaths[p] = lambda
			}
			walk(n.right, clusterID)
		default:
			for _, p := range n.points {
				cur.deaths[p] = lambda
			}
		}
	}

	rootCluster := ensure(-1, 0, root.size)
	walk(root, rootCluster.id)

	return nodes
}

func (c *condensedNode) stability() float64 {
	var s float64
	for _, lambda := range c.deaths {
		if math.IsInf(lambda, 1) {
			continue
		}
		s += lambda - c.birthLambda
	}
	return s
}

// selectClusters runs excess-of-mass selection over the condensed tree:
// bottom-up, a node is replaced by its children whenever the sum of
// their stabilities is at least its own, otherwise the node itself is
// selected and its descendants discarded.
func selectClusters(nodes []*condensedNode) []int {
	if len(nodes) == 0 {
		return nil
	}

	children := make(map[int][]int)
	var rootID int = -1
	for _, n := range nodes {
		if n.parentID == -1 {
			rootID = n.id
			continue
		}
		children[n.parentID] = append(children[n.parentID], n.id)
	}
	if rootID == -1 {
		return nil
	}

	byID := make(map[int]*condensedNode, len(nodes))
	for _, n := range nodes {
		byID[n.id] = n
	}

	var compute func(id int) (float64, []int)
	compute = func(id int) (float64, []int) {
		kids := children[id]
		if len(kids) == 0 {
			return byID[id].stability(), []int{id}
		}
		var childSum float64
		var childSelected []int
		for _, k := range kids {
			s, sel := compute(k)
			childSum += s
			childSelected = append(childSelected, sel...)
		}
		own := byID[id].stability()
		if childSum >= own {
			return childSum, childSelected
		}
		return own, []int{id}
	}

	_, selected := compute(rootID)
	return selected
}

// clusterStabilities returns each sorted selected cluster id's own
// stability value, in the same order labelPoints assigns ranks.
func clusterStabilities(nodes []*condensedNode, sortedSelected []int) []float64 {
	byID := make(map[int]*condensedNode, len(nodes))
	for _, n := range nodes {
		byID[n.id] = n
	}
	out := make([]float64, len(sortedSelected))
	for i, id := range sortedSelected {
		out[i] = byID[id].stability()
	}
	return out
}
