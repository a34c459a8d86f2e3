package hdbscan

import (
	"fmt"
	"math"
	"sync"

	"github.com/coder/hnsw"
)

// ApproxKNNIndex is the optional approximate backend for core-distance
// computation (component H step 1). It trades exactness for speed on
// large point sets; the exact brute-force scan remains the default. Nothing outside this package uses it — the primary
// VectorStore.Search stays brute-force per the storage schema design.
type ApproxKNNIndex struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	metric string

	idMap  map[int]uint64
	keyMap map[uint64]int
}

// NewApproxKNNIndex builds an empty approximate index over the given
// metric ("cos" or "l2").
func NewApproxKNNIndex(metric string) *ApproxKNNIndex {
	graph := hnsw.NewGraph[uint64]()
	switch metric {
	case "l2":
		graph.Distance = hnsw.EuclideanDistance
	default:
		metric = "cos"
		graph.Distance = hnsw.CosineDistance
	}
	graph.Ml = 0.25

	return &ApproxKNNIndex{
		graph:  graph,
		metric: metric,
		idMap:  make(map[int]uint64),
		keyMap: make(map[uint64]int),
	}
}

// Build inserts every point, keyed by its index into points.
func (idx *ApproxKNNIndex) Build(points [][]float32) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	for i, v := range points {
		vec := make([]float32, len(v))
		copy(vec, v)
		if idx.metric == "cos" {
			normalizeVectorInPlace(vec)
		}
		key := uint64(i)
		idx.graph.Add(hnsw.MakeNode(key, vec))
		idx.idMap[i] = key
		idx.keyMap[key] = i
	}
	return nil
}

// KNearest returns the distances (in the index's metric) from points[i]
// to its k nearest neighbors, excluding itself, sorted ascending. Used
// to compute each point's core distance as the k-th value.
func (idx *ApproxKNNIndex) KNearest(query []float32, k int) ([]float32, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.graph.Len() == 0 {
		return nil, fmt.Errorf("hdbscan: approximate index is empty")
	}

	q := make([]float32, len(query))
	copy(q, query)
	if idx.metric == "cos" {
		normalizeVectorInPlace(q)
	}

	// Ask for k+1 since the query point itself, if present in the
	// index, will be its own nearest neighbor at distance 0.
	nodes := idx.graph.Search(q, k+1)

	dists := make([]float32, 0, len(nodes))
	for _, node := range nodes {
		d := idx.graph.Distance(q, node.Value)
		if d == 0 {
			continue
		}
		dists = append(dists, d)
	}
	if len(dists) > k {
		dists = dists[:k]
	}
	return dists, nil
}

func normalizeVectorInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}
