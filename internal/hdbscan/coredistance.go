package hdbscan

import (
	"runtime"
	"sync"
)

// computeCoreDistances returns, for each point, the distance to its
// k-th nearest neighbour (k = minSamples), counting the point itself as
// its own first neighbour: the value is the distance to the
// (minSamples-1)-th nearest other point, and 0 when minSamples is 1.
// When approx is non-nil it is used for the neighbour query instead of
// a brute-force scan over all points; otherwise work is optionally
// partitioned across a worker pool.
func computeCoreDistances(points [][]float32, minSamples int, metric Metric, parallel bool, workers int, approx *ApproxKNNIndex) []float64 {
	n := len(points)
	core := make([]float64, n)
	k := minSamples - 1
	if k < 1 {
		return core
	}

	if approx != nil {
		for i, p := range points {
			neighbors, err := approx.KNearest(p, k)
			if err != nil || len(neighbors) < k {
				core[i] = bruteForceCoreDistance(points, i, k, metric)
				continue
			}
			core[i] = float64(neighbors[k-1])
		}
		return core
	}

	if !parallel || n < 2*minSamples {
		for i := range points {
			core[i] = bruteForceCoreDistance(points, i, k, metric)
		}
		return core
	}

	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > n {
		workers = n
	}

	var wg sync.WaitGroup
	chunk := (n + workers - 1) / workers
	for w := 0; w < workers; w++ {
		start := w * chunk
		end := start + chunk
		if start >= n {
			break
		}
		if end > n {
			end = n
		}
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			for i := start; i < end; i++ {
				core[i] = bruteForceCoreDistance(points, i, k, metric)
			}
		}(start, end)
	}
	wg.Wait()
	return core
}

func bruteForceCoreDistance(points [][]float32, i, minSamples int, metric Metric) float64 {
	dists := make([]float64, 0, len(points)-1)
	for j, p := range points {
		if j == i {
			continue
		}
		dists = append(dists, distance(metric, points[i], p))
	}
	if len(dists) == 0 {
		return 0
	}
	return kthSmallest(dists, minSamples)
}
