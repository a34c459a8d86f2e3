package hdbscan

import "github.com/ecmem/engine/internal/xerrors"

// Run clusters the given points end to end: core distances, mutual
// reachability MST, single-linkage dendrogram, condensed tree,
// excess-of-mass cluster selection, then labeling and exemplar
// extraction. Determinism is by construction — every tie-break in MST
// and dendrogram construction is total, so the only thing concurrency
// (via Options.Parallel) can affect is wall-clock time, never the
// resulting labels.
func Run(points [][]float32, opts Options) (*Result, error) {
	n := len(points)
	if n == 0 {
		return &Result{}, nil
	}

	minClusterSize := opts.MinClusterSize
	if minClusterSize < 1 {
		minClusterSize = 2
	}
	minSamples := opts.MinSamples
	if minSamples < 1 {
		minSamples = minClusterSize
	}
	if minSamples > n-1 {
		minSamples = n - 1
	}
	if minSamples < 1 {
		minSamples = 1
	}

	metric := opts.Metric
	if metric == "" {
		metric = Angular
	}

	var approx *ApproxKNNIndex
	if opts.ApproximateKNN && n > 1 {
		metricName := "cos"
		if metric == Euclidean {
			metricName = "l2"
		}
		approx = NewApproxKNNIndex(metricName)
		if err := approx.Build(points); err != nil {
			return nil, xerrors.New(xerrors.CodeClusterFailed, "failed to build approximate core-distance index", err)
		}
	}

	coreDist := computeCoreDistances(points, minSamples, metric, opts.Parallel, opts.Workers, approx)

	if n == 1 {
		return &Result{
			Labels:        []int{-1},
			NumClusters:   0,
			NoiseCount:    1,
			Probabilities: []float64{0},
			OutlierScores: []float64{1},
		}, nil
	}

	mst := mutualReachabilityMST(points, coreDist, metric)
	dendro := buildDendrogram(n, mst)
	if dendro == nil {
		return nil, xerrors.New(xerrors.CodeClusterFailed, "failed to build single-linkage dendrogram", nil)
	}

	condensed := condenseTree(dendro, minClusterSize)
	selected := selectClusters(condensed)

	labels, probabilities, outlierScores := labelPoints(n, condensed, selected)
	stabilities := clusterStabilities(condensed, selected)

	noise := 0
	for _, l := range labels {
		if l == -1 {
			noise++
		}
	}

	return &Result{
		Labels:        labels,
		NumClusters:   len(selected),
		NoiseCount:    noise,
		Probabilities: probabilities,
		OutlierScores: outlierScores,
		Exemplars:     exemplars(points, labels, len(selected)),
		Stabilities:   stabilities,
	}, nil
}
