package hdbscan

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

// twoBlobs returns two well-separated 3-point groups (exactly
// MinClusterSize each), small enough that a 3-point dendrogram subtree
// can never produce a true two-sided split (a binary merge of 3 leaves
// is always 2+1) — the cluster assignment is therefore deterministic
// regardless of internal tie-break order, not just empirically stable.
func twoBlobs() [][]float32 {
	return [][]float32{
		{1, 0, 0},
		{0.999, 0.002, 0},
		{0.998, -0.002, 0.001},
		{0, 1, 0},
		{0.002, 0.999, 0},
		{-0.002, 0.998, 0.001},
	}
}

func TestRun_SeparatesTwoDenseBlobs(t *testing.T) {
	pts := twoBlobs()
	res, err := Run(pts, Options{MinClusterSize: 3, Metric: Angular})
	require.NoError(t, err)
	require.Equal(t, 2, res.NumClusters)

	firstLabel := res.Labels[0]
	for i := 0; i < 3; i++ {
		require.Equal(t, firstLabel, res.Labels[i])
	}
	secondLabel := res.Labels[3]
	require.NotEqual(t, firstLabel, secondLabel)
	for i := 3; i < 6; i++ {
		require.Equal(t, secondLabel, res.Labels[i])
	}
}

func TestRun_SingleOutlierIsNoise(t *testing.T) {
	pts := twoBlobs()
	pts = append(pts, []float32{0, 0, 1})

	res, err := Run(pts, Options{MinClusterSize: 3, Metric: Angular})
	require.NoError(t, err)
	require.Equal(t, -1, res.Labels[len(pts)-1])
	require.GreaterOrEqual(t, res.NoiseCount, 1)
}

func TestRun_EmptyInput(t *testing.T) {
	res, err := Run(nil, Options{MinClusterSize: 3})
	require.NoError(t, err)
	require.Equal(t, 0, res.NumClusters)
	require.Empty(t, res.Labels)
}

func TestRun_SinglePointIsNoise(t *testing.T) {
	res, err := Run([][]float32{{1, 0, 0}}, Options{MinClusterSize: 3})
	require.NoError(t, err)
	require.Equal(t, []int{-1}, res.Labels)
}

func TestRun_DeterministicAcrossRepeatedCalls(t *testing.T) {
	pts := twoBlobs()
	a, err := Run(pts, Options{MinClusterSize: 3, Metric: Angular})
	require.NoError(t, err)
	b, err := Run(pts, Options{MinClusterSize: 3, Metric: Angular})
	require.NoError(t, err)
	require.Equal(t, a.Labels, b.Labels)
	require.Equal(t, a.NumClusters, b.NumClusters)
}

func TestRun_ParallelMatchesSequentialLabels(t *testing.T) {
	pts := twoBlobs()
	seq, err := Run(pts, Options{MinClusterSize: 3, Metric: Angular, Parallel: false})
	require.NoError(t, err)
	par, err := Run(pts, Options{MinClusterSize: 3, Metric: Angular, Parallel: true, Workers: 4})
	require.NoError(t, err)
	require.Equal(t, seq.Labels, par.Labels)
}

func TestRun_ExemplarsWithinClusterMembers(t *testing.T) {
	pts := twoBlobs()
	res, err := Run(pts, Options{MinClusterSize: 3, Metric: Angular})
	require.NoError(t, err)
	require.Len(t, res.Exemplars, res.NumClusters)
	for c, members := range res.Exemplars {
		require.NotEmpty(t, members)
		for _, idx := range members {
			require.Equal(t, c, res.Labels[idx])
		}
	}
}

func TestRun_ProbabilitiesInUnitRange(t *testing.T) {
	pts := twoBlobs()
	res, err := Run(pts, Options{MinClusterSize: 3, Metric: Angular})
	require.NoError(t, err)
	for _, p := range res.Probabilities {
		require.GreaterOrEqual(t, p, 0.0)
		require.LessOrEqual(t, p, 1.0)
	}
	for _, s := range res.OutlierScores {
		require.GreaterOrEqual(t, s, 0.0)
		require.LessOrEqual(t, s, 1.0)
	}
}

func TestRun_StabilitiesArePositiveAndPerCluster(t *testing.T) {
	pts := twoBlobs()
	res, err := Run(pts, Options{MinClusterSize: 3, Metric: Angular})
	require.NoError(t, err)
	require.Len(t, res.Stabilities, res.NumClusters)
	for _, s := range res.Stabilities {
		require.Greater(t, s, 0.0)
	}
}

func TestKthSmallest_FindsCorrectOrderStatistic(t *testing.T) {
	nums := []float64{5, 1, 4, 2, 3}
	require.Equal(t, 1.0, kthSmallest(append([]float64{}, nums...), 1))
	require.Equal(t, 3.0, kthSmallest(append([]float64{}, nums...), 3))
	require.Equal(t, 5.0, kthSmallest(append([]float64{}, nums...), 5))
}

func TestUnionFind_UnionAndFind(t *testing.T) {
	uf := newUnionFind(5)
	require.True(t, uf.union(0, 1))
	require.True(t, uf.union(1, 2))
	require.False(t, uf.union(0, 2))
	require.Equal(t, uf.find(0), uf.find(2))
	require.NotEqual(t, uf.find(0), uf.find(3))
}

func TestAngularDistance_IdenticalVectorsAreZero(t *testing.T) {
	d := angularDistance([]float32{1, 0, 0}, []float32{1, 0, 0})
	require.InDelta(t, 0, d, 1e-9)
}

func TestAngularDistance_OrthogonalVectorsAreOne(t *testing.T) {
	d := angularDistance([]float32{1, 0, 0}, []float32{0, 1, 0})
	require.InDelta(t, 1, d, 1e-9)
}

func TestMutualReachabilityMST_ConnectsAllPoints(t *testing.T) {
	pts := twoBlobs()
	core := computeCoreDistances(pts, 3, Angular, false, 0, nil)
	mst := mutualReachabilityMST(pts, core, Angular)
	require.Len(t, mst, len(pts)-1)

	uf := newUnionFind(len(pts))
	for _, e := range mst {
		uf.union(e.From, e.To)
	}
	root := uf.find(0)
	for i := 1; i < len(pts); i++ {
		require.Equal(t, root, uf.find(i), "mst must span every point")
	}
}

func TestLambdaOf_ZeroHeightIsInfinite(t *testing.T) {
	require.True(t, math.IsInf(lambdaOf(0), 1))
	require.InDelta(t, 2.0, lambdaOf(0.5), 1e-9)
}
