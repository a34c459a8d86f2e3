// Package cluster runs HDBSCAN over a project's current vectors and
// persists the result as clusters and chunk assignments (component I).
package cluster

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/ecmem/engine/internal/codec"
	"github.com/ecmem/engine/internal/hdbscan"
	"github.com/ecmem/engine/internal/store"
	"github.com/ecmem/engine/internal/xerrors"
)

// Config tunes one project's clustering run.
type Config struct {
	MinClusterSize int
	Metric         hdbscan.Metric
	Parallel       bool
	ApproximateKNN bool
	// StaleAfter is how long a cluster can go without a metadata refresh
	// before StaleClusters reports it, independent of membership drift.
	StaleAfter time.Duration
}

// Result is recluster's return shape.
type Result struct {
	NumClusters     int
	AssignedChunks  int
	ReassignedNoise int
}

// Manager owns reclustering for one project.
type Manager struct {
	meta      store.MetadataStore
	projectID string
	cfg       Config
}

// New constructs a Manager. MinClusterSize defaults to 3 when unset.
func New(meta store.MetadataStore, projectID string, cfg Config) *Manager {
	if cfg.MinClusterSize < 1 {
		cfg.MinClusterSize = 3
	}
	if cfg.Metric == "" {
		cfg.Metric = hdbscan.Angular
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 7 * 24 * time.Hour
	}
	return &Manager{meta: meta, projectID: projectID, cfg: cfg}
}

// Recluster reads every vector for the project, runs HDBSCAN, and
// atomically upserts the resulting clusters and assignments. A cluster
// whose recomputed membership overlaps an unclaimed prior cluster by
// more than 0.5 Jaccard similarity keeps that cluster's id (and
// therefore its name/description); clusters with no match are assigned
// a new id; prior clusters with no surviving match are deleted.
func (m *Manager) Recluster(ctx context.Context) (*Result, error) {
	vectors, err := m.meta.GetAllVectors(ctx, m.projectID)
	if err != nil {
		return nil, xerrors.New(xerrors.CodeClusterFailed, "failed to load vectors for clustering", err)
	}
	if len(vectors) == 0 {
		if err := m.meta.DeleteClustersForProject(ctx, m.projectID); err != nil {
			return nil, err
		}
		return &Result{}, nil
	}

	chunkIDs := make([]string, 0, len(vectors))
	for id := range vectors {
		chunkIDs = append(chunkIDs, id)
	}
	sort.Strings(chunkIDs)

	points := make([][]float32, len(chunkIDs))
	for i, id := range chunkIDs {
		points[i] = vectors[id]
	}

	previouslyAssigned, err := m.previouslyAssignedChunks(ctx)
	if err != nil {
		return nil, err
	}

	res, err := hdbscan.Run(points, hdbscan.Options{
		MinClusterSize: m.cfg.MinClusterSize,
		Metric:         m.cfg.Metric,
		Parallel:       m.cfg.Parallel,
		ApproximateKNN: m.cfg.ApproximateKNN,
	})
	if err != nil {
		return nil, err
	}

	oldClusters, err := m.meta.GetClustersForProject(ctx, m.projectID)
	if err != nil {
		return nil, xerrors.New(xerrors.CodeClusterFailed, "failed to load prior clusters", err)
	}
	oldMembers := make(map[string]map[string]struct{}, len(oldClusters))
	for _, oc := range oldClusters {
		assignments, err := m.meta.GetClusterAssignments(ctx, oc.ID)
		if err != nil {
			return nil, xerrors.New(xerrors.CodeClusterFailed, "failed to load prior cluster assignments", err)
		}
		set := make(map[string]struct{}, len(assignments))
		for _, a := range assignments {
			set[a.ChunkID] = struct{}{}
		}
		oldMembers[oc.ID] = set
	}

	members := make([][]string, res.NumClusters)
	for i, label := range res.Labels {
		if label >= 0 {
			members[label] = append(members[label], chunkIDs[i])
		}
	}

	claimed := make(map[string]bool, len(oldClusters))
	assignedChunks := 0
	reassignedNoise := 0
	now := time.Now().UTC()

	for c := 0; c < res.NumClusters; c++ {
		clusterMembers := members[c]
		hash := codec.MembershipHash(clusterMembers)

		id := matchExistingCluster(clusterMembers, oldMembers, claimed)
		if id == "" {
			id = uuid.NewString()
		} else {
			claimed[id] = true
		}

		centroid := centroidOf(points, clusterMembers, chunkIDs)
		exemplarChunkIDs := make([]string, len(res.Exemplars[c]))
		for i, idx := range res.Exemplars[c] {
			exemplarChunkIDs[i] = chunkIDs[idx]
		}

		if err := m.meta.SaveCluster(ctx, &store.Cluster{
			ID:          id,
			ProjectID:   m.projectID,
			Centroid:    centroid,
			ExemplarIDs: exemplarChunkIDs,
			Stability:   res.Stabilities[c],
			MemberHash:  hash,
			CreatedAt:   now,
		}); err != nil {
			return nil, xerrors.New(xerrors.CodeClusterFailed, "failed to save cluster", err)
		}

		assignments := make([]*store.ClusterAssignment, len(clusterMembers))
		for i, chunkID := range clusterMembers {
			idx := indexOf(chunkIDs, chunkID)
			assignments[i] = &store.ClusterAssignment{
				ClusterID:    id,
				ChunkID:      chunkID,
				Probability:  res.Probabilities[idx],
				OutlierScore: res.OutlierScores[idx],
			}
			assignedChunks++
			if _, wasAssigned := previouslyAssigned[chunkID]; !wasAssigned {
				reassignedNoise++
			}
		}
		if err := m.meta.ReplaceClusterAssignments(ctx, id, assignments); err != nil {
			return nil, xerrors.New(xerrors.CodeClusterFailed, "failed to save cluster assignments", err)
		}
	}

	for _, oc := range oldClusters {
		if !claimed[oc.ID] {
			if err := m.meta.DeleteCluster(ctx, oc.ID); err != nil {
				return nil, xerrors.New(xerrors.CodeClusterFailed, "failed to delete stale cluster", err)
			}
		}
	}

	return &Result{
		NumClusters:     res.NumClusters,
		AssignedChunks:  assignedChunks,
		ReassignedNoise: reassignedNoise,
	}, nil
}

func (m *Manager) previouslyAssignedChunks(ctx context.Context) (map[string]struct{}, error) {
	clusters, err := m.meta.GetClustersForProject(ctx, m.projectID)
	if err != nil {
		return nil, xerrors.New(xerrors.CodeClusterFailed, "failed to load prior clusters", err)
	}
	set := make(map[string]struct{})
	for _, c := range clusters {
		assignments, err := m.meta.GetClusterAssignments(ctx, c.ID)
		if err != nil {
			return nil, xerrors.New(xerrors.CodeClusterFailed, "failed to load prior cluster assignments", err)
		}
		for _, a := range assignments {
			set[a.ChunkID] = struct{}{}
		}
	}
	return set, nil
}

// matchExistingCluster finds the unclaimed prior cluster whose member
// set overlaps the new one the most (Jaccard similarity), reusing its
// id when the overlap exceeds half the union — preserving any
// out-of-band name/description through minor membership drift.
func matchExistingCluster(newMembers []string, oldMembers map[string]map[string]struct{}, claimed map[string]bool) string {
	if len(newMembers) == 0 {
		return ""
	}
	newSet := make(map[string]struct{}, len(newMembers))
	for _, id := range newMembers {
		newSet[id] = struct{}{}
	}

	bestID := ""
	bestScore := 0.5
	for id, old := range oldMembers {
		if claimed[id] {
			continue
		}
		score := jaccard(newSet, old)
		if score > bestScore {
			bestScore = score
			bestID = id
		}
	}
	return bestID
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	intersection := 0
	for id := range a {
		if _, ok := b[id]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func centroidOf(points [][]float32, members []string, chunkIDs []string) []float32 {
	if len(members) == 0 {
		return nil
	}
	dim := len(points[0])
	sum := make([]float64, dim)
	for _, chunkID := range members {
		idx := indexOf(chunkIDs, chunkID)
		for d, v := range points[idx] {
			sum[d] += float64(v)
		}
	}
	centroid := make([]float32, dim)
	var normSq float64
	for d := range sum {
		centroid[d] = float32(sum[d] / float64(len(members)))
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

func indexOf(chunkIDs []string, id string) int {
	for i, c := range chunkIDs {
		if c == id {
			return i
		}
	}
	return -1
}

// StaleClusters returns clusters that have either never been refreshed,
// haven't been refreshed in maxAge, or whose recomputed membership hash
// no longer matches the stored one.
func (m *Manager) StaleClusters(ctx context.Context, maxAge time.Duration) ([]*store.Cluster, error) {
	if maxAge <= 0 {
		maxAge = m.cfg.StaleAfter
	}
	clusters, err := m.meta.GetClustersForProject(ctx, m.projectID)
	if err != nil {
		return nil, xerrors.New(xerrors.CodeClusterFailed, "failed to load clusters", err)
	}

	now := time.Now().UTC()
	var stale []*store.Cluster
	for _, c := range clusters {
		if c.RefreshedAt == nil || now.Sub(*c.RefreshedAt) > maxAge {
			stale = append(stale, c)
			continue
		}
		assignments, err := m.meta.GetClusterAssignments(ctx, c.ID)
		if err != nil {
			return nil, xerrors.New(xerrors.CodeClusterFailed, "failed to load cluster assignments", err)
		}
		ids := make([]string, len(assignments))
		for i, a := range assignments {
			ids[i] = a.ChunkID
		}
		if codec.MembershipHash(ids) != c.MemberHash {
			stale = append(stale, c)
		}
	}
	return stale, nil
}

// UpsertClusterName applies an externally-computed name/description
// (spec's LLM-naming collaborator) to a cluster, stamping refreshed_at.
func (m *Manager) UpsertClusterName(ctx context.Context, clusterID, name, description string) error {
	return m.meta.UpsertClusterMetadata(ctx, clusterID, name, description, time.Now().UTC())
}
