package archive

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ecmem/engine/internal/store"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(context.Background(), filepath.Join(dir, "memory.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedProject(t *testing.T, s *store.SQLiteStore) *store.Project {
	t.Helper()
	ctx := context.Background()
	p := &store.Project{ID: "p1", Slug: "p1", Name: "p1"}
	require.NoError(t, s.SaveProject(ctx, p))

	now := time.Now().UTC()
	chunks := []*store.Chunk{
		{ID: "c1", ProjectID: "p1", SessionID: "s1", AgentID: "main", ContentType: store.ContentTypeUser, Content: "hello", CreatedAt: now},
		{ID: "c2", ProjectID: "p1", SessionID: "s1", AgentID: "main", ContentType: store.ContentTypeAssistant, Content: "hi there", CreatedAt: now},
	}
	require.NoError(t, s.SaveChunks(ctx, chunks))
	require.NoError(t, s.SaveVectors(ctx, []string{"c1", "c2"}, [][]float32{{0.1, 0.2}, {0.3, 0.4}}, "static"))
	require.NoError(t, s.UpsertEdge(ctx, &store.Edge{SourceChunkID: "c1", TargetChunkID: "c2", EdgeType: store.EdgeTypeAdjacency, Weight: 1.0, LinkCount: 1, CreatedAt: now, UpdatedAt: now}))
	require.NoError(t, s.SaveCluster(ctx, &store.Cluster{ID: "cl1", ProjectID: "p1", Centroid: []float32{0.2, 0.3}, Stability: 0.9, MemberHash: "h1", CreatedAt: now}))
	require.NoError(t, s.ReplaceClusterAssignments(ctx, "cl1", []*store.ClusterAssignment{
		{ClusterID: "cl1", ChunkID: "c1", Probability: 0.9, OutlierScore: 0.1},
		{ClusterID: "cl1", ChunkID: "c2", Probability: 0.8, OutlierScore: 0.2},
	}))
	return p
}

func TestExportImport_RoundTripsPlainWithVectors(t *testing.T) {
	ctx := context.Background()
	src := newTestStore(t)
	p := seedProject(t, src)

	data, err := Export(ctx, src, p, ExportOptions{IncludeVectors: true})
	require.NoError(t, err)
	require.NotEmpty(t, data)

	dst := newTestStore(t)
	res, err := Import(ctx, dst, data, ImportOptions{})
	require.NoError(t, err)
	require.Equal(t, 2, res.ChunkCount)
	require.Equal(t, 1, res.EdgeCount)
	require.Equal(t, 1, res.ClusterCount)
	require.Equal(t, 2, res.AssignmentCount)
	require.Equal(t, 2, res.VectorCount)

	c1, err := dst.GetChunk(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, "hello", c1.Content)

	vec, err := dst.GetVector(ctx, "c2")
	require.NoError(t, err)
	require.Equal(t, []float32{0.3, 0.4}, vec)

	assignments, err := dst.GetClusterAssignments(ctx, "cl1")
	require.NoError(t, err)
	require.Len(t, assignments, 2)
}

func TestExportImport_RoundTripsEncrypted(t *testing.T) {
	ctx := context.Background()
	src := newTestStore(t)
	p := seedProject(t, src)

	data, err := Export(ctx, src, p, ExportOptions{Password: "correct horse battery staple"})
	require.NoError(t, err)

	dst := newTestStore(t)
	res, err := Import(ctx, dst, data, ImportOptions{Password: "correct horse battery staple"})
	require.NoError(t, err)
	require.Equal(t, 2, res.ChunkCount)
	require.Equal(t, 0, res.VectorCount) // IncludeVectors wasn't set
}

func TestImport_WrongPasswordFails(t *testing.T) {
	ctx := context.Background()
	src := newTestStore(t)
	p := seedProject(t, src)

	data, err := Export(ctx, src, p, ExportOptions{Password: "correct horse battery staple"})
	require.NoError(t, err)

	dst := newTestStore(t)
	_, err = Import(ctx, dst, data, ImportOptions{Password: "wrong password"})
	require.Error(t, err)
}

func TestImport_RejectsNonArchiveData(t *testing.T) {
	ctx := context.Background()
	dst := newTestStore(t)
	_, err := Import(ctx, dst, []byte("not an archive"), ImportOptions{})
	require.Error(t, err)
}

func TestImport_EncryptedArchiveWithoutPasswordFails(t *testing.T) {
	ctx := context.Background()
	src := newTestStore(t)
	p := seedProject(t, src)

	data, err := Export(ctx, src, p, ExportOptions{Password: "a password"})
	require.NoError(t, err)

	dst := newTestStore(t)
	_, err = Import(ctx, dst, data, ImportOptions{})
	require.Error(t, err)
}
