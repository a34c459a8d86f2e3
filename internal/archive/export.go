package archive

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ecmem/engine/internal/codec"
	"github.com/ecmem/engine/internal/store"
)

// Export packs a project's chunks, edges, clusters, and cluster
// assignments (and, if requested, vectors) into a single archive and
// returns the archive bytes.
func Export(ctx context.Context, meta store.MetadataStore, project *store.Project, opts ExportOptions) ([]byte, error) {
	chunkIDs, err := meta.AllChunkIDs(ctx, project.ID)
	if err != nil {
		return nil, fmt.Errorf("archive: list chunks: %w", err)
	}
	chunks, err := meta.GetChunks(ctx, chunkIDs)
	if err != nil {
		return nil, fmt.Errorf("archive: load chunks: %w", err)
	}

	edges, err := meta.AllEdges(ctx, project.ID)
	if err != nil {
		return nil, fmt.Errorf("archive: load edges: %w", err)
	}

	clusters, err := meta.GetClustersForProject(ctx, project.ID)
	if err != nil {
		return nil, fmt.Errorf("archive: load clusters: %w", err)
	}

	var assignments []*store.ClusterAssignment
	for _, c := range clusters {
		a, err := meta.GetClusterAssignments(ctx, c.ID)
		if err != nil {
			return nil, fmt.Errorf("archive: load assignments for cluster %s: %w", c.ID, err)
		}
		assignments = append(assignments, a...)
	}

	var vectors []vectorRecord
	if opts.IncludeVectors {
		model := ""
		if info, err := meta.Info(ctx, project.ID); err == nil {
			model = info.IndexModel
		}
		for _, id := range chunkIDs {
			v, err := meta.GetVector(ctx, id)
			if err != nil {
				return nil, fmt.Errorf("archive: load vector for %s: %w", id, err)
			}
			if v == nil {
				continue
			}
			vectors = append(vectors, vectorRecord{ChunkID: id, Model: model, Vector: codec.VectorToBytes(v)})
		}
	}

	m := manifest{
		FormatVersion:   FormatVersion,
		ArchiveID:       uuid.NewString(),
		ProjectID:       project.ID,
		ProjectSlug:     project.Slug,
		CreatedAt:       time.Now().UTC(),
		IncludesVectors: opts.IncludeVectors,
		ChunkCount:      len(chunks),
		EdgeCount:       len(edges),
		ClusterCount:    len(clusters),
	}

	var tarBuf bytes.Buffer
	tw := tar.NewWriter(&tarBuf)

	if err := writeJSONEntry(tw, manifestEntry, m); err != nil {
		return nil, err
	}
	if err := writeJSONLEntry(tw, chunksEntry, len(chunks), func(i int) any { return toChunkRecord(chunks[i]) }); err != nil {
		return nil, err
	}
	if err := writeJSONLEntry(tw, edgesEntry, len(edges), func(i int) any { return toEdgeRecord(edges[i]) }); err != nil {
		return nil, err
	}
	if err := writeJSONLEntry(tw, clustersEntry, len(clusters), func(i int) any { return toClusterRecord(clusters[i]) }); err != nil {
		return nil, err
	}
	if err := writeJSONLEntry(tw, assignmentsEntry, len(assignments), func(i int) any { return toAssignmentRecord(assignments[i]) }); err != nil {
		return nil, err
	}
	if opts.IncludeVectors {
		if err := writeJSONLEntry(tw, vectorsEntry, len(vectors), func(i int) any { return vectors[i] }); err != nil {
			return nil, err
		}
	}

	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("archive: close tar: %w", err)
	}

	var out bytes.Buffer
	if err := writeContainer(&out, tarBuf.Bytes(), opts.Password); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func writeJSONEntry(tw *tar.Writer, name string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("archive: marshal %s: %w", name, err)
	}
	return writeTarFile(tw, name, b)
}

// writeJSONLEntry writes n newline-delimited JSON records produced by
// at(i) as one tar entry, without ever materializing the full jsonl
// text twice.
func writeJSONLEntry(tw *tar.Writer, name string, n int, at func(i int) any) error {
	var buf bytes.Buffer
	for i := 0; i < n; i++ {
		b, err := json.Marshal(at(i))
		if err != nil {
			return fmt.Errorf("archive: marshal %s record %d: %w", name, i, err)
		}
		buf.Write(b)
		buf.WriteByte('\n')
	}
	return writeTarFile(tw, name, buf.Bytes())
}

func writeTarFile(tw *tar.Writer, name string, content []byte) error {
	hdr := &tar.Header{
		Name: name,
		Mode: 0o644,
		Size: int64(len(content)),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("archive: tar header for %s: %w", name, err)
	}
	_, err := tw.Write(content)
	if err != nil {
		return fmt.Errorf("archive: tar write for %s: %w", name, err)
	}
	return nil
}

func toChunkRecord(c *store.Chunk) chunkRecord {
	return chunkRecord{
		ID: c.ID, ProjectID: c.ProjectID, SessionID: c.SessionID, AgentID: c.AgentID,
		TurnStart: c.TurnStart, TurnEnd: c.TurnEnd, SpawnDepth: c.SpawnDepth,
		ContentType: string(c.ContentType), Content: c.Content, TokenCount: c.TokenCount,
		VectorClock: c.VectorClock, CreatedAt: c.CreatedAt, OrphanedAt: c.OrphanedAt,
	}
}

func toEdgeRecord(e *store.Edge) edgeRecord {
	return edgeRecord{
		SourceChunkID: e.SourceChunkID, TargetChunkID: e.TargetChunkID, EdgeType: string(e.EdgeType),
		Weight: e.Weight, LinkCount: e.LinkCount, VectorClock: e.VectorClock,
		CreatedAt: e.CreatedAt, UpdatedAt: e.UpdatedAt,
	}
}

func toClusterRecord(c *store.Cluster) clusterRecord {
	return clusterRecord{
		ID: c.ID, ProjectID: c.ProjectID, Centroid: codec.VectorToBytes(c.Centroid),
		ExemplarIDs: c.ExemplarIDs, Stability: c.Stability, MemberHash: c.MemberHash,
		Name: c.Name, Description: c.Description, CreatedAt: c.CreatedAt, RefreshedAt: c.RefreshedAt,
	}
}

func toAssignmentRecord(a *store.ClusterAssignment) assignmentRecord {
	return assignmentRecord{
		ClusterID: a.ClusterID, ChunkID: a.ChunkID,
		Probability: a.Probability, OutlierScore: a.OutlierScore,
	}
}
