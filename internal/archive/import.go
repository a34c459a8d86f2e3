package archive

import (
	"archive/tar"
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/ecmem/engine/internal/codec"
	"github.com/ecmem/engine/internal/store"
)

// Import unpacks an archive produced by Export and writes its chunks,
// edges, clusters, assignments, and (if present) vectors into meta
// under the archive's own project ID.
func Import(ctx context.Context, meta store.MetadataStore, data []byte, opts ImportOptions) (*Result, error) {
	tarBytes, err := readContainer(bytes.NewReader(data), opts.Password)
	if err != nil {
		return nil, err
	}

	entries, err := readTarEntries(tarBytes)
	if err != nil {
		return nil, err
	}

	var m manifest
	if b, ok := entries[manifestEntry]; ok {
		if err := json.Unmarshal(b, &m); err != nil {
			return nil, fmt.Errorf("archive: unmarshal manifest: %w", err)
		}
	} else {
		return nil, fmt.Errorf("archive: archive missing manifest")
	}
	if m.FormatVersion != FormatVersion {
		return nil, fmt.Errorf("archive: unsupported manifest format version %d", m.FormatVersion)
	}

	res := &Result{}

	if b, ok := entries[chunksEntry]; ok {
		var chunks []*store.Chunk
		err := forEachLine(b, func(line []byte) error {
			var rec chunkRecord
			if err := json.Unmarshal(line, &rec); err != nil {
				return err
			}
			chunks = append(chunks, fromChunkRecord(rec))
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("archive: parse chunks: %w", err)
		}
		if len(chunks) > 0 {
			if err := meta.SaveChunks(ctx, chunks); err != nil {
				return nil, fmt.Errorf("archive: save chunks: %w", err)
			}
		}
		res.ChunkCount = len(chunks)
	}

	if b, ok := entries[edgesEntry]; ok {
		count := 0
		err := forEachLine(b, func(line []byte) error {
			var rec edgeRecord
			if err := json.Unmarshal(line, &rec); err != nil {
				return err
			}
			count++
			return meta.UpsertEdge(ctx, fromEdgeRecord(rec))
		})
		if err != nil {
			return nil, fmt.Errorf("archive: restore edges: %w", err)
		}
		res.EdgeCount = count
	}

	if b, ok := entries[clustersEntry]; ok {
		count := 0
		err := forEachLine(b, func(line []byte) error {
			var rec clusterRecord
			if err := json.Unmarshal(line, &rec); err != nil {
				return err
			}
			count++
			return meta.SaveCluster(ctx, fromClusterRecord(rec))
		})
		if err != nil {
			return nil, fmt.Errorf("archive: restore clusters: %w", err)
		}
		res.ClusterCount = count
	}

	if b, ok := entries[assignmentsEntry]; ok {
		byCluster := make(map[string][]*store.ClusterAssignment)
		err := forEachLine(b, func(line []byte) error {
			var rec assignmentRecord
			if err := json.Unmarshal(line, &rec); err != nil {
				return err
			}
			byCluster[rec.ClusterID] = append(byCluster[rec.ClusterID], fromAssignmentRecord(rec))
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("archive: parse assignments: %w", err)
		}
		for clusterID, assignments := range byCluster {
			if err := meta.ReplaceClusterAssignments(ctx, clusterID, assignments); err != nil {
				return nil, fmt.Errorf("archive: restore assignments for cluster %s: %w", clusterID, err)
			}
			res.AssignmentCount += len(assignments)
		}
	}

	if b, ok := entries[vectorsEntry]; ok {
		var ids []string
		var vecs [][]float32
		model := ""
		err := forEachLine(b, func(line []byte) error {
			var rec vectorRecord
			if err := json.Unmarshal(line, &rec); err != nil {
				return err
			}
			vec, err := codec.BytesToVector(rec.Vector)
			if err != nil {
				return err
			}
			ids = append(ids, rec.ChunkID)
			vecs = append(vecs, vec)
			model = rec.Model
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("archive: parse vectors: %w", err)
		}
		if len(ids) > 0 {
			if err := meta.SaveVectors(ctx, ids, vecs, model); err != nil {
				return nil, fmt.Errorf("archive: restore vectors: %w", err)
			}
		}
		res.VectorCount = len(ids)
	}

	return res, nil
}

// readTarEntries reads every entry of a tar stream fully into memory,
// keyed by entry name. Archives are bounded by one project's chunk
// count, so this is not a concern for the sizes involved.
func readTarEntries(tarBytes []byte) (map[string][]byte, error) {
	entries := make(map[string][]byte)
	tr := tar.NewReader(bytes.NewReader(tarBytes))
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("archive: read tar entry: %w", err)
		}
		b, err := io.ReadAll(tr)
		if err != nil {
			return nil, fmt.Errorf("archive: read tar entry %s: %w", hdr.Name, err)
		}
		entries[hdr.Name] = b
	}
	return entries, nil
}

func forEachLine(b []byte, fn func(line []byte) error) error {
	scanner := bufio.NewScanner(bytes.NewReader(b))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		if err := fn(line); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func fromChunkRecord(rec chunkRecord) *store.Chunk {
	return &store.Chunk{
		ID: rec.ID, ProjectID: rec.ProjectID, SessionID: rec.SessionID, AgentID: rec.AgentID,
		TurnStart: rec.TurnStart, TurnEnd: rec.TurnEnd, SpawnDepth: rec.SpawnDepth,
		ContentType: store.ContentType(rec.ContentType), Content: rec.Content, TokenCount: rec.TokenCount,
		VectorClock: rec.VectorClock, CreatedAt: rec.CreatedAt, OrphanedAt: rec.OrphanedAt,
	}
}

func fromEdgeRecord(rec edgeRecord) *store.Edge {
	return &store.Edge{
		SourceChunkID: rec.SourceChunkID, TargetChunkID: rec.TargetChunkID, EdgeType: store.EdgeType(rec.EdgeType),
		Weight: rec.Weight, LinkCount: rec.LinkCount, VectorClock: rec.VectorClock,
		CreatedAt: rec.CreatedAt, UpdatedAt: rec.UpdatedAt,
	}
}

func fromClusterRecord(rec clusterRecord) *store.Cluster {
	centroid, _ := codec.BytesToVector(rec.Centroid)
	return &store.Cluster{
		ID: rec.ID, ProjectID: rec.ProjectID, Centroid: centroid,
		ExemplarIDs: rec.ExemplarIDs, Stability: rec.Stability, MemberHash: rec.MemberHash,
		Name: rec.Name, Description: rec.Description, CreatedAt: rec.CreatedAt, RefreshedAt: rec.RefreshedAt,
	}
}

func fromAssignmentRecord(rec assignmentRecord) *store.ClusterAssignment {
	return &store.ClusterAssignment{
		ClusterID: rec.ClusterID, ChunkID: rec.ChunkID,
		Probability: rec.Probability, OutlierScore: rec.OutlierScore,
	}
}
