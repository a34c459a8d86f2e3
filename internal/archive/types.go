// Package archive implements the export/import archive format: a tar
// stream of JSON-lines tables (chunks, edges, clusters, assignments,
// optionally vectors), gzip-compressed and optionally
// authenticated-encrypted with a scrypt-derived key.
package archive

import "time"

// FormatVersion is the archive container format version written to
// every manifest. Bump it whenever a table's record shape changes.
const FormatVersion = 1

const (
	manifestEntry    = "manifest.json"
	chunksEntry      = "chunks.jsonl"
	edgesEntry       = "edges.jsonl"
	clustersEntry    = "clusters.jsonl"
	assignmentsEntry = "assignments.jsonl"
	vectorsEntry     = "vectors.jsonl"
)

// manifest describes one archive's contents, written first in the tar
// stream so Import can validate compatibility before reading anything
// else.
type manifest struct {
	FormatVersion   int       `json:"format_version"`
	ArchiveID       string    `json:"archive_id"`
	ProjectID       string    `json:"project_id"`
	ProjectSlug     string    `json:"project_slug"`
	CreatedAt       time.Time `json:"created_at"`
	IncludesVectors bool      `json:"includes_vectors"`
	ChunkCount      int       `json:"chunk_count"`
	EdgeCount       int       `json:"edge_count"`
	ClusterCount    int       `json:"cluster_count"`
}

type chunkRecord struct {
	ID          string            `json:"id"`
	ProjectID   string            `json:"project_id"`
	SessionID   string            `json:"session_id"`
	AgentID     string            `json:"agent_id"`
	TurnStart   int               `json:"turn_start"`
	TurnEnd     int               `json:"turn_end"`
	SpawnDepth  int               `json:"spawn_depth"`
	ContentType string            `json:"content_type"`
	Content     string            `json:"content"`
	TokenCount  int                `json:"token_count"`
	VectorClock map[string]int64  `json:"vector_clock"`
	CreatedAt   time.Time         `json:"created_at"`
	OrphanedAt  *time.Time        `json:"orphaned_at,omitempty"`
}

type edgeRecord struct {
	SourceChunkID string           `json:"source_chunk_id"`
	TargetChunkID string           `json:"target_chunk_id"`
	EdgeType      string           `json:"edge_type"`
	Weight        float64          `json:"weight"`
	LinkCount     int              `json:"link_count"`
	VectorClock   map[string]int64 `json:"vector_clock"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

type clusterRecord struct {
	ID          string    `json:"id"`
	ProjectID   string    `json:"project_id"`
	Centroid    []byte    `json:"centroid"`
	ExemplarIDs []string  `json:"exemplar_ids"`
	Stability   float64   `json:"stability"`
	MemberHash  string    `json:"member_hash"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	RefreshedAt *time.Time `json:"refreshed_at,omitempty"`
}

type assignmentRecord struct {
	ClusterID    string  `json:"cluster_id"`
	ChunkID      string  `json:"chunk_id"`
	Probability  float64 `json:"probability"`
	OutlierScore float64 `json:"outlier_score"`
}

type vectorRecord struct {
	ChunkID string `json:"chunk_id"`
	Model   string `json:"model"`
	Vector  []byte `json:"vector"`
}

// ExportOptions configures Export.
type ExportOptions struct {
	// IncludeVectors packs each chunk's embedding into the archive.
	// Without it, a re-import must re-embed every chunk.
	IncludeVectors bool

	// Password, if set, authenticated-encrypts the archive with a
	// scrypt-derived key. Empty means the archive is plain
	// gzip-compressed tar with no encryption.
	Password string
}

// ImportOptions configures Import.
type ImportOptions struct {
	// Password must match the password Export was called with, if any.
	Password string
}

// Result reports what Import did.
type Result struct {
	ChunkCount      int
	EdgeCount       int
	ClusterCount    int
	AssignmentCount int
	VectorCount     int
}
