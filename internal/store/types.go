// Package store persists chunks, causal edges, clusters, and vectors in
// an embedded SQLite database (component B), and provides the keyword
// (component E) and vector (component D) search indexes built on top of
// it.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/ecmem/engine/internal/vclock"
)

// ContentType classifies a chunk's structural origin within a turn.
type ContentType string

const (
	ContentTypeUser      ContentType = "user"
	ContentTypeAssistant ContentType = "assistant"
	ContentTypeTool      ContentType = "tool_call"
	ContentTypeResult    ContentType = "tool_result"
	ContentTypeThinking  ContentType = "thinking"
)

// EdgeType enumerates the causal reference kinds a directed edge between
// two chunks can carry (component C).
type EdgeType string

const (
	EdgeTypeAdjacency     EdgeType = "adjacency"
	EdgeTypeCrossSession  EdgeType = "cross_session"
	EdgeTypeBrief         EdgeType = "brief"
	EdgeTypeDebrief       EdgeType = "debrief"
	EdgeTypeSharedEntity  EdgeType = "shared_entity"
	EdgeTypeBackReference EdgeType = "back_reference"
	EdgeTypeErrorFragment EdgeType = "error_fragment"
	EdgeTypeToolOutput    EdgeType = "tool_output"
)

// State keys used by the dimension-compatibility and checkpoint
// subsystems.
const (
	StateKeyIndexDimension = "index_embedding_dimension"
	StateKeyIndexModel     = "index_embedding_model"
)

// Project is a top-level namespace for chunks, edges, and clusters.
// Every ingest, search, and recluster operation is scoped to one.
type Project struct {
	ID        string
	Slug      string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Chunk is the retrievable unit produced by ingestion: one or more
// merged turns from a session transcript (component M).
type Chunk struct {
	ID          string
	ProjectID   string
	SessionID   string
	AgentID     string
	TurnStart   int
	TurnEnd     int
	SpawnDepth  int
	ContentType ContentType
	Content     string
	TokenCount  int
	VectorClock vclock.Clock
	CreatedAt   time.Time
	OrphanedAt  *time.Time
}

// Edge is a directed, typed, weighted causal reference between two
// chunks (component C). Uniqueness is on (source, target, edge_type);
// re-asserting an edge increments LinkCount instead of duplicating the
// row.
type Edge struct {
	SourceChunkID string
	TargetChunkID string
	EdgeType      EdgeType
	Weight        float64
	LinkCount     int
	VectorClock   vclock.Clock
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Cluster is a density-based group of chunks produced by HDBSCAN
// (component H/I).
type Cluster struct {
	ID          string
	ProjectID   string
	Centroid    []float32
	ExemplarIDs []string
	Stability   float64
	MemberHash  string
	Name        string
	Description string
	CreatedAt   time.Time
	RefreshedAt *time.Time
}

// ClusterAssignment attaches a chunk to a cluster with the membership
// probability and GLOSH outlier score HDBSCAN produced for it.
type ClusterAssignment struct {
	ClusterID    string
	ChunkID      string
	Probability  float64
	OutlierScore float64
}

// IndexCheckpoint is the resumable-ingestion state for one project.
type IndexCheckpoint struct {
	ProjectID     string
	Stage         string // "reading", "chunking", "embedding", "linking", "complete"
	Total         int
	EmbeddedCount int
	EmbedderModel string
	UpdatedAt     time.Time
}

// IndexInfo reports the persisted index's embedding configuration next
// to the currently configured embedder, for the `core.Info()` / `ecmem
// index info` supplemented feature.
type IndexInfo struct {
	Location          string
	SessionCount      int
	ChunkCount        int
	EdgeCount         int
	ClusterCount      int
	IndexModel        string
	IndexDimensions   int
	CurrentModel      string
	CurrentDimensions int
	Compatible        bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// PruneProgress is the observable state of the full-background pruner
// (component G).
type PruneProgress struct {
	Status         string // "idle", "running", "complete", "failed"
	EdgesScanned   int
	EdgesDeleted   int
	ChunksScanned  int
	ChunksOrphaned int
	StartedAt      *time.Time
	CompletedAt    *time.Time
	Error          string
}

// MetadataStore persists chunks, edges, clusters, vector clocks, and
// engine bookkeeping state in SQLite.
type MetadataStore interface {
	// Projects
	SaveProject(ctx context.Context, p *Project) error
	GetProjectBySlug(ctx context.Context, slug string) (*Project, error)
	GetProjectClock(ctx context.Context, projectID string) (vclock.Clock, error)
	SaveProjectClock(ctx context.Context, projectID string, c vclock.Clock) error

	// Chunks
	SaveChunks(ctx context.Context, chunks []*Chunk) error
	GetChunk(ctx context.Context, id string) (*Chunk, error)
	GetChunks(ctx context.Context, ids []string) ([]*Chunk, error)
	GetChunksBySession(ctx context.Context, sessionID string) ([]*Chunk, error)
	DeleteChunks(ctx context.Context, ids []string) error
	AllChunkIDs(ctx context.Context, projectID string) ([]string, error)
	MarkChunkOrphaned(ctx context.Context, id string, at time.Time) error
	UnmarkChunkOrphaned(ctx context.Context, id string) error
	OrphanedChunksOlderThan(ctx context.Context, cutoff time.Time) ([]string, error)
	HasRemainingEdges(ctx context.Context, chunkID string) (bool, error)

	// Edges
	UpsertEdge(ctx context.Context, e *Edge) error
	GetEdgesFrom(ctx context.Context, chunkID string) ([]*Edge, error)
	GetEdgesTo(ctx context.Context, chunkID string) ([]*Edge, error)
	UpdateEdgeWeight(ctx context.Context, source, target string, edgeType EdgeType, weight float64) error
	DeleteEdge(ctx context.Context, source, target string, edgeType EdgeType) error
	AllEdges(ctx context.Context, projectID string) ([]*Edge, error)

	// Clusters
	SaveCluster(ctx context.Context, c *Cluster) error
	ReplaceClusterAssignments(ctx context.Context, clusterID string, assignments []*ClusterAssignment) error
	GetClustersForProject(ctx context.Context, projectID string) ([]*Cluster, error)
	GetClusterAssignments(ctx context.Context, clusterID string) ([]*ClusterAssignment, error)
	GetClustersForChunk(ctx context.Context, chunkID string) ([]*ClusterAssignment, error)
	DeleteClustersForProject(ctx context.Context, projectID string) error
	DeleteCluster(ctx context.Context, id string) error
	UpsertClusterMetadata(ctx context.Context, clusterID, name, description string, at time.Time) error

	// Vectors
	SaveVectors(ctx context.Context, chunkIDs []string, vectors [][]float32, model string) error
	GetVector(ctx context.Context, chunkID string) ([]float32, error)
	GetAllVectors(ctx context.Context, projectID string) (map[string][]float32, error)
	DeleteVectors(ctx context.Context, chunkIDs []string) error

	// Embedding cache (persistent layer backing the in-process LRU)
	GetCachedEmbedding(ctx context.Context, contentHash, modelID string) ([]float32, error)
	SaveCachedEmbedding(ctx context.Context, contentHash, modelID string, vector []float32) error

	// State
	GetState(ctx context.Context, key string) (string, error)
	SetState(ctx context.Context, key, value string) error

	// Checkpoints
	SaveIndexCheckpoint(ctx context.Context, cp *IndexCheckpoint) error
	LoadIndexCheckpoint(ctx context.Context, projectID string) (*IndexCheckpoint, error)
	ClearIndexCheckpoint(ctx context.Context, projectID string) error

	// Prune progress
	SavePruneProgress(ctx context.Context, p *PruneProgress) error
	LoadPruneProgress(ctx context.Context) (*PruneProgress, error)

	// Info
	Info(ctx context.Context, projectID string) (*IndexInfo, error)

	Close() error
}

// Document is a unit indexed by the keyword index.
type Document struct {
	ID      string
	Content string
}

// KeywordResult is a single BM25-scored hit.
type KeywordResult struct {
	ChunkID string
	Score   float64
}

// KeywordIndex provides BM25-ranked full-text search over chunk content
// (component E).
type KeywordIndex interface {
	Index(ctx context.Context, docs []*Document) error
	Search(ctx context.Context, query string, limit int) ([]*KeywordResult, error)
	Delete(ctx context.Context, ids []string) error
	Close() error
}

// VectorHit is a single nearest-neighbor result from VectorStore.Search.
type VectorHit struct {
	ChunkID  string
	Distance float32
	Score    float32
}

// VectorStore performs brute-force nearest-neighbor search over every
// stored embedding (component D). This is intentionally not an
// approximate index: correctness over a bounded-size episodic memory
// matters more than sublinear search, and the optional approximate
// backend lives in internal/hdbscan, scoped to core-distance computation
// only.
type VectorStore interface {
	Search(ctx context.Context, query []float32, k int) ([]*VectorHit, error)
}

// ErrDimensionMismatch indicates the configured embedder's dimension no
// longer matches the dimension recorded at index-build time.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: index built with %d-dimensional vectors, embedder reports %d", e.Expected, e.Got)
}
