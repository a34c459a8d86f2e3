package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"

	"github.com/ecmem/engine/internal/codec"
	"github.com/ecmem/engine/internal/vclock"
	"github.com/ecmem/engine/internal/xerrors"
)

// SQLiteStore implements MetadataStore over an embedded modernc.org/sqlite
// database. A gofrs/flock lock on dbPath+".lock" enforces that the file
// is opened by at most one process at a time (§5 Shared resources).
type SQLiteStore struct {
	db   *sql.DB
	lock *flock.Flock
}

// Open creates (if needed) and opens the database at path, applying
// migrations and taking the process-exclusive file lock.
func Open(ctx context.Context, path string) (*SQLiteStore, error) {
	lock := flock.New(path + ".lock")
	locked, err := lock.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil || !locked {
		return nil, xerrors.New(xerrors.CodeDBLocked, "memory database is already open in another process", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		lock.Unlock()
		return nil, xerrors.New(xerrors.CodeDBOpenFailed, "failed to open database", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		lock.Unlock()
		return nil, xerrors.New(xerrors.CodeDBOpenFailed, "failed to set WAL mode", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		lock.Unlock()
		return nil, xerrors.New(xerrors.CodeDBOpenFailed, "failed to enable foreign keys", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		lock.Unlock()
		return nil, xerrors.New(xerrors.CodeDBOpenFailed, "failed to apply schema migrations", err)
	}

	return &SQLiteStore{db: db, lock: lock}, nil
}

func (s *SQLiteStore) Close() error {
	err := s.db.Close()
	if unlockErr := s.lock.Unlock(); err == nil {
		err = unlockErr
	}
	return err
}

// DB exposes the underlying *sql.DB for components (keyword index
// hydration, diagnostics) that need direct read access.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

// --- Projects ---

func (s *SQLiteStore) SaveProject(ctx context.Context, p *Project) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (id, slug, name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, updated_at = excluded.updated_at
	`, p.ID, p.Slug, p.Name, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return xerrors.New(xerrors.CodeDBOpenFailed, "failed to save project", err)
	}
	return nil
}

func (s *SQLiteStore) GetProjectBySlug(ctx context.Context, slug string) (*Project, error) {
	p := &Project{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, slug, name, created_at, updated_at FROM projects WHERE slug = ?
	`, slug).Scan(&p.ID, &p.Slug, &p.Name, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, xerrors.New(xerrors.CodeDBOpenFailed, "failed to load project", err)
	}
	return p, nil
}

func (s *SQLiteStore) GetProjectClock(ctx context.Context, projectID string) (vclock.Clock, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT clock FROM project_clocks WHERE project_id = ?`, projectID).Scan(&raw)
	if err == sql.ErrNoRows {
		return vclock.New(), nil
	}
	if err != nil {
		return nil, xerrors.New(xerrors.CodeDBOpenFailed, "failed to load project clock", err)
	}
	return codec.JSONToVClock([]byte(raw))
}

func (s *SQLiteStore) SaveProjectClock(ctx context.Context, projectID string, c vclock.Clock) error {
	data, err := codec.VClockToJSON(c)
	if err != nil {
		return xerrors.New(xerrors.CodeEdgeUpsertFailed, "failed to encode project clock", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO project_clocks (project_id, clock) VALUES (?, ?)
		ON CONFLICT(project_id) DO UPDATE SET clock = excluded.clock
	`, projectID, string(data))
	if err != nil {
		return xerrors.New(xerrors.CodeDBOpenFailed, "failed to save project clock", err)
	}
	return nil
}

// --- Chunks ---

func (s *SQLiteStore) SaveChunks(ctx context.Context, chunks []*Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return xerrors.New(xerrors.CodeDBOpenFailed, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (id, project_id, session_id, agent_id, turn_start, turn_end,
			spawn_depth, content_type, content, token_count, vector_clock, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content = excluded.content, token_count = excluded.token_count,
			vector_clock = excluded.vector_clock
	`)
	if err != nil {
		return xerrors.New(xerrors.CodeChunkFailed, "failed to prepare chunk insert", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		vc, err := codec.VClockToJSON(c.VectorClock)
		if err != nil {
			return xerrors.New(xerrors.CodeChunkFailed, "failed to encode vector clock", err)
		}
		if _, err := stmt.ExecContext(ctx, c.ID, c.ProjectID, c.SessionID, c.AgentID,
			c.TurnStart, c.TurnEnd, c.SpawnDepth, string(c.ContentType), c.Content,
			c.TokenCount, string(vc), c.CreatedAt); err != nil {
			return xerrors.New(xerrors.CodeChunkFailed, fmt.Sprintf("failed to save chunk %s", c.ID), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return xerrors.New(xerrors.CodeChunkFailed, "failed to commit chunk batch", err)
	}
	return nil
}

const chunkSelectColumns = `id, project_id, session_id, agent_id, turn_start, turn_end,
	spawn_depth, content_type, content, token_count, vector_clock, created_at, orphaned_at`

func scanChunk(row interface{ Scan(...any) error }) (*Chunk, error) {
	c := &Chunk{}
	var contentType, vc string
	var orphanedAt sql.NullTime
	if err := row.Scan(&c.ID, &c.ProjectID, &c.SessionID, &c.AgentID, &c.TurnStart,
		&c.TurnEnd, &c.SpawnDepth, &contentType, &c.Content, &c.TokenCount, &vc, &c.CreatedAt, &orphanedAt); err != nil {
		return nil, err
	}
	c.ContentType = ContentType(contentType)
	clock, err := codec.JSONToVClock([]byte(vc))
	if err != nil {
		return nil, err
	}
	c.VectorClock = clock
	if orphanedAt.Valid {
		c.OrphanedAt = &orphanedAt.Time
	}
	return c, nil
}

func (s *SQLiteStore) GetChunk(ctx context.Context, id string) (*Chunk, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+chunkSelectColumns+" FROM chunks WHERE id = ?", id)
	c, err := scanChunk(row)
	if err == sql.ErrNoRows {
		return nil, xerrors.New(xerrors.CodeChunkNotFound, fmt.Sprintf("chunk %s not found", id), nil)
	}
	if err != nil {
		return nil, xerrors.New(xerrors.CodeChunkNotFound, "failed to load chunk", err)
	}
	return c, nil
}

func (s *SQLiteStore) GetChunks(ctx context.Context, ids []string) ([]*Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args := inClauseQuery("SELECT "+chunkSelectColumns+" FROM chunks WHERE id IN (%s)", ids)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.New(xerrors.CodeChunkNotFound, "failed to load chunks", err)
	}
	defer rows.Close()

	var out []*Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, xerrors.New(xerrors.CodeChunkNotFound, "failed to scan chunk", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetChunksBySession(ctx context.Context, sessionID string) ([]*Chunk, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+chunkSelectColumns+
		" FROM chunks WHERE session_id = ? ORDER BY turn_start ASC", sessionID)
	if err != nil {
		return nil, xerrors.New(xerrors.CodeChunkNotFound, "failed to load session chunks", err)
	}
	defer rows.Close()

	var out []*Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, xerrors.New(xerrors.CodeChunkNotFound, "failed to scan chunk", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteChunks(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	query, args := inClauseQuery("DELETE FROM chunks WHERE id IN (%s)", ids)
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return xerrors.New(xerrors.CodeChunkNotFound, "failed to delete chunks", err)
	}
	return nil
}

func (s *SQLiteStore) AllChunkIDs(ctx context.Context, projectID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id FROM chunks WHERE project_id = ?", projectID)
	if err != nil {
		return nil, xerrors.New(xerrors.CodeChunkNotFound, "failed to list chunk ids", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteStore) MarkChunkOrphaned(ctx context.Context, id string, at time.Time) error {
	if _, err := s.db.ExecContext(ctx, "UPDATE chunks SET orphaned_at = ? WHERE id = ? AND orphaned_at IS NULL", at, id); err != nil {
		return xerrors.New(xerrors.CodeChunkFailed, "failed to mark chunk orphaned", err)
	}
	return nil
}

func (s *SQLiteStore) UnmarkChunkOrphaned(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "UPDATE chunks SET orphaned_at = NULL WHERE id = ?", id); err != nil {
		return xerrors.New(xerrors.CodeChunkFailed, "failed to unmark orphaned chunk", err)
	}
	return nil
}

func (s *SQLiteStore) OrphanedChunksOlderThan(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id FROM chunks WHERE orphaned_at IS NOT NULL AND orphaned_at <= ?", cutoff)
	if err != nil {
		return nil, xerrors.New(xerrors.CodeChunkNotFound, "failed to list orphaned chunks", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteStore) HasRemainingEdges(ctx context.Context, chunkID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM edges WHERE source_chunk_id = ? OR target_chunk_id = ?
	`, chunkID, chunkID).Scan(&count)
	if err != nil {
		return false, xerrors.New(xerrors.CodeEdgeUpsertFailed, "failed to count remaining edges", err)
	}
	return count > 0, nil
}

// --- Edges ---

func (s *SQLiteStore) UpsertEdge(ctx context.Context, e *Edge) error {
	vc, err := codec.VClockToJSON(e.VectorClock)
	if err != nil {
		return xerrors.New(xerrors.CodeEdgeUpsertFailed, "failed to encode edge vector clock", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO edges (source_chunk_id, target_chunk_id, edge_type, weight, link_count, vector_clock, created_at, updated_at)
		VALUES (?, ?, ?, ?, 1, ?, ?, ?)
		ON CONFLICT(source_chunk_id, target_chunk_id, edge_type) DO UPDATE SET
			weight = excluded.weight,
			link_count = edges.link_count + 1,
			updated_at = excluded.updated_at
	`, e.SourceChunkID, e.TargetChunkID, string(e.EdgeType), e.Weight, string(vc), e.CreatedAt, e.UpdatedAt)
	if err != nil {
		return xerrors.New(xerrors.CodeEdgeUpsertFailed, "failed to upsert edge", err)
	}
	return nil
}

const edgeSelectColumns = "source_chunk_id, target_chunk_id, edge_type, weight, link_count, vector_clock, created_at, updated_at"

func scanEdge(row interface{ Scan(...any) error }) (*Edge, error) {
	e := &Edge{}
	var edgeType, vc string
	if err := row.Scan(&e.SourceChunkID, &e.TargetChunkID, &edgeType, &e.Weight, &e.LinkCount, &vc, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	e.EdgeType = EdgeType(edgeType)
	clock, err := codec.JSONToVClock([]byte(vc))
	if err != nil {
		return nil, err
	}
	e.VectorClock = clock
	return e, nil
}

func (s *SQLiteStore) GetEdgesFrom(ctx context.Context, chunkID string) ([]*Edge, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+edgeSelectColumns+" FROM edges WHERE source_chunk_id = ?", chunkID)
	if err != nil {
		return nil, xerrors.New(xerrors.CodeEdgeUpsertFailed, "failed to load outgoing edges", err)
	}
	defer rows.Close()
	return scanEdges(rows)
}

func (s *SQLiteStore) GetEdgesTo(ctx context.Context, chunkID string) ([]*Edge, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+edgeSelectColumns+" FROM edges WHERE target_chunk_id = ?", chunkID)
	if err != nil {
		return nil, xerrors.New(xerrors.CodeEdgeUpsertFailed, "failed to load incoming edges", err)
	}
	defer rows.Close()
	return scanEdges(rows)
}

func (s *SQLiteStore) AllEdges(ctx context.Context, projectID string) ([]*Edge, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+edgeSelectColumns+` FROM edges
		WHERE source_chunk_id IN (SELECT id FROM chunks WHERE project_id = ?)
	`, projectID)
	if err != nil {
		return nil, xerrors.New(xerrors.CodeEdgeUpsertFailed, "failed to load project edges", err)
	}
	defer rows.Close()
	return scanEdges(rows)
}

func scanEdges(rows *sql.Rows) ([]*Edge, error) {
	var out []*Edge
	for rows.Next() {
		e, err := scanEdge(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpdateEdgeWeight(ctx context.Context, source, target string, edgeType EdgeType, weight float64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE edges SET weight = ?, updated_at = ? WHERE source_chunk_id = ? AND target_chunk_id = ? AND edge_type = ?
	`, weight, time.Now().UTC(), source, target, string(edgeType))
	if err != nil {
		return xerrors.New(xerrors.CodeEdgeUpsertFailed, "failed to update edge weight", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteEdge(ctx context.Context, source, target string, edgeType EdgeType) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM edges WHERE source_chunk_id = ? AND target_chunk_id = ? AND edge_type = ?
	`, source, target, string(edgeType))
	if err != nil {
		return xerrors.New(xerrors.CodeEdgeUpsertFailed, "failed to delete edge", err)
	}
	return nil
}

// --- Clusters ---

func (s *SQLiteStore) SaveCluster(ctx context.Context, c *Cluster) error {
	exemplarJSON, err := json.Marshal(c.ExemplarIDs)
	if err != nil {
		return xerrors.New(xerrors.CodeClusterFailed, "failed to encode exemplar ids", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO clusters (id, project_id, centroid, exemplar_ids, stability, member_hash, name, description, created_at, refreshed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			centroid = excluded.centroid, exemplar_ids = excluded.exemplar_ids,
			stability = excluded.stability, member_hash = excluded.member_hash,
			name = CASE WHEN clusters.name = '' THEN excluded.name ELSE clusters.name END,
			description = CASE WHEN clusters.description = '' THEN excluded.description ELSE clusters.description END
	`, c.ID, c.ProjectID, codec.VectorToBytes(c.Centroid), string(exemplarJSON), c.Stability, c.MemberHash, c.Name, c.Description, c.CreatedAt, c.RefreshedAt)
	if err != nil {
		return xerrors.New(xerrors.CodeClusterFailed, "failed to save cluster", err)
	}
	return nil
}

// UpsertClusterMetadata applies an out-of-band name/description refresh
// (spec's LLM-naming collaborator) and stamps refreshed_at.
func (s *SQLiteStore) UpsertClusterMetadata(ctx context.Context, clusterID, name, description string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE clusters SET name = ?, description = ?, refreshed_at = ? WHERE id = ?
	`, name, description, at, clusterID)
	if err != nil {
		return xerrors.New(xerrors.CodeClusterFailed, "failed to refresh cluster metadata", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return xerrors.New(xerrors.CodeClusterFailed, "cluster not found", nil)
	}
	return nil
}

func (s *SQLiteStore) ReplaceClusterAssignments(ctx context.Context, clusterID string, assignments []*ClusterAssignment) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return xerrors.New(xerrors.CodeClusterFailed, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM cluster_assignments WHERE cluster_id = ?", clusterID); err != nil {
		return xerrors.New(xerrors.CodeClusterFailed, "failed to clear cluster assignments", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO cluster_assignments (cluster_id, chunk_id, probability, outlier_score) VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return xerrors.New(xerrors.CodeClusterFailed, "failed to prepare assignment insert", err)
	}
	defer stmt.Close()

	for _, a := range assignments {
		if _, err := stmt.ExecContext(ctx, clusterID, a.ChunkID, a.Probability, a.OutlierScore); err != nil {
			return xerrors.New(xerrors.CodeClusterFailed, "failed to save cluster assignment", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return xerrors.New(xerrors.CodeClusterFailed, "failed to commit cluster assignments", err)
	}
	return nil
}

func (s *SQLiteStore) GetClustersForProject(ctx context.Context, projectID string) ([]*Cluster, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, centroid, exemplar_ids, stability, member_hash, name, description, created_at, refreshed_at
		FROM clusters WHERE project_id = ?
	`, projectID)
	if err != nil {
		return nil, xerrors.New(xerrors.CodeClusterFailed, "failed to load clusters", err)
	}
	defer rows.Close()

	var out []*Cluster
	for rows.Next() {
		c := &Cluster{}
		var centroid []byte
		var exemplarJSON string
		var refreshedAt sql.NullTime
		if err := rows.Scan(&c.ID, &c.ProjectID, &centroid, &exemplarJSON, &c.Stability, &c.MemberHash, &c.Name, &c.Description, &c.CreatedAt, &refreshedAt); err != nil {
			return nil, err
		}
		vec, err := codec.BytesToVector(centroid)
		if err != nil {
			return nil, xerrors.New(xerrors.CodeClusterFailed, "failed to decode centroid", err)
		}
		c.Centroid = vec
		if err := json.Unmarshal([]byte(exemplarJSON), &c.ExemplarIDs); err != nil {
			return nil, xerrors.New(xerrors.CodeClusterFailed, "failed to decode exemplar ids", err)
		}
		if refreshedAt.Valid {
			t := refreshedAt.Time
			c.RefreshedAt = &t
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetClusterAssignments(ctx context.Context, clusterID string) ([]*ClusterAssignment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT cluster_id, chunk_id, probability, outlier_score FROM cluster_assignments WHERE cluster_id = ?
	`, clusterID)
	if err != nil {
		return nil, xerrors.New(xerrors.CodeClusterFailed, "failed to load cluster assignments", err)
	}
	defer rows.Close()
	return scanAssignments(rows)
}

func (s *SQLiteStore) GetClustersForChunk(ctx context.Context, chunkID string) ([]*ClusterAssignment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT cluster_id, chunk_id, probability, outlier_score FROM cluster_assignments WHERE chunk_id = ?
	`, chunkID)
	if err != nil {
		return nil, xerrors.New(xerrors.CodeClusterFailed, "failed to load chunk's clusters", err)
	}
	defer rows.Close()
	return scanAssignments(rows)
}

func scanAssignments(rows *sql.Rows) ([]*ClusterAssignment, error) {
	var out []*ClusterAssignment
	for rows.Next() {
		a := &ClusterAssignment{}
		if err := rows.Scan(&a.ClusterID, &a.ChunkID, &a.Probability, &a.OutlierScore); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteClustersForProject(ctx context.Context, projectID string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM clusters WHERE project_id = ?", projectID); err != nil {
		return xerrors.New(xerrors.CodeClusterFailed, "failed to delete clusters", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteCluster(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM clusters WHERE id = ?", id); err != nil {
		return xerrors.New(xerrors.CodeClusterFailed, "failed to delete cluster", err)
	}
	return nil
}

// --- Vectors ---

func (s *SQLiteStore) SaveVectors(ctx context.Context, chunkIDs []string, vectors [][]float32, model string) error {
	if len(chunkIDs) != len(vectors) {
		return xerrors.New(xerrors.CodeVectorInsert, "chunk id and vector count mismatch", nil)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return xerrors.New(xerrors.CodeVectorInsert, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO vectors (chunk_id, model, dimensions, vector) VALUES (?, ?, ?, ?)
		ON CONFLICT(chunk_id) DO UPDATE SET model = excluded.model, dimensions = excluded.dimensions, vector = excluded.vector
	`)
	if err != nil {
		return xerrors.New(xerrors.CodeVectorInsert, "failed to prepare vector insert", err)
	}
	defer stmt.Close()

	for i, id := range chunkIDs {
		if _, err := stmt.ExecContext(ctx, id, model, len(vectors[i]), codec.VectorToBytes(vectors[i])); err != nil {
			return xerrors.New(xerrors.CodeVectorInsert, fmt.Sprintf("failed to save vector for chunk %s", id), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return xerrors.New(xerrors.CodeVectorInsert, "failed to commit vector batch", err)
	}
	return nil
}

func (s *SQLiteStore) GetVector(ctx context.Context, chunkID string) ([]float32, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx, "SELECT vector FROM vectors WHERE chunk_id = ?", chunkID).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, xerrors.New(xerrors.CodeVectorInsert, "failed to load vector", err)
	}
	return codec.BytesToVector(blob)
}

func (s *SQLiteStore) GetAllVectors(ctx context.Context, projectID string) (map[string][]float32, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT v.chunk_id, v.vector FROM vectors v
		JOIN chunks c ON c.id = v.chunk_id
		WHERE c.project_id = ?
	`, projectID)
	if err != nil {
		return nil, xerrors.New(xerrors.CodeVectorInsert, "failed to load project vectors", err)
	}
	defer rows.Close()

	out := make(map[string][]float32)
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, err
		}
		vec, err := codec.BytesToVector(blob)
		if err != nil {
			return nil, xerrors.New(xerrors.CodeVectorInsert, "failed to decode vector", err)
		}
		out[id] = vec
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteVectors(ctx context.Context, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	query, args := inClauseQuery("DELETE FROM vectors WHERE chunk_id IN (%s)", chunkIDs)
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return xerrors.New(xerrors.CodeVectorInsert, "failed to delete vectors", err)
	}
	return nil
}

// --- Embedding cache ---

func (s *SQLiteStore) GetCachedEmbedding(ctx context.Context, contentHash, modelID string) ([]float32, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT vector FROM embedding_cache WHERE content_hash = ? AND model_id = ?
	`, contentHash, modelID).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, xerrors.New(xerrors.CodeEmbedFailed, "failed to load cached embedding", err)
	}
	go s.bumpCacheHit(contentHash, modelID)
	return codec.BytesToVector(blob)
}

func (s *SQLiteStore) bumpCacheHit(contentHash, modelID string) {
	_, _ = s.db.Exec(`UPDATE embedding_cache SET hit_count = hit_count + 1 WHERE content_hash = ? AND model_id = ?`, contentHash, modelID)
}

func (s *SQLiteStore) SaveCachedEmbedding(ctx context.Context, contentHash, modelID string, vector []float32) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO embedding_cache (content_hash, model_id, vector, created_at, hit_count)
		VALUES (?, ?, ?, ?, 0)
		ON CONFLICT(content_hash, model_id) DO NOTHING
	`, contentHash, modelID, codec.VectorToBytes(vector), time.Now().UTC())
	if err != nil {
		return xerrors.New(xerrors.CodeEmbedFailed, "failed to save cached embedding", err)
	}
	return nil
}

// --- State ---

func (s *SQLiteStore) GetState(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM state WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", xerrors.New(xerrors.CodeDBOpenFailed, "failed to load state", err)
	}
	return value, nil
}

func (s *SQLiteStore) SetState(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return xerrors.New(xerrors.CodeDBOpenFailed, "failed to save state", err)
	}
	return nil
}

// --- Checkpoints ---

func (s *SQLiteStore) SaveIndexCheckpoint(ctx context.Context, cp *IndexCheckpoint) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO index_checkpoints (project_id, stage, total, embedded_count, embedder_model, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_id) DO UPDATE SET
			stage = excluded.stage, total = excluded.total,
			embedded_count = excluded.embedded_count, embedder_model = excluded.embedder_model,
			updated_at = excluded.updated_at
	`, cp.ProjectID, cp.Stage, cp.Total, cp.EmbeddedCount, cp.EmbedderModel, cp.UpdatedAt)
	if err != nil {
		return xerrors.New(xerrors.CodeChunkFailed, "failed to save checkpoint", err)
	}
	return nil
}

func (s *SQLiteStore) LoadIndexCheckpoint(ctx context.Context, projectID string) (*IndexCheckpoint, error) {
	cp := &IndexCheckpoint{ProjectID: projectID}
	err := s.db.QueryRowContext(ctx, `
		SELECT stage, total, embedded_count, embedder_model, updated_at
		FROM index_checkpoints WHERE project_id = ?
	`, projectID).Scan(&cp.Stage, &cp.Total, &cp.EmbeddedCount, &cp.EmbedderModel, &cp.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, xerrors.New(xerrors.CodeChunkFailed, "failed to load checkpoint", err)
	}
	return cp, nil
}

func (s *SQLiteStore) ClearIndexCheckpoint(ctx context.Context, projectID string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM index_checkpoints WHERE project_id = ?", projectID); err != nil {
		return xerrors.New(xerrors.CodeChunkFailed, "failed to clear checkpoint", err)
	}
	return nil
}

// --- Prune progress ---

func (s *SQLiteStore) SavePruneProgress(ctx context.Context, p *PruneProgress) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO prune_progress (id, status, edges_scanned, edges_deleted, chunks_scanned, chunks_orphaned, started_at, completed_at, error)
		VALUES ('singleton', ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status, edges_scanned = excluded.edges_scanned,
			edges_deleted = excluded.edges_deleted, chunks_scanned = excluded.chunks_scanned,
			chunks_orphaned = excluded.chunks_orphaned, started_at = excluded.started_at,
			completed_at = excluded.completed_at, error = excluded.error
	`, p.Status, p.EdgesScanned, p.EdgesDeleted, p.ChunksScanned, p.ChunksOrphaned, p.StartedAt, p.CompletedAt, p.Error)
	if err != nil {
		return xerrors.New(xerrors.CodeDBOpenFailed, "failed to save prune progress", err)
	}
	return nil
}

func (s *SQLiteStore) LoadPruneProgress(ctx context.Context) (*PruneProgress, error) {
	p := &PruneProgress{}
	err := s.db.QueryRowContext(ctx, `
		SELECT status, edges_scanned, edges_deleted, chunks_scanned, chunks_orphaned, started_at, completed_at, error
		FROM prune_progress WHERE id = 'singleton'
	`).Scan(&p.Status, &p.EdgesScanned, &p.EdgesDeleted, &p.ChunksScanned, &p.ChunksOrphaned, &p.StartedAt, &p.CompletedAt, &p.Error)
	if err == sql.ErrNoRows {
		return &PruneProgress{Status: "idle"}, nil
	}
	if err != nil {
		return nil, xerrors.New(xerrors.CodeDBOpenFailed, "failed to load prune progress", err)
	}
	return p, nil
}

// --- Info ---

func (s *SQLiteStore) Info(ctx context.Context, projectID string) (*IndexInfo, error) {
	info := &IndexInfo{}

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks WHERE project_id = ?", projectID).Scan(&info.ChunkCount); err != nil {
		return nil, xerrors.New(xerrors.CodeDBOpenFailed, "failed to count chunks", err)
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(DISTINCT session_id) FROM chunks WHERE project_id = ?", projectID).Scan(&info.SessionCount); err != nil {
		return nil, xerrors.New(xerrors.CodeDBOpenFailed, "failed to count sessions", err)
	}
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM edges WHERE source_chunk_id IN (SELECT id FROM chunks WHERE project_id = ?)
	`, projectID).Scan(&info.EdgeCount); err != nil {
		return nil, xerrors.New(xerrors.CodeDBOpenFailed, "failed to count edges", err)
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM clusters WHERE project_id = ?", projectID).Scan(&info.ClusterCount); err != nil {
		return nil, xerrors.New(xerrors.CodeDBOpenFailed, "failed to count clusters", err)
	}

	model, _ := s.GetState(ctx, StateKeyIndexModel)
	info.IndexModel = model
	if dimStr, err := s.GetState(ctx, StateKeyIndexDimension); err == nil && dimStr != "" {
		var dims int
		if _, scanErr := fmt.Sscanf(dimStr, "%d", &dims); scanErr == nil {
			info.IndexDimensions = dims
		}
	}

	p, err := s.GetProjectBySlug(ctx, projectID)
	if err == nil && p != nil {
		info.CreatedAt = p.CreatedAt
		info.UpdatedAt = p.UpdatedAt
	}

	return info, nil
}

// inClauseQuery builds a query with a "?, ?, ..." placeholder list for an
// IN clause, returning the finished query and the flattened args.
func inClauseQuery(format string, ids []string) (string, []any) {
	placeholders := make([]byte, 0, len(ids)*2)
	args := make([]any, len(ids))
	for i, id := range ids {
		if i > 0 {
			placeholders = append(placeholders, ',', '?')
		} else {
			placeholders = append(placeholders, '?')
		}
		args[i] = id
	}
	return fmt.Sprintf(format, string(placeholders)), args
}
