package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/ecmem/engine/internal/embed"
	"github.com/ecmem/engine/internal/store"
	"github.com/ecmem/engine/internal/ui"
	"github.com/ecmem/engine/internal/vclock"
	"github.com/ecmem/engine/internal/xerrors"
)

// EmbedBatchSize bounds how many chunk texts are embedded in one
// EmbedBatch call.
const EmbedBatchSize = 4

// Result reports what IngestSession did.
type Result struct {
	SessionID         string
	ChunkCount        int
	EdgeCount         int
	CrossSessionEdges int
	SubAgentEdges     int
	Skipped           bool
	DurationMs        int64
}

// Options configures one IngestSession call.
type Options struct {
	SkipIfExists    bool
	Chunking        ChunkOptions
	PrevSessionTail string // id of the prior session's last chunk, if known
}

// KeywordIndexer is the subset of store.KeywordIndex ingestion needs.
type KeywordIndexer interface {
	Index(ctx context.Context, docs []*store.Document) error
}

// Orchestrator wires a transcript provider, the metadata store, the
// keyword index, and an embedder into the ingest pipeline (component M).
type Orchestrator struct {
	provider Provider
	meta     store.MetadataStore
	keywords KeywordIndexer
	embedder embed.Embedder
	retry    xerrors.RetryConfig
	renderer ui.Renderer
}

func NewOrchestrator(provider Provider, meta store.MetadataStore, keywords KeywordIndexer, embedder embed.Embedder) *Orchestrator {
	return &Orchestrator{provider: provider, meta: meta, keywords: keywords, embedder: embedder, retry: xerrors.DefaultRetryConfig()}
}

// SetRenderer attaches a progress renderer. IngestSession reports each
// pipeline stage to it when set; nil (the default) disables reporting.
func (o *Orchestrator) SetRenderer(r ui.Renderer) {
	o.renderer = r
}

func (o *Orchestrator) report(stage ui.Stage, current, total int, message string) {
	if o.renderer == nil {
		return
	}
	o.renderer.UpdateProgress(ui.ProgressEvent{Stage: stage, Current: current, Total: total, Message: message})
}

// IngestSession runs the full ingest pipeline for one transcript: parse,
// chunk, detect edges, embed, and persist.
func (o *Orchestrator) IngestSession(ctx context.Context, projectID, path string, opts Options) (*Result, error) {
	start := time.Now()

	info, err := o.provider.GetSessionInfo(ctx, path)
	if err != nil {
		return nil, xerrors.New(xerrors.CodeSessionReadFailed, "failed to read session info", err)
	}

	if opts.SkipIfExists {
		existing, err := o.meta.GetChunksBySession(ctx, info.SessionID)
		if err != nil {
			return nil, xerrors.New(xerrors.CodeChunkFailed, "failed to probe existing session", err)
		}
		if len(existing) > 0 {
			return &Result{SessionID: info.SessionID, Skipped: true, DurationMs: time.Since(start).Milliseconds()}, nil
		}
	}

	// 1. Parse messages -> turns -> chunks.
	o.report(ui.StageParsing, 0, 0, info.SessionID)
	messages, err := o.provider.ReadMessages(ctx, path)
	if err != nil {
		return nil, xerrors.New(xerrors.CodeSessionReadFailed, "failed to read session messages", err)
	}
	turns, err := o.provider.AssembleTurns(ctx, messages)
	if err != nil {
		return nil, xerrors.New(xerrors.CodeParseFailed, "failed to assemble turns", err)
	}

	o.report(ui.StageChunking, 0, len(turns), "")
	drafts := ChunkTurns(turns, opts.Chunking)
	if len(drafts) == 0 {
		return &Result{SessionID: info.SessionID, DurationMs: time.Since(start).Milliseconds()}, nil
	}
	o.report(ui.StageChunking, len(turns), len(turns), "")

	// 5/6 (clock stamping happens per-chunk as we build them; the
	// project clock is advanced and persisted once at the end).
	projectClock, err := o.meta.GetProjectClock(ctx, projectID)
	if err != nil {
		return nil, xerrors.New(xerrors.CodeChunkFailed, "failed to load project clock", err)
	}

	chunks := make([]*store.Chunk, 0, len(drafts))
	now := time.Now().UTC()
	for i, d := range drafts {
		projectClock = projectClock.Tick(d.AgentID)
		chunks = append(chunks, &store.Chunk{
			ID:          chunkID(info.SessionID, i),
			ProjectID:   projectID,
			SessionID:   info.SessionID,
			AgentID:     d.AgentID,
			TurnStart:   d.TurnStart,
			TurnEnd:     d.TurnEnd,
			SpawnDepth:  d.SpawnDepth,
			ContentType: d.ContentType,
			Content:     d.Content,
			TokenCount:  estimateTokens(d.Content),
			VectorClock: projectClock.Clone(),
			CreatedAt:   now,
		})
	}

	// 2. Content-hash, batch-lookup the embedding cache, embed misses.
	vectors, err := o.embedChunks(ctx, chunks)
	if err != nil {
		return nil, err
	}

	// 4. Detect edges (adjacency, cross-session, brief, debrief).
	o.report(ui.StageLinking, 0, len(chunks), "")
	var prevTail *store.Chunk
	if opts.PrevSessionTail != "" {
		prevTail, err = o.meta.GetChunk(ctx, opts.PrevSessionTail)
		if err != nil {
			return nil, xerrors.New(xerrors.CodeEdgeDetectFailed, "failed to load prior session tail", err)
		}
	}
	edges := detectEdges(chunks, prevTail)
	stampEdgeClocks(edges, chunks)
	o.report(ui.StageLinking, len(chunks), len(chunks), "")

	// 3. Insert chunks, vectors, and keyword entries (ideally as one
	// transaction; the metadata store's SaveChunks/SaveVectors are each
	// atomic). Each write runs under xerrors.Retry's exponential backoff,
	// which retries any error it returns.
	o.report(ui.StagePersisting, 0, len(chunks), "")
	if err := xerrors.Retry(ctx, o.retry, func() error {
		return o.meta.SaveChunks(ctx, chunks)
	}); err != nil {
		return nil, xerrors.New(xerrors.CodeChunkFailed, "failed to save chunks", err)
	}

	chunkIDs := make([]string, len(chunks))
	for i, c := range chunks {
		chunkIDs[i] = c.ID
	}
	if err := xerrors.Retry(ctx, o.retry, func() error {
		return o.meta.SaveVectors(ctx, chunkIDs, vectors, o.embedder.ModelName())
	}); err != nil {
		return nil, xerrors.New(xerrors.CodeChunkFailed, "failed to save vectors", err)
	}

	docs := make([]*store.Document, len(chunks))
	for i, c := range chunks {
		docs[i] = &store.Document{ID: c.ID, Content: c.Content}
	}
	if err := xerrors.Retry(ctx, o.retry, func() error {
		return o.keywords.Index(ctx, docs)
	}); err != nil {
		return nil, xerrors.New(xerrors.CodeChunkFailed, "failed to index chunks for keyword search", err)
	}

	crossSession, subAgent := 0, 0
	for _, e := range edges {
		if err := xerrors.Retry(ctx, o.retry, func() error {
			return o.meta.UpsertEdge(ctx, e)
		}); err != nil {
			return nil, xerrors.New(xerrors.CodeEdgeUpsertFailed, "failed to upsert edge", err)
		}
		switch e.EdgeType {
		case store.EdgeTypeCrossSession:
			crossSession++
		case store.EdgeTypeBrief, store.EdgeTypeDebrief:
			subAgent++
		}
	}

	// 6. Advance and persist the project clock.
	if err := o.meta.SaveProjectClock(ctx, projectID, projectClock); err != nil {
		return nil, xerrors.New(xerrors.CodeChunkFailed, "failed to persist project clock", err)
	}

	o.report(ui.StagePersisting, len(chunks), len(chunks), "")
	duration := time.Since(start)
	if o.renderer != nil {
		o.renderer.Complete(ui.CompletionStats{
			Files:    1,
			Chunks:   len(chunks),
			Duration: duration,
			Embedder: ui.EmbedderInfo{Model: o.embedder.ModelName()},
		})
	}

	return &Result{
		SessionID: info.SessionID, ChunkCount: len(chunks), EdgeCount: len(edges),
		CrossSessionEdges: crossSession, SubAgentEdges: subAgent,
		DurationMs: duration.Milliseconds(),
	}, nil
}

// embedChunks hashes each chunk's text, checks the persistent embedding
// cache, true-batch-embeds the misses, and writes new embeddings back
// to the cache.
func (o *Orchestrator) embedChunks(ctx context.Context, chunks []*store.Chunk) ([][]float32, error) {
	model := o.embedder.ModelName()
	vectors := make([][]float32, len(chunks))
	hashes := make([]string, len(chunks))

	o.report(ui.StageEmbedding, 0, len(chunks), "")

	var missIdx []int
	var missTexts []string
	for i, c := range chunks {
		h := contentHash(c.Content)
		hashes[i] = h
		cached, err := o.meta.GetCachedEmbedding(ctx, h, model)
		if err != nil {
			return nil, xerrors.New(xerrors.CodeEmbedFailed, "failed to probe embedding cache", err)
		}
		if cached != nil {
			vectors[i] = cached
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, c.Content)
	}

	for start := 0; start < len(missTexts); start += EmbedBatchSize {
		end := start + EmbedBatchSize
		if end > len(missTexts) {
			end = len(missTexts)
		}
		batch := missTexts[start:end]

		var embedded [][]float32
		err := xerrors.Retry(ctx, o.retry, func() error {
			var embedErr error
			embedded, embedErr = o.embedder.EmbedBatch(ctx, batch)
			return embedErr
		})
		if err != nil {
			return nil, xerrors.New(xerrors.CodeEmbedFailed, "failed to embed chunk batch", err)
		}

		for j, vec := range embedded {
			idx := missIdx[start+j]
			vectors[idx] = vec
			if err := o.meta.SaveCachedEmbedding(ctx, hashes[idx], model, vec); err != nil {
				return nil, xerrors.New(xerrors.CodeEmbedFailed, "failed to write embedding cache entry", err)
			}
		}

		o.report(ui.StageEmbedding, end, len(missTexts), "")
	}

	return vectors, nil
}

func contentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

func chunkID(sessionID string, index int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", sessionID, index)))
	return hex.EncodeToString(sum[:])[:16]
}

// stampEdgeClocks stamps each edge's vector clock: an edge
// inherits its target chunk's vector clock (already ticked for the
// acting agent), merged with the source chunk's clock for debrief edges
// since a debrief is the point a sub-agent's clock rejoins its parent's.
func stampEdgeClocks(edges []*store.Edge, chunks []*store.Chunk) {
	byID := make(map[string]*store.Chunk, len(chunks))
	for _, c := range chunks {
		byID[c.ID] = c
	}
	for _, e := range edges {
		target := byID[e.TargetChunkID]
		if target == nil {
			continue
		}
		clock := target.VectorClock
		if e.EdgeType == store.EdgeTypeDebrief {
			if source := byID[e.SourceChunkID]; source != nil {
				clock = vclock.Merge(clock, source.VectorClock)
			}
		}
		e.VectorClock = clock
		e.CreatedAt = target.CreatedAt
		e.UpdatedAt = target.CreatedAt
	}
}
