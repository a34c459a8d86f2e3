// Package memory is the public façade for the episodic conversational
// memory engine: it wires storage, embedding, ingestion, retrieval,
// clustering, and pruning behind the six operations a host consumes —
// ingest, search, recall, predict, recluster, prune.
package memory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ecmem/engine/internal/archive"
	"github.com/ecmem/engine/internal/audit"
	"github.com/ecmem/engine/internal/chain"
	"github.com/ecmem/engine/internal/cluster"
	"github.com/ecmem/engine/internal/embed"
	"github.com/ecmem/engine/internal/ingest"
	"github.com/ecmem/engine/internal/pruner"
	"github.com/ecmem/engine/internal/search"
	"github.com/ecmem/engine/internal/secure"
	"github.com/ecmem/engine/internal/store"
	"github.com/ecmem/engine/internal/ui"
	"github.com/ecmem/engine/internal/watcher"
	"github.com/ecmem/engine/internal/xerrors"
)

// defaultKeyName is used when EncryptionOptions.KeyName is empty.
const defaultKeyName = "ecmem-db-key"

// EncryptionOptions turns on at-rest encryption of the persisted
// database file. SecretStore is required; Cipher defaults to
// secure.DefaultCipher and KeyName to defaultKeyName.
type EncryptionOptions struct {
	Cipher      secure.Cipher
	SecretStore secure.SecretStore
	KeyName     string
}

// Options configures a new Engine. DBPath and KeywordIndexPath are
// required; Embedder defaults to a static fallback when nil so an
// Engine is always usable without a configured model backend.
type Options struct {
	DBPath           string
	KeywordIndexPath string
	Provider         ingest.Provider
	Embedder         embed.Embedder
	SearchConfig     search.Config
	ClusterConfig    cluster.Config
	Encryption       *EncryptionOptions
}

// Engine is the process-wide handle a host process opens once and
// shares across ingests and queries. It owns the database file, the
// keyword index, and the embedder; all components below it borrow
// those handles rather than opening their own.
type Engine struct {
	store    *store.SQLiteStore
	keywords *store.BleveKeywordIndex
	embedder embed.Embedder
	audit    *audit.Logger

	orchestrator *ingest.Orchestrator
	searchCfg    search.Config
	clusterCfg   cluster.Config

	pruners map[string]*pruner.Pruner

	// Encryption-at-rest state; nil unless Options.Encryption was set.
	encMgr     *secure.Manager
	encKeyBuf  *secure.KeyBuffer
	encKeyName string
	dbPath     string
	kwPath     string
	sealedPath string
}

// Open constructs an Engine from Options, opening the database file and
// keyword index. Close must be called to release both.
func Open(ctx context.Context, opts Options) (*Engine, error) {
	if opts.DBPath == "" {
		return nil, xerrors.New(xerrors.CodeConfigInvalid, "memory: DBPath is required", nil)
	}
	if opts.KeywordIndexPath == "" {
		return nil, xerrors.New(xerrors.CodeConfigInvalid, "memory: KeywordIndexPath is required", nil)
	}

	var encMgr *secure.Manager
	var encKeyBuf *secure.KeyBuffer
	var encKeyName, sealedPath string

	if opts.Encryption != nil {
		if opts.Encryption.SecretStore == nil {
			return nil, xerrors.New(xerrors.CodeConfigInvalid, "memory: Encryption.SecretStore is required when Encryption is set", nil)
		}
		encKeyName = opts.Encryption.KeyName
		if encKeyName == "" {
			encKeyName = defaultKeyName
		}
		encMgr = secure.NewManager(opts.Encryption.Cipher, opts.Encryption.SecretStore)
		sealedPath = opts.DBPath + ".enc"

		buf, _, err := encMgr.EnsureKey(ctx, encKeyName)
		if err != nil {
			return nil, xerrors.New(xerrors.CodeKeyUnavailable, "memory: fetch database encryption key", err)
		}
		encKeyBuf = buf

		if _, statErr := os.Stat(sealedPath); statErr == nil {
			if err := secure.OpenFile(encMgr.Cipher(), encKeyBuf.Bytes(), sealedPath, opts.DBPath); err != nil {
				encKeyBuf.Close()
				return nil, xerrors.New(xerrors.CodeDecryptFailed, "memory: decrypt database file", err)
			}
		}
	}

	s, err := store.Open(ctx, opts.DBPath)
	if err != nil {
		if encKeyBuf != nil {
			encKeyBuf.Close()
		}
		return nil, err
	}

	kw, err := store.OpenBleveKeywordIndex(opts.KeywordIndexPath)
	if err != nil {
		s.Close()
		if encKeyBuf != nil {
			encKeyBuf.Close()
		}
		return nil, err
	}

	embedder := opts.Embedder
	if embedder == nil {
		embedder = embed.NewStaticEmbedder(embed.DefaultDimensions)
	}

	provider := opts.Provider
	if provider == nil {
		provider = ingest.NewJSONLProvider()
	}

	auditLogger := audit.New(s.DB())
	if err := auditLogger.Open(ctx, ""); err != nil {
		kw.Close()
		s.Close()
		if encKeyBuf != nil {
			encKeyBuf.Close()
		}
		return nil, err
	}
	if encKeyBuf != nil {
		auditLogger.KeyAccess(ctx, encKeyName)
	}

	return &Engine{
		store:        s,
		keywords:     kw,
		embedder:     embedder,
		audit:        auditLogger,
		orchestrator: ingest.NewOrchestrator(provider, s, kw, embedder),
		searchCfg:    opts.SearchConfig,
		clusterCfg:   opts.ClusterConfig,
		pruners:      make(map[string]*pruner.Pruner),
		encMgr:       encMgr,
		encKeyBuf:    encKeyBuf,
		encKeyName:   encKeyName,
		dbPath:       opts.DBPath,
		kwPath:       opts.KeywordIndexPath,
		sealedPath:   sealedPath,
	}, nil
}

// Close releases the database and keyword index handles. If encryption
// is configured, it reseals the plaintext database file and zeroes the
// key buffer after the store has released its file lock.
func (e *Engine) Close() error {
	e.audit.Close(context.Background())
	kwErr := e.keywords.Close()
	dbErr := e.store.Close()

	if e.encKeyBuf != nil {
		sealErr := secure.SealFile(e.encMgr.Cipher(), e.encKeyBuf.Bytes(), e.dbPath, e.sealedPath)
		e.encKeyBuf.Close()
		if dbErr == nil {
			dbErr = sealErr
		}
	}

	if dbErr != nil {
		return dbErr
	}
	return kwErr
}

// EnsureProject registers a project if it does not already exist. Hosts
// call this once per workspace before ingesting or querying it.
func (e *Engine) EnsureProject(ctx context.Context, p *store.Project) error {
	return e.store.SaveProject(ctx, p)
}

// SetProgressRenderer attaches a renderer that IngestSession reports
// parse/chunk/link/embed/persist progress to. Pass nil to disable.
func (e *Engine) SetProgressRenderer(r ui.Renderer) {
	e.orchestrator.SetRenderer(r)
}

// IngestSession parses, chunks, links, embeds, and persists one
// session transcript.
func (e *Engine) IngestSession(ctx context.Context, projectID, path string, opts ingest.Options) (*ingest.Result, error) {
	result, err := e.orchestrator.IngestSession(ctx, projectID, path, opts)
	if err != nil {
		e.audit.Failed(ctx, "ingest_session", err)
		return nil, err
	}
	return result, nil
}

// Watch blocks, ingesting every session file created or modified under
// root until ctx is cancelled. It does not ingest root's existing
// transcripts first; call IngestSession (or a directory walk of
// IngestSession calls) before Watch to pick those up. A modified
// transcript is re-ingested in full rather than incrementally, which is
// safe because chunk writes upsert by chunk id (derived from the session
// id and chunk index) and edge writes upsert by source, target and type.
func (e *Engine) Watch(ctx context.Context, root, projectID string, opts ingest.Options) error {
	sw, err := watcher.NewSessionWatcher(watcher.DefaultOptions(), e.orchestrator, projectID, opts)
	if err != nil {
		return fmt.Errorf("create session watcher: %w", err)
	}
	defer func() { _ = sw.Stop() }()
	return sw.Run(ctx, root)
}

// SearchRequest is the host-facing input to Search.
type SearchRequest struct {
	ProjectID        string
	Query            string
	AgentFilter      string
	CurrentSessionID string
	SkipClusters     bool
}

// Search runs the full hybrid assembler pipeline for one query.
func (e *Engine) Search(ctx context.Context, req SearchRequest) (*search.Response, error) {
	e.audit.Query(ctx, "search", req.ProjectID)
	vectors := store.NewBruteForceVectorStore(e.store, req.ProjectID)
	asm := search.NewAssembler(e.store, vectors, e.keywords, e.embedder, e.searchCfg)
	resp, err := asm.Assemble(ctx, search.Query{
		Text:             req.Query,
		Filter:           search.Filter{ProjectID: req.ProjectID, AgentID: req.AgentFilter},
		CurrentSessionID: req.CurrentSessionID,
		SkipClusters:     req.SkipClusters,
	})
	if err != nil {
		e.audit.Failed(ctx, "search", err)
		return nil, err
	}
	return resp, nil
}

// EpisodicRequest is the host-facing input to Recall and Predict.
type EpisodicRequest struct {
	ProjectID        string
	Query            string
	AgentFilter      string
	CurrentSessionID string
	TokenBudget      int
}

// EpisodicResponse is the host-facing output of Recall and Predict.
// Mode reports how the result was produced: "chain" when a chain of
// length >= 2 won best-chain selection, or "search-fallback" when no
// chain qualified and the assembler's result was returned directly.
type EpisodicResponse struct {
	Mode       string
	Narrative  string
	TokenCount int
	Chunks     []search.ResultChunk
	DurationMs int64
}

// Recall walks the causal graph backward from the assembler's seeds to
// reconstruct a chronological problem->solution narrative.
func (e *Engine) Recall(ctx context.Context, req EpisodicRequest) (*EpisodicResponse, error) {
	return e.walkEpisodic(ctx, req, chain.Backward)
}

// Predict walks the causal graph forward from the assembler's seeds to
// project the most likely continuation.
func (e *Engine) Predict(ctx context.Context, req EpisodicRequest) (*EpisodicResponse, error) {
	return e.walkEpisodic(ctx, req, chain.Forward)
}

func (e *Engine) walkEpisodic(ctx context.Context, req EpisodicRequest, direction chain.Direction) (*EpisodicResponse, error) {
	start := time.Now()
	operation := "recall"
	if direction == chain.Forward {
		operation = "predict"
	}
	e.audit.Query(ctx, operation, req.ProjectID)

	asmCfg := e.searchCfg
	if req.TokenBudget > 0 {
		asmCfg.TokenBudget = req.TokenBudget
	}
	vectors := store.NewBruteForceVectorStore(e.store, req.ProjectID)
	asm := search.NewAssembler(e.store, vectors, e.keywords, e.embedder, asmCfg)
	resp, err := asm.Assemble(ctx, search.Query{
		Text:             req.Query,
		Filter:           search.Filter{ProjectID: req.ProjectID, AgentID: req.AgentFilter},
		CurrentSessionID: req.CurrentSessionID,
	})
	if err != nil {
		e.audit.Failed(ctx, operation, err)
		return nil, err
	}

	if len(resp.SeedIDs) == 0 {
		return &EpisodicResponse{
			Mode:       "search-fallback",
			Narrative:  resp.Text,
			TokenCount: resp.TokenCount,
			Chunks:     resp.Chunks,
			DurationMs: time.Since(start).Milliseconds(),
		}, nil
	}

	tokenBudget := asmCfg.TokenBudget
	walks, err := chain.WalkChains(ctx, e.store, resp.SeedIDs, chain.Options{
		Direction:      direction,
		TokenBudget:    tokenBudget,
		QueryEmbedding: resp.QueryEmbedding,
		AgentFilter:    req.AgentFilter,
	})
	if err != nil {
		e.audit.Failed(ctx, operation, err)
		return nil, err
	}

	best, ok := chain.SelectBestChain(walks)
	if !ok {
		return &EpisodicResponse{
			Mode:       "search-fallback",
			Narrative:  resp.Text,
			TokenCount: resp.TokenCount,
			Chunks:     resp.Chunks,
			DurationMs: time.Since(start).Milliseconds(),
		}, nil
	}

	narrative := chain.FormatNarrative(best, direction)
	chunks := make([]search.ResultChunk, 0, len(best.Nodes))
	for _, n := range best.Nodes {
		chunks = append(chunks, search.ResultChunk{
			ChunkID:   n.ChunkID,
			SessionID: n.SessionID,
			AgentID:   n.AgentID,
			Content:   n.Content,
			CreatedAt: n.CreatedAt,
			Score:     n.Similarity,
			Source:    search.SourceGraph,
		})
	}

	return &EpisodicResponse{
		Mode:       "chain",
		Narrative:  narrative,
		TokenCount: estimateTokens(narrative),
		Chunks:     chunks,
		DurationMs: time.Since(start).Milliseconds(),
	}, nil
}

func estimateTokens(s string) int {
	return len(s) / 4
}

// Recluster reruns HDBSCAN clustering for one project.
func (e *Engine) Recluster(ctx context.Context, projectID string) (*cluster.Result, error) {
	mgr := cluster.New(e.store, projectID, e.clusterCfg)
	result, err := mgr.Recluster(ctx)
	if err != nil {
		e.audit.Failed(ctx, "recluster", err)
		return nil, err
	}
	return result, nil
}

// StartBackgroundPrune starts a decay/orphan scan for one project.
// Calling it again while a scan is already running for the same
// project returns the existing progress handle rather than starting a
// second one.
func (e *Engine) StartBackgroundPrune(ctx context.Context, projectID string) (*store.PruneProgress, error) {
	p := e.pruner(projectID)
	return p.StartBackgroundPrune(ctx)
}

func (e *Engine) pruner(projectID string) *pruner.Pruner {
	if p, ok := e.pruners[projectID]; ok {
		return p
	}
	p := pruner.New(e.store, projectID)
	e.pruners[projectID] = p
	return p
}

// Export packs one project's chunks, edges, clusters, and assignments
// (and, optionally, vectors) into an archive. The caller supplies the
// project record (as
// returned by EnsureProject or looked up by slug) since the metadata
// store only indexes projects by slug.
func (e *Engine) Export(ctx context.Context, proj *store.Project, opts archive.ExportOptions) ([]byte, error) {
	if proj == nil {
		return nil, fmt.Errorf("memory: project is required")
	}
	return archive.Export(ctx, e.store, proj, opts)
}

// ProjectBySlug looks up a project by its slug, for callers that only
// have the slug on hand (e.g. a CLI resolving a workspace path).
func (e *Engine) ProjectBySlug(ctx context.Context, slug string) (*store.Project, error) {
	return e.store.GetProjectBySlug(ctx, slug)
}

// Import restores an archive produced by Export into the engine's
// database.
func (e *Engine) Import(ctx context.Context, data []byte, opts archive.ImportOptions) (*archive.Result, error) {
	return archive.Import(ctx, e.store, data, opts)
}

// Info reports index statistics and embedder compatibility for one
// project.
func (e *Engine) Info(ctx context.Context, projectID string) (*store.IndexInfo, error) {
	return e.store.Info(ctx, projectID)
}

// Status reports memory store health for one project, for hosts that
// want a formatted dashboard rather than the raw counts Info returns.
func (e *Engine) Status(ctx context.Context, projectID, projectName string) (*ui.StatusInfo, error) {
	info, err := e.store.Info(ctx, projectID)
	if err != nil {
		return nil, err
	}

	metaSize := fileSize(e.dbPath)
	bm25Size := dirSize(e.kwPath)

	pruneStatus := "idle"
	if p, ok := e.pruners[projectID]; ok && p.IsRunning() {
		pruneStatus = "running"
	}

	embedderType, embedderStatus := embedderBackend(ctx, e.embedder)

	status := &ui.StatusInfo{
		ProjectName:    projectName,
		TotalSessions:  info.SessionCount,
		TotalChunks:    info.ChunkCount,
		LastIngested:   info.UpdatedAt,
		MetadataSize:   metaSize,
		BM25Size:       bm25Size,
		TotalSize:      metaSize + bm25Size,
		EmbedderType:   embedderType,
		EmbedderStatus: embedderStatus,
		EmbedderModel:  e.embedder.ModelName(),
		PruneStatus:    pruneStatus,
	}
	return status, nil
}

// embedderBackend names the embedder's backend and reports whether it
// is currently reachable, for the status dashboard.
func embedderBackend(ctx context.Context, e embed.Embedder) (kind, status string) {
	if cached, ok := e.(*embed.CachedEmbedder); ok {
		e = cached.Inner()
	}
	switch e.(type) {
	case *embed.OllamaEmbedder:
		kind = "ollama"
	case *embed.StaticEmbedder:
		kind = "static"
	default:
		kind = "unknown"
	}
	if e.Available(ctx) {
		status = "ready"
	} else {
		status = "offline"
	}
	return kind, status
}

func fileSize(path string) int64 {
	if path == "" {
		return 0
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

func dirSize(path string) int64 {
	if path == "" {
		return 0
	}
	var total int64
	_ = filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil || info == nil || info.IsDir() {
			return nil
		}
		total += info.Size()
		return nil
	})
	return total
}

// Chunk looks up a single chunk by id, for hosts resolving a
// chunk:// resource URI surfaced in an earlier search, recall, or
// predict response.
func (e *Engine) Chunk(ctx context.Context, chunkID string) (*store.Chunk, error) {
	return e.store.GetChunk(ctx, chunkID)
}
