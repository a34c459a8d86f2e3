package search

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ecmem/engine/internal/chunk"
	"github.com/ecmem/engine/internal/embed"
	"github.com/ecmem/engine/internal/store"
	"github.com/ecmem/engine/internal/xerrors"
)

// Config tunes the assembler pipeline. Zero values are replaced with
// NewAssembler's defaults.
type Config struct {
	VectorTopN     int
	KeywordTopM    int
	VectorWeight   float64
	KeywordWeight  float64
	RRFConstant    int
	MaxClusters    int
	MaxSiblings    int
	MMRLambda      float64
	TokenBudget    int
	DecayFactor    float64
	HalfLifeHours  float64
	SessionBoost   float64
	TruncateSlack  int // tokens of overrun tolerated before truncating (spec: 100)
}

func (c Config) withDefaults() Config {
	if c.VectorTopN <= 0 {
		c.VectorTopN = 20
	}
	if c.KeywordTopM <= 0 {
		c.KeywordTopM = 20
	}
	if c.VectorWeight <= 0 {
		c.VectorWeight = DefaultVectorWeight
	}
	if c.KeywordWeight <= 0 {
		c.KeywordWeight = DefaultKeywordWeight
	}
	if c.RRFConstant <= 0 {
		c.RRFConstant = DefaultRRFConstant
	}
	if c.MaxClusters <= 0 {
		c.MaxClusters = 3
	}
	if c.MaxSiblings <= 0 {
		c.MaxSiblings = 3
	}
	if c.MMRLambda <= 0 {
		c.MMRLambda = 0.7
	}
	if c.TokenBudget <= 0 {
		c.TokenBudget = 2000
	}
	if c.DecayFactor <= 0 {
		c.DecayFactor = 0.5
	}
	if c.HalfLifeHours <= 0 {
		c.HalfLifeHours = 72
	}
	if c.SessionBoost <= 0 {
		c.SessionBoost = 1.2
	}
	if c.TruncateSlack <= 0 {
		c.TruncateSlack = 100
	}
	return c
}

// Query describes one assembler invocation.
type Query struct {
	Text             string
	Filter           Filter
	CurrentSessionID string // boosted items belonging to this session
	SkipClusters     bool
}

// Assembler runs the full retrieval pipeline: embed, parallel
// vector+keyword search, RRF-fuse, cluster-expand, dedupe,
// recency-boost, MMR-reorder, and budget-bounded text assembly.
type Assembler struct {
	meta     store.MetadataStore
	vectors  store.VectorStore
	keywords store.KeywordIndex
	embedder embed.Embedder
	cfg      Config
}

// NewAssembler wires the four retrieval surfaces behind one project's
// view into a single Assembler.
func NewAssembler(meta store.MetadataStore, vectors store.VectorStore, keywords store.KeywordIndex, embedder embed.Embedder, cfg Config) *Assembler {
	return &Assembler{meta: meta, vectors: vectors, keywords: keywords, embedder: embedder, cfg: cfg.withDefaults()}
}

// Assemble runs the pipeline and returns the assembled response.
func (a *Assembler) Assemble(ctx context.Context, q Query) (*Response, error) {
	start := time.Now()

	// 1. Embed the query.
	queryEmbedding, err := a.embedder.Embed(ctx, q.Text)
	if err != nil {
		return nil, xerrors.New(xerrors.CodeNoEmbedder, "failed to embed query", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// 2. Vector + keyword search in parallel, both filtered.
	vecHits, kwHits, err := a.parallelSearch(ctx, q, queryEmbedding)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// 3. RRF-fuse, or fall back to whichever single list returned results.
	fused := a.fuse(vecHits, kwHits)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// 4. Cluster-expand unless skipped.
	if !q.SkipClusters {
		existing := make(map[string]bool, len(fused))
		for _, f := range fused {
			existing[f.ChunkID] = true
		}
		expanded, err := ExpandClusters(ctx, a.meta, fused, existing, q.Filter, a.cfg.MaxClusters, a.cfg.MaxSiblings)
		if err != nil {
			return nil, err
		}
		fused = append(fused, expanded...)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// 5. Dedupe (first occurrence wins, fused is already unique per id by
	// construction) and extract the top-5 seeds for chain walking.
	totalConsidered := len(fused)
	seedIDs := make([]string, 0, 5)
	for i := 0; i < len(fused) && i < 5; i++ {
		seedIDs = append(seedIDs, fused[i].ChunkID)
	}

	chunks, err := a.loadChunks(ctx, fused)
	if err != nil {
		return nil, err
	}

	// 6. Recency + session boost, then re-sort.
	now := time.Now().UTC()
	for i := range chunks {
		ageHours := now.Sub(chunks[i].CreatedAt).Hours()
		boost := 1 + a.cfg.DecayFactor*math.Exp(-ageHours*math.Ln2/a.cfg.HalfLifeHours)
		if q.CurrentSessionID != "" && chunks[i].SessionID == q.CurrentSessionID {
			boost *= a.cfg.SessionBoost
		}
		chunks[i].Score *= boost
	}
	sort.SliceStable(chunks, func(i, j int) bool { return chunks[i].Score > chunks[j].Score })
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// 7. MMR-reorder using the query embedding.
	chunks, err = a.mmrReorder(ctx, chunks, queryEmbedding)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// 8. Assemble text within the token budget.
	text, tokenCount := a.assembleText(chunks)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return &Response{
		Text:            text,
		TokenCount:      tokenCount,
		Chunks:          chunks,
		TotalConsidered: totalConsidered,
		DurationMs:      time.Since(start).Milliseconds(),
		QueryEmbedding:  queryEmbedding,
		SeedIDs:         seedIDs,
	}, nil
}

func (a *Assembler) parallelSearch(ctx context.Context, q Query, queryEmbedding []float32) ([]*store.VectorHit, []*store.KeywordResult, error) {
	var vecHits []*store.VectorHit
	var kwHits []*store.KeywordResult
	var vecErr, kwErr error

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hits, err := a.vectors.Search(gctx, queryEmbedding, a.cfg.VectorTopN)
		if err != nil {
			vecErr = err
			return nil
		}
		vecHits = a.filterVectorHits(gctx, hits, q.Filter)
		return nil
	})
	g.Go(func() error {
		hits, err := a.keywords.Search(gctx, q.Text, a.cfg.KeywordTopM)
		if err != nil {
			kwErr = err
			return nil
		}
		kwHits = a.filterKeywordHits(gctx, hits, q.Filter)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	if vecErr != nil && kwErr != nil {
		return nil, nil, xerrors.New(xerrors.CodeVectorSearchFailed, "both vector and keyword search failed", vecErr)
	}
	return vecHits, kwHits, nil
}

func (a *Assembler) filterVectorHits(ctx context.Context, hits []*store.VectorHit, filter Filter) []*store.VectorHit {
	if filter.ProjectID == "" && filter.AgentID == "" {
		return hits
	}
	out := make([]*store.VectorHit, 0, len(hits))
	for _, h := range hits {
		if a.chunkMatchesFilter(ctx, h.ChunkID, filter) {
			out = append(out, h)
		}
	}
	return out
}

func (a *Assembler) filterKeywordHits(ctx context.Context, hits []*store.KeywordResult, filter Filter) []*store.KeywordResult {
	if filter.ProjectID == "" && filter.AgentID == "" {
		return hits
	}
	out := make([]*store.KeywordResult, 0, len(hits))
	for _, h := range hits {
		if a.chunkMatchesFilter(ctx, h.ChunkID, filter) {
			out = append(out, h)
		}
	}
	return out
}

func (a *Assembler) chunkMatchesFilter(ctx context.Context, chunkID string, filter Filter) bool {
	c, err := a.meta.GetChunk(ctx, chunkID)
	if err != nil || c == nil {
		return false
	}
	if filter.ProjectID != "" && c.ProjectID != filter.ProjectID {
		return false
	}
	if filter.AgentID != "" && c.AgentID != filter.AgentID {
		return false
	}
	return true
}

// fuse RRF-fuses both lists, or returns whichever single list has
// results when the other is empty.
func (a *Assembler) fuse(vecHits []*store.VectorHit, kwHits []*store.KeywordResult) []FusedHit {
	vecList := RankedList{Source: SourceVector, Weight: a.cfg.VectorWeight}
	for _, h := range vecHits {
		vecList.Hits = append(vecList.Hits, Hit{ChunkID: h.ChunkID, Score: float64(h.Score)})
	}
	kwList := RankedList{Source: SourceKeyword, Weight: a.cfg.KeywordWeight}
	for _, h := range kwHits {
		kwList.Hits = append(kwList.Hits, Hit{ChunkID: h.ChunkID, Score: h.Score})
	}

	switch {
	case len(vecList.Hits) == 0 && len(kwList.Hits) == 0:
		return nil
	case len(vecList.Hits) == 0:
		return FuseRRF([]RankedList{kwList}, a.cfg.RRFConstant)
	case len(kwList.Hits) == 0:
		return FuseRRF([]RankedList{vecList}, a.cfg.RRFConstant)
	default:
		return FuseRRF([]RankedList{vecList, kwList}, a.cfg.RRFConstant)
	}
}

func (a *Assembler) loadChunks(ctx context.Context, fused []FusedHit) ([]ResultChunk, error) {
	if len(fused) == 0 {
		return nil, nil
	}
	ids := make([]string, len(fused))
	for i, f := range fused {
		ids[i] = f.ChunkID
	}
	stored, err := a.meta.GetChunks(ctx, ids)
	if err != nil {
		return nil, xerrors.New(xerrors.CodeContextAssembly, "failed to load chunks for assembly", err)
	}
	byID := make(map[string]*store.Chunk, len(stored))
	for _, c := range stored {
		byID[c.ID] = c
	}

	out := make([]ResultChunk, 0, len(fused))
	for _, f := range fused {
		c, ok := byID[f.ChunkID]
		if !ok {
			continue
		}
		out = append(out, ResultChunk{
			ChunkID:   c.ID,
			SessionID: c.SessionID,
			AgentID:   c.AgentID,
			Content:   c.Content,
			CreatedAt: c.CreatedAt,
			Score:     f.Score,
			Source:    f.TopSource,
		})
	}
	return out, nil
}

func (a *Assembler) mmrReorder(ctx context.Context, chunks []ResultChunk, queryEmbedding []float32) ([]ResultChunk, error) {
	if len(chunks) <= 1 {
		return chunks, nil
	}
	cands := make([]mmrCandidate, len(chunks))
	byID := make(map[string]ResultChunk, len(chunks))
	for i, c := range chunks {
		vec, err := a.meta.GetVector(ctx, c.ChunkID)
		if err != nil {
			return nil, xerrors.New(xerrors.CodeContextAssembly, "failed to load vector for mmr reorder", err)
		}
		relevance := AngularSimilarity(queryEmbedding, vec)
		cands[i] = mmrCandidate{ChunkID: c.ChunkID, Relevance: relevance, Vector: vec}
		byID[c.ChunkID] = c
	}
	order := MMRRerank(cands, a.cfg.MMRLambda)

	out := make([]ResultChunk, len(order))
	for i, id := range order {
		out[i] = byID[id]
	}
	return out, nil
}

// assembleText iterates the reordered list, prefixing each chunk and
// stopping within the token budget.
func (a *Assembler) assembleText(chunks []ResultChunk) (string, int) {
	var b strings.Builder
	tokenCount := 0

	for _, c := range chunks {
		prefix := fmt.Sprintf("[Session: %s | Agent: %s | Date: %s | Relevance: %.0f%%]\n",
			c.SessionID, c.AgentID, c.CreatedAt.Format("2006-01-02"), clampRelevance(c.Score)*100)
		piece := prefix + c.Content + "\n\n"
		pieceTokens := estimateTokens(piece)

		if tokenCount+pieceTokens <= a.cfg.TokenBudget {
			b.WriteString(piece)
			tokenCount += pieceTokens
			continue
		}

		overrun := tokenCount + pieceTokens - a.cfg.TokenBudget
		if overrun <= a.cfg.TruncateSlack {
			b.WriteString(piece)
			tokenCount += pieceTokens
			continue
		}

		truncated := truncateAtLastParagraph(b.String(), a.cfg.TokenBudget)
		return truncated + "…[truncated]", estimateTokens(truncated)
	}
	return b.String(), tokenCount
}

// estimateTokens uses the same chars-per-token heuristic the chunker
// uses for its own size budgeting.
func estimateTokens(s string) int {
	return len(s) / chunk.TokensPerChar
}

func truncateAtLastParagraph(text string, tokenBudget int) string {
	maxChars := tokenBudget * chunk.TokensPerChar
	if len(text) <= maxChars {
		return text
	}
	cut := strings.LastIndex(text[:maxChars], "\n\n")
	if cut <= 0 {
		cut = maxChars
	}
	return text[:cut]
}

func clampRelevance(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
