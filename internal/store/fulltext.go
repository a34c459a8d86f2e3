package store

import (
	"context"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/lang/en"
	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/ecmem/engine/internal/xerrors"
)

// BleveKeywordIndex wraps Bleve v2 for BM25-scored keyword search over
// chunk content, using the stock English analyzer (Porter stemming,
// English stop words) since a conversation transcript is prose, not
// source code.
type BleveKeywordIndex struct {
	mu     sync.RWMutex
	index  bleve.Index
	closed bool
}

// bleveDocument is the document shape indexed for each chunk.
type bleveDocument struct {
	Content string `json:"content"`
}

// OpenBleveKeywordIndex opens the index at path, creating it with the
// English-analyzer mapping if it does not already exist.
func OpenBleveKeywordIndex(path string) (*BleveKeywordIndex, error) {
	indexMapping := buildIndexMapping()

	idx, err := bleve.Open(path)
	if err == bleve.ErrorIndexPathDoesNotExist {
		idx, err = bleve.New(path, indexMapping)
	}
	if err != nil {
		return nil, xerrors.New(xerrors.CodeDBOpenFailed, "failed to open keyword index", err)
	}

	return &BleveKeywordIndex{index: idx}, nil
}

func buildIndexMapping() *mapping.IndexMappingImpl {
	contentField := bleve.NewTextFieldMapping()
	contentField.Analyzer = en.AnalyzerName

	docMapping := bleve.NewDocumentMapping()
	docMapping.AddFieldMappingsAt("content", contentField)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = docMapping
	indexMapping.DefaultAnalyzer = en.AnalyzerName
	return indexMapping
}

func (b *BleveKeywordIndex) Index(ctx context.Context, docs []*Document) error {
	if len(docs) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return xerrors.New(xerrors.CodeChunkFailed, "keyword index is closed", nil)
	}

	batch := b.index.NewBatch()
	for _, doc := range docs {
		if err := batch.Index(doc.ID, bleveDocument{Content: doc.Content}); err != nil {
			return xerrors.New(xerrors.CodeChunkFailed, "failed to stage document for keyword index", err)
		}
	}
	if err := b.index.Batch(batch); err != nil {
		return xerrors.New(xerrors.CodeChunkFailed, "failed to commit keyword index batch", err)
	}
	return nil
}

func (b *BleveKeywordIndex) Search(ctx context.Context, query string, limit int) ([]*KeywordResult, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, xerrors.New(xerrors.CodeQueryTimeout, "keyword index is closed", nil)
	}
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}

	matchQuery := bleve.NewMatchQuery(query)
	matchQuery.SetField("content")

	req := bleve.NewSearchRequest(matchQuery)
	req.Size = limit

	result, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, xerrors.New(xerrors.CodeQueryTimeout, "keyword search failed", err)
	}

	hits := make([]*KeywordResult, 0, len(result.Hits))
	for _, hit := range result.Hits {
		hits = append(hits, &KeywordResult{ChunkID: hit.ID, Score: hit.Score})
	}
	return hits, nil
}

func (b *BleveKeywordIndex) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return xerrors.New(xerrors.CodeChunkFailed, "keyword index is closed", nil)
	}

	batch := b.index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	if err := b.index.Batch(batch); err != nil {
		return xerrors.New(xerrors.CodeChunkFailed, "failed to delete from keyword index", err)
	}
	return nil
}

func (b *BleveKeywordIndex) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.index.Close()
}
