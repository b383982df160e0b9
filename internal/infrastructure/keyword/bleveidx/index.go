package bleveidx

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
	bolt "go.etcd.io/bbolt"

	"github.com/kirillkom/idp-pipeline/internal/core/domain"
)

// Index is the Bleve keyword backend. Bleve scores are higher-is-better, so
// candidates carry the negated score as their cost.
type Index struct {
	mu          sync.RWMutex
	path        string
	lockTimeout time.Duration
	index       bleve.Index
}

// DefaultLockTimeout bounds the wait for the on-disk index lock.
const DefaultLockTimeout = 2 * time.Second

// Open opens or creates an index directory. An empty path builds a
// memory-only index. The directory is locked by a single process; a second
// process gets domain.ErrUnavailable once lockTimeout passes.
func Open(path string, lockTimeout time.Duration) (*Index, error) {
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}
	idx, err := openOrCreate(path, lockTimeout)
	if err != nil {
		return nil, err
	}
	return &Index{path: path, lockTimeout: lockTimeout, index: idx}, nil
}

func openOrCreate(path string, lockTimeout time.Duration) (bleve.Index, error) {
	indexMapping := buildMapping()
	if path == "" {
		idx, err := bleve.NewMemOnly(indexMapping)
		if err != nil {
			return nil, fmt.Errorf("create memory index: %w", err)
		}
		return idx, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create index directory: %w", err)
	}
	runtimeConfig := map[string]interface{}{"bolt_timeout": lockTimeout.String()}
	idx, err := bleve.OpenUsing(path, runtimeConfig)
	if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
		idx, err = bleve.NewUsing(path, indexMapping, bleve.Config.DefaultIndexType, bleve.Config.DefaultKVStore, runtimeConfig)
	}
	if errors.Is(err, bolt.ErrTimeout) {
		return nil, domain.WrapError(domain.ErrUnavailable, "open bleve index",
			fmt.Errorf("%s is locked by another process: %w", path, err))
	}
	if err != nil {
		return nil, fmt.Errorf("open bleve index: %w", err)
	}
	return idx, nil
}

func buildMapping() *mapping.IndexMappingImpl {
	keyword := mapping.NewKeywordFieldMapping()
	keyword.Store = true

	stored := mapping.NewTextFieldMapping()
	stored.Index = false
	stored.Store = true

	content := mapping.NewTextFieldMapping()
	content.Store = false

	chunkIndex := mapping.NewNumericFieldMapping()
	chunkIndex.Index = false

	doc := mapping.NewDocumentMapping()
	doc.AddFieldMappingsAt("doc_id", keyword)
	doc.AddFieldMappingsAt("pipeline_version", keyword)
	doc.AddFieldMappingsAt("input_type", keyword)
	doc.AddFieldMappingsAt("source", stored)
	doc.AddFieldMappingsAt("job_id", keyword)
	doc.AddFieldMappingsAt("chunk_index", chunkIndex)
	doc.AddFieldMappingsAt("text", stored)
	doc.AddFieldMappingsAt("content", content)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = doc
	return indexMapping
}

func (i *Index) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.index.Close()
}

// Reset discards every document by recreating the index.
func (i *Index) Reset(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if err := i.index.Close(); err != nil {
		return domain.WrapError(domain.ErrUnavailable, "bleve reset", err)
	}
	if i.path != "" {
		if err := os.RemoveAll(i.path); err != nil {
			return domain.WrapError(domain.ErrUnavailable, "bleve reset", err)
		}
	}
	idx, err := openOrCreate(i.path, i.lockTimeout)
	if err != nil {
		return domain.WrapError(domain.ErrUnavailable, "bleve reset", err)
	}
	i.index = idx
	return nil
}

func (i *Index) BulkWrite(ctx context.Context, docs []domain.KeywordDoc) error {
	if len(docs) == 0 {
		return nil
	}
	i.mu.Lock()
	defer i.mu.Unlock()

	batch := i.index.NewBatch()
	for _, doc := range docs {
		if doc.ChunkID == "" || strings.TrimSpace(doc.Text) == "" {
			continue
		}
		content := doc.Content
		if content == "" {
			content = doc.Text
		}
		fields := map[string]any{
			"doc_id":           doc.DocID,
			"pipeline_version": doc.PipelineVersion,
			"input_type":       doc.InputType,
			"source":           doc.Source,
			"job_id":           doc.JobID,
			"chunk_index":      float64(doc.ChunkIndex),
			"text":             doc.Text,
			"content":          content,
		}
		if err := batch.Index(doc.ChunkID, fields); err != nil {
			return domain.WrapError(domain.ErrUnavailable, "bleve bulk write", fmt.Errorf("index %s: %w", doc.ChunkID, err))
		}
	}
	if err := i.index.Batch(batch); err != nil {
		return domain.WrapError(domain.ErrUnavailable, "bleve bulk write", err)
	}
	return nil
}

func (i *Index) Search(ctx context.Context, queryText string, limit int, filter domain.SearchFilter) ([]domain.Candidate, error) {
	queryText = strings.TrimSpace(queryText)
	if queryText == "" || limit <= 0 {
		return []domain.Candidate{}, nil
	}

	conjuncts := []query.Query{textQuery(queryText)}
	if filter.DocID != "" {
		conjuncts = append(conjuncts, termQuery("doc_id", filter.DocID))
	}
	if filter.PipelineVersion != "" {
		conjuncts = append(conjuncts, termQuery("pipeline_version", filter.PipelineVersion))
	}

	req := bleve.NewSearchRequestOptions(bleve.NewConjunctionQuery(conjuncts...), limit, 0, false)
	req.Fields = []string{"doc_id", "pipeline_version", "input_type", "source", "job_id", "chunk_index", "text"}

	i.mu.RLock()
	defer i.mu.RUnlock()

	result, err := i.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, domain.WrapError(domain.ErrUnavailable, "bleve search", err)
	}

	out := make([]domain.Candidate, 0, len(result.Hits))
	for _, hit := range result.Hits {
		c := domain.Candidate{
			ChunkID:         hit.ID,
			Score:           -hit.Score,
			DocID:           fieldString(hit.Fields, "doc_id"),
			PipelineVersion: fieldString(hit.Fields, "pipeline_version"),
			Text:            fieldString(hit.Fields, "text"),
		}
		if n, ok := hit.Fields["chunk_index"].(float64); ok {
			c.ChunkIndex = int(n)
		}
		c.Payload = map[string]any{
			"doc_id":           c.DocID,
			"pipeline_version": c.PipelineVersion,
			"chunk_index":      c.ChunkIndex,
			"input_type":       fieldString(hit.Fields, "input_type"),
			"source":           fieldString(hit.Fields, "source"),
			"job_id":           fieldString(hit.Fields, "job_id"),
			"text":             c.Text,
		}
		out = append(out, c)
	}
	return out, nil
}

// textQuery maps a trailing-star prefix query onto a wildcard query and
// everything else onto a match query over content.
func textQuery(q string) query.Query {
	if strings.HasSuffix(q, "*") && !strings.ContainsAny(q, " \t") {
		wq := bleve.NewWildcardQuery(strings.ToLower(q))
		wq.SetField("content")
		return wq
	}
	mq := bleve.NewMatchQuery(q)
	mq.SetField("content")
	return mq
}

func termQuery(field, value string) query.Query {
	tq := bleve.NewTermQuery(value)
	tq.SetField(field)
	return tq
}

func fieldString(fields map[string]any, key string) string {
	s, _ := fields[key].(string)
	return s
}
