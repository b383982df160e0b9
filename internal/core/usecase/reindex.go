package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/kirillkom/idp-pipeline/internal/core/domain"
	"github.com/kirillkom/idp-pipeline/internal/core/ports"
)

const (
	defaultReindexBatchSize = 256
	defaultScrollPageSize   = 256
)

// keywordMetaFields are rendered as "key value" tokens after the chunk text.
var keywordMetaFields = []string{"doc_id", "pipeline_version", "chunk_index", "input_type", "source", "job_id"}

// ReindexUseCase rebuilds the keyword index from the vector index, which is
// the source of truth.
type ReindexUseCase struct {
	vectors   ports.VectorIndex
	keywords  ports.KeywordIndex
	batchSize int
	pageSize  int
}

func NewReindexUseCase(vectors ports.VectorIndex, keywords ports.KeywordIndex, batchSize int) *ReindexUseCase {
	if batchSize <= 0 {
		batchSize = defaultReindexBatchSize
	}
	return &ReindexUseCase{
		vectors:   vectors,
		keywords:  keywords,
		batchSize: batchSize,
		pageSize:  defaultScrollPageSize,
	}
}

func (uc *ReindexUseCase) Rebuild(ctx context.Context) (*domain.ReindexReport, error) {
	if uc.vectors == nil || uc.keywords == nil {
		return nil, domain.WrapError(domain.ErrUnavailable, "reindex", errors.New("vector and keyword indexes are required"))
	}
	started := time.Now()

	docs, err := uc.collect(ctx)
	if err != nil {
		return nil, err
	}

	if err := uc.keywords.Reset(ctx); err != nil {
		return nil, domain.WrapError(domain.ErrInternalStage, "reset keyword index", err)
	}

	report := &domain.ReindexReport{}
	for start := 0; start < len(docs); start += uc.batchSize {
		end := start + uc.batchSize
		if end > len(docs) {
			end = len(docs)
		}
		batch := docs[start:end]
		if err := uc.keywords.BulkWrite(ctx, batch); err != nil {
			failure := &domain.ReindexFailure{
				BatchIndex: report.BatchCount,
				BatchSize:  len(batch),
				Indexed:    report.IndexedCount,
				Err:        err,
			}
			slog.Error("reindex_batch_failed",
				"batch_index", failure.BatchIndex,
				"batch_size", failure.BatchSize,
				"indexed_count", failure.Indexed,
				"error", err,
			)
			return nil, failure
		}
		report.IndexedCount += len(batch)
		report.BatchCount++
	}

	report.LatencyMS = time.Since(started).Milliseconds()
	return report, nil
}

func (uc *ReindexUseCase) collect(ctx context.Context) ([]domain.KeywordDoc, error) {
	var (
		docs   []domain.KeywordDoc
		cursor string
		seen   = map[string]struct{}{}
	)
	for {
		page, err := uc.vectors.Scroll(ctx, cursor, uc.pageSize)
		if err != nil {
			return nil, fmt.Errorf("scroll vector index: %w", err)
		}
		for _, item := range page.Items {
			doc := KeywordDocFromPayload(item.ID, item.Payload)
			if doc.ChunkID == "" || strings.TrimSpace(doc.Text) == "" {
				continue
			}
			docs = append(docs, doc)
		}
		if page.Next == "" {
			return docs, nil
		}
		if _, loop := seen[page.Next]; loop {
			return nil, domain.WrapError(domain.ErrCollaborator, "scroll vector index", fmt.Errorf("cursor %q repeated", page.Next))
		}
		seen[page.Next] = struct{}{}
		cursor = page.Next
	}
}

// KeywordDocFromPayload builds a keyword row from a stored vector payload.
func KeywordDocFromPayload(chunkID string, payload map[string]any) domain.KeywordDoc {
	text := payloadString(payload, "text")
	return domain.KeywordDoc{
		ChunkID:         chunkID,
		DocID:           payloadString(payload, "doc_id"),
		PipelineVersion: payloadString(payload, "pipeline_version"),
		ChunkIndex:      payloadInt(payload, "chunk_index"),
		InputType:       payloadString(payload, "input_type"),
		Source:          payloadString(payload, "source"),
		JobID:           payloadString(payload, "job_id"),
		Text:            text,
		Content:         KeywordContent(text, payload),
	}
}

// KeywordContent is the searchable text: chunk text followed by metadata as
// space separated key value tokens.
func KeywordContent(text string, payload map[string]any) string {
	parts := []string{text}
	for _, key := range keywordMetaFields {
		value := payloadString(payload, key)
		if value == "" {
			continue
		}
		parts = append(parts, key, value)
	}
	return strings.Join(parts, " ")
}

func payloadString(payload map[string]any, key string) string {
	raw, ok := payload[key]
	if !ok || raw == nil {
		return ""
	}
	switch v := raw.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return fmt.Sprint(v)
	}
}

func payloadInt(payload map[string]any, key string) int {
	switch v := payload[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return -1
		}
		return n
	default:
		return -1
	}
}
