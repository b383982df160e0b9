package ports

import (
	"context"
	"io"

	"github.com/kirillkom/idp-pipeline/internal/core/domain"
)

// JobStore persists job status, result and error per job id. SaveResult
// clears an earlier error and SaveError clears an earlier result, so a
// retried job never ends with both set.
type JobStore interface {
	Create(ctx context.Context, job *domain.Job) error
	UpdateStatus(ctx context.Context, jobID string, status domain.JobStatus) error
	SaveResult(ctx context.Context, jobID string, result *domain.JobResult) error
	SaveError(ctx context.Context, jobID string, message string) error
	Get(ctx context.Context, jobID string) (*domain.JobState, error)
}

// JobQueue publishes/consumes job messages.
type JobQueue interface {
	PublishJob(ctx context.Context, msg domain.JobMessage) error
	SubscribeJobs(ctx context.Context, handler func(context.Context, domain.JobMessage) error) error
}

// ObjectStorage stores uploaded source files.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Locate(key string) string
}

// ImageOCR reads text from an image file.
type ImageOCR interface {
	Recognize(ctx context.Context, path string) (text string, mode string, err error)
}

// DocumentParser extracts text from a structured document (PDF).
type DocumentParser interface {
	ParseDocument(ctx context.Context, path string) (text string, mode string, err error)
}

// ModelAPI is a remote chat-completions style OCR or VLM endpoint.
type ModelAPI interface {
	Enabled() bool
	Name() string
	Complete(ctx context.Context, prompt, input string) (string, error)
}

// Embedder builds vectors for chunks and query text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Chunker splits text into overlapping windows.
type Chunker interface {
	Split(text string) []string
}

// VectorIndex stores chunk vectors with payload and serves similarity search.
type VectorIndex interface {
	Collection() string
	EnsureCollection(ctx context.Context, dim int) error
	Upsert(ctx context.Context, records []domain.ChunkRecord) error
	Search(ctx context.Context, vector []float32, limit int, filter domain.SearchFilter) ([]domain.Candidate, error)
	Scroll(ctx context.Context, cursor string, pageSize int) (domain.ScrollPage, error)
}

// KeywordIndex is the full-text side of hybrid retrieval. BulkWrite replaces
// rows with the same chunk id. Search results are ordered by ascending cost
// (lower is better).
type KeywordIndex interface {
	Reset(ctx context.Context) error
	BulkWrite(ctx context.Context, docs []domain.KeywordDoc) error
	Search(ctx context.Context, query string, limit int, filter domain.SearchFilter) ([]domain.Candidate, error)
}

// Reranker scores (query, text) pairs; missing ids mean no score.
type Reranker interface {
	Rerank(ctx context.Context, query string, pairs []domain.RerankPair) (map[string]float64, error)
}

// TextGenerator runs a single prompt completion.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}
