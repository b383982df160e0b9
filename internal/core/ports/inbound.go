package ports

import (
	"context"
	"io"

	"github.com/kirillkom/idp-pipeline/internal/core/domain"
)

// JobSubmitter is the inbound contract for accepting ingestion work.
type JobSubmitter interface {
	Submit(ctx context.Context, req domain.SubmitRequest) (*domain.SubmitResponse, error)
	SubmitUpload(ctx context.Context, filename, route string, body io.Reader) (*domain.SubmitResponse, error)
}

// JobReader is the inbound read model for job state.
type JobReader interface {
	GetJob(ctx context.Context, jobID string) (*domain.JobState, error)
}

// JobProcessor runs one job message through the pipeline.
type JobProcessor interface {
	Process(ctx context.Context, msg domain.JobMessage) error
}

type SearchService interface {
	Search(ctx context.Context, req domain.SearchRequest) (*domain.SearchResponse, error)
}

type AnswerService interface {
	Answer(ctx context.Context, req domain.AnswerRequest) (*domain.AnswerResponse, error)
}

// KeywordReindexer rebuilds the keyword index from the vector index.
type KeywordReindexer interface {
	Rebuild(ctx context.Context) (*domain.ReindexReport, error)
}
