package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kirillkom/idp-pipeline/internal/core/domain"
	"github.com/kirillkom/idp-pipeline/internal/core/ports"
)

const (
	StageExtract   = "extract"
	StageGenerate  = "generate"
	StageNormalize = "normalize"
	StageChunk     = "chunk"
	StageEmbed     = "embed"
	StageIndex     = "index"

	generatePrompt = "Describe the document content and return a JSON object with its key fields."
)

type PipelineRouteDeps struct {
	Images    ports.ImageOCR
	Docs      ports.DocumentParser
	Generator ports.ModelAPI
	Chunker   ports.Chunker
	Embedder  ports.Embedder
	Vectors   ports.VectorIndex
	Keywords  ports.KeywordIndex
}

// PipelineRoute runs extract, generate, normalize, chunk, embed and index.
// Any stage error aborts the job; chunk ids are deterministic so a retry
// overwrites what a failed attempt already upserted.
type PipelineRoute struct {
	ocr     *OCRRoute
	deps    PipelineRouteDeps
	version string
	timeout time.Duration
}

func NewPipelineRoute(deps PipelineRouteDeps, pipelineVersion string, timeout time.Duration) *PipelineRoute {
	if pipelineVersion == "" {
		pipelineVersion = "v1"
	}
	return &PipelineRoute{
		ocr:     NewOCRRoute(deps.Images, deps.Docs, nil, timeout),
		deps:    deps,
		version: pipelineVersion,
		timeout: timeout,
	}
}

func (r *PipelineRoute) Execute(ctx context.Context, job *domain.Job) (*domain.JobResult, error) {
	if r.deps.Chunker == nil || r.deps.Embedder == nil || r.deps.Vectors == nil {
		return nil, domain.WrapError(domain.ErrUnavailable, "pipeline route", errors.New("chunker, embedder and vector index are required"))
	}

	text := job.Input
	source := "text"
	if job.InputType != domain.InputText {
		job.EnterStage(StageExtract)
		source = job.Input
		extracted, err := r.extract(ctx, job)
		if err != nil {
			return nil, err
		}
		text = extracted
	}

	job.EnterStage(StageGenerate)
	generated, feedback, err := r.generate(ctx, text)
	if err != nil {
		return nil, err
	}

	job.EnterStage(StageNormalize)
	structured, _ := ExtractJSONObject(generated)
	normalized := normalizeText(generated)

	job.EnterStage(StageChunk)
	chunks := r.deps.Chunker.Split(normalized)

	job.EnterStage(StageEmbed)
	vectors, err := r.embed(ctx, chunks)
	if err != nil {
		return nil, err
	}
	dim := 0
	if len(vectors) > 0 {
		dim = len(vectors[0])
	}

	docID := domain.NewDocID(job.ID, source, job.InputType)
	records := make([]domain.ChunkRecord, 0, len(chunks))
	for i, chunk := range chunks {
		records = append(records, domain.ChunkRecord{
			ChunkID:         domain.NewChunkID(docID, i),
			DocID:           docID,
			JobID:           job.ID,
			PipelineVersion: r.version,
			ChunkIndex:      i,
			InputType:       job.InputType,
			Source:          source,
			Text:            chunk,
			Vector:          vectors[i],
		})
	}

	job.EnterStage(StageIndex)
	if err := r.index(ctx, records, dim); err != nil {
		return nil, err
	}

	chunkIDs := make([]string, 0, len(records))
	for _, rec := range records {
		chunkIDs = append(chunkIDs, rec.ChunkID)
	}

	return &domain.JobResult{
		APIFeedback: feedback,
		Payload: map[string]any{
			"source":          source,
			"extracted_chars": len([]rune(text)),
			"generated_text":  generated,
		},
		Pipeline: &domain.PipelineSummary{
			DocID:           docID,
			PipelineVersion: r.version,
			Collection:      r.deps.Vectors.Collection(),
			ChunkCount:      len(records),
			EmbeddingDim:    dim,
			ChunkIDs:        chunkIDs,
			Structured:      structured,
		},
	}, nil
}

func (r *PipelineRoute) extract(ctx context.Context, job *domain.Job) (string, error) {
	var (
		text string
		err  error
	)
	switch job.InputType {
	case domain.InputImage:
		text, _, err = r.ocr.recognizeImage(ctx, job.Input)
	case domain.InputPDF:
		text, _, err = r.ocr.parseDocument(ctx, job.Input)
	default:
		return "", domain.WrapError(domain.ErrValidation, "extract", fmt.Errorf("unsupported input type %q", job.InputType))
	}
	if err != nil {
		return "", fmt.Errorf("extract: %w", err)
	}
	return text, nil
}

func (r *PipelineRoute) generate(ctx context.Context, text string) (string, *domain.APIFeedback, error) {
	if r.deps.Generator == nil || !r.deps.Generator.Enabled() {
		return text, mockFeedback(domain.RoutePipeline), nil
	}
	content, feedback, err := callModelAPI(ctx, r.deps.Generator, domain.RoutePipeline, generatePrompt, text, r.timeout)
	if err != nil {
		return "", feedback, domain.WrapError(domain.ErrCollaborator, "generate", err)
	}
	return content, feedback, nil
}

func (r *PipelineRoute) embed(ctx context.Context, chunks []string) ([][]float32, error) {
	if len(chunks) == 0 {
		return nil, nil
	}
	vectors, err := r.deps.Embedder.Embed(ctx, chunks)
	if err != nil {
		return nil, fmt.Errorf("embed chunks: %w", err)
	}
	if len(vectors) != len(chunks) {
		return nil, domain.WrapError(
			domain.ErrCollaborator,
			"embed chunks",
			fmt.Errorf("vectors/chunks mismatch: %d/%d", len(vectors), len(chunks)),
		)
	}
	return vectors, nil
}

func (r *PipelineRoute) index(ctx context.Context, records []domain.ChunkRecord, dim int) error {
	if len(records) == 0 {
		return nil
	}
	if err := r.deps.Vectors.EnsureCollection(ctx, dim); err != nil {
		return domain.WrapError(domain.ErrInternalStage, "ensure collection", err)
	}
	if err := r.deps.Vectors.Upsert(ctx, records); err != nil {
		return domain.WrapError(domain.ErrInternalStage, "upsert chunks", err)
	}
	if r.deps.Keywords == nil {
		return nil
	}

	docs := make([]domain.KeywordDoc, 0, len(records))
	for _, rec := range records {
		docs = append(docs, KeywordDocFromPayload(rec.ChunkID, rec.Payload()))
	}
	if err := r.deps.Keywords.BulkWrite(ctx, docs); err != nil {
		return domain.WrapError(domain.ErrInternalStage, "keyword upsert", err)
	}
	return nil
}

// normalizeText collapses runs of whitespace inside generated output.
func normalizeText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
