package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kirillkom/idp-pipeline/internal/core/domain"
	"github.com/kirillkom/idp-pipeline/internal/core/ports"
)

const (
	defaultMaxContextChars = 6000
	minPartialBlockChars   = 200
	snippetRunes           = 240
)

type AnswerUseCase struct {
	search    ports.SearchService
	generator ports.TextGenerator
	timeout   time.Duration
}

// NewAnswerUseCase accepts a nil generator; answers then use the fallback text.
func NewAnswerUseCase(search ports.SearchService, generator ports.TextGenerator, timeout time.Duration) *AnswerUseCase {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &AnswerUseCase{search: search, generator: generator, timeout: timeout}
}

func (uc *AnswerUseCase) Answer(ctx context.Context, req domain.AnswerRequest) (*domain.AnswerResponse, error) {
	searchReq := req.SearchRequest
	searchReq.IncludePayload = true

	searchStarted := time.Now()
	found, err := uc.search.Search(ctx, searchReq)
	if err != nil {
		return nil, fmt.Errorf("retrieve context: %w", err)
	}
	searchLatency := time.Since(searchStarted).Milliseconds()

	maxChars := req.Generation.MaxContextChars
	if maxChars <= 0 {
		maxChars = defaultMaxContextChars
	}
	citations, contextText, used := assembleContext(found.Results, maxChars)
	prompt := buildAnswerPrompt(searchReq.Query, contextText, req.Generation)

	debug := domain.AnswerDebug{
		SearchLatencyMS: searchLatency,
		RerankUsed:      found.Debug.RerankUsed,
		CandidatesN:     found.Debug.CandidatesN,
		UsedChunkIDs:    used,
	}

	answer, llmLatency, reason := uc.generate(ctx, prompt)
	debug.LLMLatencyMS = llmLatency
	if reason != "" {
		debug.LLMFallbackReason = &reason
		answer = fmt.Sprintf("[LLM fallback: %s]\n\n%s", reason, prompt)
	} else {
		debug.LLMUsed = true
	}

	return &domain.AnswerResponse{
		Answer:    answer,
		Citations: citations,
		Debug:     debug,
	}, nil
}

// generate returns a non-empty reason instead of an error so that a
// retrieval that succeeded is never turned into a failed answer.
func (uc *AnswerUseCase) generate(ctx context.Context, prompt string) (string, int64, string) {
	if uc.generator == nil {
		return "", 0, "generator not configured"
	}
	genCtx, cancel := context.WithTimeout(ctx, uc.timeout)
	defer cancel()

	started := time.Now()
	text, err := uc.generator.Generate(genCtx, prompt)
	latency := time.Since(started).Milliseconds()
	if err != nil {
		return "", latency, err.Error()
	}
	if strings.TrimSpace(text) == "" {
		return "", latency, "empty generation"
	}
	return text, latency, ""
}

func assembleContext(results []domain.SearchResult, maxChars int) ([]domain.Citation, string, []string) {
	citations := make([]domain.Citation, 0, len(results))
	used := make([]string, 0, len(results))
	var b strings.Builder
	remaining := maxChars
	full := false

	for _, r := range results {
		citations = append(citations, domain.Citation{
			ChunkID:         r.ChunkID,
			Score:           r.Score,
			DocID:           r.DocID,
			PipelineVersion: r.PipelineVersion,
			ChunkIndex:      r.ChunkIndex,
			TextSnippet:     truncateRunes(r.Text, snippetRunes),
		})

		if full || strings.TrimSpace(r.Text) == "" {
			continue
		}
		block := fmt.Sprintf("[%s] (doc=%s, v=%s, idx=%d)\n%s\n\n", r.ChunkID, r.DocID, r.PipelineVersion, r.ChunkIndex, r.Text)
		blockLen := len([]rune(block))
		if blockLen <= remaining {
			b.WriteString(block)
			remaining -= blockLen
			used = append(used, r.ChunkID)
			continue
		}
		if remaining > minPartialBlockChars {
			b.WriteString(truncateRunes(block, remaining))
			used = append(used, r.ChunkID)
		}
		full = true
	}
	return citations, strings.TrimSpace(b.String()), used
}

func buildAnswerPrompt(query, contextText string, gen domain.GenerationConfig) string {
	instruction := "Answer the question using only the context below. Cite sources inline as [chunk_id]."
	if gen.ForceCitations != nil && !*gen.ForceCitations {
		instruction = "Answer the question using only the context below. Cite sources as [chunk_id] where helpful."
	}
	if style := strings.TrimSpace(gen.Style); style != "" {
		instruction += " Answer style: " + style + "."
	}
	instruction += " If the context is insufficient, say so."

	return fmt.Sprintf("%s\n\nQuestion:\n%s\n\nContext:\n%s\n\nAnswer:", instruction, query, contextText)
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
