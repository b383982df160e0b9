package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/idp-pipeline/internal/core/domain"
)

type searchFake struct {
	resp *domain.SearchResponse
	err  error
	req  domain.SearchRequest
}

func (f *searchFake) Search(_ context.Context, req domain.SearchRequest) (*domain.SearchResponse, error) {
	f.req = req
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

type generatorFake struct {
	text   string
	err    error
	prompt string
}

func (f *generatorFake) Generate(_ context.Context, prompt string) (string, error) {
	f.prompt = prompt
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

func answerFixture() *searchFake {
	return &searchFake{resp: &domain.SearchResponse{
		Results: []domain.SearchResult{
			{ChunkID: "c1", Score: 0.9, DocID: "d1", PipelineVersion: "v1", ChunkIndex: 0, Text: "Invoice total is 42 EUR."},
			{ChunkID: "c2", Score: 0.5, DocID: "d1", PipelineVersion: "v1", ChunkIndex: 1, Text: ""},
			{ChunkID: "c3", Score: 0.4, DocID: "d2", PipelineVersion: "v1", ChunkIndex: 3, Text: "Due date is March."},
		},
		Debug: domain.SearchDebug{CandidatesN: 3, RerankUsed: true},
	}}
}

func TestAnswerUsesGenerator(t *testing.T) {
	search := answerFixture()
	gen := &generatorFake{text: "The total is 42 EUR [c1]."}
	uc := NewAnswerUseCase(search, gen, time.Second)

	resp, err := uc.Answer(context.Background(), domain.AnswerRequest{SearchRequest: domain.SearchRequest{Query: "total?"}})
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if !search.req.IncludePayload {
		t.Fatalf("answer must search with include_payload")
	}
	if resp.Answer != gen.text || !resp.Debug.LLMUsed || resp.Debug.LLMFallbackReason != nil {
		t.Fatalf("unexpected answer: %+v", resp)
	}
	if len(resp.Citations) != 3 {
		t.Fatalf("every result gets a citation, got %d", len(resp.Citations))
	}
	if len(resp.Debug.UsedChunkIDs) != 2 || resp.Debug.UsedChunkIDs[1] != "c3" {
		t.Fatalf("empty text must be skipped in context, got %v", resp.Debug.UsedChunkIDs)
	}
	if !strings.Contains(gen.prompt, "[c1] (doc=d1, v=v1, idx=0)\nInvoice total is 42 EUR.") {
		t.Fatalf("prompt missing context block:\n%s", gen.prompt)
	}
	if !resp.Debug.RerankUsed || resp.Debug.CandidatesN != 3 {
		t.Fatalf("search debug must be carried over: %+v", resp.Debug)
	}
}

func TestAnswerFallbackOnGeneratorError(t *testing.T) {
	uc := NewAnswerUseCase(answerFixture(), &generatorFake{err: errors.New("connection refused")}, time.Second)

	resp, err := uc.Answer(context.Background(), domain.AnswerRequest{SearchRequest: domain.SearchRequest{Query: "total?"}})
	if err != nil {
		t.Fatalf("generation failure must not fail answer: %v", err)
	}
	if resp.Debug.LLMUsed || resp.Debug.LLMFallbackReason == nil || *resp.Debug.LLMFallbackReason != "connection refused" {
		t.Fatalf("unexpected debug: %+v", resp.Debug)
	}
	if !strings.HasPrefix(resp.Answer, "[LLM fallback: connection refused]\n\n") || !strings.Contains(resp.Answer, "Question:\ntotal?") {
		t.Fatalf("unexpected fallback answer: %q", resp.Answer)
	}
}

func TestAnswerFallbackWithoutGenerator(t *testing.T) {
	uc := NewAnswerUseCase(answerFixture(), nil, 0)

	resp, err := uc.Answer(context.Background(), domain.AnswerRequest{SearchRequest: domain.SearchRequest{Query: "q"}})
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if resp.Debug.LLMFallbackReason == nil || *resp.Debug.LLMFallbackReason != "generator not configured" {
		t.Fatalf("unexpected debug: %+v", resp.Debug)
	}
}

func TestAnswerSearchErrorPropagates(t *testing.T) {
	uc := NewAnswerUseCase(&searchFake{err: domain.WrapError(domain.ErrValidation, "search", errors.New("query is required"))}, nil, 0)

	_, err := uc.Answer(context.Background(), domain.AnswerRequest{})
	if !domain.IsKind(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestAssembleContextBudget(t *testing.T) {
	long := strings.Repeat("x", 500)
	results := []domain.SearchResult{
		{ChunkID: "a", DocID: "d", PipelineVersion: "v1", Text: long},
		{ChunkID: "b", DocID: "d", PipelineVersion: "v1", Text: long},
		{ChunkID: "c", DocID: "d", PipelineVersion: "v1", Text: long},
	}

	// first block is 527 runes; 800 leaves 273 for a partial second block
	citations, ctxText, used := assembleContext(results, 800)
	if len(citations) != 3 {
		t.Fatalf("expected 3 citations, got %d", len(citations))
	}
	if len(used) != 2 || used[1] != "b" {
		t.Fatalf("expected full a and partial b, got %v", used)
	}
	if n := len([]rune(ctxText)); n > 800 {
		t.Fatalf("context exceeds budget: %d", n)
	}

	_, _, used = assembleContext(results, 650)
	if len(used) != 1 {
		t.Fatalf("remaining 123 is too small for a partial block, got %v", used)
	}
	if len([]rune(citations[0].TextSnippet)) != 240 {
		t.Fatalf("snippet must be capped at 240 runes")
	}
}
