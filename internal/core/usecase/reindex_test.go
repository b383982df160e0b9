package usecase

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/kirillkom/idp-pipeline/internal/core/domain"
)

func scrollFixture(total, perPage int) map[string]domain.ScrollPage {
	pages := map[string]domain.ScrollPage{}
	cursor := ""
	for start := 0; start < total; start += perPage {
		var page domain.ScrollPage
		for i := start; i < start+perPage && i < total; i++ {
			page.Items = append(page.Items, domain.StoredPoint{
				ID: fmt.Sprintf("chunk-%03d", i),
				Payload: map[string]any{
					"doc_id":           "doc-1",
					"pipeline_version": "v1",
					"chunk_index":      float64(i),
					"input_type":       "text",
					"source":           "text",
					"job_id":           "job-1",
					"text":             fmt.Sprintf("chunk body %d", i),
				},
			})
		}
		if start+perPage < total {
			page.Next = fmt.Sprintf("cursor-%d", start+perPage)
		}
		pages[cursor] = page
		cursor = page.Next
	}
	return pages
}

func TestReindexRebuildsInBatches(t *testing.T) {
	vectors := &vectorIndexFake{pages: scrollFixture(600, 250)}
	keywords := &keywordIndexFake{}
	uc := NewReindexUseCase(vectors, keywords, 0)

	report, err := uc.Rebuild(context.Background())
	if err != nil {
		t.Fatalf("Rebuild() error = %v", err)
	}
	if keywords.resets != 1 {
		t.Fatalf("expected one reset, got %d", keywords.resets)
	}
	if report.IndexedCount != 600 || report.BatchCount != 3 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if len(keywords.batches[0]) != 256 || len(keywords.batches[2]) != 88 {
		t.Fatalf("unexpected batch sizes: %d, %d", len(keywords.batches[0]), len(keywords.batches[2]))
	}

	doc := keywords.batches[0][7]
	want := "chunk body 7 doc_id doc-1 pipeline_version v1 chunk_index 7 input_type text source text job_id job-1"
	if doc.Content != want {
		t.Fatalf("content = %q, want %q", doc.Content, want)
	}
	if doc.ChunkIndex != 7 || doc.Text != "chunk body 7" {
		t.Fatalf("unexpected doc: %+v", doc)
	}
}

func TestReindexBatchFailureIsStructured(t *testing.T) {
	vectors := &vectorIndexFake{pages: scrollFixture(10, 10)}
	keywords := &keywordIndexFake{failBatch: 2}
	uc := NewReindexUseCase(vectors, keywords, 4)

	_, err := uc.Rebuild(context.Background())
	var failure *domain.ReindexFailure
	if !errors.As(err, &failure) {
		t.Fatalf("expected ReindexFailure, got %v", err)
	}
	if failure.BatchIndex != 1 || failure.BatchSize != 4 || failure.Indexed != 4 {
		t.Fatalf("unexpected failure: %+v", failure)
	}
}

func TestReindexScrollError(t *testing.T) {
	uc := NewReindexUseCase(&vectorIndexFake{scrollErr: errors.New("qdrant down")}, &keywordIndexFake{}, 0)
	if _, err := uc.Rebuild(context.Background()); err == nil {
		t.Fatalf("expected scroll error")
	}
}

func TestReindexSkipsPointsWithoutText(t *testing.T) {
	vectors := &vectorIndexFake{pages: map[string]domain.ScrollPage{
		"": {Items: []domain.StoredPoint{
			{ID: "a", Payload: map[string]any{"text": "kept"}},
			{ID: "b", Payload: map[string]any{"doc_id": "x"}},
		}},
	}}
	keywords := &keywordIndexFake{}
	report, err := NewReindexUseCase(vectors, keywords, 0).Rebuild(context.Background())
	if err != nil {
		t.Fatalf("Rebuild() error = %v", err)
	}
	if report.IndexedCount != 1 {
		t.Fatalf("expected 1 indexed, got %d", report.IndexedCount)
	}
}
