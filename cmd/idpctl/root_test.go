package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kirillkom/idp-pipeline/internal/core/domain"
)

type reindexFake struct {
	err error
}

func (f reindexFake) Rebuild(context.Context) (*domain.ReindexReport, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &domain.ReindexReport{IndexedCount: 42, BatchCount: 2, LatencyMS: 7}, nil
}

type searchFake struct {
	last domain.SearchRequest
}

func (f *searchFake) Search(_ context.Context, req domain.SearchRequest) (*domain.SearchResponse, error) {
	f.last = req
	return &domain.SearchResponse{
		Results: []domain.SearchResult{{ChunkID: "c1", DocID: "d1", Score: 0.0328, Text: "invoice   total\n42"}},
		Debug:   domain.SearchDebug{Mode: domain.ModeHybrid, DenseHits: 1, BM25Hits: 1},
	}, nil
}

type jobsFake struct{}

func (jobsFake) GetJob(_ context.Context, id string) (*domain.JobState, error) {
	if id != "job-1" {
		return nil, domain.WrapError(domain.ErrJobNotFound, "get job", errors.New("id="+id))
	}
	return &domain.JobState{JobID: id, Status: domain.JobFinished}, nil
}

func runCLI(t *testing.T, svc *services, args ...string) (string, error) {
	t.Helper()
	closed := false
	svc.Close = func() { closed = true }
	root := newRootCmd(func(context.Context) (*services, error) { return svc, nil })

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	if err == nil && !closed {
		t.Fatalf("services were not closed")
	}
	return out.String(), err
}

func TestReindexCommand(t *testing.T) {
	out, err := runCLI(t, &services{Reindex: reindexFake{}}, "reindex")
	if err != nil {
		t.Fatalf("reindex error = %v", err)
	}
	if !strings.Contains(out, "indexed 42 chunks in 2 batches") {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestReindexCommandSurfacesBatchFailure(t *testing.T) {
	_, err := runCLI(t, &services{Reindex: reindexFake{err: &domain.ReindexFailure{BatchIndex: 1, Err: errors.New("disk full")}}}, "reindex")
	var batchErr *domain.ReindexFailure
	if !errors.As(err, &batchErr) || batchErr.BatchIndex != 1 {
		t.Fatalf("expected batch failure, got %v", err)
	}
}

func TestSearchCommandJoinsQueryAndAppliesFlags(t *testing.T) {
	search := &searchFake{}
	out, err := runCLI(t, &services{Search: search}, "search", "invoice", "total", "--limit", "3", "--mode", "dense", "--doc", "d1")
	if err != nil {
		t.Fatalf("search error = %v", err)
	}
	if search.last.Query != "invoice total" || search.last.TopK != 3 || search.last.Retrieval.Mode != "dense" || search.last.Filters.DocID != "d1" {
		t.Fatalf("unexpected request: %+v", search.last)
	}
	if !strings.Contains(out, "1. c1") || !strings.Contains(out, "invoice total 42") {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestSearchCommandJSONFormat(t *testing.T) {
	out, err := runCLI(t, &services{Search: &searchFake{}}, "search", "q", "--format", "json")
	if err != nil {
		t.Fatalf("search error = %v", err)
	}
	if !strings.Contains(out, `"chunk_id": "c1"`) {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestSearchCommandRequiresQuery(t *testing.T) {
	if _, err := runCLI(t, &services{Search: &searchFake{}}, "search"); err == nil {
		t.Fatalf("expected error without query")
	}
}

func TestJobCommand(t *testing.T) {
	out, err := runCLI(t, &services{Jobs: jobsFake{}}, "job", "job-1")
	if err != nil {
		t.Fatalf("job error = %v", err)
	}
	if !strings.Contains(out, `"status": "finished"`) {
		t.Fatalf("unexpected output: %q", out)
	}

	if _, err := runCLI(t, &services{Jobs: jobsFake{}}, "job", "missing"); !domain.IsKind(err, domain.ErrJobNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
