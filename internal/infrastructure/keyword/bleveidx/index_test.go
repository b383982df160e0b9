package bleveidx

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/kirillkom/idp-pipeline/internal/core/domain"
)

func openTestIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := Open("", 0)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func kwDoc(chunkID, docID, version, text string) domain.KeywordDoc {
	return domain.KeywordDoc{
		ChunkID:         chunkID,
		DocID:           docID,
		PipelineVersion: version,
		ChunkIndex:      2,
		InputType:       "text",
		Source:          "text",
		JobID:           "job-1",
		Text:            text,
		Content:         text,
	}
}

func TestSearchReturnsAscendingCost(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()
	err := idx.BulkWrite(ctx, []domain.KeywordDoc{
		kwDoc("c1", "d1", "v1", "invoice invoice invoice"),
		kwDoc("c2", "d1", "v1", "invoice appears once among many other unrelated words here"),
		kwDoc("c3", "d1", "v1", "nothing relevant"),
	})
	if err != nil {
		t.Fatalf("BulkWrite() error = %v", err)
	}

	hits, err := idx.Search(ctx, "invoice", 10, domain.SearchFilter{})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].ChunkID != "c1" || hits[0].Score > hits[1].Score || hits[0].Score >= 0 {
		t.Fatalf("expected c1 first with lowest negative cost, got %+v", hits)
	}
	if hits[0].Text != "invoice invoice invoice" || hits[0].ChunkIndex != 2 || hits[0].DocID != "d1" {
		t.Fatalf("stored fields not returned: %+v", hits[0])
	}
}

func TestSearchFiltersAndPrefix(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()
	_ = idx.BulkWrite(ctx, []domain.KeywordDoc{
		kwDoc("c1", "d1", "v1", "receipt total"),
		kwDoc("c2", "d2", "v2", "receipt total"),
	})

	hits, err := idx.Search(ctx, "receipt", 10, domain.SearchFilter{DocID: "d2", PipelineVersion: "v2"})
	if err != nil || len(hits) != 1 || hits[0].ChunkID != "c2" {
		t.Fatalf("unexpected filtered hits: %+v, %v", hits, err)
	}

	hits, err = idx.Search(ctx, "Recei*", 10, domain.SearchFilter{})
	if err != nil || len(hits) != 2 {
		t.Fatalf("expected prefix to match both, got %+v, %v", hits, err)
	}
}

func TestBulkWriteUpsertAndReset(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()
	_ = idx.BulkWrite(ctx, []domain.KeywordDoc{kwDoc("c1", "d1", "v1", "alpha")})
	_ = idx.BulkWrite(ctx, []domain.KeywordDoc{kwDoc("c1", "d1", "v1", "alpha beta")})

	hits, err := idx.Search(ctx, "alpha", 10, domain.SearchFilter{})
	if err != nil || len(hits) != 1 || hits[0].Text != "alpha beta" {
		t.Fatalf("expected replaced doc, got %+v, %v", hits, err)
	}

	if err := idx.Reset(ctx); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	hits, err = idx.Search(ctx, "alpha", 10, domain.SearchFilter{})
	if err != nil || len(hits) != 0 {
		t.Fatalf("expected empty index after reset, got %+v, %v", hits, err)
	}
}

func TestOpenLockedIndexFailsFast(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keyword.bleve")
	owner, err := Open(path, 0)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	ownerOpen := true
	t.Cleanup(func() {
		if ownerOpen {
			_ = owner.Close()
		}
	})

	start := time.Now()
	second, err := Open(path, 100*time.Millisecond)
	if err == nil {
		_ = second.Close()
		t.Fatalf("expected second open of a locked index to fail")
	}
	if !domain.IsKind(err, domain.ErrUnavailable) {
		t.Fatalf("expected unavailable kind, got %v", err)
	}
	if waited := time.Since(start); waited > 5*time.Second {
		t.Fatalf("second open waited %s", waited)
	}

	ownerOpen = false
	if err := owner.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	reopened, err := Open(path, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("reopen after close error = %v", err)
	}
	_ = reopened.Close()
}
