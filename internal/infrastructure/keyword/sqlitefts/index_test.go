package sqlitefts

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/kirillkom/idp-pipeline/internal/core/domain"
)

func openTestIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := Open(context.Background(), "")
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
		InputType:       "text",
		Source:          "text",
		JobID:           "job-1",
		Text:            text,
		Content:         text,
	}
}

func TestSearchOrdersByAscendingCost(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()
	err := idx.BulkWrite(ctx, []domain.KeywordDoc{
		kwDoc("c1", "d1", "v1", "invoice invoice invoice total"),
		kwDoc("c2", "d1", "v1", "invoice appears once among many other unrelated words here"),
		kwDoc("c3", "d2", "v1", "nothing relevant"),
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
	if hits[0].ChunkID != "c1" || hits[0].Score > hits[1].Score {
		t.Fatalf("expected c1 first with lowest cost, got %+v", hits)
	}
}

func TestBulkWriteReplacesSameChunkID(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()
	if err := idx.BulkWrite(ctx, []domain.KeywordDoc{kwDoc("c1", "d1", "v1", "alpha")}); err != nil {
		t.Fatalf("BulkWrite() error = %v", err)
	}
	if err := idx.BulkWrite(ctx, []domain.KeywordDoc{kwDoc("c1", "d1", "v1", "alpha beta")}); err != nil {
		t.Fatalf("BulkWrite() error = %v", err)
	}

	hits, err := idx.Search(ctx, "alpha", 10, domain.SearchFilter{})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(hits) != 1 || hits[0].Text != "alpha beta" {
		t.Fatalf("expected single replaced row, got %+v", hits)
	}
}

func TestSearchAppliesFilters(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()
	_ = idx.BulkWrite(ctx, []domain.KeywordDoc{
		kwDoc("c1", "d1", "v1", "shared term"),
		kwDoc("c2", "d2", "v1", "shared term"),
		kwDoc("c3", "d2", "v2", "shared term"),
	})

	hits, err := idx.Search(ctx, "shared", 10, domain.SearchFilter{DocID: "d2", PipelineVersion: "v2"})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(hits) != 1 || hits[0].ChunkID != "c3" {
		t.Fatalf("unexpected filtered hits: %+v", hits)
	}
}

func TestSearchMatchesContentButReturnsRawText(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()
	doc := kwDoc("c1", "d1", "v1", "raw chunk text")
	doc.Content = "raw chunk text source zebra"
	_ = idx.BulkWrite(ctx, []domain.KeywordDoc{doc})

	hits, err := idx.Search(ctx, "zebra", 5, domain.SearchFilter{})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(hits) != 1 || hits[0].Text != "raw chunk text" {
		t.Fatalf("unexpected hits: %+v", hits)
	}
	if hits[0].Payload["source"] != "text" {
		t.Fatalf("expected payload to carry source, got %v", hits[0].Payload)
	}
}

func TestSearchPrefixAndMalformedQueries(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()
	_ = idx.BulkWrite(ctx, []domain.KeywordDoc{kwDoc("c1", "d1", "v1", "invoice number")})

	hits, err := idx.Search(ctx, "invo*", 5, domain.SearchFilter{})
	if err != nil || len(hits) != 1 {
		t.Fatalf("expected prefix match, got %v, %v", hits, err)
	}

	_, err = idx.Search(ctx, `"unterminated`, 5, domain.SearchFilter{})
	if !domain.IsKind(err, domain.ErrValidation) {
		t.Fatalf("expected malformed query to be a validation error, got %v", err)
	}
}

func TestSearchCodeLikeTokens(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()
	if err := idx.BulkWrite(ctx, []domain.KeywordDoc{
		kwDoc("c1", "d1", "v1", "order INV-2024 shipped, version v1.2 rev"),
		kwDoc("c2", "d1", "v1", "order INV-1999 cancelled"),
	}); err != nil {
		t.Fatalf("BulkWrite() error = %v", err)
	}

	for _, query := range []string{"INV-2024", "INV-2024*", "v1.2*", "INV-202*"} {
		hits, err := idx.Search(ctx, query, 5, domain.SearchFilter{})
		if err != nil {
			t.Fatalf("Search(%q) error = %v", query, err)
		}
		if len(hits) != 1 || hits[0].ChunkID != "c1" {
			t.Fatalf("Search(%q) expected only c1, got %+v", query, hits)
		}
	}
}

func TestMatchExpression(t *testing.T) {
	cases := map[string]string{
		"shipped":             "shipped",
		"INV-2024*":           `"INV-2024"*`,
		"v1.2":                `"v1.2"`,
		"alpha OR beta-gamma": `alpha OR "beta-gamma"`,
		`"already quoted"`:    `"already quoted"`,
		"invo*":               "invo*",
	}
	for in, want := range cases {
		if got := matchExpression(in); got != want {
			t.Fatalf("matchExpression(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestResetClearsRows(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()
	_ = idx.BulkWrite(ctx, []domain.KeywordDoc{kwDoc("c1", "d1", "v1", "gone soon")})
	if err := idx.Reset(ctx); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	hits, err := idx.Search(ctx, "gone", 5, domain.SearchFilter{})
	if err != nil || len(hits) != 0 {
		t.Fatalf("expected empty index after reset, got %v, %v", hits, err)
	}
}

func TestOpenFilePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "fts.db")
	ctx := context.Background()

	idx, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	_ = idx.BulkWrite(ctx, []domain.KeywordDoc{kwDoc("c1", "d1", "v1", "durable")})
	_ = idx.Close()

	idx, err = Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer idx.Close()
	hits, err := idx.Search(ctx, "durable", 5, domain.SearchFilter{})
	if err != nil || len(hits) != 1 {
		t.Fatalf("expected persisted row, got %v, %v", hits, err)
	}
}
