package pdftext

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/kirillkom/idp-pipeline/internal/core/domain"
)

func TestParseDocumentMissingFile(t *testing.T) {
	_, engine, err := New(0).ParseDocument(context.Background(), filepath.Join(t.TempDir(), "missing.pdf"))
	if !domain.IsKind(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if engine != engineName {
		t.Fatalf("unexpected engine %q", engine)
	}
}

func TestParseDocumentRejectsNonPDF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fake.pdf")
	if err := os.WriteFile(path, []byte("this is not a pdf"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	text, _, err := New(0).ParseDocument(context.Background(), path)
	if err == nil {
		t.Fatalf("expected error for non-pdf input, got text %q", text)
	}
}
