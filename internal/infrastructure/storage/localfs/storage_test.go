package localfs

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kirillkom/idp-pipeline/internal/core/domain"
)

func TestSaveOpenLocate(t *testing.T) {
	dir := t.TempDir()
	storage, err := New(dir)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx := context.Background()

	if err := storage.Save(ctx, "abc_scan.png", strings.NewReader("image-bytes")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	rc, err := storage.Open(ctx, "abc_scan.png")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	raw, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(raw) != "image-bytes" {
		t.Fatalf("unexpected content %q", raw)
	}

	located := storage.Locate("abc_scan.png")
	if _, err := os.Stat(located); err != nil || filepath.Dir(located) != storage.basePath {
		t.Fatalf("Locate() = %q does not point at the saved file: %v", located, err)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("expected temp file to be cleaned up, got %d entries", len(entries))
	}
}

func TestRejectsPathKeysAndMissingFiles(t *testing.T) {
	storage, _ := New(t.TempDir())
	ctx := context.Background()

	if err := storage.Save(ctx, "../escape.txt", strings.NewReader("x")); !domain.IsKind(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for path key, got %v", err)
	}
	if _, err := storage.Open(ctx, "missing.txt"); !domain.IsKind(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for missing file, got %v", err)
	}
}
