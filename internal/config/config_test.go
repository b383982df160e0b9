package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadIncludesRetrievalDefaults(t *testing.T) {
	t.Setenv("IDP_CONFIG_FILE", "")
	t.Setenv("SEARCH_TOP_K", "")
	t.Setenv("SEARCH_RRF_K", "")
	t.Setenv("RERANK_TIMEOUT_MS", "")
	t.Setenv("CHUNK_SIZE", "")
	t.Setenv("KEYWORD_BACKEND", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.SearchTopK != 5 || cfg.SearchDenseTopK != 30 || cfg.SearchBM25TopK != 30 {
		t.Fatalf("unexpected top-k defaults: %+v", cfg)
	}
	if cfg.SearchRRFK != 60 {
		t.Fatalf("expected default rrf k 60, got %d", cfg.SearchRRFK)
	}
	if cfg.RerankTimeoutMS != 2000 || cfg.RerankTopN != 20 {
		t.Fatalf("unexpected rerank defaults: %d/%d", cfg.RerankTimeoutMS, cfg.RerankTopN)
	}
	if cfg.ChunkSize != 300 || cfg.ChunkOverlap != 50 {
		t.Fatalf("unexpected chunk defaults: %d/%d", cfg.ChunkSize, cfg.ChunkOverlap)
	}
	if cfg.KeywordBackend != "sqlite" || cfg.JobStore != "redis" || cfg.JobTTL != 24*time.Hour {
		t.Fatalf("unexpected backend defaults: %q %q %s", cfg.KeywordBackend, cfg.JobStore, cfg.JobTTL)
	}
}

func TestLoadParsesOverridesAndIgnoresGarbage(t *testing.T) {
	t.Setenv("IDP_CONFIG_FILE", "")
	t.Setenv("SEARCH_RRF_K", "75")
	t.Setenv("USE_REAL_API", "true")
	t.Setenv("KEYWORD_BACKEND", "Bleve")
	t.Setenv("BLEVE_LOCK_TIMEOUT_MS", "250")
	t.Setenv("WORKER_CONCURRENCY", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.SearchRRFK != 75 || !cfg.UseRealAPI || cfg.KeywordBackend != "bleve" {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.WorkerConcurrency != 4 {
		t.Fatalf("expected fallback for invalid int, got %d", cfg.WorkerConcurrency)
	}
	if cfg.BleveLockWait != 250*time.Millisecond {
		t.Fatalf("unexpected bleve lock wait: %s", cfg.BleveLockWait)
	}
}

func TestLoadYAMLFileUnderEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idp.yaml")
	content := "SEARCH_TOP_K: 8\nqdrant_collection: from_file\nRATE_LIMIT_RPS: 2.5\nAPI_PORT: \"9000\"\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("IDP_CONFIG_FILE", path)
	t.Setenv("API_PORT", "7000")
	t.Setenv("SEARCH_TOP_K", "")
	t.Setenv("QDRANT_COLLECTION", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.SearchTopK != 8 || cfg.QdrantCollection != "from_file" || cfg.RateLimitRPS != 2.5 {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.APIPort != "7000" {
		t.Fatalf("environment must win over file, got %q", cfg.APIPort)
	}
}

func TestLoadRejectsBrokenYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	_ = os.WriteFile(path, []byte("key: [unterminated"), 0o644)
	t.Setenv("IDP_CONFIG_FILE", path)

	if _, err := Load(); err == nil {
		t.Fatalf("expected parse error")
	}
}
