package domain

import (
	"fmt"
	"strings"
)

type RetrievalMode string

const (
	ModeDense  RetrievalMode = "dense"
	ModeHybrid RetrievalMode = "hybrid"
)

func ParseRetrievalMode(raw string) (RetrievalMode, error) {
	switch RetrievalMode(strings.ToLower(strings.TrimSpace(raw))) {
	case "", ModeHybrid:
		return ModeHybrid, nil
	case ModeDense:
		return ModeDense, nil
	default:
		return "", WrapError(ErrValidation, "parse retrieval mode", fmt.Errorf("unknown mode %q", raw))
	}
}

type SearchFilter struct {
	DocID           string `json:"doc_id,omitempty"`
	PipelineVersion string `json:"pipeline_version,omitempty"`
}

type RetrievalConfig struct {
	Mode      string `json:"mode,omitempty"`
	DenseTopK int    `json:"dense_top_k,omitempty"`
	BM25TopK  int    `json:"bm25_top_k,omitempty"`
	RRFK      int    `json:"rrf_k,omitempty"`
}

type RerankConfig struct {
	Enabled   bool `json:"enabled"`
	TimeoutMS int  `json:"timeout_ms,omitempty"`
	TopN      int  `json:"top_n,omitempty"`
}

type SearchRequest struct {
	Query          string          `json:"query"`
	TopK           int             `json:"top_k,omitempty"`
	Filters        SearchFilter    `json:"filters"`
	Retrieval      RetrievalConfig `json:"retrieval"`
	Rerank         RerankConfig    `json:"rerank"`
	IncludePayload bool            `json:"include_payload"`
}

// Candidate carries a chunk through the search stages; Score is reinterpreted
// per stage (similarity, fused RRF score, rerank score).
type Candidate struct {
	ChunkID         string
	Score           float64
	Rank            int
	DocID           string
	PipelineVersion string
	ChunkIndex      int
	Text            string
	Payload         map[string]any
}

type RerankPair struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

type SearchResult struct {
	Score           float64        `json:"score"`
	ChunkID         string         `json:"chunk_id"`
	DocID           string         `json:"doc_id"`
	PipelineVersion string         `json:"pipeline_version"`
	ChunkIndex      int            `json:"chunk_index"`
	Text            string         `json:"text"`
	Payload         map[string]any `json:"payload,omitempty"`
}

type SearchDebug struct {
	LatencyMS            int64         `json:"latency_ms"`
	Mode                 RetrievalMode `json:"mode"`
	DenseHits            int           `json:"dense_hits"`
	BM25Hits             int           `json:"bm25_hits"`
	RerankUsed           bool          `json:"rerank_used"`
	RerankLatencyMS      int64         `json:"rerank_latency_ms"`
	RerankFallbackReason *string       `json:"rerank_fallback_reason"`
	CandidatesN          int           `json:"candidates_n"`
}

type SearchResponse struct {
	Results []SearchResult `json:"results"`
	Debug   SearchDebug    `json:"debug"`
}

type GenerationConfig struct {
	MaxContextChars int    `json:"max_context_chars,omitempty"`
	Style           string `json:"style,omitempty"`
	ForceCitations  *bool  `json:"force_citations,omitempty"`
}

type AnswerRequest struct {
	SearchRequest
	Generation GenerationConfig `json:"generation"`
}

type Citation struct {
	ChunkID         string  `json:"chunk_id"`
	Score           float64 `json:"score"`
	DocID           string  `json:"doc_id"`
	PipelineVersion string  `json:"pipeline_version"`
	ChunkIndex      int     `json:"chunk_index"`
	TextSnippet     string  `json:"text_snippet"`
}

type AnswerDebug struct {
	SearchLatencyMS   int64    `json:"search_latency_ms"`
	LLMLatencyMS      int64    `json:"llm_latency_ms"`
	RerankUsed        bool     `json:"rerank_used"`
	CandidatesN       int      `json:"candidates_n"`
	UsedChunkIDs      []string `json:"used_chunk_ids"`
	LLMUsed           bool     `json:"llm_used"`
	LLMFallbackReason *string  `json:"llm_fallback_reason"`
}

type AnswerResponse struct {
	Answer    string      `json:"answer"`
	Citations []Citation  `json:"citations"`
	Debug     AnswerDebug `json:"debug"`
}

type ReindexReport struct {
	IndexedCount int   `json:"indexed_count"`
	BatchCount   int   `json:"batch_count"`
	LatencyMS    int64 `json:"latency_ms"`
}
