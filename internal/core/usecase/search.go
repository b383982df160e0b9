package usecase

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/idp-pipeline/internal/core/domain"
	"github.com/kirillkom/idp-pipeline/internal/core/ports"
)

// SearchDefaults fill fields a request leaves at zero.
type SearchDefaults struct {
	TopK            int
	DenseTopK       int
	BM25TopK        int
	RRFK            int
	RerankTimeoutMS int
	RerankTopN      int
}

func DefaultSearchDefaults() SearchDefaults {
	return SearchDefaults{
		TopK:            5,
		DenseTopK:       30,
		BM25TopK:        30,
		RRFK:            defaultRRFK,
		RerankTimeoutMS: 2000,
		RerankTopN:      20,
	}
}

func (d SearchDefaults) normalize() SearchDefaults {
	def := DefaultSearchDefaults()
	if d.TopK <= 0 {
		d.TopK = def.TopK
	}
	if d.DenseTopK <= 0 {
		d.DenseTopK = def.DenseTopK
	}
	if d.BM25TopK <= 0 {
		d.BM25TopK = def.BM25TopK
	}
	if d.RRFK <= 0 {
		d.RRFK = def.RRFK
	}
	if d.RerankTimeoutMS <= 0 {
		d.RerankTimeoutMS = def.RerankTimeoutMS
	}
	if d.RerankTopN <= 0 {
		d.RerankTopN = def.RerankTopN
	}
	return d
}

type SearchUseCase struct {
	embedder ports.Embedder
	vectors  ports.VectorIndex
	keywords ports.KeywordIndex
	reranker ports.Reranker
	defaults SearchDefaults
}

func NewSearchUseCase(
	embedder ports.Embedder,
	vectors ports.VectorIndex,
	keywords ports.KeywordIndex,
	reranker ports.Reranker,
	defaults SearchDefaults,
) *SearchUseCase {
	return &SearchUseCase{
		embedder: embedder,
		vectors:  vectors,
		keywords: keywords,
		reranker: reranker,
		defaults: defaults.normalize(),
	}
}

func (uc *SearchUseCase) Search(ctx context.Context, req domain.SearchRequest) (*domain.SearchResponse, error) {
	started := time.Now()

	req, mode, err := uc.applyDefaults(req)
	if err != nil {
		return nil, err
	}

	dense, keyword, err := uc.retrieve(ctx, req, mode)
	if err != nil {
		return nil, err
	}

	var ranked []domain.Candidate
	if mode == domain.ModeHybrid {
		ranked = FuseRRF(dense, keyword, req.Retrieval.RRFK)
	} else {
		ranked = dense
		for i := range ranked {
			ranked[i].Rank = i + 1
		}
	}

	candidateCount := req.TopK
	if req.Rerank.Enabled {
		candidateCount = req.Rerank.TopN
	}
	candidates := trimCandidates(ranked, candidateCount)

	debug := domain.SearchDebug{
		Mode:        mode,
		DenseHits:   len(dense),
		BM25Hits:    len(keyword),
		CandidatesN: len(candidates),
	}

	if req.Rerank.Enabled {
		outcome := rerankCandidates(ctx, uc.reranker, req.Query, candidates, req.Rerank)
		candidates = outcome.candidates
		debug.RerankUsed = outcome.used
		debug.RerankLatencyMS = outcome.latencyMS
		debug.RerankFallbackReason = outcome.fallbackReason
	}

	candidates = trimCandidates(candidates, req.TopK)
	results := make([]domain.SearchResult, 0, len(candidates))
	for _, c := range candidates {
		res := domain.SearchResult{
			Score:           c.Score,
			ChunkID:         c.ChunkID,
			DocID:           c.DocID,
			PipelineVersion: c.PipelineVersion,
			ChunkIndex:      c.ChunkIndex,
			Text:            c.Text,
		}
		if req.IncludePayload {
			res.Payload = c.Payload
		}
		results = append(results, res)
	}

	debug.LatencyMS = time.Since(started).Milliseconds()
	return &domain.SearchResponse{Results: results, Debug: debug}, nil
}

func (uc *SearchUseCase) applyDefaults(req domain.SearchRequest) (domain.SearchRequest, domain.RetrievalMode, error) {
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		return req, "", domain.WrapError(domain.ErrValidation, "search", errors.New("query is required"))
	}
	mode, err := domain.ParseRetrievalMode(req.Retrieval.Mode)
	if err != nil {
		return req, "", err
	}
	if req.TopK <= 0 {
		req.TopK = uc.defaults.TopK
	}
	if req.Retrieval.DenseTopK <= 0 {
		req.Retrieval.DenseTopK = uc.defaults.DenseTopK
	}
	if req.Retrieval.BM25TopK <= 0 {
		req.Retrieval.BM25TopK = uc.defaults.BM25TopK
	}
	if req.Retrieval.RRFK <= 0 {
		req.Retrieval.RRFK = uc.defaults.RRFK
	}
	if req.Rerank.TimeoutMS <= 0 {
		req.Rerank.TimeoutMS = uc.defaults.RerankTimeoutMS
	}
	if req.Rerank.TopN <= 0 {
		req.Rerank.TopN = uc.defaults.RerankTopN
	}
	return req, mode, nil
}

// retrieve runs the dense and keyword branches concurrently; either failing
// fails the request.
func (uc *SearchUseCase) retrieve(
	ctx context.Context,
	req domain.SearchRequest,
	mode domain.RetrievalMode,
) ([]domain.Candidate, []domain.Candidate, error) {
	if uc.embedder == nil || uc.vectors == nil {
		return nil, nil, domain.WrapError(domain.ErrUnavailable, "search", errors.New("dense retrieval is not configured"))
	}
	if mode == domain.ModeHybrid && uc.keywords == nil {
		return nil, nil, domain.WrapError(domain.ErrUnavailable, "search", errors.New("keyword index is not configured"))
	}

	var dense, keyword []domain.Candidate
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		vector, err := uc.embedder.EmbedQuery(gctx, req.Query)
		if err != nil {
			return fmt.Errorf("embed query: %w", err)
		}
		hits, err := uc.vectors.Search(gctx, vector, req.Retrieval.DenseTopK, req.Filters)
		if err != nil {
			return fmt.Errorf("dense search: %w", err)
		}
		dense = hits
		return nil
	})

	if mode == domain.ModeHybrid {
		g.Go(func() error {
			hits, err := uc.keywords.Search(gctx, AutoPrefix(req.Query), req.Retrieval.BM25TopK, req.Filters)
			if err != nil {
				return fmt.Errorf("keyword search: %w", err)
			}
			keyword = hits
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return dense, keyword, nil
}

var prefixableQuery = regexp.MustCompile(`^[A-Za-z0-9_.-]{3,}$`)

// AutoPrefix turns a bare code-like query into a prefix query. Queries that
// already use full-text syntax are left alone.
func AutoPrefix(query string) string {
	q := strings.TrimSpace(query)
	if q == "" {
		return q
	}
	if strings.ContainsAny(q, `"'()*`) || strings.Contains(q, " OR ") || strings.Contains(q, " AND ") {
		return q
	}
	if prefixableQuery.MatchString(q) {
		return q + "*"
	}
	return q
}
