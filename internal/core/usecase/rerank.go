package usecase

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/kirillkom/idp-pipeline/internal/core/domain"
	"github.com/kirillkom/idp-pipeline/internal/core/ports"
)

type rerankOutcome struct {
	candidates     []domain.Candidate
	used           bool
	latencyMS      int64
	fallbackReason *string
}

// rerankCandidates never fails the search: on any error the input order and
// scores are returned untouched together with a fallback reason.
func rerankCandidates(
	ctx context.Context,
	reranker ports.Reranker,
	query string,
	candidates []domain.Candidate,
	cfg domain.RerankConfig,
) rerankOutcome {
	fallback := func(reason string, latency int64) rerankOutcome {
		slog.Warn("rerank_fallback", "reason", reason, "candidates", len(candidates))
		return rerankOutcome{candidates: candidates, latencyMS: latency, fallbackReason: &reason}
	}

	if reranker == nil {
		return fallback("reranker not configured", 0)
	}

	limit := cfg.TopN
	if limit <= 0 || limit > len(candidates) {
		limit = len(candidates)
	}
	pairs := make([]domain.RerankPair, 0, limit)
	for _, c := range candidates[:limit] {
		if strings.TrimSpace(c.Text) == "" {
			continue
		}
		pairs = append(pairs, domain.RerankPair{ID: c.ChunkID, Text: c.Text})
	}
	if len(pairs) == 0 {
		return fallback("no candidates with text", 0)
	}

	rerankCtx, cancel := withTimeout(ctx, time.Duration(cfg.TimeoutMS)*time.Millisecond)
	defer cancel()

	started := time.Now()
	scores, err := reranker.Rerank(rerankCtx, query, pairs)
	latency := time.Since(started).Milliseconds()
	if err == nil && rerankCtx.Err() != nil {
		err = rerankCtx.Err()
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fallback("rerank timeout: "+err.Error(), latency)
		}
		return fallback("rerank failed: "+err.Error(), latency)
	}

	out := make([]domain.Candidate, len(candidates))
	copy(out, candidates)
	scored := make([]bool, len(out))
	for i := range out {
		if s, ok := scores[out[i].ChunkID]; ok {
			out[i].Score = s
			scored[i] = true
		}
	}

	idx := make([]int, len(out))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		ia, ib := idx[a], idx[b]
		if scored[ia] != scored[ib] {
			return scored[ia]
		}
		if scored[ia] {
			return out[ia].Score > out[ib].Score
		}
		return false
	})

	reordered := make([]domain.Candidate, len(out))
	for rank, i := range idx {
		reordered[rank] = out[i]
		reordered[rank].Rank = rank + 1
	}
	return rerankOutcome{candidates: reordered, used: true, latencyMS: latency}
}
