package usecase

import (
	"sort"

	"github.com/kirillkom/idp-pipeline/internal/core/domain"
)

const defaultRRFK = 60

type fusedCandidate struct {
	candidate domain.Candidate
	score     float64
}

// FuseRRF merges ranked lists with reciprocal rank fusion: each list
// contributes 1/(k+rank) per chunk, rank being the 1-based position. Ties are
// broken by chunk id ascending.
func FuseRRF(dense, keyword []domain.Candidate, k int) []domain.Candidate {
	if k <= 0 {
		k = defaultRRFK
	}

	acc := make(map[string]fusedCandidate, len(dense)+len(keyword))
	addList := func(list []domain.Candidate) {
		for i, c := range list {
			entry, seen := acc[c.ChunkID]
			if !seen {
				entry.candidate = c
			} else {
				entry.candidate = preferRicherCandidate(entry.candidate, c)
			}
			entry.score += 1.0 / float64(k+i+1)
			acc[c.ChunkID] = entry
		}
	}

	addList(dense)
	addList(keyword)

	out := make([]domain.Candidate, 0, len(acc))
	for _, entry := range acc {
		c := entry.candidate
		c.Score = entry.score
		out = append(out, c)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ChunkID < out[j].ChunkID
	})
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

func trimCandidates(list []domain.Candidate, limit int) []domain.Candidate {
	if limit <= 0 || len(list) <= limit {
		return list
	}
	return list[:limit]
}

func preferRicherCandidate(current, other domain.Candidate) domain.Candidate {
	if current.Text == "" && other.Text != "" {
		current.Text = other.Text
	}
	if current.DocID == "" && other.DocID != "" {
		current.DocID = other.DocID
	}
	if current.PipelineVersion == "" && other.PipelineVersion != "" {
		current.PipelineVersion = other.PipelineVersion
	}
	if current.Payload == nil && other.Payload != nil {
		current.Payload = other.Payload
		current.ChunkIndex = other.ChunkIndex
	}
	return current
}
