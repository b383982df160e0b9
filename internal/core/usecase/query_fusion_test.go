package usecase

import (
	"math"
	"testing"

	"github.com/kirillkom/idp-pipeline/internal/core/domain"
)

func TestFuseRRFScores(t *testing.T) {
	dense := []domain.Candidate{{ChunkID: "A"}, {ChunkID: "B"}, {ChunkID: "C"}}
	keyword := []domain.Candidate{{ChunkID: "C"}, {ChunkID: "A"}, {ChunkID: "D"}}

	fused := FuseRRF(dense, keyword, 60)
	if len(fused) != 4 {
		t.Fatalf("expected 4 fused candidates, got %d", len(fused))
	}

	want := []struct {
		id    string
		score float64
	}{
		{"A", 1.0/61 + 1.0/62},
		{"C", 1.0/63 + 1.0/61},
		{"B", 1.0 / 62},
		{"D", 1.0 / 63},
	}
	for i, w := range want {
		if fused[i].ChunkID != w.id {
			t.Fatalf("position %d: got %s, want %s", i, fused[i].ChunkID, w.id)
		}
		if math.Abs(fused[i].Score-w.score) > 1e-12 {
			t.Fatalf("%s score = %v, want %v", w.id, fused[i].Score, w.score)
		}
		if fused[i].Rank != i+1 {
			t.Fatalf("%s rank = %d", w.id, fused[i].Rank)
		}
	}
}

func TestFuseRRFTieBreakByChunkID(t *testing.T) {
	dense := []domain.Candidate{{ChunkID: "zeta"}}
	keyword := []domain.Candidate{{ChunkID: "alpha"}}

	fused := FuseRRF(dense, keyword, 0)
	if fused[0].ChunkID != "alpha" || fused[1].ChunkID != "zeta" {
		t.Fatalf("expected tie broken by chunk id, got %s, %s", fused[0].ChunkID, fused[1].ChunkID)
	}
	if math.Abs(fused[0].Score-1.0/61) > 1e-12 {
		t.Fatalf("k<=0 must default to 60, got score %v", fused[0].Score)
	}
}

func TestFuseRRFKeepsTextFromEitherBranch(t *testing.T) {
	dense := []domain.Candidate{{ChunkID: "A"}}
	keyword := []domain.Candidate{{ChunkID: "A", Text: "from keyword", DocID: "d1"}}

	fused := FuseRRF(dense, keyword, 60)
	if fused[0].Text != "from keyword" || fused[0].DocID != "d1" {
		t.Fatalf("expected merged fields, got %+v", fused[0])
	}
}
