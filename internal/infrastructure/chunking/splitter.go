package chunking

import "strings"

const (
	DefaultChunkSize = 300
	DefaultOverlap   = 50
)

// Splitter cuts text into rune windows of ChunkSize that overlap by Overlap.
type Splitter struct {
	ChunkSize int
	Overlap   int
}

func NewSplitter(chunkSize, overlap int) *Splitter {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}
	return &Splitter{
		ChunkSize: chunkSize,
		Overlap:   overlap,
	}
}

// Split returns windows [start, min(start+size, L)); the next start is
// end-overlap. An overlap not smaller than the size falls back to a step of
// one full window so the loop always advances.
func (s *Splitter) Split(text string) []string {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	out := make([]string, 0, len(runes)/s.ChunkSize+1)
	for start := 0; start < len(runes); {
		end := start + s.ChunkSize
		if end > len(runes) {
			end = len(runes)
		}
		window := string(runes[start:end])
		if strings.TrimSpace(window) != "" {
			out = append(out, window)
		}
		if end == len(runes) {
			break
		}
		next := end - s.Overlap
		if next <= start {
			next = start + s.ChunkSize
		}
		start = next
	}
	return out
}
