package domain

import (
	"fmt"

	"github.com/google/uuid"
)

// lineageNamespace scopes the name-based UUIDs used for doc and chunk ids.
var lineageNamespace = uuid.MustParse("6f1c1d0e-57c4-4d57-9b0c-3f0f5b3e8a21")

// NewDocID derives the lineage id shared by every chunk of one ingestion.
func NewDocID(jobID, source string, inputType InputType) string {
	return uuid.NewSHA1(lineageNamespace, []byte(fmt.Sprintf("%s|%s|%s", jobID, source, inputType))).String()
}

// NewChunkID is stable for a (doc, index) pair so retried jobs overwrite their own points.
func NewChunkID(docID string, chunkIndex int) string {
	return uuid.NewSHA1(lineageNamespace, []byte(fmt.Sprintf("%s:%d", docID, chunkIndex))).String()
}

type ChunkRecord struct {
	ChunkID         string    `json:"chunk_id"`
	DocID           string    `json:"doc_id"`
	JobID           string    `json:"job_id"`
	PipelineVersion string    `json:"pipeline_version"`
	ChunkIndex      int       `json:"chunk_index"`
	InputType       InputType `json:"input_type"`
	Source          string    `json:"source"`
	Text            string    `json:"text"`
	Vector          []float32 `json:"-"`
}

// Payload is the metadata stored next to the vector.
func (c ChunkRecord) Payload() map[string]any {
	return map[string]any{
		"doc_id":           c.DocID,
		"job_id":           c.JobID,
		"chunk_index":      c.ChunkIndex,
		"input_type":       string(c.InputType),
		"source":           c.Source,
		"text":             c.Text,
		"pipeline_version": c.PipelineVersion,
	}
}

// StoredPoint is one record read back from the vector index.
type StoredPoint struct {
	ID      string         `json:"id"`
	Payload map[string]any `json:"payload"`
}

// ScrollPage is a normalized page of the vector index scroll protocol.
type ScrollPage struct {
	Items []StoredPoint
	Next  string
}

// KeywordDoc is one row of the keyword index. Content is the searchable
// text; Text is the raw chunk text returned to callers.
type KeywordDoc struct {
	ChunkID         string
	DocID           string
	PipelineVersion string
	ChunkIndex      int
	InputType       string
	Source          string
	JobID           string
	Text            string
	Content         string
}
