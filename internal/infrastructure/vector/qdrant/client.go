package qdrant

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/kirillkom/idp-pipeline/internal/core/domain"
	"github.com/kirillkom/idp-pipeline/internal/infrastructure/resilience"
)

type Options struct {
	Timeout            time.Duration
	ResilienceExecutor *resilience.Executor
}

// Client speaks the Qdrant REST API for a single collection. The collection
// is created lazily on the first upsert using the vector size it sees.
type Client struct {
	baseURL    string
	collection string
	httpClient *http.Client
	executor   *resilience.Executor

	ensureMu          sync.Mutex
	ensuredCollection bool
	ensuredVectorSize int
}

func New(baseURL, collection string) *Client {
	return NewWithOptions(baseURL, collection, Options{})
}

func NewWithOptions(baseURL, collection string, opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		httpClient: &http.Client{Timeout: timeout},
		executor:   opts.ResilienceExecutor,
	}
}

func (c *Client) Collection() string {
	return c.collection
}

type point struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

func (c *Client) Upsert(ctx context.Context, records []domain.ChunkRecord) error {
	if len(records) == 0 {
		return nil
	}
	dim := len(records[0].Vector)
	if dim == 0 {
		return domain.WrapError(domain.ErrValidation, "qdrant upsert", fmt.Errorf("chunk %s has no vector", records[0].ChunkID))
	}
	points := make([]point, 0, len(records))
	for _, rec := range records {
		if len(rec.Vector) != dim {
			return domain.WrapError(domain.ErrValidation, "qdrant upsert", fmt.Errorf("chunk %s vector size %d, want %d", rec.ChunkID, len(rec.Vector), dim))
		}
		points = append(points, point{
			ID:      rec.ChunkID,
			Vector:  rec.Vector,
			Payload: rec.Payload(),
		})
	}

	if err := c.EnsureCollection(ctx, dim); err != nil {
		return err
	}

	path := fmt.Sprintf("/collections/%s/points?wait=true", c.collection)
	return c.call(ctx, http.MethodPut, path, map[string]any{"points": points}, nil, "upsert")
}

func (c *Client) Search(ctx context.Context, queryVector []float32, limit int, filter domain.SearchFilter) ([]domain.Candidate, error) {
	reqBody := map[string]any{
		"vector":       queryVector,
		"limit":        limit,
		"with_payload": true,
	}
	if must := filterConditions(filter); len(must) > 0 {
		reqBody["filter"] = map[string]any{"must": must}
	}

	var parsed struct {
		Result []struct {
			ID      any            `json:"id"`
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	path := fmt.Sprintf("/collections/%s/points/search", c.collection)
	err := c.call(ctx, http.MethodPost, path, reqBody, &parsed, "search")
	if isStatus(err, http.StatusNotFound) {
		// nothing has been indexed yet
		return []domain.Candidate{}, nil
	}
	if err != nil {
		return nil, err
	}

	out := make([]domain.Candidate, 0, len(parsed.Result))
	for _, item := range parsed.Result {
		out = append(out, domain.Candidate{
			ChunkID:         pointID(item.ID),
			Score:           item.Score,
			DocID:           getStringPayload(item.Payload, "doc_id"),
			PipelineVersion: getStringPayload(item.Payload, "pipeline_version"),
			ChunkIndex:      getIntPayload(item.Payload, "chunk_index"),
			Text:            getStringPayload(item.Payload, "text"),
			Payload:         item.Payload,
		})
	}
	return out, nil
}

func filterConditions(filter domain.SearchFilter) []map[string]any {
	var must []map[string]any
	if filter.DocID != "" {
		must = append(must, matchCondition("doc_id", filter.DocID))
	}
	if filter.PipelineVersion != "" {
		must = append(must, matchCondition("pipeline_version", filter.PipelineVersion))
	}
	return must
}

func matchCondition(key, value string) map[string]any {
	return map[string]any{
		"key":   key,
		"match": map[string]any{"value": value},
	}
}

// EnsureCollection creates the collection with cosine distance. A 409 means
// the collection already exists; it is accepted only when its vector size
// matches.
func (c *Client) EnsureCollection(ctx context.Context, vectorSize int) error {
	if vectorSize <= 0 {
		return domain.WrapError(domain.ErrValidation, "qdrant ensure collection", fmt.Errorf("vector size must be positive"))
	}
	c.ensureMu.Lock()
	defer c.ensureMu.Unlock()

	if c.ensuredCollection && c.ensuredVectorSize == vectorSize {
		return nil
	}

	reqBody := map[string]any{
		"vectors": map[string]any{
			"size":     vectorSize,
			"distance": "Cosine",
		},
	}
	path := "/collections/" + c.collection
	err := c.call(ctx, http.MethodPut, path, reqBody, nil, "ensure collection")
	if isStatus(err, http.StatusConflict) {
		existing, infoErr := c.vectorSize(ctx)
		if infoErr != nil {
			return infoErr
		}
		if existing != vectorSize {
			return domain.WrapError(domain.ErrValidation, "qdrant ensure collection",
				fmt.Errorf("collection %s has vector size %d, embeddings have %d", c.collection, existing, vectorSize))
		}
		err = nil
	}
	if err != nil {
		return err
	}

	c.ensuredCollection = true
	c.ensuredVectorSize = vectorSize
	return nil
}

// vectorSize reads the size of the collection's unnamed vector.
func (c *Client) vectorSize(ctx context.Context) (int, error) {
	var parsed struct {
		Result struct {
			Config struct {
				Params struct {
					Vectors struct {
						Size int `json:"size"`
					} `json:"vectors"`
				} `json:"params"`
			} `json:"config"`
		} `json:"result"`
	}
	if err := c.call(ctx, http.MethodGet, "/collections/"+c.collection, nil, &parsed, "collection info"); err != nil {
		return 0, err
	}
	size := parsed.Result.Config.Params.Vectors.Size
	if size <= 0 {
		return 0, domain.WrapError(domain.ErrCollaborator, "qdrant collection info",
			fmt.Errorf("collection %s reports no unnamed vector size", c.collection))
	}
	return size, nil
}
