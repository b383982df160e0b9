package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/idp-pipeline/internal/core/domain"
	"github.com/kirillkom/idp-pipeline/internal/infrastructure/resilience"
)

// Client posts {query, candidates} to a rerank service and reads back
// {scores: [{id, score}]}. Timeouts come from the caller's context.
type Client struct {
	url        string
	httpClient *http.Client
}

func New(url string) *Client {
	return &Client{
		url:        strings.TrimSpace(url),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type rerankRequest struct {
	Query      string              `json:"query"`
	Candidates []domain.RerankPair `json:"candidates"`
}

type rerankResponse struct {
	Scores []struct {
		ID    any     `json:"id"`
		Score float64 `json:"score"`
	} `json:"scores"`
}

func (c *Client) Rerank(ctx context.Context, query string, pairs []domain.RerankPair) (map[string]float64, error) {
	body, err := json.Marshal(rerankRequest{Query: query, Candidates: pairs})
	if err != nil {
		return nil, fmt.Errorf("marshal rerank request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, resilience.ReadStatusError("rerank", "score", resp)
	}

	var parsed rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode rerank response: %w", err)
	}

	out := make(map[string]float64, len(parsed.Scores))
	for _, item := range parsed.Scores {
		id := ""
		switch v := item.ID.(type) {
		case string:
			id = v
		case float64:
			id = fmt.Sprintf("%.0f", v)
		}
		if id == "" {
			continue
		}
		out[id] = item.Score
	}
	return out, nil
}
