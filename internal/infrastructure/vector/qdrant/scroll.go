package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/kirillkom/idp-pipeline/internal/core/domain"
)

type scrollPoint struct {
	ID      any            `json:"id"`
	Payload map[string]any `json:"payload"`
}

// Scroll returns one page of stored points with payloads. An empty cursor
// starts from the beginning; an empty Next in the result means the end.
func (c *Client) Scroll(ctx context.Context, cursor string, pageSize int) (domain.ScrollPage, error) {
	if pageSize <= 0 {
		pageSize = 256
	}
	reqBody := map[string]any{
		"limit":        pageSize,
		"with_payload": true,
		"with_vector":  false,
	}
	if cursor != "" {
		reqBody["offset"] = cursorValue(cursor)
	}

	var parsed struct {
		Result json.RawMessage `json:"result"`
	}
	path := fmt.Sprintf("/collections/%s/points/scroll", c.collection)
	err := c.call(ctx, http.MethodPost, path, reqBody, &parsed, "scroll")
	if isStatus(err, http.StatusNotFound) {
		return domain.ScrollPage{}, nil
	}
	if err != nil {
		return domain.ScrollPage{}, err
	}

	points, next, err := decodeScrollResult(parsed.Result)
	if err != nil {
		return domain.ScrollPage{}, domain.WrapError(domain.ErrCollaborator, "qdrant scroll", err)
	}

	page := domain.ScrollPage{
		Items: make([]domain.StoredPoint, 0, len(points)),
		Next:  pointID(next),
	}
	for _, p := range points {
		page.Items = append(page.Items, domain.StoredPoint{
			ID:      pointID(p.ID),
			Payload: p.Payload,
		})
	}
	return page, nil
}

// decodeScrollResult accepts both the REST shape {points, next_page_offset}
// and the [points, next] pair some proxies return.
func decodeScrollResult(raw json.RawMessage) ([]scrollPoint, any, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil, nil
	}

	if raw[0] == '[' {
		var pair []json.RawMessage
		if err := json.Unmarshal(raw, &pair); err != nil {
			return nil, nil, fmt.Errorf("decode scroll pair: %w", err)
		}
		if len(pair) == 0 {
			return nil, nil, nil
		}
		var points []scrollPoint
		if err := json.Unmarshal(pair[0], &points); err != nil {
			return nil, nil, fmt.Errorf("decode scroll points: %w", err)
		}
		var next any
		if len(pair) > 1 {
			if err := json.Unmarshal(pair[1], &next); err != nil {
				return nil, nil, fmt.Errorf("decode scroll offset: %w", err)
			}
		}
		return points, next, nil
	}

	var obj struct {
		Points         []scrollPoint `json:"points"`
		NextPageOffset any           `json:"next_page_offset"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, nil, fmt.Errorf("decode scroll result: %w", err)
	}
	return obj.Points, obj.NextPageOffset, nil
}

// cursorValue sends integer point ids back as numbers.
func cursorValue(cursor string) any {
	if n, err := strconv.ParseUint(cursor, 10, 64); err == nil {
		return n
	}
	return cursor
}

func pointID(v any) string {
	switch id := v.(type) {
	case nil:
		return ""
	case string:
		return id
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	case json.Number:
		return id.String()
	default:
		return fmt.Sprint(id)
	}
}

func getStringPayload(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok || v == nil {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return fmt.Sprint(v)
	}
	return s
}

func getIntPayload(payload map[string]any, key string) int {
	switch v := payload[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case string:
		n, _ := strconv.Atoi(v)
		return n
	default:
		return 0
	}
}
