package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/kirillkom/idp-pipeline/internal/core/domain"
	"github.com/kirillkom/idp-pipeline/internal/infrastructure/resilience"
)

// Qdrant reports real 500s for bad payloads, so only gateway statuses retry.
var classifyQdrantError = resilience.HTTPClassifier(resilience.GatewayStatuses...)

func isStatus(err error, code int) bool {
	return resilience.IsStatus(err, code)
}

func (c *Client) call(ctx context.Context, method, path string, payload any, out any, operation string) error {
	run := func(ctx context.Context) error {
		return c.doJSON(ctx, method, path, payload, out, operation)
	}

	var err error
	if c.executor != nil {
		err = c.executor.Execute(ctx, "qdrant."+strings.ReplaceAll(operation, " ", "_"), run, classifyQdrantError)
	} else {
		err = run(ctx)
	}
	return resilience.Surface("qdrant "+operation, err, classifyQdrantError, domain.ErrUnavailable, domain.ErrCollaborator)
}

func (c *Client) doJSON(ctx context.Context, method, path string, payload any, out any, operation string) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal %s body: %w", operation, err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create %s request: %w", operation, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant %s request: %w", operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return resilience.ReadStatusError("qdrant", operation, resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", operation, err)
	}
	return nil
}
