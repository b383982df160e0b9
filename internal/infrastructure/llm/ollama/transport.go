package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/kirillkom/idp-pipeline/internal/core/domain"
	"github.com/kirillkom/idp-pipeline/internal/infrastructure/resilience"
)

// Ollama answers 500 while a model is still loading, so that is retried too.
var classifyOllamaError = resilience.HTTPClassifier(append([]int{
	http.StatusRequestTimeout,
	http.StatusInternalServerError,
}, resilience.GatewayStatuses...)...)

// call runs postJSON through the resilience executor when one is configured.
func (c *Client) call(ctx context.Context, path string, payload any, out any, operation string) error {
	run := func(ctx context.Context) error {
		return c.postJSON(ctx, path, payload, out, operation)
	}

	var err error
	if c.executor != nil {
		err = c.executor.Execute(ctx, "ollama."+operation, run, classifyOllamaError)
	} else {
		err = run(ctx)
	}
	return resilience.Surface("ollama "+operation, err, classifyOllamaError, domain.ErrTemporary, domain.ErrCollaborator)
}

func (c *Client) postJSON(ctx context.Context, path string, payload any, out any, operation string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", operation, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ollama %s request: %w", operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return resilience.ReadStatusError("ollama", operation, resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", operation, err)
	}
	return nil
}
