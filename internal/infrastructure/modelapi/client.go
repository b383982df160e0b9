package modelapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/idp-pipeline/internal/core/domain"
	"github.com/kirillkom/idp-pipeline/internal/infrastructure/resilience"
)

type Config struct {
	// Name labels the endpoint in logs and errors, e.g. "ocr-api".
	Name    string
	URL     string
	Model   string
	Timeout time.Duration
}

// Client calls an OpenAI-compatible /v1/chat/completions endpoint with a
// system prompt and the job input as the user message.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 90 * time.Second
	}
	if cfg.Model == "" {
		cfg.Model = "unknown"
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *Client) Enabled() bool {
	return strings.TrimSpace(c.cfg.URL) != ""
}

func (c *Client) Name() string {
	return c.cfg.Name
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (c *Client) Complete(ctx context.Context, prompt, input string) (string, error) {
	if !c.Enabled() {
		return "", domain.WrapError(domain.ErrValidation, c.cfg.Name, errors.New("endpoint url is empty"))
	}

	body, err := json.Marshal(chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: prompt},
			{Role: "user", Content: input},
		},
		Temperature: 0,
	})
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", domain.WrapError(domain.ErrUnavailable, c.cfg.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return "", domain.WrapError(domain.ErrCollaborator, c.cfg.Name, resilience.ReadStatusError(c.cfg.Name, "chat", resp))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", domain.WrapError(domain.ErrCollaborator, c.cfg.Name, fmt.Errorf("decode chat response: %w", err))
	}
	if len(parsed.Choices) == 0 {
		return "", nil
	}
	return parsed.Choices[0].Message.Content, nil
}
