package ollama

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/idp-pipeline/internal/core/domain"
	"github.com/kirillkom/idp-pipeline/internal/infrastructure/resilience"
)

type Client struct {
	baseURL    string
	genModel   string
	embedModel string
	httpClient *http.Client
	executor   *resilience.Executor
}

type Options struct {
	Timeout            time.Duration
	ResilienceExecutor *resilience.Executor
}

func New(baseURL, genModel, embedModel string) *Client {
	return NewWithOptions(baseURL, genModel, embedModel, Options{})
}

func NewWithOptions(baseURL, genModel, embedModel string, options Options) *Client {
	timeout := options.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		genModel:   genModel,
		embedModel: embedModel,
		httpClient: &http.Client{Timeout: timeout},
		executor:   options.ResilienceExecutor,
	}
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

// Zero values pin sampling: temperature 0, seed 0.
type generateOptions struct {
	Temperature float64 `json:"temperature"`
	Seed        int     `json:"seed"`
}

type generateResponse struct {
	Response string `json:"response"`
}

// Embedder batches texts into one /api/embed call.
type Embedder struct {
	client *Client
}

func NewEmbedder(client *Client) *Embedder {
	return &Embedder{client: client}
}

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	var out embedResponse
	if err := e.client.call(ctx, "/api/embed", embedRequest{Model: e.client.embedModel, Input: texts}, &out, "embed"); err != nil {
		return nil, err
	}
	if got := len(out.Embeddings); got != len(texts) {
		return nil, domain.WrapError(domain.ErrCollaborator, "ollama embed",
			fmt.Errorf("got %d embeddings for %d inputs", got, len(texts)))
	}
	return out.Embeddings, nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors[0]) == 0 {
		return nil, domain.WrapError(domain.ErrCollaborator, "ollama embed", errors.New("empty embedding result"))
	}
	return vectors[0], nil
}

// Generator runs single-shot, non-streaming completions.
type Generator struct {
	client *Client
}

func NewGenerator(client *Client) *Generator {
	return &Generator{client: client}
}

func (g *Generator) Generate(ctx context.Context, prompt string) (string, error) {
	req := generateRequest{Model: g.client.genModel, Prompt: prompt}
	var out generateResponse
	if err := g.client.call(ctx, "/api/generate", req, &out, "generate"); err != nil {
		return "", err
	}
	return strings.TrimSpace(out.Response), nil
}
