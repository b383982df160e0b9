package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kirillkom/idp-pipeline/internal/core/domain"
	"github.com/kirillkom/idp-pipeline/internal/core/ports"
)

const (
	ocrSystemPrompt = "You are an OCR extraction engine. Return structured JSON."
	vlmSystemPrompt = "You are a vision-language model. Return structured JSON."
)

// OCRRoute sends images to the local OCR engine, pdfs to the document parser
// and plain text to the remote OCR API (or a mock when it is disabled).
type OCRRoute struct {
	images  ports.ImageOCR
	docs    ports.DocumentParser
	api     ports.ModelAPI
	timeout time.Duration
}

func NewOCRRoute(images ports.ImageOCR, docs ports.DocumentParser, api ports.ModelAPI, timeout time.Duration) *OCRRoute {
	return &OCRRoute{images: images, docs: docs, api: api, timeout: timeout}
}

func (r *OCRRoute) Execute(ctx context.Context, job *domain.Job) (*domain.JobResult, error) {
	switch job.InputType {
	case domain.InputImage:
		text, engine, err := r.recognizeImage(ctx, job.Input)
		if err != nil {
			return nil, err
		}
		return &domain.JobResult{
			APIFeedback: localFeedback(engine),
			Payload: map[string]any{
				"engine":         engine,
				"image_path":     job.Input,
				"extracted_text": text,
				"boxes":          []any{},
			},
		}, nil
	case domain.InputPDF:
		text, engine, err := r.parseDocument(ctx, job.Input)
		if err != nil {
			return nil, err
		}
		return &domain.JobResult{
			APIFeedback: localFeedback(engine),
			Payload: map[string]any{
				"engine":   engine,
				"pdf_path": job.Input,
				"text":     text,
				"tables":   []any{},
			},
		}, nil
	}

	if r.api == nil || !r.api.Enabled() {
		return &domain.JobResult{
			APIFeedback: mockFeedback(domain.RouteOCR),
			Payload: map[string]any{
				"engine":         "ocr-mock",
				"extracted_text": job.Input,
				"tables":         []any{},
			},
		}, nil
	}

	content, feedback, err := callModelAPI(ctx, r.api, domain.RouteOCR, ocrSystemPrompt, job.Input, r.timeout)
	if err != nil {
		return nil, domain.WrapError(domain.ErrCollaborator, "OCR API call failed", err)
	}
	payload := map[string]any{
		"engine": "ocr-api",
		"text":   content,
		"tables": []any{},
	}
	if structured, ok := ExtractJSONObject(content); ok {
		payload["structured"] = structured
	}
	return &domain.JobResult{APIFeedback: feedback, Payload: payload}, nil
}

func (r *OCRRoute) recognizeImage(ctx context.Context, path string) (string, string, error) {
	if r.images == nil {
		return "", "", domain.WrapError(domain.ErrUnavailable, "image ocr", errors.New("image OCR engine is not configured"))
	}
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()
	text, engine, err := r.images.Recognize(ctx, path)
	if err != nil {
		return "", "", fmt.Errorf("image ocr: %w", err)
	}
	return text, engine, nil
}

func (r *OCRRoute) parseDocument(ctx context.Context, path string) (string, string, error) {
	if r.docs == nil {
		return "", "", domain.WrapError(domain.ErrUnavailable, "document parse", errors.New("document parser is not configured"))
	}
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()
	text, engine, err := r.docs.ParseDocument(ctx, path)
	if err != nil {
		return "", "", fmt.Errorf("document parse: %w", err)
	}
	return text, engine, nil
}

// VLMRoute captions the input through the remote VLM API, or a mock.
type VLMRoute struct {
	api     ports.ModelAPI
	timeout time.Duration
}

func NewVLMRoute(api ports.ModelAPI, timeout time.Duration) *VLMRoute {
	return &VLMRoute{api: api, timeout: timeout}
}

func (r *VLMRoute) Execute(ctx context.Context, job *domain.Job) (*domain.JobResult, error) {
	if r.api == nil || !r.api.Enabled() {
		return &domain.JobResult{
			APIFeedback: mockFeedback(domain.RouteVLM),
			Payload: map[string]any{
				"engine":  "vlm-mock",
				"caption": "VLM mock caption: " + job.Input,
			},
		}, nil
	}

	content, feedback, err := callModelAPI(ctx, r.api, domain.RouteVLM, vlmSystemPrompt, job.Input, r.timeout)
	if err != nil {
		return nil, domain.WrapError(domain.ErrCollaborator, "VLM API call failed", err)
	}
	payload := map[string]any{
		"engine":  "vlm-api",
		"caption": content,
	}
	if structured, ok := ExtractJSONObject(content); ok {
		payload["structured"] = structured
	}
	return &domain.JobResult{APIFeedback: feedback, Payload: payload}, nil
}

func callModelAPI(
	ctx context.Context,
	api ports.ModelAPI,
	route domain.Route,
	prompt, input string,
	timeout time.Duration,
) (string, *domain.APIFeedback, error) {
	callCtx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	started := time.Now()
	content, err := api.Complete(callCtx, prompt, input)
	feedback := &domain.APIFeedback{
		Mode:       "real",
		Route:      string(route),
		OK:         err == nil,
		LatencyMS:  time.Since(started).Milliseconds(),
		TimeoutSec: int(timeout / time.Second),
	}
	if err != nil {
		msg := err.Error()
		feedback.Error = &msg
		return "", feedback, err
	}
	return content, feedback, nil
}

func localFeedback(engine string) *domain.APIFeedback {
	return &domain.APIFeedback{Mode: "local", Route: engine, OK: true}
}

func mockFeedback(route domain.Route) *domain.APIFeedback {
	return &domain.APIFeedback{Mode: "mock", Route: string(route), OK: true}
}
