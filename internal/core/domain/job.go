package domain

import (
	"fmt"
	"strings"
	"time"
)

type JobStatus string

const (
	JobQueued   JobStatus = "queued"
	JobStarted  JobStatus = "started"
	JobFinished JobStatus = "finished"
	JobFailed   JobStatus = "failed"
)

func (s JobStatus) Terminal() bool {
	return s == JobFinished || s == JobFailed
}

type Route string

const (
	RouteAuto     Route = "auto"
	RouteOCR      Route = "ocr"
	RouteVLM      Route = "vlm"
	RoutePipeline Route = "pipeline"
)

// ParseRoute accepts the request-side routes; empty means auto.
func ParseRoute(raw string) (Route, error) {
	switch Route(strings.ToLower(strings.TrimSpace(raw))) {
	case "", RouteAuto:
		return RouteAuto, nil
	case RouteOCR:
		return RouteOCR, nil
	case RouteVLM:
		return RouteVLM, nil
	case RoutePipeline:
		return RoutePipeline, nil
	default:
		return "", WrapError(ErrValidation, "parse route", fmt.Errorf("unknown route %q", raw))
	}
}

type InputType string

const (
	InputText  InputType = "text"
	InputImage InputType = "image"
	InputPDF   InputType = "pdf"
)

func ParseInputType(raw string) (InputType, error) {
	switch InputType(strings.ToLower(strings.TrimSpace(raw))) {
	case InputText:
		return InputText, nil
	case InputImage:
		return InputImage, nil
	case InputPDF:
		return InputPDF, nil
	default:
		return "", WrapError(ErrValidation, "parse input type", fmt.Errorf("unknown input_type %q", raw))
	}
}

// InferInputType classifies a raw submission by its file extension.
func InferInputType(input string) InputType {
	lower := strings.ToLower(strings.TrimSpace(input))
	switch {
	case strings.HasSuffix(lower, ".pdf"):
		return InputPDF
	case strings.HasSuffix(lower, ".png"),
		strings.HasSuffix(lower, ".jpg"),
		strings.HasSuffix(lower, ".jpeg"),
		strings.HasSuffix(lower, ".webp"):
		return InputImage
	default:
		return InputText
	}
}

type RouteDecision struct {
	Route      Route   `json:"route"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// ForcedRoute is the hint recorded when the caller picked the route explicitly.
func ForcedRoute(route Route) RouteDecision {
	return RouteDecision{Route: route, Confidence: 1.0, Reason: "Route forced by request"}
}

// JobMessage is the unit of work carried by the queue.
type JobMessage struct {
	JobID        string    `json:"job_id"`
	Input        string    `json:"input"`
	InputType    InputType `json:"input_type"`
	RouteRequest Route     `json:"route_request"`
	EnqueuedAt   time.Time `json:"enqueued_at"`
}

type Job struct {
	ID           string        `json:"job_id"`
	Status       JobStatus     `json:"status"`
	Input        string        `json:"-"`
	InputType    InputType     `json:"input_type"`
	RouteRequest Route         `json:"route_request"`
	ChosenRoute  Route         `json:"chosen_route,omitempty"`
	RouteHint    RouteDecision `json:"route_hint"`
	Stages       []string      `json:"stages,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// EnterStage records a pipeline stage name in execution order.
func (j *Job) EnterStage(name string) {
	j.Stages = append(j.Stages, name)
}

type APIFeedback struct {
	Mode       string  `json:"mode"`
	Route      string  `json:"route"`
	OK         bool    `json:"ok"`
	LatencyMS  int64   `json:"latency_ms"`
	TimeoutSec int     `json:"timeout_sec,omitempty"`
	Error      *string `json:"error"`
}

type PipelineSummary struct {
	DocID           string         `json:"doc_id"`
	PipelineVersion string         `json:"pipeline_version"`
	Collection      string         `json:"collection"`
	ChunkCount      int            `json:"chunk_count"`
	EmbeddingDim    int            `json:"embedding_dim"`
	ChunkIDs        []string       `json:"chunk_ids"`
	Structured      map[string]any `json:"structured"`
}

type JobResult struct {
	OK           bool             `json:"ok"`
	JobID        string           `json:"job_id"`
	RouteRequest Route            `json:"route_request"`
	ChosenRoute  Route            `json:"chosen_route"`
	RouteHint    RouteDecision    `json:"route_hint"`
	InputType    InputType        `json:"input_type"`
	Stages       []string         `json:"stages,omitempty"`
	APIFeedback  *APIFeedback     `json:"api_feedback,omitempty"`
	Payload      map[string]any   `json:"payload,omitempty"`
	Pipeline     *PipelineSummary `json:"pipeline,omitempty"`
	Error        *string          `json:"error"`
}

type SubmitRequest struct {
	Input     string `json:"text"`
	InputType string `json:"input_type,omitempty"`
	Route     string `json:"route,omitempty"`
}

type SubmitResponse struct {
	JobID        string        `json:"job_id"`
	Status       JobStatus     `json:"status"`
	RouteRequest Route         `json:"route_request"`
	RouteHint    RouteDecision `json:"route_hint"`
	InputType    InputType     `json:"input_type"`
}

// JobState is what a poller sees: status plus exactly one of result/error once terminal.
type JobState struct {
	JobID  string     `json:"job_id"`
	Status JobStatus  `json:"status"`
	Result *JobResult `json:"result"`
	Error  *string    `json:"error"`
}
