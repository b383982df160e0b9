package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/idp-pipeline/internal/core/domain"
	"github.com/kirillkom/idp-pipeline/internal/core/ports"
)

type SubmitJobUseCase struct {
	store   ports.JobStore
	storage ports.ObjectStorage
	queue   ports.JobQueue
}

func NewSubmitJobUseCase(store ports.JobStore, storage ports.ObjectStorage, queue ports.JobQueue) *SubmitJobUseCase {
	return &SubmitJobUseCase{
		store:   store,
		storage: storage,
		queue:   queue,
	}
}

func (uc *SubmitJobUseCase) Submit(ctx context.Context, req domain.SubmitRequest) (*domain.SubmitResponse, error) {
	if strings.TrimSpace(req.Input) == "" {
		return nil, domain.WrapError(domain.ErrValidation, "submit job", errors.New("text is required"))
	}
	route, err := domain.ParseRoute(req.Route)
	if err != nil {
		return nil, err
	}

	inputType := domain.InferInputType(req.Input)
	if strings.TrimSpace(req.InputType) != "" {
		inputType, err = domain.ParseInputType(req.InputType)
		if err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	job := &domain.Job{
		ID:           uuid.NewString(),
		Status:       domain.JobQueued,
		Input:        req.Input,
		InputType:    inputType,
		RouteRequest: route,
		RouteHint:    routeHint(route, req.Input),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := uc.store.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("store queued job: %w", err)
	}

	msg := domain.JobMessage{
		JobID:        job.ID,
		Input:        job.Input,
		InputType:    job.InputType,
		RouteRequest: job.RouteRequest,
		EnqueuedAt:   now,
	}
	if err := uc.queue.PublishJob(ctx, msg); err != nil {
		publishErr := fmt.Errorf("publish job: %w", err)
		uc.abandon(ctx, job.ID, publishErr)
		return nil, publishErr
	}

	return &domain.SubmitResponse{
		JobID:        job.ID,
		Status:       job.Status,
		RouteRequest: job.RouteRequest,
		RouteHint:    job.RouteHint,
		InputType:    job.InputType,
	}, nil
}

// abandon marks a stored job that never reached the queue as failed so pollers
// do not wait on it forever.
func (uc *SubmitJobUseCase) abandon(ctx context.Context, jobID string, cause error) {
	ctx = context.WithoutCancel(ctx)
	if err := uc.store.SaveError(ctx, jobID, cause.Error()); err != nil {
		slog.Error("submit_abandon_failed", "job_id", jobID, "error", err)
		return
	}
	if err := uc.store.UpdateStatus(ctx, jobID, domain.JobFailed); err != nil {
		slog.Error("submit_abandon_failed", "job_id", jobID, "error", err)
	}
}

// SubmitUpload stores the file and submits its local path as the job input.
func (uc *SubmitJobUseCase) SubmitUpload(ctx context.Context, filename, route string, body io.Reader) (*domain.SubmitResponse, error) {
	if uc.storage == nil {
		return nil, domain.WrapError(domain.ErrUnavailable, "submit upload", errors.New("object storage is not configured"))
	}
	if _, err := domain.ParseRoute(route); err != nil {
		return nil, err
	}

	key := fmt.Sprintf("%s_%s", uuid.NewString(), sanitizeFilename(filename))
	if err := uc.storage.Save(ctx, key, body); err != nil {
		return nil, fmt.Errorf("save upload: %w", err)
	}

	return uc.Submit(ctx, domain.SubmitRequest{
		Input: uc.storage.Locate(key),
		Route: route,
	})
}

func (uc *SubmitJobUseCase) GetJob(ctx context.Context, jobID string) (*domain.JobState, error) {
	if strings.TrimSpace(jobID) == "" {
		return nil, domain.WrapError(domain.ErrValidation, "get job", errors.New("job id is required"))
	}
	state, err := uc.store.Get(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("load job %s: %w", jobID, err)
	}
	return state, nil
}

func sanitizeFilename(name string) string {
	base := filepath.Base(name)
	base = strings.ReplaceAll(base, " ", "_")
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" || base == "." || base == "/" {
		return "upload.bin"
	}
	return base
}
