package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kirillkom/idp-pipeline/internal/core/domain"
	"github.com/kirillkom/idp-pipeline/internal/core/ports"
)

// RouteExecutor runs one chosen route for a job. Implementations append stage
// names to job.Stages as they enter them.
type RouteExecutor interface {
	Execute(ctx context.Context, job *domain.Job) (*domain.JobResult, error)
}

var executableRoutes = []domain.Route{domain.RouteOCR, domain.RouteVLM, domain.RoutePipeline}

type ProcessJobUseCase struct {
	store  ports.JobStore
	routes map[domain.Route]RouteExecutor
}

func NewProcessJobUseCase(store ports.JobStore, routes map[domain.Route]RouteExecutor) (*ProcessJobUseCase, error) {
	if len(routes) != len(executableRoutes) {
		return nil, fmt.Errorf("route executors: expected %d routes, got %d", len(executableRoutes), len(routes))
	}
	for _, route := range executableRoutes {
		if routes[route] == nil {
			return nil, fmt.Errorf("route executors: missing %s", route)
		}
	}
	return &ProcessJobUseCase{store: store, routes: routes}, nil
}

func (uc *ProcessJobUseCase) Process(ctx context.Context, msg domain.JobMessage) error {
	if err := uc.store.UpdateStatus(ctx, msg.JobID, domain.JobStarted); err != nil {
		return fmt.Errorf("set status=started: %w", err)
	}

	result, err := uc.run(ctx, msg)
	if err != nil {
		if failErr := uc.markFailed(ctx, msg.JobID, err); failErr != nil {
			return fmt.Errorf("%w; mark failed status: %v", err, failErr)
		}
		return err
	}

	if err := uc.store.SaveResult(ctx, msg.JobID, result); err != nil {
		err = fmt.Errorf("save result: %w", err)
		if failErr := uc.markFailed(ctx, msg.JobID, err); failErr != nil {
			return fmt.Errorf("%w; mark failed status: %v", err, failErr)
		}
		return err
	}

	if err := uc.store.UpdateStatus(ctx, msg.JobID, domain.JobFinished); err != nil {
		return fmt.Errorf("set status=finished: %w", err)
	}
	return nil
}

func (uc *ProcessJobUseCase) run(ctx context.Context, msg domain.JobMessage) (*domain.JobResult, error) {
	job := jobFromMessage(msg)

	if strings.Contains(strings.ToLower(job.Input), "please fail") {
		return nil, domain.WrapError(domain.ErrInternalStage, "process job", errors.New("forced failure for testing"))
	}

	decision, chosen := ResolveRoute(job.RouteRequest, job.Input, job.InputType)
	job.RouteHint = decision
	job.ChosenRoute = chosen

	executor, ok := uc.routes[chosen]
	if !ok {
		return nil, domain.WrapError(domain.ErrValidation, "process job", fmt.Errorf("no executor for route %q", chosen))
	}

	result, err := executor.Execute(ctx, job)
	if err != nil {
		return nil, err
	}

	result.OK = true
	result.JobID = job.ID
	result.RouteRequest = job.RouteRequest
	result.ChosenRoute = job.ChosenRoute
	result.RouteHint = job.RouteHint
	result.InputType = job.InputType
	result.Stages = job.Stages
	result.Error = nil
	return result, nil
}

// ResolveRoute returns the route hint and the route that will run. Image and
// pdf inputs submitted with route=auto always go to ocr.
func ResolveRoute(request domain.Route, input string, inputType domain.InputType) (domain.RouteDecision, domain.Route) {
	if request != domain.RouteAuto && request != "" {
		return domain.ForcedRoute(request), request
	}
	decision := DecideRoute(input)
	if inputType == domain.InputImage || inputType == domain.InputPDF {
		return decision, domain.RouteOCR
	}
	return decision, decision.Route
}

func (uc *ProcessJobUseCase) markFailed(ctx context.Context, jobID string, processErr error) error {
	if processErr == nil {
		return nil
	}
	if err := uc.store.SaveError(ctx, jobID, processErr.Error()); err != nil {
		return fmt.Errorf("save error: %w", err)
	}
	return uc.store.UpdateStatus(ctx, jobID, domain.JobFailed)
}

func jobFromMessage(msg domain.JobMessage) *domain.Job {
	inputType := msg.InputType
	if inputType == "" {
		inputType = domain.InferInputType(msg.Input)
	}
	route := msg.RouteRequest
	if route == "" {
		route = domain.RouteAuto
	}
	now := time.Now().UTC()
	return &domain.Job{
		ID:           msg.JobID,
		Status:       domain.JobStarted,
		Input:        msg.Input,
		InputType:    inputType,
		RouteRequest: route,
		CreatedAt:    msg.EnqueuedAt,
		UpdatedAt:    now,
	}
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
