package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/kirillkom/idp-pipeline/internal/core/domain"
	"github.com/kirillkom/idp-pipeline/internal/core/ports"
	"github.com/kirillkom/idp-pipeline/internal/infrastructure/resilience"
	"github.com/kirillkom/idp-pipeline/internal/infrastructure/workerpool"
	"github.com/kirillkom/idp-pipeline/internal/observability/metrics"
)

const (
	serviceName    = "worker"
	jobTimeout     = 5 * time.Minute
	processOpLabel = "job_process"
)

// jobRunner hands queue messages to the pool and runs each one under the
// job retry policy.
type jobRunner struct {
	pool      *workerpool.Pool
	processor ports.JobProcessor
	retry     *resilience.Executor
	metrics   *metrics.WorkerMetrics
	logger    *slog.Logger
}

// handle blocks until a pool worker accepts the message.
func (r *jobRunner) handle(ctx context.Context, msg domain.JobMessage) error {
	return r.pool.Submit(ctx, func(ctx context.Context) {
		r.run(ctx, msg)
	})
}

func (r *jobRunner) run(ctx context.Context, msg domain.JobMessage) {
	started := time.Now()
	r.metrics.StartJob(msg.EnqueuedAt)
	r.logger.Info("job_started", "job_id", msg.JobID, "route_request", msg.RouteRequest, "input_type", msg.InputType)

	jobCtx, cancel := context.WithTimeout(ctx, jobTimeout)
	defer cancel()

	err := r.retry.Execute(jobCtx, processOpLabel, func(attemptCtx context.Context) error {
		return r.processor.Process(attemptCtx, msg)
	}, resilience.ClassifyJobError)

	duration := time.Since(started)
	r.metrics.FinishJob(duration, err)
	if err != nil {
		r.logger.Error("job_failed", "job_id", msg.JobID, "duration_ms", duration.Milliseconds(), "error", err)
		return
	}
	r.logger.Info("job_finished", "job_id", msg.JobID, "duration_ms", duration.Milliseconds())
}
