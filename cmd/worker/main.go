package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kirillkom/idp-pipeline/internal/bootstrap"
	"github.com/kirillkom/idp-pipeline/internal/config"
	"github.com/kirillkom/idp-pipeline/internal/infrastructure/workerpool"
	"github.com/kirillkom/idp-pipeline/internal/observability/logging"
	"github.com/kirillkom/idp-pipeline/internal/observability/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config_load_failed", "error", err)
		os.Exit(1)
	}
	logger := logging.NewJSONLogger(serviceName, cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	workerMetrics := metrics.NewWorkerMetrics(serviceName)
	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{
		OnRetry: func(string, int, error) { workerMetrics.RecordRetry() },
	})
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	pool, err := workerpool.New(cfg.WorkerConcurrency)
	if err != nil {
		logger.Error("worker_pool_init_failed", "error", err)
		os.Exit(1)
	}

	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           workerMetrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("worker_metrics_server_failed", "error", err)
		}
	}()

	runner := &jobRunner{
		pool:      pool,
		processor: app.Processor,
		retry:     app.JobRetry,
		metrics:   workerMetrics,
		logger:    logger,
	}

	logger.Info("worker_subscribed", "subject", cfg.NATSSubject, "concurrency", pool.Cap())
	if err := app.Queue.SubscribeJobs(ctx, runner.handle); err != nil {
		logger.Error("worker_subscribe_failed", "error", err)
	}

	if err := pool.Shutdown(30 * time.Second); err != nil {
		logger.Warn("worker_pool_shutdown", "error", err)
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsServer.Shutdown(shutdownCtx)
}
