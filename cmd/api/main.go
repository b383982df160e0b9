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

	httpadapter "github.com/kirillkom/idp-pipeline/internal/adapters/http"
	"github.com/kirillkom/idp-pipeline/internal/bootstrap"
	"github.com/kirillkom/idp-pipeline/internal/config"
	"github.com/kirillkom/idp-pipeline/internal/observability/logging"
	"github.com/kirillkom/idp-pipeline/internal/observability/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config_load_failed", "error", err)
		os.Exit(1)
	}
	logger := logging.NewJSONLogger("api", cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{})
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	router, err := httpadapter.NewRouter(cfg, httpadapter.Services{
		Jobs:    app.Jobs,
		Reader:  app.Jobs,
		Search:  app.Search,
		Answer:  app.Answer,
		Reindex: app.Reindex,
		Metrics: metrics.NewHTTPServerMetrics("api"),
	})
	if err != nil {
		logger.Error("router_init_failed", "error", err)
		os.Exit(1)
	}

	server := &http.Server{
		Addr:         ":" + cfg.APIPort,
		Handler:      router.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("api_listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api_server_failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("api_shutdown_failed", "error", err)
	}
}
