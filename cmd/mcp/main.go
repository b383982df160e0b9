package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	mcpadapter "github.com/kirillkom/idp-pipeline/internal/adapters/mcp"
	"github.com/kirillkom/idp-pipeline/internal/bootstrap"
	"github.com/kirillkom/idp-pipeline/internal/config"
	"github.com/kirillkom/idp-pipeline/internal/observability/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config_load_failed", "error", err)
		os.Exit(1)
	}
	// stdout carries the protocol, so logs go to stderr.
	logger := logging.NewJSONLoggerTo(os.Stderr, "mcp", cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{})
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	server, err := mcpadapter.NewServer(app.Jobs, app.Jobs, app.Search, app.Answer)
	if err != nil {
		logger.Error("mcp_init_failed", "error", err)
		os.Exit(1)
	}
	if err := server.Serve(ctx, os.Stdin, os.Stdout); err != nil {
		logger.Error("mcp_serve_failed", "error", err)
	}
}
