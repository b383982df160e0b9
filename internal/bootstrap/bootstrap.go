package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/idp-pipeline/internal/config"
	"github.com/kirillkom/idp-pipeline/internal/core/domain"
	"github.com/kirillkom/idp-pipeline/internal/core/ports"
	"github.com/kirillkom/idp-pipeline/internal/core/usecase"
	"github.com/kirillkom/idp-pipeline/internal/infrastructure/chunking"
	"github.com/kirillkom/idp-pipeline/internal/infrastructure/extractor/imageocr"
	"github.com/kirillkom/idp-pipeline/internal/infrastructure/extractor/pdftext"
	"github.com/kirillkom/idp-pipeline/internal/infrastructure/jobstore/redis"
	"github.com/kirillkom/idp-pipeline/internal/infrastructure/keyword/bleveidx"
	"github.com/kirillkom/idp-pipeline/internal/infrastructure/keyword/sqlitefts"
	"github.com/kirillkom/idp-pipeline/internal/infrastructure/llm/embedcache"
	"github.com/kirillkom/idp-pipeline/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/idp-pipeline/internal/infrastructure/modelapi"
	"github.com/kirillkom/idp-pipeline/internal/infrastructure/queue/nats"
	"github.com/kirillkom/idp-pipeline/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/idp-pipeline/internal/infrastructure/rerank"
	"github.com/kirillkom/idp-pipeline/internal/infrastructure/resilience"
	"github.com/kirillkom/idp-pipeline/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/idp-pipeline/internal/infrastructure/vector/qdrant"
)

// Options carries process-specific hooks into the wiring.
type Options struct {
	// OnRetry observes every retry taken by the shared and job executors.
	OnRetry func(operation string, attempt int, err error)
}

type App struct {
	Config config.Config

	Queue ports.JobQueue
	Store ports.JobStore

	Jobs      *usecase.SubmitJobUseCase
	Processor ports.JobProcessor
	Search    ports.SearchService
	Answer    ports.AnswerService
	Reindex   ports.KeywordReindexer

	// JobRetry reruns a whole job attempt on retryable failures.
	JobRetry *resilience.Executor

	closers []func() error
}

func New(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	app := &App{Config: cfg}
	ready := false
	defer func() {
		if !ready {
			app.Close()
		}
	}()

	sharedCfg := resilience.DefaultConfig()
	sharedCfg.OnRetry = opts.OnRetry
	executor := resilience.NewExecutor(sharedCfg)

	store, err := app.openJobStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	app.Store = store

	storage, err := localfs.New(cfg.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("init object storage: %w", err)
	}

	queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{ResilienceExecutor: executor})
	if err != nil {
		return nil, fmt.Errorf("init message queue: %w", err)
	}
	app.closers = append(app.closers, func() error { queue.Close(); return nil })
	app.Queue = queue

	keywords, err := app.openKeywordIndex(ctx, cfg)
	if err != nil {
		return nil, err
	}

	ollamaClient := ollama.NewWithOptions(cfg.OllamaURL, cfg.OllamaGenModel, cfg.OllamaEmbedModel, ollama.Options{
		ResilienceExecutor: executor,
	})
	embedder := embedcache.New(ollama.NewEmbedder(ollamaClient), cfg.OllamaEmbedModel, cfg.EmbedCacheSize)
	generator := ollama.NewGenerator(ollamaClient)

	vectors := qdrant.NewWithOptions(cfg.QdrantURL, cfg.QdrantCollection, qdrant.Options{ResilienceExecutor: executor})

	engineTimeout := time.Duration(cfg.EngineTimeoutSec) * time.Second
	images := imageocr.New(imageocr.Config{Binary: cfg.TesseractPath, Lang: cfg.TesseractLang})
	docs := pdftext.New(cfg.PDFMaxPages)
	ocrAPI := modelapi.New(modelAPIConfig(cfg, "ocr-api", cfg.OCRAPIURL, cfg.OCRModel, engineTimeout))
	vlmAPI := modelapi.New(modelAPIConfig(cfg, "vlm-api", cfg.VLMAPIURL, cfg.VLMModel, engineTimeout))

	pipeline := usecase.NewPipelineRoute(usecase.PipelineRouteDeps{
		Images:    images,
		Docs:      docs,
		Generator: vlmAPI,
		Chunker:   chunking.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap),
		Embedder:  embedder,
		Vectors:   vectors,
		Keywords:  keywords,
	}, cfg.PipelineVersion, engineTimeout)

	processor, err := usecase.NewProcessJobUseCase(store, map[domain.Route]usecase.RouteExecutor{
		domain.RouteOCR:      usecase.NewOCRRoute(images, docs, ocrAPI, engineTimeout),
		domain.RouteVLM:      usecase.NewVLMRoute(vlmAPI, engineTimeout),
		domain.RoutePipeline: pipeline,
	})
	if err != nil {
		return nil, fmt.Errorf("init job processor: %w", err)
	}

	var reranker ports.Reranker
	if cfg.RerankURL != "" {
		reranker = rerank.New(cfg.RerankURL)
	}
	search := usecase.NewSearchUseCase(embedder, vectors, keywords, reranker, usecase.SearchDefaults{
		TopK:            cfg.SearchTopK,
		DenseTopK:       cfg.SearchDenseTopK,
		BM25TopK:        cfg.SearchBM25TopK,
		RRFK:            cfg.SearchRRFK,
		RerankTimeoutMS: cfg.RerankTimeoutMS,
		RerankTopN:      cfg.RerankTopN,
	})

	jobRetryCfg := resilience.JobConfig(cfg.WorkerMaxAttempts)
	jobRetryCfg.OnRetry = opts.OnRetry

	app.Jobs = usecase.NewSubmitJobUseCase(store, storage, queue)
	app.Processor = processor
	app.Search = search
	app.Answer = usecase.NewAnswerUseCase(search, generator, time.Duration(cfg.LLMTimeoutSec)*time.Second)
	app.Reindex = usecase.NewReindexUseCase(vectors, keywords, cfg.ReindexBatchSize)
	app.JobRetry = resilience.NewExecutor(jobRetryCfg)

	slog.Info("bootstrap_ready",
		"job_store", cfg.JobStore,
		"keyword_backend", cfg.KeywordBackend,
		"use_real_api", cfg.UseRealAPI,
		"rerank_enabled", reranker != nil,
	)
	ready = true
	return app, nil
}

func (a *App) openJobStore(ctx context.Context, cfg config.Config) (ports.JobStore, error) {
	switch cfg.JobStore {
	case "", "redis":
		client, err := redis.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, fmt.Errorf("open redis job store: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		return redis.New(client, cfg.JobTTL), nil
	case "postgres":
		db, err := postgres.OpenDB(cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		a.closers = append(a.closers, db.Close)
		repo := postgres.NewJobRepository(db)
		if err := repo.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		return repo, nil
	default:
		return nil, fmt.Errorf("unknown JOB_STORE %q", cfg.JobStore)
	}
}

func (a *App) openKeywordIndex(ctx context.Context, cfg config.Config) (ports.KeywordIndex, error) {
	switch cfg.KeywordBackend {
	case "", "sqlite":
		index, err := sqlitefts.Open(ctx, cfg.FTSDBPath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite keyword index: %w", err)
		}
		a.closers = append(a.closers, index.Close)
		return index, nil
	case "bleve":
		index, err := bleveidx.Open(cfg.BleveIndexPath, cfg.BleveLockWait)
		if err != nil {
			return nil, fmt.Errorf("open bleve keyword index: %w", err)
		}
		a.closers = append(a.closers, index.Close)
		return index, nil
	default:
		return nil, fmt.Errorf("unknown KEYWORD_BACKEND %q", cfg.KeywordBackend)
	}
}

// modelAPIConfig leaves the URL empty unless USE_REAL_API is set, which
// makes the client report itself disabled and the routes use local engines.
func modelAPIConfig(cfg config.Config, name, url, model string, timeout time.Duration) modelapi.Config {
	if !cfg.UseRealAPI {
		url = ""
	}
	return modelapi.Config{Name: name, URL: url, Model: model, Timeout: timeout}
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		slog.Warn("bootstrap_close_failed", "error", err)
	}
}
