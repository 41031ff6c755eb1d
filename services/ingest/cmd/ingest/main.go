package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"paperchat/internal/util"
	"paperchat/pkg/ai"
	"paperchat/pkg/queue"
	"paperchat/pkg/storage"
	"paperchat/pkg/store"
	"paperchat/pkg/vectorindex"
	"paperchat/services/ingest/internal/app"
	"paperchat/services/ingest/internal/config"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}

	util.InitLogger(cfg.LogLevel)

	gormStore, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		util.Fatal("failed to open database", "err", err)
	}

	embedder, err := buildEmbedder(cfg)
	if err != nil {
		util.Fatal("failed to init embedder", "err", err)
	}

	index, err := vectorindex.NewPgvectorIndex(gormStore.DB(), embedderDimensions(cfg))
	if err != nil {
		util.Fatal("failed to init vector index", "err", err)
	}

	objects, err := storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
	if err != nil {
		util.Fatal("failed to init object store", "err", err)
	}

	worker, err := app.New(app.Config{
		Store:            gormStore,
		Index:            index,
		Objects:          objects,
		Embedder:         embedder,
		ChunkSize:        cfg.ChunkSize,
		ChunkOverlap:     cfg.ChunkOverlap,
		EmbedBatchSize:   cfg.EmbedBatchSize,
		EmbedConcurrency: cfg.EmbedConcurrency,
	})
	if err != nil {
		util.Fatal("failed to init worker", "err", err)
	}

	jobQueue, err := queue.NewRedisJobQueue(queue.RedisQueueConfig{
		Addr:       cfg.RedisAddr,
		Password:   cfg.RedisPassword,
		Stream:     cfg.QueueStream,
		Group:      cfg.QueueGroup,
		Consumer:   "ingest",
		MaxRetries: cfg.QueueMaxRetries,
	})
	if err != nil {
		util.Fatal("failed to init job queue", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("ingest worker starting", "stream", cfg.QueueStream, "concurrency", cfg.QueueConcurrency)
	jobQueue.Start(ctx, cfg.QueueConcurrency, worker.ProcessJob)

	<-ctx.Done()
	slog.Info("ingest worker stopping")
}

func buildEmbedder(cfg config.FileConfig) (ai.Embedder, error) {
	switch cfg.Provider {
	case "gemini":
		client, err := ai.NewGeminiClient(cfg.GeminiAPIKey)
		if err != nil {
			return nil, err
		}
		return ai.NewGeminiEmbedder(client, cfg.EmbeddingModel), nil
	case "ollama":
		client := ai.NewOllamaClient(cfg.OllamaBaseURL)
		return ai.NewOllamaEmbedder(client, cfg.EmbeddingModel, cfg.EmbeddingDimensions), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

func embedderDimensions(cfg config.FileConfig) int {
	if cfg.EmbeddingDimensions > 0 {
		return cfg.EmbeddingDimensions
	}
	return 768
}
