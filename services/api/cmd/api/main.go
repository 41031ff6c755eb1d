package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"paperchat/internal/usertoken"
	"paperchat/internal/util"
	"paperchat/pkg/ai"
	"paperchat/pkg/queue"
	"paperchat/pkg/storage"
	"paperchat/pkg/store"
	"paperchat/pkg/vectorindex"
	"paperchat/services/api/internal/app"
	"paperchat/services/api/internal/config"
	"paperchat/services/api/internal/server"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}

	util.InitLogger(cfg.LogLevel)

	trustedProxies, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		util.Fatal("failed to parse trusted proxies", "err", err)
	}

	tokenVerifier, err := usertoken.NewVerifier(usertoken.Config{
		JWKSURL:    cfg.JWKSURL,
		Issuer:     cfg.JWTIssuer,
		Audience:   cfg.JWTAudience,
		HTTPClient: &http.Client{Timeout: 5 * time.Second},
	})
	if err != nil {
		util.Fatal("failed to init jwks verifier", "err", err)
	}

	gormStore, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		util.Fatal("failed to open database", "err", err)
	}

	embedder, generator, streamer, err := buildProviders(cfg)
	if err != nil {
		util.Fatal("failed to init ai providers", "err", err)
	}

	index, err := vectorindex.NewPgvectorIndex(gormStore.DB(), embedderDimensions(cfg))
	if err != nil {
		util.Fatal("failed to init vector index", "err", err)
	}

	objects, err := storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
	if err != nil {
		util.Fatal("failed to init object store", "err", err)
	}

	ingestQueue, err := queue.NewRedisJobQueue(queue.RedisQueueConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		Stream:   cfg.QueueStream,
		Group:    cfg.QueueGroup,
		Consumer: "api",
	})
	if err != nil {
		util.Fatal("failed to init ingest queue", "err", err)
	}

	appCore, err := app.New(app.Config{
		Store:        gormStore,
		Index:        index,
		Objects:      objects,
		Queue:        ingestQueue,
		Embedder:     embedder,
		Generator:    generator,
		Streamer:     streamer,
		TopK:         cfg.TopK,
		HistoryLimit: cfg.HistoryLimit,
	})
	if err != nil {
		util.Fatal("failed to init app", "err", err)
	}

	httpServer, err := server.New(server.Config{
		App:                    appCore,
		TokenVerifier:          tokenVerifier,
		RedisAddr:              cfg.RedisAddr,
		RedisPassword:          cfg.RedisPassword,
		ChatRateLimitPerMinute: cfg.ChatRateLimitPerMinute,
		UploadRateLimitPerHour: cfg.UploadRateLimitPerHour,
		MaxUploadBytes:         cfg.MaxUploadBytes,
		AllowedExtensions:      cfg.AllowedExtensions,
		TrustedProxies:         trustedProxies,
	})
	if err != nil {
		util.Fatal("failed to init http server", "err", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:        addr,
		Handler:     httpServer.Router(),
		ReadTimeout: 15 * time.Second,
		// Chat answers stream for the lifetime of the model call.
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("api server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "err", err)
	}
}

// buildProviders assembles the embedding and generation clients for the
// configured provider. The openai provider covers generation only, so
// embeddings fall back to Gemini or Ollama depending on what is configured.
func buildProviders(cfg config.FileConfig) (ai.Embedder, ai.TextGenerator, ai.StreamGenerator, error) {
	switch cfg.Provider {
	case "gemini":
		client, err := ai.NewGeminiClient(cfg.GeminiAPIKey)
		if err != nil {
			return nil, nil, nil, err
		}
		gen := ai.NewGeminiGenerator(client, cfg.GenerationModel)
		return ai.NewGeminiEmbedder(client, cfg.EmbeddingModel), gen, gen, nil
	case "ollama":
		client := ai.NewOllamaClient(cfg.OllamaBaseURL)
		gen := ai.NewOllamaGenerator(client, cfg.GenerationModel)
		return ai.NewOllamaEmbedder(client, cfg.EmbeddingModel, cfg.EmbeddingDimensions), gen, gen, nil
	case "openai":
		gen := ai.NewOpenAICompatGenerator(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.GenerationModel)
		if cfg.GeminiAPIKey != "" {
			client, err := ai.NewGeminiClient(cfg.GeminiAPIKey)
			if err != nil {
				return nil, nil, nil, err
			}
			return ai.NewGeminiEmbedder(client, cfg.EmbeddingModel), gen, gen, nil
		}
		client := ai.NewOllamaClient(cfg.OllamaBaseURL)
		return ai.NewOllamaEmbedder(client, cfg.EmbeddingModel, cfg.EmbeddingDimensions), gen, gen, nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

// embedderDimensions reports the vector width the index must match.
// Gemini embeddings are fixed at 768 unless configured otherwise.
func embedderDimensions(cfg config.FileConfig) int {
	if cfg.EmbeddingDimensions > 0 {
		return cfg.EmbeddingDimensions
	}
	return 768
}
