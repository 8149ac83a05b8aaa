package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lectura/lectura/internal/auth"
	"github.com/lectura/lectura/internal/config"
	"github.com/lectura/lectura/internal/embedder"
	"github.com/lectura/lectura/internal/ingestion"
	"github.com/lectura/lectura/internal/llm"
	"github.com/lectura/lectura/internal/repository"
	"github.com/lectura/lectura/internal/repository/postgres"
	"github.com/lectura/lectura/internal/retrieval"
	"github.com/lectura/lectura/internal/server"
	"github.com/lectura/lectura/internal/service"
	"github.com/lectura/lectura/internal/storage"
	"github.com/lectura/lectura/internal/vectorstore"
)

func main() {
	// Set up structured logging
	logLevel := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("failed to run server", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	slog.Info("starting course material service",
		"http_port", cfg.HTTPPort,
		"environment", cfg.Environment,
	)

	// Initialize PostgreSQL
	db, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()
	slog.Info("connected to PostgreSQL")

	// Initialize repositories
	courseRepo := postgres.NewCourseRepo(db)
	documentRepo := postgres.NewDocumentRepo(db)
	noteRepo := postgres.NewNoteRepo(db)

	// Initialize upload storage
	blobs, err := storage.NewLocal(cfg.UploadDir)
	if err != nil {
		return fmt.Errorf("failed to initialize upload storage: %w", err)
	}

	// Initialize the tenant index registry and reload persisted indices
	documentMetric, err := vectorstore.ParseMetric(cfg.DocumentIndexMetric)
	if err != nil {
		return fmt.Errorf("invalid document index metric: %w", err)
	}
	registry, err := vectorstore.NewRegistry(vectorstore.RegistryConfig{
		Dir:            cfg.IndexDir,
		Basename:       cfg.IndexBasename,
		DocumentMetric: documentMetric,
		Logger:         slog.Default(),
	})
	if err != nil {
		return fmt.Errorf("failed to initialize index registry: %w", err)
	}
	if _, err := registry.DiscoverAndLoadAll(); err != nil {
		return fmt.Errorf("failed to load persisted indices: %w", err)
	}

	// Initialize Ollama embedder and warm it up off the request path
	embed := embedder.NewOllamaEmbedder(embedder.OllamaConfig{
		BaseURL: cfg.OllamaURL,
		Model:   cfg.OllamaEmbeddingModel,
	})
	go func() {
		warmupCtx, warmupCancel := context.WithTimeout(ctx, 2*time.Minute)
		defer warmupCancel()
		if err := embed.Warmup(warmupCtx); err != nil {
			slog.Warn("embedding model warmup failed; retrieval degraded until it recovers",
				"model", cfg.OllamaEmbeddingModel, "error", err)
			return
		}
		slog.Info("embedding model ready",
			"model", cfg.OllamaEmbeddingModel, "dimension", embed.Dimension())
	}()

	// Initialize OpenRouter LLM
	llmClient := llm.NewOpenRouterClient(cfg.OpenRouterAPIKey,
		llm.WithBaseURL(cfg.OpenRouterBaseURL),
		llm.WithModel(cfg.LLMModel),
	)
	slog.Info("initialized OpenRouter LLM", "model", cfg.LLMModel)

	// Initialize services
	pipeline := ingestion.NewPipeline(cfg.ChunkCharBudget)
	retriever := retrieval.NewRetriever(embed, registry)
	documentSvc := service.NewDocumentService(
		courseRepo, documentRepo, blobs, pipeline, embed, registry, slog.Default())
	answerSvc := service.NewAnswerService(
		retriever, llmClient, documentRepo, noteRepo,
		cfg.LLMModel, cfg.LLMTemperature, cfg.DefaultTopK, slog.Default())

	jwtManager := auth.NewJWTManager(&auth.JWTConfig{
		Secret: cfg.JWTSecret,
		Expiry: cfg.JWTExpiry,
		Issuer: "lectura",
	})

	// Create HTTP server
	httpServer := server.NewHTTPServer(server.HTTPServerConfig{
		Port:           cfg.HTTPPort,
		Logger:         slog.Default(),
		AllowedOrigins: []string{"*"}, // Configure in production
		CourseRepo:     courseRepo,
		Documents:      documentSvc,
		Answers:        answerSvc,
		Embedder:       embed,
		JWT:            jwtManager,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.Start(); err != nil {
			errCh <- err
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		slog.Info("received shutdown signal", "signal", sig)
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("failed to shutdown HTTP server", "error", err)
	}

	slog.Info("server stopped")
	return nil
}

// Ensure interfaces are satisfied at compile time
var (
	_ repository.CourseRepository   = (*postgres.CourseRepo)(nil)
	_ repository.DocumentRepository = (*postgres.DocumentRepo)(nil)
	_ repository.NoteRepository     = (*postgres.NoteRepo)(nil)
	_ embedder.Embedder             = (*embedder.OllamaEmbedder)(nil)
	_ llm.LLM                       = (*llm.OpenRouterClient)(nil)
	_ storage.Store                 = (*storage.Local)(nil)
)
