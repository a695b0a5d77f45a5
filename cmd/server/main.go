package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/connexus-ai/ragbox-backend/internal/cache"
	"github.com/connexus-ai/ragbox-backend/internal/config"
	"github.com/connexus-ai/ragbox-backend/internal/gcpclient"
	"github.com/connexus-ai/ragbox-backend/internal/handler"
	"github.com/connexus-ai/ragbox-backend/internal/middleware"
	"github.com/connexus-ai/ragbox-backend/internal/model"
	"github.com/connexus-ai/ragbox-backend/internal/repository"
	"github.com/connexus-ai/ragbox-backend/internal/router"
	"github.com/connexus-ai/ragbox-backend/internal/service"
	"github.com/connexus-ai/ragbox-backend/internal/vectorindex"
)

const Version = "0.2.0"

// ingestSource and ingestTags are the corpus metadata every ingested chunk
// carries in the VectorIndex until per-request attribution is needed.
const ingestSource = "manual-upload"

var ingestTags = []string{}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("cmd/server: %w", err)
	}

	pool, err := repository.NewPool(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConns)
	if err != nil {
		return fmt.Errorf("cmd/server: connect database: %w", err)
	}
	defer pool.Close()

	genaiClient, err := gcpclient.NewGenAIAdapter(ctx, cfg.GCPProject, cfg.VertexAILocation, cfg.VertexAIModel, cfg.VertexAIFallbackModel)
	if err != nil {
		return fmt.Errorf("cmd/server: init genai client: %w", err)
	}
	defer genaiClient.Close()

	var docEmbedder service.DocumentEmbedder
	var queryEmbedder service.QueryEmbedder
	embeddingClient, err := gcpclient.NewEmbeddingAdapter(ctx, cfg.GCPProject, cfg.EmbeddingLocation, cfg.EmbeddingModel)
	if err != nil {
		slog.Warn("cmd/server: embedding client unavailable, embed calls will fail with EmbeddingUnavailable", "error", err)
	} else {
		docEmbedder, queryEmbedder = embeddingClient, embeddingClient
	}

	docAIClient, err := gcpclient.NewDocumentAIAdapter(ctx, cfg.GCPProject, cfg.VertexAILocation)
	if err != nil {
		slog.Warn("cmd/server: document AI adapter unavailable, PDF ingestion via upload disabled", "error", err)
	}

	storageClient, err := gcpclient.NewStorageAdapter(ctx)
	if err != nil {
		slog.Warn("cmd/server: storage adapter unavailable, binary-upload ingestion disabled", "error", err)
	}

	chunkRepo := repository.NewChunkRepo(pool)
	docRepo := repository.NewDocumentRepo(pool)
	ledgerRepo := repository.NewLedgerRepo(pool)

	embedder := service.NewEmbeddingProvider(docEmbedder, queryEmbedder, chunkRepo, cfg.EmbeddingDims, cfg.EmbeddingCacheSize)

	index, err := vectorindex.New(embedder, cfg.PineconeAPIKey, cfg.PineconeIndex, "", slog.Default())
	if err != nil {
		return fmt.Errorf("cmd/server: init vector index: %w", err)
	}

	keywords := service.NewKeywordExtractor()
	retriever := service.NewHybridRetriever(index, keywords, ledgerRepo)
	multiHop := service.NewMultiHopController(retriever, ledgerRepo, genaiClient)
	feedbackLedger := service.NewFeedbackLedger(ledgerRepo, embedder, index)
	memory := cache.NewConversationMemory[model.ConversationEntry](cfg.ConversationWindow)

	reg := prometheus.NewRegistry()
	metrics := middleware.NewMetrics(reg)

	orchestrator := service.NewAnswerOrchestrator(multiHop, memory, genaiClient, feedbackLedger, metrics, cfg.SimilarityThreshold)

	var parser *service.ParserService
	if docAIClient != nil && storageClient != nil {
		parser = service.NewParserService(docAIClient, fmt.Sprintf("projects/%s/locations/%s/processors/default", cfg.GCPProject, cfg.VertexAILocation), storageClient, "")
	} else {
		parser = service.NewParserService(nil, "", nil, "")
	}
	chunker := service.NewChunkerService(cfg.ChunkSizeTokens, float64(cfg.ChunkOverlapPercent)/100)
	indexer := service.NewDocumentIndexer(embedder, index, ingestSource, ingestTags)
	pipeline := service.NewPipelineService(docRepo, parser, chunker, embedder, indexer, "")

	generalLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{MaxRequests: 120, Window: time.Minute})
	chatLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{MaxRequests: 30, Window: time.Minute})

	deps := &router.Dependencies{
		DB:                 pool,
		FrontendURL:        cfg.FrontendURL,
		Version:            Version,
		Metrics:            metrics,
		MetricsReg:         reg,
		InternalAuthSecret: cfg.InternalAuthSecret,

		ChatDeps:     handler.ChatDeps{Orchestrator: orchestrator},
		FeedbackDeps: handler.FeedbackDeps{Ledger: feedbackLedger},
		IngestDeps:   handler.IngestDeps{DocRepo: docRepo, Pipeline: pipeline},
		DebugDeps:    handler.DebugDeps{Ledger: feedbackLedger},
		AdminMigrateDeps: handler.AdminMigrateDeps{
			RunSQL: func(ctx context.Context, sql string) error {
				_, err := pool.Exec(ctx, sql)
				return err
			},
			MigrationsDir:    envOr("MIGRATIONS_DIR", "/migrations"),
			DBOwner:          cfg.DBOwner,
			AdminDatabaseURL: cfg.AdminDatabaseURL,
		},

		GeneralRateLimiter: generalLimiter,
		ChatRateLimiter:    chatLimiter,
	}

	r := router.New(deps)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // chat/stream handlers manage their own deadlines via SSE
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("ragbox-backend starting", "version", Version, "port", cfg.Port, "environment", cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	slog.Info("server stopped")
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
