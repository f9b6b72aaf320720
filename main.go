package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/intellistream/orchestrator/internal/cache"
	"github.com/intellistream/orchestrator/internal/circuitbreaker"
	"github.com/intellistream/orchestrator/internal/config"
	"github.com/intellistream/orchestrator/internal/connectors"
	"github.com/intellistream/orchestrator/internal/httpapi"
	"github.com/intellistream/orchestrator/internal/llm"
	"github.com/intellistream/orchestrator/internal/persistence"
	"github.com/intellistream/orchestrator/internal/pipeline"
	"github.com/intellistream/orchestrator/internal/retriever"
	"github.com/intellistream/orchestrator/internal/streaming"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	breakers := circuitbreaker.NewRegistry(circuitbreaker.Config{
		MaxRequests:      uint32(cfg.Breaker.SuccessThreshold),
		Cooldown:         cfg.Breaker.Cooldown,
		FailureThreshold: uint32(cfg.Breaker.FailureThreshold),
		SuccessThreshold: uint32(cfg.Breaker.SuccessThreshold),
	}, circuitbreaker.DefaultRetryPolicy(), logger)

	// Cache layer: Redis when configured, in-process LRU otherwise.
	var store cache.Store
	if cfg.Redis.Enabled {
		redisStore, err := cache.NewRedis(cfg.Redis.Addr, breakers, logger)
		if err != nil {
			logger.Warn("redis unavailable, falling back to memory cache", zap.Error(err))
			store = cache.NewMemory(4096)
		} else {
			store = redisStore
		}
	} else {
		store = cache.NewMemory(4096)
	}

	// Connector priority comes from the hot-reloadable policy file.
	policy := config.NewPolicyStore(os.Getenv("POLICY_PATH"), logger)
	if err := policy.Watch(); err != nil {
		logger.Warn("policy watcher unavailable, overrides need a restart", zap.Error(err))
	}
	defer policy.Stop()

	registry := connectors.Build(cfg, policy.Priority, policy.Score, logger)

	embedder := retriever.NewEmbedder(cfg.Retriever.EmbedBaseURL, cfg.LLM.APIKey, cfg.Retriever.EmbedModel,
		store, cfg.Pipeline.EmbeddingCacheTTL, logger)
	vectorStore := retriever.NewVectorStore(cfg.Retriever.VectorBaseURL, cfg.Retriever.Collection)
	registry.Register(
		retriever.New(embedder, vectorStore, cfg.Retriever.VectorWeight, cfg.Retriever.KeywordWeight, cfg.Retriever.PoolSize, logger),
		0, "general", "papers", "web") // baseline coverage on every research route

	llmClient := llm.NewHTTPClient(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.Model,
		cfg.LLM.Timeout, cfg.LLM.MaxTokens, cfg.LLM.Temperature, breakers, logger)

	var persister pipeline.Persister
	if cfg.Persistence.Enabled {
		dbStore, err := persistence.NewStore(cfg.Persistence.DSN, logger)
		if err != nil {
			logger.Warn("persistence unavailable, runs will not be stored", zap.Error(err))
		} else {
			defer dbStore.Close()
			persister = dbStore
		}
	}

	stream := streaming.NewManager(cfg.Server.RingCapacity, cfg.Pipeline.TerminalSendTimeout)

	orch := pipeline.NewOrchestrator(
		pipeline.NewResearch(registry, breakers, store, pipeline.ResearchConfig{
			TopK:             cfg.Pipeline.TopK,
			MinEvidence:      cfg.Pipeline.MinEvidence,
			ConnectorTimeout: cfg.Pipeline.ConnectorTimeout,
			RealtimeScore:    cfg.Pipeline.RealtimeScore,
			CacheTTL:         cfg.Pipeline.SearchCacheTTL,
			RealtimeMinScore: 0.5,
			RealtimeFloor:    0.3,
		}, logger),
		pipeline.NewAnalysis(llmClient, logger),
		pipeline.NewSynthesis(llmClient, logger),
		pipeline.NewReflection(logger),
		pipeline.NewResponse(llmClient, logger),
		stream, persister,
		pipeline.OrchestratorConfig{
			MaxReflectionPasses: cfg.Pipeline.MaxReflectionPasses,
			HistoryTurns:        cfg.Pipeline.HistoryTurns,
			HistoryTurnChars:    cfg.Pipeline.HistoryTurnChars,
			StageTimeout:        cfg.Pipeline.StageTimeout,
			QueryTimeout:        cfg.Pipeline.QueryTimeout,
		},
		logger,
	)

	mux := http.NewServeMux()
	httpapi.NewQueryHandler(orch, stream, logger).RegisterRoutes(mux)
	httpapi.NewStreamingHandler(stream, logger).RegisterRoutes(mux)
	httpapi.NewHealthHandler(breakers).RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("orchestrator listening", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	zc := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
