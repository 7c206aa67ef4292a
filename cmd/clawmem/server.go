package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Karsod58/my-clawbot/config"
	"github.com/Karsod58/my-clawbot/internal/cache"
	"github.com/Karsod58/my-clawbot/internal/database"
	"github.com/Karsod58/my-clawbot/internal/metrics"
	"github.com/Karsod58/my-clawbot/internal/telemetry"
	"github.com/Karsod58/my-clawbot/llm/embedding"
	"github.com/Karsod58/my-clawbot/memory"
)

// Server owns the engine and its HTTP surfaces: health and status on the main
// port, prometheus metrics on the metrics port.
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	engine    *memory.Engine
	pool      *database.PoolManager
	vectors   *cache.VectorCache
	providers *telemetry.Providers

	httpServer    *http.Server
	metricsServer *http.Server

	cleanupCancel context.CancelFunc
}

// NewServer wires the engine from configuration. A missing redis or embedding
// provider degrades the semantic tier, never fails startup.
func NewServer(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	providers, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}

	db, err := database.Open(cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	pool, err := database.NewPoolManager(db, database.PoolConfig{
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize pool: %w", err)
	}

	longTerm := memory.NewLongTermStore(db, memory.LongTermStoreConfig{
		Txn: func(ctx context.Context, fn func(tx *gorm.DB) error) error {
			return pool.WithTransactionRetry(ctx, 3, fn)
		},
	}, logger)
	if err := longTerm.AutoMigrate(); err != nil {
		logger.Warn("auto-migrate failed, run clawmem migrate up", zap.Error(err))
	}

	recent := memory.NewRecentBuffer(memory.RecentBufferConfig{
		MaxItems: cfg.Memory.ShortTermMaxItems,
	}, logger)

	backend, vectors := buildSemanticBackend(cfg, logger)
	semantic := memory.NewSemanticIndex(memory.SemanticIndexConfig{
		MinSimilarity: cfg.Semantic.MinSimilarity,
	}, backend, logger)

	collector := metrics.NewCollector("clawmem", prometheus.DefaultRegisterer)

	engine, err := memory.NewEngine(memory.EngineDeps{
		Recent:   recent,
		LongTerm: longTerm,
		Semantic: semantic,
		Metrics:  collector,
	}, memory.EngineConfig{
		ShortTermWindow:            cfg.Memory.ShortTermWindow,
		LongTermWindow:             cfg.Memory.LongTermWindow,
		RAGWindow:                  cfg.Memory.RAGWindow,
		ConsolidationThreshold:     cfg.Memory.ConsolidationThreshold,
		ConsolidationBatch:         cfg.Memory.ConsolidationBatch,
		ConsolidationMinImportance: cfg.Memory.ConsolidationMinImportance,
		TrimRatio:                  cfg.Memory.TrimRatio,
		CleanupInterval:            cfg.Memory.CleanupInterval,
		LongTermCleanup: memory.LongTermCleanupPolicy{
			MaxAgeDays:    cfg.Memory.CleanupMaxAgeDays,
			MinImportance: cfg.Memory.CleanupMinImportance,
			MaxRecords:    cfg.Memory.CleanupMaxRecords,
		},
		SemanticMaxAgeDays: cfg.Semantic.MaxAgeDays,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}

	return &Server{
		cfg:       cfg,
		logger:    logger,
		engine:    engine,
		pool:      pool,
		vectors:   vectors,
		providers: providers,
	}, nil
}

// buildSemanticBackend selects the semantic search backend from config.
// Embedding mode is only used when enabled and keyed; everything else runs
// the substring fallback.
func buildSemanticBackend(cfg *config.Config, logger *zap.Logger) (memory.Backend, *cache.VectorCache) {
	if !cfg.Semantic.EmbeddingEnabled {
		logger.Info("embedding disabled, semantic index running in substring mode")
		return memory.NewSubstringBackend(), nil
	}
	if cfg.Semantic.APIKey == "" {
		logger.Warn("embedding enabled without api key, falling back to substring mode")
		return memory.NewSubstringBackend(), nil
	}

	provider := embedding.NewOpenAIProvider(embedding.OpenAIConfig{
		APIKey:            cfg.Semantic.APIKey,
		BaseURL:           cfg.Semantic.BaseURL,
		Model:             cfg.Semantic.Model,
		Timeout:           cfg.Semantic.Timeout,
		RequestsPerSecond: cfg.Semantic.RequestsPerSecond,
	})

	var vectors *cache.VectorCache
	var vectorCache memory.VectorCache
	if cfg.Redis.Enabled {
		vc, err := cache.NewVectorCache(cache.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
			TTL:      cfg.Redis.TTL,
		}, logger)
		if err != nil {
			logger.Warn("redis unavailable, embedding cache disabled", zap.Error(err))
		} else {
			vectors = vc
			vectorCache = vc
		}
	}

	backend := memory.NewEmbeddingBackend(provider, cfg.Semantic.Model, vectorCache, logger)
	return backend, vectors
}

// Start brings up the HTTP surfaces and the cleanup loop.
func (s *Server) Start() error {
	cleanupCtx, cancel := context.WithCancel(context.Background())
	s.cleanupCancel = cancel
	s.engine.StartCleanupLoop(cleanupCtx)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		Handler:      mux,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	s.metricsServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		Handler: metricsMux,
	}

	go func() {
		s.logger.Info("http server listening", zap.Int("port", s.cfg.Server.HTTPPort))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server failed", zap.Error(err))
		}
	}()
	go func() {
		s.logger.Info("metrics server listening", zap.Int("port", s.cfg.Server.MetricsPort))
		if err := s.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	return nil
}

// WaitForShutdown blocks until SIGINT or SIGTERM, then shuts everything down
// within the configured timeout.
func (s *Server) WaitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	s.logger.Info("shutting down", zap.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	if s.cleanupCancel != nil {
		s.cleanupCancel()
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Warn("http server shutdown failed", zap.Error(err))
	}
	if err := s.metricsServer.Shutdown(ctx); err != nil {
		s.logger.Warn("metrics server shutdown failed", zap.Error(err))
	}
	if s.vectors != nil {
		if err := s.vectors.Close(); err != nil {
			s.logger.Warn("vector cache close failed", zap.Error(err))
		}
	}
	if err := s.pool.Close(); err != nil {
		s.logger.Warn("database pool close failed", zap.Error(err))
	}
	if err := s.providers.Shutdown(ctx); err != nil {
		s.logger.Warn("telemetry shutdown failed", zap.Error(err))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.Server.ReadTimeout)
	defer cancel()

	status := "ok"
	code := http.StatusOK
	if err := s.pool.Ping(ctx); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"status": status})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.engine.Status(r.Context()))
}
