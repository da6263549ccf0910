package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/kailas-cloud/agentdex/internal/config"
	"github.com/kailas-cloud/agentdex/internal/db/postgres"
	"github.com/kailas-cloud/agentdex/internal/db/rediscache"
	"github.com/kailas-cloud/agentdex/internal/db/sqlite"
	"github.com/kailas-cloud/agentdex/internal/domain"
	"github.com/kailas-cloud/agentdex/internal/domain/document"
	logpkg "github.com/kailas-cloud/agentdex/internal/logger"
	"github.com/kailas-cloud/agentdex/internal/metrics"
	"github.com/kailas-cloud/agentdex/internal/repository/embcache"
	chiTransport "github.com/kailas-cloud/agentdex/internal/transport/chi"
	openaiEmb "github.com/kailas-cloud/agentdex/internal/transport/openai"
	"github.com/kailas-cloud/agentdex/internal/version"

	diagnosticuc "github.com/kailas-cloud/agentdex/internal/usecase/diagnostic"
	healthuc "github.com/kailas-cloud/agentdex/internal/usecase/health"
	migrationuc "github.com/kailas-cloud/agentdex/internal/usecase/migration"
	queryuc "github.com/kailas-cloud/agentdex/internal/usecase/query"
)

// documentStore is the store surface main needs, satisfied by both drivers.
type documentStore interface {
	FetchAll(ctx context.Context, agentName string) ([]document.Document, error)
	UpdateEmbedding(ctx context.Context, id string, vector []float32, modelVersion string) error
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	WaitForReady(ctx context.Context, timeout time.Duration) error
	Close() error
}

func main() {
	// Load configuration based on ENV
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.New(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting agentdex API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("db_driver", cfg.Database.Driver),
	)

	// Create document store based on driver
	var (
		store  documentStore
		native queryuc.NativeSearcher
	)
	switch cfg.Database.Driver {
	case "postgres":
		pg, pgErr := postgres.New(cfg.Database.DSN, cfg.Embedding.Dimensions)
		if pgErr != nil {
			logger.Fatal("Failed to create document store", zap.Error(pgErr))
		}
		store = pg
		native = pg
	case "sqlite":
		store, err = sqlite.New(cfg.Database.DSN)
		if err != nil {
			logger.Fatal("Failed to create document store", zap.Error(err))
		}
	default:
		logger.Fatal("Unknown database driver", zap.String("driver", cfg.Database.Driver))
	}
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	if err := store.WaitForReady(ctx, time.Duration(cfg.Database.ReadinessTimeout)*time.Second); err != nil {
		logger.Fatal("Document store not ready", zap.Error(err))
	}
	if err := store.Migrate(ctx); err != nil {
		logger.Fatal("Failed to migrate schema", zap.Error(err))
	}
	logger.Info("Connected to document store")

	// Register embedding metrics explicitly (no init())
	metrics.RegisterEmbeddingMetrics()

	// Optional embedding cache
	var cache *rediscache.Client
	if len(cfg.Cache.Addrs) > 0 {
		cache, err = rediscache.New(rediscache.Config{
			Addrs:    cfg.Cache.Addrs,
			Username: cfg.Cache.Username,
			Password: cfg.Cache.Password,
			DB:       cfg.Cache.DB,
		})
		if err != nil {
			logger.Fatal("Failed to create embedding cache", zap.Error(err))
		}
		defer cache.Close()
		logger.Info("Embedding cache enabled", zap.Strings("addrs", cfg.Cache.Addrs))
	}

	// Build embedder chain — composition root
	base := openaiEmb.NewEmbedder(&openaiEmb.Config{
		APIKey:     cfg.Embedding.APIKey,
		BaseURL:    cfg.Embedding.BaseURL,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
		Provider:   cfg.Embedding.Provider,
		Logger:     logger,
	})
	var embedder domain.Embedder = base
	if cache != nil {
		embedder = embcache.New(base, cache, metrics.EmbeddingCacheTotal, logger)
	}
	logger.Info("Embedder created",
		zap.String("provider", cfg.Embedding.Provider),
		zap.String("model", cfg.Embedding.Model),
		zap.Int("dimensions", cfg.Embedding.Dimensions),
	)

	// Create use case services
	querySvc := queryuc.New(store, cfg.Embedding.Dimensions)
	if native != nil {
		querySvc = querySvc.WithNative(native)
	}

	migrationSvc := migrationuc.New(store, embedder, cfg.Embedding.Dimensions, migrationuc.Config{
		CallTimeout:     time.Duration(cfg.Migration.CallTimeoutSec) * time.Second,
		MaxRetries:      cfg.Migration.MaxRetries,
		RetryBaseDelay:  time.Duration(cfg.Migration.RetryDelayMs) * time.Millisecond,
		ReportInterval:  cfg.Migration.ReportInterval,
		DefaultThrottle: time.Duration(cfg.Migration.ThrottleMs) * time.Millisecond,
	}, logger)

	diagnosticSvc := diagnosticuc.New(store, cfg.Embedding.Dimensions, 0, logger)

	var cachePinger healthuc.CachePinger
	if cache != nil {
		cachePinger = cache
	}
	healthSvc := healthuc.New(store, cachePinger, base)

	// Create chi server
	server := chiTransport.NewServer(
		querySvc, migrationSvc, diagnosticSvc, healthSvc,
		chiTransport.QueryLimits{
			DefaultTopK: cfg.Query.DefaultTopK,
			MaxTopK:     cfg.Query.MaxTopK,
		},
		logger,
	)

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(chiTransport.BearerAuthMiddleware(cfg.Auth.APIKeys))
	r.Use(metrics.Middleware())
	server.Routes(r)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}

// jsonRecoverer is a recovery middleware that returns JSON instead of a plain text stacktrace.
func jsonRecoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rvr),
						zap.Stack("stacktrace"),
					)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(map[string]string{
						"code":    "internal_error",
						"message": "internal error",
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// wideEventMiddleware emits a canonical log line per request and propagates X-Request-ID.
func wideEventMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			requestID := chiMiddleware.GetReqID(r.Context())
			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			reqLogger := logger.With(zap.String("request_id", requestID))
			ctx := logpkg.ContextWithLogger(r.Context(), reqLogger)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			// Canonical log line — one line per request
			reqLogger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", r.RemoteAddr),
				zap.Int64("content_length", r.ContentLength),
				zap.String("user_agent", r.UserAgent()),
				zap.Int("response_bytes", ww.BytesWritten()),
			)
		})
	}
}
