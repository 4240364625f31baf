// Command searcher serves model search over HTTP.
//
// It loads the catalog from catalog.dataDir, builds the in-memory index and
// answers queries at GET /api/v1/search. Redis caching, Kafka analytics and
// Kafka-triggered catalog reloads are enabled through configuration.
//
// Usage:
//
//	go run ./cmd/searcher [-config configs/development.yaml]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OpenModelDB/model-search/internal/analytics"
	"github.com/OpenModelDB/model-search/internal/catalog"
	"github.com/OpenModelDB/model-search/internal/searcher"
	"github.com/OpenModelDB/model-search/internal/searcher/cache"
	"github.com/OpenModelDB/model-search/internal/searcher/handler"
	"github.com/OpenModelDB/model-search/pkg/config"
	"github.com/OpenModelDB/model-search/pkg/health"
	"github.com/OpenModelDB/model-search/pkg/kafka"
	"github.com/OpenModelDB/model-search/pkg/logger"
	"github.com/OpenModelDB/model-search/pkg/metrics"
	"github.com/OpenModelDB/model-search/pkg/middleware"
	"github.com/OpenModelDB/model-search/pkg/ratelimit"
	pkgredis "github.com/OpenModelDB/model-search/pkg/redis"
	"github.com/OpenModelDB/model-search/pkg/resilience"
)

func main() {
	configPath := flag.String("config", "", "path to config file (defaults and MS_* variables only if empty)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting search service", "port", cfg.Server.Port, "data_dir", cfg.Catalog.DataDir)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(nil)
	w := cfg.Catalog.Weights
	svc := searcher.NewService(searcher.Options{
		DataDir:      cfg.Catalog.DataDir,
		Weights:      catalog.Weights{Name: w.Name, Author: w.Author, Architecture: w.Architecture, Description: w.Description},
		PrefixWeight: cfg.Search.PrefixWeight,
		Metrics:      m,
	})
	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port, svc.Version)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdownMetrics(shutdownCtx)
		}()
	}

	reloadRetry := resilience.RetryConfig{
		MaxAttempts:  cfg.Catalog.ReloadRetry.MaxAttempts,
		InitialDelay: cfg.Catalog.ReloadRetry.InitialDelay,
		MaxDelay:     cfg.Catalog.ReloadRetry.MaxDelay,
	}
	if err := resilience.Retry(ctx, "initial-catalog-load", reloadRetry, func() error {
		_, err := svc.Reload(ctx)
		return err
	}); err != nil {
		slog.Error("failed to load catalog", "error", err)
		os.Exit(1)
	}

	checker := health.NewChecker()
	checker.Register("search_index", health.PingCheck(svc.Ready, true))

	var queryCache *cache.QueryCache
	if cfg.Redis.Enabled {
		redisClient, err := pkgredis.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, search caching disabled", "error", err)
		} else {
			defer redisClient.Close()
			queryCache = cache.New(redisClient, cfg.Redis.CacheTTL, m)
			checker.Register("redis", health.PingCheck(redisClient.Ping, false))
			slog.Info("search cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}

	var tracker handler.Tracker
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.AnalyticsEvents)
		defer producer.Close()
		collector := analytics.NewCollector(producer, analytics.CollectorOptions{
			BufferSize: cfg.Analytics.BufferSize,
			Metrics:    m,
		})
		collector.Start(ctx)
		defer collector.Close()
		tracker = collector
		onReload := func(snap *searcher.Snapshot, err error) {
			event := analytics.CatalogEvent{Type: analytics.EventCatalogReload, Status: "failed", Timestamp: time.Now().UTC()}
			if err == nil {
				event.Status = "success"
				event.Version = snap.Version
				event.Models = snap.Index.Len()
				event.Problems = snap.Problems
			}
			collector.Track(event)
		}
		slog.Info("analytics collector started", "topic", cfg.Kafka.Topics.AnalyticsEvents)

		watcher := searcher.NewWatcher(svc, searcher.WatcherOptions{
			Retry:    reloadRetry,
			Timeout:  time.Minute,
			OnReload: onReload,
		})
		consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.CatalogUpdated, watcher.Handler(), kafka.Broadcast())
		go func() {
			if err := consumer.Start(ctx); err != nil {
				slog.Error("catalog watcher stopped", "error", err)
			}
		}()
		slog.Info("catalog watcher started", "topic", cfg.Kafka.Topics.CatalogUpdated, "group", consumer.GroupID())
	}

	opts := handler.Options{
		DefaultLimit: cfg.Search.DefaultLimit,
		MaxResults:   cfg.Search.MaxResults,
		Tracker:      tracker,
		Metrics:      m,
	}
	if queryCache != nil {
		opts.Cache = queryCache
	}
	h := handler.New(svc, opts)

	mux := http.NewServeMux()
	h.Register(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	mws := []func(http.Handler) http.Handler{
		middleware.RequestID,
		middleware.CORS(middleware.DefaultCORSConfig(cfg.Server.CORSOrigins...)),
		middleware.Metrics(m),
	}
	if cfg.Server.RateLimit > 0 {
		limiter := ratelimit.New(cfg.Server.RateLimit, time.Minute)
		defer limiter.Stop()
		mws = append(mws, middleware.RateLimit(limiter))
	}
	mws = append(mws, middleware.Timeout(cfg.Server.WriteTimeout))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      middleware.Chain(mux, mws...),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("search service listening", "addr", server.Addr, "catalog_version", svc.Version())
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("search service stopped")
}
