// Command analytics starts the standalone analytics aggregation service.
//
// It consumes search and catalog events from Kafka, aggregates them in
// memory (query volume, latency percentiles, cache hit rate, zero-result
// queries, popular tags, catalog version) and exposes them at
// GET /api/v1/analytics. When PostgreSQL is reachable the aggregate is
// snapshotted every analytics.snapshotInterval and past snapshots are served
// at GET /api/v1/analytics/snapshots.
//
// Usage:
//
//	go run ./cmd/analytics [-config configs/development.yaml]
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

	"github.com/OpenModelDB/model-search/internal/analytics"
	"github.com/OpenModelDB/model-search/internal/analytics/aggregator"
	"github.com/OpenModelDB/model-search/pkg/config"
	"github.com/OpenModelDB/model-search/pkg/health"
	"github.com/OpenModelDB/model-search/pkg/kafka"
	"github.com/OpenModelDB/model-search/pkg/logger"
	"github.com/OpenModelDB/model-search/pkg/metrics"
	"github.com/OpenModelDB/model-search/pkg/middleware"
	"github.com/OpenModelDB/model-search/pkg/postgres"
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
	slog.Info("starting analytics service", "port", cfg.Server.Port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	agg := analytics.NewAggregator()
	consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.AnalyticsEvents, analytics.HandleEvent(agg), kafka.FromFirstOffset())
	go func() {
		if err := consumer.Start(ctx); err != nil {
			slog.Error("analytics consumer error", "error", err)
		}
	}()
	slog.Info("analytics aggregator started", "topic", cfg.Kafka.Topics.AnalyticsEvents, "group", consumer.GroupID())

	checker := health.NewChecker()
	checker.Register("kafka", func(ctx context.Context) health.ComponentHealth {
		return health.ComponentHealth{Status: health.StatusUp, Message: "consumer active"}
	})

	var snapshots analytics.SnapshotLister
	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		slog.Warn("postgres unavailable, analytics snapshots disabled", "error", err)
	} else {
		defer db.Close()
		store := aggregator.NewStore(db)
		if err := store.Migrate(ctx); err != nil {
			slog.Error("failed to migrate analytics schema", "error", err)
			os.Exit(1)
		}
		store.StartPeriodicSave(ctx, agg, cfg.Analytics.SnapshotInterval)
		snapshots = store
		checker.Register("postgres", health.PingCheck(db.Ping, false))
	}

	m := metrics.New(nil)
	mux := http.NewServeMux()
	analytics.NewHandler(agg, snapshots).Register(mux)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      middleware.Chain(mux, middleware.RequestID, middleware.Metrics(m)),
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

	slog.Info("analytics service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("analytics service stopped")
}
