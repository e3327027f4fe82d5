package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpadapter "github.com/couchcryptid/av-incident-etl/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/av-incident-etl/internal/adapter/kafka"
	"github.com/couchcryptid/av-incident-etl/internal/adapter/mapbox"
	"github.com/couchcryptid/av-incident-etl/internal/adapter/memory"
	"github.com/couchcryptid/av-incident-etl/internal/adapter/postgres"
	"github.com/couchcryptid/av-incident-etl/internal/adapter/sgo"
	"github.com/couchcryptid/av-incident-etl/internal/config"
	"github.com/couchcryptid/av-incident-etl/internal/domain"
	"github.com/couchcryptid/av-incident-etl/internal/geocode"
	"github.com/couchcryptid/av-incident-etl/internal/observability"
	"github.com/couchcryptid/av-incident-etl/internal/pipeline"
)

// incidentSink is what the syncer needs from a store.
type incidentSink interface {
	domain.IncidentStore
	domain.SyncLogAppender
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Storage: Postgres when DATABASE_URL is set, otherwise an in-memory dry run.
	var store incidentSink
	readiness := httpadapter.Readiness{}
	if cfg.DatabaseURL != "" {
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConns)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		pgStore := postgres.NewStore(pool, logger)
		store = pgStore
		readiness = append(readiness, pgStore)
	} else {
		store = memory.NewStore()
	}
	logger.Info("incident store configured", "store", cfg.StoreKind())

	// Geocoder (feature-flagged via MAPBOX_ENABLED / MAPBOX_TOKEN).
	var provider geocode.Provider
	if cfg.MapboxEnabled {
		provider = mapbox.NewClient(cfg.MapboxToken, cfg.MapboxTimeout, cfg.MapboxRateLimit, logger)
		metrics.GeocodeEnabled.Set(1)
		logger.Info("mapbox geocoding enabled",
			"cache_size", cfg.MapboxCacheSize,
			"timeout", cfg.MapboxTimeout,
			"rate_limit", cfg.MapboxRateLimit,
		)
	} else {
		logger.Info("mapbox geocoding disabled, locations fall back to state centers")
	}
	resolver := geocode.NewResolver(provider, logger, metrics, geocode.Options{
		CacheSize:        cfg.MapboxCacheSize,
		PrewarmBatchSize: cfg.GeocodeBatchSize,
		PrewarmDelay:     cfg.GeocodeBatchDelay,
	})

	// Optional downstream events.
	var publisher *kafkaadapter.Publisher
	opts := pipeline.Options{
		Datasets:        cfg.Datasets(),
		RecordBatchSize: cfg.GeocodeRecordBatch,
		Interval:        cfg.SyncInterval,
		Since:           cfg.SyncSince,
		FetchRetries:    2,
		FetchBackoff:    2 * time.Second,
	}
	if cfg.KafkaEnabled {
		publisher = kafkaadapter.NewPublisher(cfg, logger)
		opts.Publisher = publisher
		logger.Info("incident events enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}

	fetcher := sgo.NewFetcher(cfg.FetchTimeout, logger)
	writer := pipeline.NewWriter(store, cfg.BatchSize, logger, metrics)
	syncer := pipeline.New(fetcher, resolver, writer, store, logger, metrics, opts)

	readiness = append(readiness, syncer)
	srv := httpadapter.NewServer(cfg.HTTPAddr, readiness, syncer, logger)

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Run the sync loop. With SYNC_INTERVAL=0 it returns after one run and
	// the service exits.
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := syncer.Run(ctx); err != nil {
			logger.Error("sync loop error", "error", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case <-done:
		logger.Info("sync finished, shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	stop()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.Warn("sync run did not stop before shutdown timeout")
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if publisher != nil {
		if err := publisher.Close(); err != nil {
			logger.Error("kafka publisher close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}
