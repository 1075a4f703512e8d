package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"

	"github.com/climatescope/climate-analytics/analytics"
	"github.com/climatescope/climate-analytics/internal/adapter/httpserver"
	kafkaadapter "github.com/climatescope/climate-analytics/internal/adapter/kafka"
	"github.com/climatescope/climate-analytics/internal/adapter/stationreg"
	"github.com/climatescope/climate-analytics/internal/config"
	"github.com/climatescope/climate-analytics/internal/observability"
	"github.com/climatescope/climate-analytics/internal/pipeline"
	"github.com/climatescope/climate-analytics/internal/scheduler"
	"github.com/climatescope/climate-analytics/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	metrics := observability.NewMetrics()

	core, err := buildCore(cfg)
	if err != nil {
		logger.Error("failed to build analytics core", "error", err)
		os.Exit(1)
	}

	// Station registry enrichment is feature-flagged via config.
	var opts []pipeline.Option
	if cfg.Registry.Enabled {
		registry := stationreg.NewClient(cfg.Registry, logger)
		opts = append(opts, pipeline.WithStationDirectory(registry))
		metrics.RegistryEnabled.Set(1)
		logger.Info("station registry enabled",
			"base_url", cfg.Registry.BaseURL, "cache_size", cfg.Registry.CacheSize)
	} else {
		logger.Info("station registry disabled")
	}

	recordStore := store.New(cfg.Store.MaxRecords, cfg.Store.MaxAge, clockwork.NewRealClock())
	opts = append(opts, pipeline.WithRecordSink(recordStore))

	reader := kafkaadapter.NewReader(cfg.Kafka, logger)
	writer := kafkaadapter.NewWriter(cfg.Kafka, logger)

	aggregator, err := cfg.Sweep.NewAggregator()
	if err != nil {
		logger.Error("failed to build aggregator", "error", err)
		os.Exit(1)
	}
	sweeper := scheduler.New(recordStore, aggregator, writer,
		cfg.Kafka.SummariesTopic, cfg.Sweep.Interval, logger, metrics)

	topics := pipeline.Topics{Enriched: cfg.Kafka.EnrichedTopic, Events: cfg.Kafka.EventsTopic}
	p := pipeline.New(reader, reader, writer, core, topics, logger, metrics, opts...)

	srv := httpserver.NewServer(cfg.HTTP.Addr, p, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start admin server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("admin server error", "error", err)
		}
	}()

	// Start the aggregation sweep.
	if err := sweeper.Start(); err != nil {
		logger.Error("failed to start sweeper", "error", err)
		os.Exit(1)
	}

	// Start the ingestion pipeline.
	go func() {
		if err := p.Run(ctx); err != nil {
			logger.Error("pipeline error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("admin server shutdown error", "error", err)
	}
	sweeper.Stop()
	if err := reader.Close(); err != nil {
		logger.Error("kafka reader close error", "error", err)
	}
	if err := writer.Close(); err != nil {
		logger.Error("kafka writer close error", "error", err)
	}

	logger.Info("shutdown complete")
}

func buildCore(cfg *config.Config) (pipeline.Core, error) {
	normalizer, err := analytics.NewNormalizer(analytics.DefaultFieldMapping())
	if err != nil {
		return pipeline.Core{}, err
	}
	remediator, err := analytics.NewRemediator(analytics.WithDedupe())
	if err != nil {
		return pipeline.Core{}, err
	}
	deriver, err := analytics.NewDeriver(analytics.WithWindow(cfg.Analytics.Window))
	if err != nil {
		return pipeline.Core{}, err
	}
	table, err := cfg.Analytics.ThresholdTable()
	if err != nil {
		return pipeline.Core{}, err
	}
	detector, err := analytics.NewDetector(table)
	if err != nil {
		return pipeline.Core{}, err
	}

	return pipeline.Core{
		Normalizer: normalizer,
		Remediator: remediator,
		Deriver:    deriver,
		Detector:   detector,
	}, nil
}
