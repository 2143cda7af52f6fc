package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"infrasense-backend/internal/alerting"
	"infrasense-backend/internal/config"
	"infrasense-backend/internal/fanout"
	"infrasense-backend/internal/storage"
	"infrasense-backend/internal/sweeper"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load(getenv("CONFIG_PATH", ""))
	if err != nil {
		logger.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	cfg.DatabaseURL = getenv("DATABASE_URL", cfg.DatabaseURL)
	cfg.NatsURL = getenv("NATS_URL", cfg.NatsURL)
	if brokers := splitCSV(os.Getenv("KAFKA_BROKERS")); len(brokers) > 0 {
		cfg.KafkaBrokers = brokers
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := storage.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to db", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer store.Close()
	repo := storage.NewRepository(store)

	var durable fanout.Sink = fanout.NoopSink{}
	if len(cfg.KafkaBrokers) > 0 {
		if sink, err := fanout.NewKafkaSink(cfg.KafkaBrokers, cfg.Topics); err == nil {
			durable = sink
		} else {
			logger.Error("kafka sink disabled", slog.String("error", err.Error()))
		}
	}
	var live fanout.Sink = fanout.NoopSink{}
	if cfg.NatsURL != "" {
		if sink, err := fanout.NewNatsSink(cfg.NatsURL); err == nil {
			live = sink
		} else {
			logger.Error("nats sink disabled", slog.String("error", err.Error()))
		}
	}
	publisher := fanout.NewPublisher(logger, durable, live, cfg.FanoutQueueSize, cfg.FanoutShards)
	publisher.Start(ctx)

	dedup := alerting.NewDeduplicator(repo, cfg.DedupWindow())
	sw := sweeper.New(logger, repo, dedup, publisher)

	go sw.Run(ctx, cfg.SweepInterval(), cfg.OfflineThreshold())
	logger.Info("liveness sweeper running",
		slog.Int("intervalSeconds", cfg.SweepIntervalSeconds),
		slog.Int("offlineThresholdSeconds", cfg.OfflineThresholdSeconds))

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	<-shutdown
	cancel()
	publisher.Stop(context.Background())
}

func getenv(key, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	results := []string{}
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		results = append(results, trimmed)
	}
	return results
}
