package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"infrasense-backend/internal/alerting"
	"infrasense-backend/internal/api"
	"infrasense-backend/internal/config"
	"infrasense-backend/internal/fanout"
	"infrasense-backend/internal/pipeline"
	"infrasense-backend/internal/storage"
	"infrasense-backend/internal/sweeper"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	port := getenv("PORT", "8080")

	cfg, err := config.Load(getenv("CONFIG_PATH", ""))
	if err != nil {
		logger.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	applyEnvOverrides(&cfg)

	ctx := context.Background()
	store, err := storage.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to db", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer store.Close()
	repo := storage.NewRepository(store)

	publisher := buildPublisher(logger, cfg)
	publisher.Start(ctx)

	dedup := alerting.NewDeduplicator(repo, cfg.DedupWindow())
	gateway := pipeline.NewGateway(logger, repo, repo, dedup, publisher, cfg.ItemTimeout())
	sw := sweeper.New(logger, repo, dedup, publisher)

	handler := &api.Handler{
		Gateway:          gateway,
		Sweeper:          sw,
		OfflineThreshold: cfg.OfflineThreshold(),
		Timeout:          5 * time.Second,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(15 * time.Second))
	handler.RegisterRoutes(r)

	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-shutdown
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		publisher.Stop(shutdownCtx)
	}()

	logger.Info("ingestion server listening", slog.String("port", port))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", slog.String("error", err.Error()))
		return
	}
	// Queued fan-out events still drain after Shutdown returns; wait for it.
	<-shutdownDone
}

// buildPublisher wires the durable Kafka sink and the live NATS sink; either
// one degrades to a noop when unconfigured so a missing broker never blocks
// ingestion in a dev environment.
func buildPublisher(logger *slog.Logger, cfg config.Config) *fanout.Publisher {
	var durable fanout.Sink = fanout.NoopSink{}
	if len(cfg.KafkaBrokers) > 0 {
		sink, err := fanout.NewKafkaSink(cfg.KafkaBrokers, cfg.Topics)
		if err != nil {
			logger.Error("kafka sink disabled", slog.String("error", err.Error()))
		} else {
			durable = sink
		}
	}
	var live fanout.Sink = fanout.NoopSink{}
	if cfg.NatsURL != "" {
		sink, err := fanout.NewNatsSink(cfg.NatsURL)
		if err != nil {
			logger.Error("nats sink disabled", slog.String("error", err.Error()))
		} else {
			live = sink
		}
	}
	return fanout.NewPublisher(logger, durable, live, cfg.FanoutQueueSize, cfg.FanoutShards)
}

func applyEnvOverrides(cfg *config.Config) {
	cfg.DatabaseURL = getenv("DATABASE_URL", cfg.DatabaseURL)
	cfg.NatsURL = getenv("NATS_URL", cfg.NatsURL)
	if brokers := splitCSV(os.Getenv("KAFKA_BROKERS")); len(brokers) > 0 {
		cfg.KafkaBrokers = brokers
	}
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
