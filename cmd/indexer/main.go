// Command indexer consumes signature events from Kafka and indexes them into
// sharded segment files under indexer.dataDir.
//
// Usage:
//
//	go run ./cmd/indexer [-config configs/development.yaml]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Adithya-Monish-Kumar-K/imgseek/internal/imgseek"
	"github.com/Adithya-Monish-Kumar-K/imgseek/internal/indexer/consumer"
	"github.com/Adithya-Monish-Kumar-K/imgseek/internal/indexer/shard"
	"github.com/Adithya-Monish-Kumar-K/imgseek/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/imgseek/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/imgseek/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/imgseek/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/imgseek/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/imgseek/pkg/resilience"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup("indexer", cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting indexer service", "num_shards", cfg.Indexer.NumShards)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	if cfg.Metrics.Enabled {
		metricsServer := metrics.NewServer("indexer", cfg.Metrics.Port, m)
		metricsServer.Start()
		defer metricsServer.Shutdown(context.Background())
	}

	terms, err := imgseek.FromConfig(cfg.ImgSeek)
	if err != nil {
		slog.Error("invalid imgseek configuration", "error", err)
		os.Exit(1)
	}
	router, err := shard.NewRouter(cfg.Indexer, cfg.Indexer.NumShards, terms, m)
	if err != nil {
		slog.Error("failed to create shard router", "error", err)
		os.Exit(1)
	}
	defer router.Close()

	var statuses consumer.StatusUpdater
	db, err := postgres.Connect(ctx, cfg.Postgres, resilience.Backoff{Attempts: 5, Initial: time.Second})
	if err != nil {
		slog.Warn("postgres unavailable, image statuses will not be recorded", "error", err)
	} else {
		defer db.Close()
		repo := postgres.NewImageRepository(db)
		if err := repo.EnsureSchema(ctx); err != nil {
			slog.Error("failed to prepare image catalog", "error", err)
			os.Exit(1)
		}
		statuses = repo
	}

	notifier := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.IndexComplete)
	defer notifier.Close()

	for shardID, engine := range router.GetAllEngines() {
		engine.StartFlushLoop(ctx)
		slog.Info("flush loop started", "shard_id", shardID)
	}

	handler := consumer.HandleSignature(router, statuses, notifier, m)
	kafkaConsumer := kafka.NewConsumer(cfg.Kafka, kafka.Subscription{
		Topic:     cfg.Kafka.Topics.SignatureIngest,
		Group:     cfg.Kafka.ConsumerGroup,
		FromStart: true,
	}, handler)
	indexConsumer := consumer.New(kafkaConsumer)

	slog.Info("indexer service ready, consuming from kafka",
		"topic", cfg.Kafka.Topics.SignatureIngest,
		"group", cfg.Kafka.ConsumerGroup,
		"notify_topic", cfg.Kafka.Topics.IndexComplete,
	)

	if err := indexConsumer.Start(ctx); err != nil {
		slog.Error("consumer error", "error", err)
	}

	slog.Info("flushing all shards before shutdown")
	if err := router.FlushAll(); err != nil {
		slog.Error("final flush failed", "error", err)
	}

	slog.Info("indexer service stopped")
}
