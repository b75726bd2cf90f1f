// Command searcher serves similar-image queries over the segments written by
// the indexers, caching results in Redis and refreshing on index-complete
// events.
//
// Usage:
//
//	go run ./cmd/searcher [-config configs/development.yaml]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Adithya-Monish-Kumar-K/imgseek/internal/imgseek"
	"github.com/Adithya-Monish-Kumar-K/imgseek/internal/indexer/shard"
	"github.com/Adithya-Monish-Kumar-K/imgseek/internal/searcher/cache"
	searchconsumer "github.com/Adithya-Monish-Kumar-K/imgseek/internal/searcher/consumer"
	"github.com/Adithya-Monish-Kumar-K/imgseek/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/imgseek/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/imgseek/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/imgseek/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/imgseek/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/imgseek/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/imgseek/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/imgseek/pkg/middleware"
	pkgredis "github.com/Adithya-Monish-Kumar-K/imgseek/pkg/redis"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup("searcher", cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting search service", "port", cfg.Server.Port, "num_shards", cfg.Indexer.NumShards)

	m := metrics.New()
	if cfg.Metrics.Enabled {
		metricsServer := metrics.NewServer("searcher", cfg.Metrics.Port, m)
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
	slog.Info("shard router initialized", "data_dir", cfg.Indexer.DataDir)

	var similarCache *cache.SimilarCache
	var redisClient *pkgredis.Client
	redisClient, err = pkgredis.NewClient(cfg.Redis)
	if err != nil {
		slog.Warn("redis unavailable, similar-image caching disabled", "error", err)
	} else {
		defer redisClient.Close()
		similarCache = cache.New(redisClient, cfg.Redis, m)
		slog.Info("similar-image cache enabled",
			"addr", cfg.Redis.Addr,
			"ttl", cfg.Redis.CacheTTL,
		)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for shardID, engine := range router.GetAllEngines() {
		engine.StartReloadLoop(ctx)
		slog.Debug("reload loop started", "shard_id", shardID)
	}

	// Every searcher must see every index-complete event, so each instance
	// consumes under its own group.
	hostname, _ := os.Hostname()
	refreshGroup := fmt.Sprintf("%s-searcher-%s", cfg.Kafka.ConsumerGroup, hostname)
	var invalidator searchconsumer.Invalidator
	if similarCache != nil {
		invalidator = similarCache
	}
	refreshConsumer := kafka.NewConsumer(cfg.Kafka, kafka.Subscription{
		Topic: cfg.Kafka.Topics.IndexComplete,
		Group: refreshGroup,
	}, searchconsumer.HandleIndexComplete(router, invalidator))
	go func() {
		if err := refreshConsumer.Start(ctx); err != nil {
			slog.Error("index-complete consumer error", "error", err)
		}
	}()
	slog.Info("index-complete consumer started",
		"topic", cfg.Kafka.Topics.IndexComplete,
		"group", refreshGroup,
	)

	checker := health.NewChecker()
	checker.Register("index_engine", func(ctx context.Context) health.ComponentHealth {
		if router.NumShards() > 0 {
			return health.ComponentHealth{Status: health.StatusUp, Message: fmt.Sprintf("%d shards active", router.NumShards())}
		}
		return health.ComponentHealth{Status: health.StatusDown, Message: "no shards"}
	})
	checker.Register("redis", func(ctx context.Context) health.ComponentHealth {
		if redisClient == nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "not configured"}
		}
		return health.PingCheck(redisClient.Ping, health.StatusDegraded)(ctx)
	})
	checker.Register("kafka", health.PingCheck(func(ctx context.Context) error {
		return kafka.Ping(ctx, cfg.Kafka)
	}, health.StatusDegraded))

	exec := executor.NewSharded(router, cfg.Search.TimeoutPerShard)
	h := handler.New(exec, similarCache, m, cfg.Search.DefaultLimit, cfg.Search.MaxResults)

	mux := http.NewServeMux()
	h.Register(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.Timeout(cfg.Server.RequestTimeout)(chain)
	chain = middleware.Metrics(m, mux)(chain)
	chain = middleware.RequestID(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
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

	slog.Info("search service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("search service stopped")
}
