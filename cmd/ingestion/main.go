// Command ingestion starts the signature ingestion HTTP service.
//
// The service accepts image signatures via POST /api/v1/images, validates
// them, catalogues them in PostgreSQL, and publishes them to a Kafka topic
// for downstream indexing. Health checks are served at GET /health,
// /health/live and /health/ready.
//
// Usage:
//
//	go run ./cmd/ingestion [-config configs/development.yaml]
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
	"time"

	"github.com/Adithya-Monish-Kumar-K/imgseek/internal/ingestion/handler"
	"github.com/Adithya-Monish-Kumar-K/imgseek/internal/ingestion/publisher"
	"github.com/Adithya-Monish-Kumar-K/imgseek/internal/ingestion/validator"
	"github.com/Adithya-Monish-Kumar-K/imgseek/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/imgseek/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/imgseek/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/imgseek/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/imgseek/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/imgseek/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/imgseek/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/imgseek/pkg/resilience"
)

// main loads configuration, connects to PostgreSQL, creates the Kafka producer,
// wires up the ingestion handler, and starts the HTTP server. Graceful shutdown
// is triggered by SIGINT/SIGTERM.
func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup("ingestion", cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting ingestion service", "port", cfg.Ingestion.Port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	if cfg.Metrics.Enabled {
		metricsServer := metrics.NewServer("ingestion", cfg.Metrics.Port, m)
		metricsServer.Start()
		defer metricsServer.Shutdown(context.Background())
	}

	db, err := postgres.Connect(ctx, cfg.Postgres, resilience.Backoff{Attempts: 5, Initial: time.Second})
	if err != nil {
		slog.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	repo := postgres.NewImageRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		slog.Error("failed to prepare image catalog", "error", err)
		os.Exit(1)
	}

	producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.SignatureIngest)
	defer producer.Close()
	slog.Info("kafka producer initialized", "topic", cfg.Kafka.Topics.SignatureIngest)

	pub := publisher.New(repo, producer, cfg.Indexer.NumShards, m)
	limits := validator.Limits{
		N:               cfg.ImgSeek.NumPixels * cfg.ImgSeek.NumPixels,
		MaxCoefficients: cfg.Ingestion.MaxCoefficients,
	}
	h := handler.New(pub, limits)

	checker := health.NewChecker()
	checker.Register("postgres", health.PingCheck(db.Ping, health.StatusDown))
	checker.Register("kafka", health.PingCheck(func(ctx context.Context) error {
		return kafka.Ping(ctx, cfg.Kafka)
	}, health.StatusDegraded))

	mux := http.NewServeMux()
	h.Register(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.Timeout(cfg.Server.RequestTimeout)(chain)
	chain = middleware.Metrics(m, mux)(chain)
	chain = middleware.RequestID(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Ingestion.Port),
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
	slog.Info("ingestion service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("ingestion service stopped")
}
