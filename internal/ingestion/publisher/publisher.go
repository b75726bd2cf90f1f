// Package publisher catalogues image signatures in PostgreSQL and publishes
// signature events to Kafka for downstream indexing. Images are assigned to
// shards by ID and writes are idempotent per idempotency key.
package publisher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/imgseek/internal/indexer/shard"
	"github.com/Adithya-Monish-Kumar-K/imgseek/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/imgseek/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/imgseek/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/imgseek/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/imgseek/pkg/resilience"
	"github.com/google/uuid"
)

// Catalog persists image rows. *postgres.ImageRepository satisfies it.
type Catalog interface {
	Upsert(ctx context.Context, rec postgres.ImageRecord) error
	FindByIdempotencyKey(ctx context.Context, key string) (*postgres.ImageRecord, error)
}

// EventPublisher writes events to Kafka. *kafka.Producer satisfies it.
type EventPublisher interface {
	Publish(ctx context.Context, event kafka.Event) error
}

// Publisher coordinates catalog persistence and Kafka event production.
type Publisher struct {
	catalog   Catalog
	producer  EventPublisher
	numShards int
	retry     resilience.Backoff
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// New creates a Publisher. m may be nil.
func New(catalog Catalog, producer EventPublisher, numShards int, m *metrics.Metrics) *Publisher {
	return &Publisher{
		catalog:   catalog,
		producer:  producer,
		numShards: numShards,
		retry:     resilience.Backoff{Attempts: 3, Initial: 100 * time.Millisecond},
		metrics:   m,
		logger:    slog.Default().With("component", "publisher"),
	}
}

// Ingest catalogues the signature as PENDING, assigns its shard and
// publishes a SignatureEvent. A repeated idempotency key returns the
// original response without re-publishing.
func (p *Publisher) Ingest(ctx context.Context, req *ingestion.IngestRequest) (*ingestion.IngestResponse, error) {
	if req.IdempotencyKey != "" {
		existing, err := p.catalog.FindByIdempotencyKey(ctx, req.IdempotencyKey)
		if err != nil {
			return nil, fmt.Errorf("checking idempotency key: %w", err)
		}
		if existing != nil {
			p.logger.Info("duplicate ingestion detected",
				"idempotency_key", req.IdempotencyKey,
				"existing_id", existing.ID,
			)
			p.record("duplicate")
			return &ingestion.IngestResponse{
				ImageID: existing.ID,
				Status:  existing.Status,
				ShardID: existing.ShardID,
			}, nil
		}
	}

	imageID := req.ImageID
	if imageID == "" {
		imageID = uuid.NewString()
	}
	shardID := shard.ShardFor(imageID, p.numShards)

	coefficients := 0
	for _, positions := range req.Signature.Coeffs {
		coefficients += len(positions)
	}
	err := p.catalog.Upsert(ctx, postgres.ImageRecord{
		ID:               imageID,
		ShardID:          shardID,
		CoefficientCount: coefficients,
		Signature:        req.Signature,
		IdempotencyKey:   req.IdempotencyKey,
		Status:           ingestion.StatusPending,
	})
	if err != nil {
		p.record("failed")
		return nil, fmt.Errorf("cataloguing image: %w", err)
	}

	// Keyed by image so versions of one image stay ordered on a partition.
	event := kafka.Event{
		Key: imageID,
		Value: ingestion.SignatureEvent{
			ImageID:    imageID,
			Signature:  req.Signature,
			ShardID:    shardID,
			IngestedAt: time.Now().UTC(),
		},
	}
	err = resilience.Retry(ctx, "publish-signature", p.retry, func(ctx context.Context) error {
		return p.producer.Publish(ctx, event)
	})
	if err != nil {
		p.logger.Error("failed to publish to kafka, image stuck in PENDING",
			"image_id", imageID,
			"shard_id", shardID,
			"error", err,
		)
		p.record("publish_failed")
	} else {
		p.record("accepted")
	}

	return &ingestion.IngestResponse{
		ImageID: imageID,
		Status:  ingestion.StatusPending,
		ShardID: shardID,
	}, nil
}

func (p *Publisher) record(status string) {
	if p.metrics != nil {
		p.metrics.SignaturesIngested.WithLabelValues(status).Inc()
	}
}
