// Package consumer reads signature events from Kafka and indexes them in the
// shard that owns each image, recording the outcome in the image catalog and
// announcing it on the index-complete topic.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/imgseek/internal/imgseek"
	"github.com/Adithya-Monish-Kumar-K/imgseek/internal/indexer/shard"
	"github.com/Adithya-Monish-Kumar-K/imgseek/internal/ingestion"
	apperrors "github.com/Adithya-Monish-Kumar-K/imgseek/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/imgseek/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/imgseek/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/imgseek/pkg/metrics"
)

// StatusUpdater records indexing outcomes. *postgres.ImageRepository
// satisfies it.
type StatusUpdater interface {
	UpdateStatus(ctx context.Context, id, status string) error
}

// Notifier publishes index-complete events. *kafka.Producer satisfies it.
type Notifier interface {
	Publish(ctx context.Context, event kafka.Event) error
}

// IndexConsumer wraps a Kafka consumer to drive the indexing pipeline.
type IndexConsumer struct {
	consumer *kafka.Consumer
	logger   *slog.Logger
}

// New creates an IndexConsumer backed by the given Kafka consumer.
func New(kafkaConsumer *kafka.Consumer) *IndexConsumer {
	return &IndexConsumer{
		consumer: kafkaConsumer,
		logger:   slog.Default().With("component", "index-consumer"),
	}
}

// Start begins consuming Kafka messages. It blocks until ctx is cancelled.
func (ic *IndexConsumer) Start(ctx context.Context) error {
	ic.logger.Info("index consumer starting")
	return ic.consumer.Start(ctx)
}

// HandleSignature returns a Kafka MessageHandler that indexes each signature
// event through router. statuses, notifier and m may be nil.
//
// Undecodable messages are skipped by kafka.JSON. Signatures rejected as
// invalid input are marked FAILED and committed; any other indexing error is
// returned so the consumer retries the message.
func HandleSignature(router *shard.Router, statuses StatusUpdater, notifier Notifier, m *metrics.Metrics) kafka.MessageHandler {
	return kafka.JSON("signature", func(ctx context.Context, key string, event ingestion.SignatureEvent) error {
		if event.ImageID == "" {
			slog.Default().With("component", "index-consumer").Error("signature event without image id", "key", key)
			return nil
		}
		ctx = logger.WithImageID(ctx, event.ImageID)
		log := logger.FromContext(ctx).With("component", "index-consumer")
		log.Debug("processing signature event", "event_shard", event.ShardID)

		shardID, err := router.IndexSignature(event.ImageID, &event.Signature)
		ctx = logger.WithShard(ctx, shardID)
		log = logger.FromContext(ctx).With("component", "index-consumer")
		if shardID != event.ShardID {
			log.Warn("event shard differs from router shard", "event_shard", event.ShardID)
		}
		if err != nil {
			updateStatus(ctx, statuses, event.ImageID, ingestion.StatusFailed, log)
			notify(ctx, notifier, event.ImageID, shardID, ingestion.StatusFailed, log)
			if ch, ok := imgseek.FailedChannel(err); ok {
				log = logger.FromContext(logger.WithChannel(ctx, ch)).With("component", "index-consumer")
			}
			if errors.Is(err, apperrors.ErrInvalidInput) {
				log.Error("signature rejected", "error", err)
				return nil
			}
			return fmt.Errorf("indexing image %s in shard %d: %w", event.ImageID, shardID, err)
		}

		updateStatus(ctx, statuses, event.ImageID, ingestion.StatusIndexed, log)
		notify(ctx, notifier, event.ImageID, shardID, ingestion.StatusIndexed, log)
		if m != nil {
			m.SignaturesIndexedTotal.Inc()
		}

		log.Info("signature indexed")
		return nil
	})
}

func updateStatus(ctx context.Context, statuses StatusUpdater, imageID, status string, log *slog.Logger) {
	if statuses == nil {
		return
	}
	if err := statuses.UpdateStatus(ctx, imageID, status); err != nil {
		log.Error("failed to update image status",
			"status", status,
			"error", err,
		)
	}
}

func notify(ctx context.Context, notifier Notifier, imageID string, shardID int, status string, log *slog.Logger) {
	if notifier == nil {
		return
	}
	event := kafka.Event{
		Key: imageID,
		Value: ingestion.IndexCompleteEvent{
			ImageID:   imageID,
			ShardID:   shardID,
			Status:    status,
			IndexedAt: time.Now().UTC(),
		},
	}
	if err := notifier.Publish(ctx, event); err != nil {
		log.Error("failed to publish index-complete event", "error", err)
	}
}
