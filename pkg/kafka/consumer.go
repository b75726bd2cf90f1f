// Package kafka carries imgseek's pipeline events over segmentio/kafka-go.
// The producer serialises events as JSON; the consumer hands each message to
// a MessageHandler, usually one built by JSON from a typed event handler.
package kafka

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/imgseek/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/imgseek/pkg/resilience"
	"github.com/segmentio/kafka-go"
)

// MessageHandler is a callback invoked for each Kafka message.
type MessageHandler func(ctx context.Context, key []byte, value []byte) error

// EventHandler processes one decoded event. key is the message key, which
// for every imgseek topic is the image ID.
type EventHandler[T any] func(ctx context.Context, key string, event T) error

// JSON adapts fn to a MessageHandler that decodes each value as a T; name
// labels the event type in logs. A value that does not decode is logged and
// skipped: redelivering it would fail the same way.
func JSON[T any](name string, fn EventHandler[T]) MessageHandler {
	logger := slog.Default().With("component", "kafka-consumer", "event", name)
	return func(ctx context.Context, key []byte, value []byte) error {
		var event T
		if err := json.Unmarshal(value, &event); err != nil {
			logger.Error("skipping undecodable message",
				"key", string(key),
				"value_size", len(value),
				"error", err,
			)
			return nil
		}
		return fn(ctx, string(key), event)
	}
}

// Subscription names what a Consumer reads.
type Subscription struct {
	Topic string
	Group string
	// FromStart makes a group with no committed offset begin at the oldest
	// retained message instead of the newest.
	FromStart bool
	// Retry bounds how often a failing handler is re-run before the message
	// is logged and committed. The zero value means DefaultBackoff.
	Retry resilience.Backoff
}

// Consumer reads messages from a Kafka topic and dispatches them to a
// MessageHandler.
type Consumer struct {
	reader  *kafka.Reader
	logger  *slog.Logger
	handler MessageHandler
	retry   resilience.Backoff
	topic   string
}

// NewConsumer creates a Consumer for sub that passes messages to handler.
func NewConsumer(cfg config.KafkaConfig, sub Subscription, handler MessageHandler) *Consumer {
	start := kafka.LastOffset
	if sub.FromStart {
		start = kafka.FirstOffset
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       sub.Topic,
		GroupID:     sub.Group,
		MinBytes:    1e3,
		MaxBytes:    10e6,
		StartOffset: start,
	})

	return &Consumer{
		reader:  r,
		logger:  slog.Default().With("component", "kafka-consumer", "topic", sub.Topic, "group", sub.Group),
		handler: handler,
		retry:   sub.Retry,
		topic:   sub.Topic,
	}
}

// Start enters the consume loop, fetching and processing messages until ctx
// is cancelled.
//
// A message whose handler still fails after the retry budget is logged and
// committed. Committing a later offset on the same partition would commit it
// anyway, so holding it back only delays the messages behind it.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("consumer started")
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("consumer stopping", "reason", ctx.Err())
			return c.reader.Close()
		default:
		}

		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("failed to fetch message", "error", err)
			continue
		}
		c.logger.Debug("message received",
			"partition", msg.Partition,
			"offset", msg.Offset,
			"key", string(msg.Key),
			"value_size", len(msg.Value),
		)
		err = resilience.Retry(ctx, "handle "+c.topic, c.retry, func(ctx context.Context) error {
			return c.handler(ctx, msg.Key, msg.Value)
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("dropping message",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"key", string(msg.Key),
				"error", err,
			)
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.logger.Error("failed to commit message",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
		}
	}
}

// Close closes the underlying Kafka reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
