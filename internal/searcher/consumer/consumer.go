// Package consumer keeps a searcher current with the indexers: every
// index-complete event picks up newly flushed segments and drops cached
// similar-image results.
package consumer

import (
	"context"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/imgseek/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/imgseek/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/imgseek/pkg/logger"
)

// Reloader opens segment files written since the last reload.
// *shard.Router satisfies it.
type Reloader interface {
	ReloadAll() int
}

// Invalidator drops cached results. *cache.SimilarCache satisfies it.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// HandleIndexComplete returns a Kafka MessageHandler for the index-complete
// topic. invalidator may be nil when caching is disabled.
func HandleIndexComplete(reloader Reloader, invalidator Invalidator) kafka.MessageHandler {
	return kafka.JSON("index-complete", func(ctx context.Context, _ string, event ingestion.IndexCompleteEvent) error {
		ctx = logger.WithShard(logger.WithImageID(ctx, event.ImageID), event.ShardID)
		log := logger.FromContext(ctx).With("component", "index-complete-consumer")
		if event.Status != ingestion.StatusIndexed {
			log.Debug("ignoring index-complete event", "status", event.Status)
			return nil
		}
		loaded := reloader.ReloadAll()
		if invalidator != nil {
			if err := invalidator.Invalidate(ctx); err != nil {
				return fmt.Errorf("invalidating cache after %s: %w", event.ImageID, err)
			}
		}
		log.Debug("searcher refreshed", "segments_loaded", loaded)
		return nil
	})
}
