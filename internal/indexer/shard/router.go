// Package shard provides hash-based shard routing for index engines. Each
// shard owns an independent indexer.Engine instance backed by its own data
// directory, and the Router dispatches images to shards by a CRC32 hash of
// their ID.
package shard

import (
	"fmt"
	"hash/crc32"
	"log/slog"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/imgseek/internal/imgseek"
	"github.com/Adithya-Monish-Kumar-K/imgseek/internal/imgseek/signature"
	"github.com/Adithya-Monish-Kumar-K/imgseek/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/imgseek/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/imgseek/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/imgseek/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/imgseek/pkg/metrics"
)

// Router maps shard IDs to dedicated indexer.Engine instances.
type Router struct {
	engines   map[int]*indexer.Engine
	mu        sync.RWMutex
	baseCfg   config.IndexerConfig
	numShards int
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewRouter creates numShards engines, each in its own sub-directory under
// baseCfg.DataDir. m may be nil.
func NewRouter(baseCfg config.IndexerConfig, numShards int, terms *imgseek.ImgTerms, m *metrics.Metrics) (*Router, error) {
	if numShards <= 0 {
		return nil, apperrors.Configurationf("shard count must be positive, got %d", numShards)
	}
	r := &Router{
		engines:   make(map[int]*indexer.Engine, numShards),
		baseCfg:   baseCfg,
		numShards: numShards,
		metrics:   m,
		logger:    slog.Default().With("component", "shard-router"),
	}
	var opts []indexer.Option
	if m != nil {
		opts = append(opts, indexer.WithMetrics(m))
		m.ActiveShards.Set(float64(numShards))
	}
	for i := 0; i < numShards; i++ {
		shardCfg := baseCfg
		shardCfg.DataDir = filepath.Join(baseCfg.DataDir, fmt.Sprintf("shard-%d", i))
		engine, err := indexer.NewEngine(shardCfg, terms, opts...)
		if err != nil {
			r.closeAll()
			return nil, fmt.Errorf("creating engine for shard %d: %w", i, err)
		}
		r.engines[i] = engine
		r.logger.Info("shard engine initialized",
			"shard_id", i,
			"data_dir", shardCfg.DataDir,
		)
	}
	r.logger.Info("shard router ready", "num_shards", numShards)
	return r, nil
}

// ShardFor returns the shard that owns imageID.
func (r *Router) ShardFor(imageID string) int {
	return ShardFor(imageID, r.numShards)
}

// ShardFor maps imageID onto one of numShards shards.
func ShardFor(imageID string, numShards int) int {
	return int(crc32.ChecksumIEEE([]byte(imageID)) % uint32(numShards))
}

// Route returns the Engine responsible for the given shard ID.
func (r *Router) Route(shardID int) (*indexer.Engine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	engine, ok := r.engines[shardID]
	if !ok {
		return nil, fmt.Errorf("unknown shard ID %d (valid range: 0-%d): %w", shardID, r.numShards-1, apperrors.ErrShardUnavailable)
	}
	return engine, nil
}

// Locate returns the Engine that owns imageID.
func (r *Router) Locate(imageID string) (*indexer.Engine, error) {
	return r.Route(r.ShardFor(imageID))
}

// IndexSignature indexes sig in the shard that owns imageID.
func (r *Router) IndexSignature(imageID string, sig *signature.Signature) (int, error) {
	shardID := r.ShardFor(imageID)
	engine, err := r.Route(shardID)
	if err != nil {
		return shardID, err
	}
	if err := engine.IndexSignature(imageID, sig); err != nil {
		return shardID, err
	}
	if r.metrics != nil {
		r.metrics.ShardDocCount.WithLabelValues(strconv.Itoa(shardID)).Set(float64(engine.GetTotalDocs()))
	}
	return shardID, nil
}

// Document returns the indexed document of imageID from its owning shard.
func (r *Router) Document(imageID string) (*index.Document, error) {
	engine, err := r.Locate(imageID)
	if err != nil {
		return nil, err
	}
	return engine.Document(imageID)
}

// GetAllEngines returns a snapshot map of all shard engines.
func (r *Router) GetAllEngines() map[int]*indexer.Engine {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make(map[int]*indexer.Engine, len(r.engines))
	for id, engine := range r.engines {
		result[id] = engine
	}
	return result
}

// NumShards returns the number of shards managed by this router.
func (r *Router) NumShards() int {
	return r.numShards
}

// FlushAll flushes every shard engine to disk.
func (r *Router) FlushAll() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var firstErr error
	for id, engine := range r.engines {
		if err := engine.Flush(); err != nil {
			r.logger.Error("flush failed", "shard_id", id, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// ReloadAll tells every shard engine to re-scan for newly flushed segments.
// Returns the total number of new segments loaded across all shards.
func (r *Router) ReloadAll() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	total := 0
	for id, engine := range r.engines {
		total += engine.ReloadSegments()
		if r.metrics != nil {
			r.metrics.ShardDocCount.WithLabelValues(strconv.Itoa(id)).Set(float64(engine.GetTotalDocs()))
		}
	}
	return total
}

// Close flushes and closes every shard engine.
func (r *Router) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closeAll()
}

// closeAll closes every shard engine, collecting the first error encountered.
func (r *Router) closeAll() error {
	var firstErr error
	for id, engine := range r.engines {
		if err := engine.Close(); err != nil {
			r.logger.Error("close failed", "shard_id", id, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
