package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/imgseek/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/imgseek/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/imgseek/internal/indexer/shard"
	"github.com/Adithya-Monish-Kumar-K/imgseek/internal/searcher/merger"
	"github.com/Adithya-Monish-Kumar-K/imgseek/internal/searcher/query"
	"github.com/Adithya-Monish-Kumar-K/imgseek/internal/searcher/ranker"
	apperrors "github.com/Adithya-Monish-Kumar-K/imgseek/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/imgseek/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/imgseek/pkg/tracing"
)

type ShardResult struct {
	ShardID   int
	Postings  map[string]index.PostingList
	TotalDocs int64
	AvgDocLen float64
	Engine    *indexer.Engine
}

// ShardedExecutor gathers postings from every shard, derives global BM25
// statistics, ranks each shard's candidates with them and merges the
// per-shard top lists.
type ShardedExecutor struct {
	router          *shard.Router
	timeoutPerShard time.Duration
	logger          *slog.Logger
}

// NewSharded creates a ShardedExecutor. A zero timeoutPerShard disables the
// per-shard deadline.
func NewSharded(router *shard.Router, timeoutPerShard time.Duration) *ShardedExecutor {
	return &ShardedExecutor{
		router:          router,
		timeoutPerShard: timeoutPerShard,
		logger:          slog.Default().With("component", "sharded-executor"),
	}
}

func (se *ShardedExecutor) Execute(ctx context.Context, q query.Query, limit int, exclude ...string) (*SearchResult, error) {
	weights := query.WeightedTerms(q)
	if len(weights) == 0 {
		return emptyResult(q), nil
	}
	fanCtx, fanSpan := tracing.StartChildSpan(ctx, "fan_out")
	shardResults, err := se.fanOut(fanCtx, weights)
	fanSpan.SetAttr("shards", len(shardResults))
	fanSpan.End()
	if err != nil {
		return nil, fmt.Errorf("shard fan-out: %w", err)
	}
	termStats := make(map[string]int)
	var globalTotalDocs int64
	var globalTotalTerms float64
	for _, sr := range shardResults {
		globalTotalDocs += sr.TotalDocs
		globalTotalTerms += sr.AvgDocLen * float64(sr.TotalDocs)
		for term, postings := range sr.Postings {
			termStats[term] += len(postings)
		}
	}
	var globalAvgDocLen float64
	if globalTotalDocs > 0 {
		globalAvgDocLen = globalTotalTerms / float64(globalTotalDocs)
	}
	excluded := excludeSet(exclude)
	params := ranker.RankParams{
		TotalDocs:    globalTotalDocs,
		AvgDocLength: globalAvgDocLen,
		DocFreqs:     termStats,
		Exclude:      excluded,
	}

	_, rankSpan := tracing.StartChildSpan(ctx, "rank_merge")
	defer rankSpan.End()
	totalHits := 0
	perShard := make([][]ranker.ScoredDoc, 0, len(shardResults))
	for _, sr := range shardResults {
		candidates := unionPostings(sr.Postings)
		for docID := range excluded {
			delete(candidates, docID)
		}
		totalHits += len(candidates)
		eng := sr.Engine
		getDocInfo := func(docID string) ranker.DocInfo {
			return ranker.DocInfo{DocLength: eng.GetDocLength(docID)}
		}
		perShard = append(perShard, ranker.Rank(sr.Postings, weights, params, getDocInfo, limit))
	}
	ranked := merger.Merge(perShard, limit)
	rankSpan.SetAttr("candidates", totalHits)
	se.logger.Debug("sharded query executed",
		"terms", len(weights),
		"shards_queried", len(shardResults),
		"global_candidates", totalHits,
		"results", len(ranked),
	)
	return &SearchResult{
		Query:     q.String(),
		TotalHits: totalHits,
		Results:   ranked,
		TermStats: termStats,
	}, nil
}

func (se *ShardedExecutor) SimilarQuery(imageID string) (query.Query, error) {
	engine, err := se.router.Locate(imageID)
	if err != nil {
		return nil, err
	}
	doc, err := engine.Document(imageID)
	if err != nil {
		return nil, err
	}
	q, err := engine.Terms().SimilarQuery(doc)
	if err != nil {
		return nil, fmt.Errorf("building similar query for %s: %w", imageID, err)
	}
	return q, nil
}

func (se *ShardedExecutor) SimilarTo(ctx context.Context, imageID string, limit int) (*SearchResult, error) {
	_, span := tracing.StartChildSpan(ctx, "build_query")
	q, err := se.SimilarQuery(imageID)
	span.End()
	if err != nil {
		return nil, err
	}
	result, err := se.Execute(ctx, q, limit, imageID)
	if err != nil {
		return nil, err
	}
	result.ImageID = imageID
	return result, nil
}

func (se *ShardedExecutor) fanOut(ctx context.Context, weights map[string]float64) ([]ShardResult, error) {
	type result struct {
		sr  ShardResult
		err error
	}
	engines := se.router.GetAllEngines()
	results := make([]result, len(engines))
	var wg sync.WaitGroup
	i := 0
	for shardID, engine := range engines {
		wg.Add(1)
		go func(idx int, sid int, eng *indexer.Engine) {
			defer wg.Done()
			spanCtx, span := tracing.StartChildSpan(ctx, "shard")
			span.SetAttr("shard_id", sid)
			defer span.End()
			sr, err := resilience.WithTimeout(spanCtx, se.timeoutPerShard, fmt.Sprintf("shard %d", sid), func(shardCtx context.Context) (ShardResult, error) {
				return collectPostings(shardCtx, sid, eng, weights)
			})
			if err != nil {
				results[idx] = result{err: err}
				return
			}
			results[idx] = result{sr: sr}
		}(i, shardID, engine)
		i++
	}
	wg.Wait()
	shardResults := make([]ShardResult, 0, len(engines))
	for _, r := range results {
		if r.err != nil {
			se.logger.Error("shard query failed", "error", r.err)
			continue
		}
		shardResults = append(shardResults, r.sr)
	}
	if len(shardResults) == 0 && len(engines) > 0 {
		return nil, fmt.Errorf("all %d shards failed: %w", len(engines), apperrors.ErrShardUnavailable)
	}
	return shardResults, nil
}

func collectPostings(ctx context.Context, sid int, eng *indexer.Engine, weights map[string]float64) (ShardResult, error) {
	sr := ShardResult{
		ShardID:   sid,
		Postings:  make(map[string]index.PostingList),
		TotalDocs: eng.GetTotalDocs(),
		AvgDocLen: eng.GetAvgDocLength(),
		Engine:    eng,
	}
	for term := range weights {
		if err := ctx.Err(); err != nil {
			return sr, fmt.Errorf("shard %d: %w", sid, err)
		}
		postings, err := eng.Search(term)
		if err != nil {
			return sr, fmt.Errorf("shard %d, term %q: %w", sid, term, err)
		}
		if len(postings) > 0 {
			sr.Postings[term] = postings
		}
	}
	return sr, nil
}
