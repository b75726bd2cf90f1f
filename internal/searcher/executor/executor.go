package executor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/imgseek/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/imgseek/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/imgseek/internal/searcher/query"
	"github.com/Adithya-Monish-Kumar-K/imgseek/internal/searcher/ranker"
)

type SearchResult struct {
	ImageID   string             `json:"image_id,omitempty"`
	Query     string             `json:"query"`
	TotalHits int                `json:"total_hits"`
	Results   []ranker.ScoredDoc `json:"results"`
	TermStats map[string]int     `json:"term_stats"`
}

// Searcher evaluates similarity queries. Executor searches one engine and
// ShardedExecutor fans out across every shard.
type Searcher interface {
	// Execute evaluates q and returns the top limit images, never including
	// the images in exclude.
	Execute(ctx context.Context, q query.Query, limit int, exclude ...string) (*SearchResult, error)
	// SimilarQuery builds the similarity query for an indexed image.
	SimilarQuery(imageID string) (query.Query, error)
	// SimilarTo returns the images most similar to imageID, excluding itself.
	SimilarTo(ctx context.Context, imageID string, limit int) (*SearchResult, error)
}

type Executor struct {
	engine *indexer.Engine
	logger *slog.Logger
}

func New(engine *indexer.Engine) *Executor {
	return &Executor{
		engine: engine,
		logger: slog.Default().With("component", "query-executor"),
	}
}

func (e *Executor) Execute(ctx context.Context, q query.Query, limit int, exclude ...string) (*SearchResult, error) {
	weights := query.WeightedTerms(q)
	if len(weights) == 0 {
		return emptyResult(q), nil
	}
	postingsPerTerm := make(map[string]index.PostingList)
	termStats := make(map[string]int)
	for term := range weights {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("executing query: %w", err)
		}
		postings, err := e.engine.Search(term)
		if err != nil {
			return nil, fmt.Errorf("searching term %q: %w", term, err)
		}
		if len(postings) > 0 {
			postingsPerTerm[term] = postings
			termStats[term] = len(postings)
		}
	}
	excluded := excludeSet(exclude)
	candidates := unionPostings(postingsPerTerm)
	for docID := range excluded {
		delete(candidates, docID)
	}
	params := ranker.RankParams{
		TotalDocs:    e.engine.GetTotalDocs(),
		AvgDocLength: e.engine.GetAvgDocLength(),
		Exclude:      excluded,
	}
	getDocInfo := func(docID string) ranker.DocInfo {
		return ranker.DocInfo{
			DocLength: e.engine.GetDocLength(docID),
		}
	}
	ranked := ranker.Rank(postingsPerTerm, weights, params, getDocInfo, limit)
	e.logger.Debug("query executed",
		"terms", len(weights),
		"candidates", len(candidates),
		"results", len(ranked),
	)
	return &SearchResult{
		Query:     q.String(),
		TotalHits: len(candidates),
		Results:   ranked,
		TermStats: termStats,
	}, nil
}

func (e *Executor) SimilarQuery(imageID string) (query.Query, error) {
	doc, err := e.engine.Document(imageID)
	if err != nil {
		return nil, err
	}
	q, err := e.engine.Terms().SimilarQuery(doc)
	if err != nil {
		return nil, fmt.Errorf("building similar query for %s: %w", imageID, err)
	}
	return q, nil
}

func (e *Executor) SimilarTo(ctx context.Context, imageID string, limit int) (*SearchResult, error) {
	q, err := e.SimilarQuery(imageID)
	if err != nil {
		return nil, err
	}
	result, err := e.Execute(ctx, q, limit, imageID)
	if err != nil {
		return nil, err
	}
	result.ImageID = imageID
	return result, nil
}

func emptyResult(q query.Query) *SearchResult {
	return &SearchResult{
		Query:     q.String(),
		Results:   []ranker.ScoredDoc{},
		TermStats: map[string]int{},
	}
}

func excludeSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func unionPostings(postingsPerTerm map[string]index.PostingList) map[string]struct{} {
	result := make(map[string]struct{})
	for _, postings := range postingsPerTerm {
		for _, p := range postings {
			result[p.DocID] = struct{}{}
		}
	}
	return result
}
