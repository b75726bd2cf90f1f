// Package bleveq exports similarity queries to bleve and evaluates them
// against an in-memory bleve index.
package bleveq

import (
	"context"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/imgseek/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/imgseek/internal/searcher/query"
	"github.com/Adithya-Monish-Kumar-K/imgseek/internal/searcher/ranker"
	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"
)

// TermsField is the bleve field that holds a document's signature terms.
const TermsField = "terms"

// ToBleve translates q into a bleve query over field. Leaves become term
// queries, OR becomes a disjunction and scale factors become boosts.
func ToBleve(q query.Query, field string) blevequery.Query {
	switch n := q.(type) {
	case *query.TermQuery:
		tq := bleve.NewTermQuery(n.Term)
		tq.SetField(field)
		return tq
	case *query.ScaleQuery:
		sub := ToBleve(n.Sub, field)
		if b, ok := sub.(blevequery.BoostableQuery); ok {
			b.SetBoost(b.Boost() * n.Weight)
			return b
		}
		return sub
	case *query.OrQuery:
		dq := bleve.NewDisjunctionQuery()
		for _, s := range n.Subs {
			dq.AddQuery(ToBleve(s, field))
		}
		return dq
	default:
		return bleve.NewMatchNoneQuery()
	}
}

// Evaluator holds documents in a memory-only bleve index and answers
// exported similarity queries against them.
type Evaluator struct {
	index bleve.Index
}

type bleveDocument struct {
	Terms []string `json:"terms"`
}

// NewEvaluator creates an empty memory-only index whose terms field is
// keyword-analysed, so signature terms are matched verbatim.
func NewEvaluator() (*Evaluator, error) {
	idx, err := bleve.NewMemOnly(buildMapping())
	if err != nil {
		return nil, fmt.Errorf("creating bleve index: %w", err)
	}
	return &Evaluator{index: idx}, nil
}

func buildMapping() mapping.IndexMapping {
	indexMapping := bleve.NewIndexMapping()
	docMapping := bleve.NewDocumentMapping()

	termsMapping := bleve.NewTextFieldMapping()
	termsMapping.Analyzer = keyword.Name
	termsMapping.Store = false
	termsMapping.IncludeInAll = false

	docMapping.AddFieldMappingsAt(TermsField, termsMapping)
	indexMapping.DefaultMapping = docMapping
	return indexMapping
}

// Add indexes the terms of doc.
func (e *Evaluator) Add(doc *index.Document) error {
	if err := e.index.Index(doc.ID, bleveDocument{Terms: doc.Terms()}); err != nil {
		return fmt.Errorf("indexing %s in bleve: %w", doc.ID, err)
	}
	return nil
}

// Search evaluates q and returns up to limit matches other than those in
// exclude, best first.
func (e *Evaluator) Search(ctx context.Context, q query.Query, limit int, exclude ...string) ([]ranker.ScoredDoc, error) {
	if query.IsEmpty(q) {
		return []ranker.ScoredDoc{}, nil
	}
	skip := make(map[string]struct{}, len(exclude))
	for _, id := range exclude {
		skip[id] = struct{}{}
	}
	req := bleve.NewSearchRequestOptions(ToBleve(q, TermsField), limit+len(exclude), 0, false)
	res, err := e.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("bleve search: %w", err)
	}
	out := make([]ranker.ScoredDoc, 0, len(res.Hits))
	for _, hit := range res.Hits {
		if _, ok := skip[hit.ID]; ok {
			continue
		}
		if len(out) == limit {
			break
		}
		out = append(out, ranker.ScoredDoc{DocID: hit.ID, Score: hit.Score})
	}
	return out, nil
}

// Close releases the index.
func (e *Evaluator) Close() error {
	return e.index.Close()
}
