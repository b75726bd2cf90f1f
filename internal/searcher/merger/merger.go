// Package merger combines the per-shard similar-image rankings into one.
package merger

import (
	"container/heap"
	"sort"

	"github.com/Adithya-Monish-Kumar-K/imgseek/internal/searcher/ranker"
)

// DefaultLimit is used when Merge is given a non-positive limit.
const DefaultLimit = 10

// Merge returns the limit best-scoring images across shardResults, best
// first, ties broken by smaller image ID. An image ranked by more than one
// shard, as happens while a resharded index still holds its old copy, is
// listed once with its best score.
func Merge(shardResults [][]ranker.ScoredDoc, limit int) []ranker.ScoredDoc {
	if limit <= 0 {
		limit = DefaultLimit
	}
	best := make(map[string]float64)
	for _, results := range shardResults {
		for _, doc := range results {
			if s, ok := best[doc.DocID]; !ok || doc.Score > s {
				best[doc.DocID] = doc.Score
			}
		}
	}

	h := &minHeap{}
	for id, score := range best {
		doc := ranker.ScoredDoc{DocID: id, Score: score}
		if h.Len() < limit {
			heap.Push(h, doc)
		} else if worse((*h)[0], doc) {
			(*h)[0] = doc
			heap.Fix(h, 0)
		}
	}
	result := []ranker.ScoredDoc(*h)
	sort.Slice(result, func(i, j int) bool { return worse(result[j], result[i]) })
	return result
}

// worse reports whether a ranks below b.
func worse(a, b ranker.ScoredDoc) bool {
	if a.Score != b.Score {
		return a.Score < b.Score
	}
	return a.DocID > b.DocID
}

// minHeap keeps the worst retained image at the root.
type minHeap []ranker.ScoredDoc

func (h minHeap) Len() int           { return len(h) }
func (h minHeap) Less(i, j int) bool { return worse(h[i], h[j]) }
func (h minHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *minHeap) Push(x any) {
	*h = append(*h, x.(ranker.ScoredDoc))
}

func (h *minHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
