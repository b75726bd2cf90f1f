package executor

import (
	"context"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/imgseek/internal/imgseek"
	"github.com/Adithya-Monish-Kumar-K/imgseek/internal/imgseek/signature"
	"github.com/Adithya-Monish-Kumar-K/imgseek/internal/imgseek/weights"
	"github.com/Adithya-Monish-Kumar-K/imgseek/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/imgseek/internal/indexer/shard"
	"github.com/Adithya-Monish-Kumar-K/imgseek/internal/searcher/query"
	"github.com/Adithya-Monish-Kumar-K/imgseek/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/imgseek/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTerms(t testing.TB) *imgseek.ImgTerms {
	t.Helper()
	table, err := weights.NewHaarTable(weights.DefaultNumPixels)
	require.NoError(t, err)
	terms, err := imgseek.New(imgseek.Config{
		Prefix:        "I",
		AverageFields: [signature.NumChannels]string{"avg_y", "avg_i", "avg_q"},
	}, table)
	require.NoError(t, err)
	return terms
}

var corpus = map[string]*signature.Signature{
	"img-1": {
		Coeffs:   [signature.NumChannels][]int{{0, 5, -3}, {2}, {}},
		Averages: [signature.NumChannels]float64{0.5, 0.0, -0.1},
	},
	"img-2": {
		Coeffs:   [signature.NumChannels][]int{{0, 5}, {2}, {}},
		Averages: [signature.NumChannels]float64{0.5, 0.0, -0.1},
	},
	"img-3": {
		Coeffs:   [signature.NumChannels][]int{{-3}, {}, {}},
		Averages: [signature.NumChannels]float64{0.52, 0.01, -0.1},
	},
	"img-4": {
		Coeffs:   [signature.NumChannels][]int{{100}, {}, {40}},
		Averages: [signature.NumChannels]float64{0.95, 0.45, 0.5},
	},
}

type indexFunc func(id string, sig *signature.Signature) error

func indexCorpus(t *testing.T, index indexFunc) {
	t.Helper()
	for id, sig := range corpus {
		require.NoError(t, index(id, sig))
	}
}

func resultIDs(r *SearchResult) []string {
	ids := make([]string, len(r.Results))
	for i, d := range r.Results {
		ids[i] = d.DocID
	}
	return ids
}

func newTestExecutor(t *testing.T) *Executor {
	t.Helper()
	engine, err := indexer.NewEngine(config.IndexerConfig{DataDir: t.TempDir(), SegmentMaxSize: 1 << 30}, newTestTerms(t))
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })
	indexCorpus(t, engine.IndexSignature)
	return New(engine)
}

func newTestSharded(t *testing.T) *ShardedExecutor {
	t.Helper()
	router, err := shard.NewRouter(config.IndexerConfig{DataDir: t.TempDir(), SegmentMaxSize: 1 << 30}, 3, newTestTerms(t), nil)
	require.NoError(t, err)
	t.Cleanup(func() { router.Close() })
	indexCorpus(t, func(id string, sig *signature.Signature) error {
		_, err := router.IndexSignature(id, sig)
		return err
	})
	return NewSharded(router, 0)
}

func TestSimilarToRanksSharedCoefficientsFirst(t *testing.T) {
	e := newTestExecutor(t)
	result, err := e.SimilarTo(context.Background(), "img-1", 10)
	require.NoError(t, err)

	assert.Equal(t, "img-1", result.ImageID)
	assert.Equal(t, []string{"img-2", "img-3"}, resultIDs(result))
	assert.Equal(t, 2, result.TotalHits)
	assert.Greater(t, result.Results[0].Score, result.Results[1].Score)
	assert.Contains(t, result.Query, "OR")
}

func TestSimilarToLimit(t *testing.T) {
	e := newTestExecutor(t)
	result, err := e.SimilarTo(context.Background(), "img-1", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"img-2"}, resultIDs(result))
}

func TestSimilarToUnknownImage(t *testing.T) {
	e := newTestExecutor(t)
	_, err := e.SimilarTo(context.Background(), "missing", 10)
	assert.ErrorIs(t, err, apperrors.ErrDocumentNotFound)
}

func TestExecuteEmptyQuery(t *testing.T) {
	e := newTestExecutor(t)
	result, err := e.Execute(context.Background(), query.MatchNothing, 10)
	require.NoError(t, err)
	assert.Empty(t, result.Results)
}

func TestExecuteCancelledContext(t *testing.T) {
	e := newTestExecutor(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Execute(ctx, query.Term("I0_0"), 10)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestShardedMatchesSingleEngine(t *testing.T) {
	single := newTestExecutor(t)
	sharded := newTestSharded(t)

	for id := range corpus {
		want, err := single.SimilarTo(context.Background(), id, 10)
		require.NoError(t, err)
		got, err := sharded.SimilarTo(context.Background(), id, 10)
		require.NoError(t, err)
		assert.Equal(t, want.Results, got.Results, id)
		assert.Equal(t, want.TotalHits, got.TotalHits, id)
		assert.NotContains(t, resultIDs(got), id)
	}
}

func TestShardedUnknownImage(t *testing.T) {
	sharded := newTestSharded(t)
	_, err := sharded.SimilarTo(context.Background(), "missing", 10)
	assert.ErrorIs(t, err, apperrors.ErrDocumentNotFound)
}
