package bleveq

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/imgseek/internal/imgseek"
	"github.com/Adithya-Monish-Kumar-K/imgseek/internal/imgseek/signature"
	"github.com/Adithya-Monish-Kumar-K/imgseek/internal/imgseek/weights"
	"github.com/Adithya-Monish-Kumar-K/imgseek/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/imgseek/internal/searcher/query"
	blevequery "github.com/blevesearch/bleve/v2/search/query"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToBleveStructure(t *testing.T) {
	q := query.Or(
		query.Scale(query.Term("I0_0"), 5),
		query.Scale(query.Or(query.Term("IA0_127"), query.Scale(query.Term("IA0_128"), 0.5)), 2),
	)
	bq := ToBleve(q, TermsField)

	dq, ok := bq.(*blevequery.DisjunctionQuery)
	require.True(t, ok)
	require.Len(t, dq.Disjuncts, 2)

	tq, ok := dq.Disjuncts[0].(*blevequery.TermQuery)
	require.True(t, ok)
	assert.Equal(t, "I0_0", tq.Term)
	assert.Equal(t, TermsField, tq.Field())
	assert.Equal(t, 5.0, tq.Boost())

	inner, ok := dq.Disjuncts[1].(*blevequery.DisjunctionQuery)
	require.True(t, ok)
	assert.Equal(t, 2.0, inner.Boost())
	half, ok := inner.Disjuncts[1].(*blevequery.TermQuery)
	require.True(t, ok)
	assert.Equal(t, 0.5, half.Boost())

	data, err := json.Marshal(bq)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"term":"I0_0"`)
}

func TestToBleveNestedScalesMultiply(t *testing.T) {
	q := query.Scale(query.Scale(query.Term("I1_2"), 0.5), 4)
	tq, ok := ToBleve(q, "f").(*blevequery.TermQuery)
	require.True(t, ok)
	assert.Equal(t, 2.0, tq.Boost())
}

func TestToBleveMatchNothing(t *testing.T) {
	_, ok := ToBleve(query.MatchNothing, TermsField).(*blevequery.MatchNoneQuery)
	assert.True(t, ok)
}

func TestEvaluatorSearch(t *testing.T) {
	table, err := weights.NewHaarTable(weights.DefaultNumPixels)
	require.NoError(t, err)
	terms, err := imgseek.New(imgseek.Config{
		Prefix:        "I",
		AverageFields: [signature.NumChannels]string{"avg_y", "avg_i", "avg_q"},
	}, table)
	require.NoError(t, err)

	sigs := map[string]*signature.Signature{
		"img-1": {
			Coeffs:   [signature.NumChannels][]int{{0, 5, -3}, {2}, {}},
			Averages: [signature.NumChannels]float64{0.5, 0.0, -0.1},
		},
		"img-2": {
			Coeffs:   [signature.NumChannels][]int{{0, 5}, {2}, {}},
			Averages: [signature.NumChannels]float64{0.5, 0.0, -0.1},
		},
		"img-3": {
			Coeffs:   [signature.NumChannels][]int{{100}, {}, {40}},
			Averages: [signature.NumChannels]float64{0.95, 0.45, 0.5},
		},
	}
	ev, err := NewEvaluator()
	require.NoError(t, err)
	defer ev.Close()

	docs := make(map[string]*index.Document)
	for id, sig := range sigs {
		doc := index.NewDocument(id)
		require.NoError(t, terms.Index(doc, sig))
		require.NoError(t, ev.Add(doc))
		docs[id] = doc
	}

	q, err := terms.SimilarQuery(docs["img-1"])
	require.NoError(t, err)

	hits, err := ev.Search(context.Background(), q, 10, "img-1")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "img-2", hits[0].DocID)
	assert.Positive(t, hits[0].Score)

	hits, err = ev.Search(context.Background(), query.MatchNothing, 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}
