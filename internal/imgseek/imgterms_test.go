package imgseek

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/imgseek/internal/imgseek/signature"
	"github.com/Adithya-Monish-Kumar-K/imgseek/internal/imgseek/weights"
	"github.com/Adithya-Monish-Kumar-K/imgseek/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/imgseek/internal/searcher/query"
	"github.com/Adithya-Monish-Kumar-K/imgseek/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/imgseek/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/imgseek/pkg/serialise"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testFields = [signature.NumChannels]string{"avg_y", "avg_i", "avg_q"}

func newTestImgTerms(t *testing.T, numPixels int) *ImgTerms {
	t.Helper()
	table, err := weights.NewHaarTable(numPixels)
	require.NoError(t, err)
	it, err := New(Config{Prefix: "I", AverageFields: testFields}, table)
	require.NoError(t, err)
	return it
}

func scenarioSignature() *signature.Signature {
	return &signature.Signature{
		Coeffs: [signature.NumChannels][]int{
			{0, 5, -3},
			{2},
			{},
		},
		Averages: [signature.NumChannels]float64{0.5, 0.0, -0.1},
	}
}

func TestIndexScenario(t *testing.T) {
	it := newTestImgTerms(t, weights.DefaultNumPixels)
	doc := index.NewDocument("img-1")
	require.NoError(t, it.Index(doc, scenarioSignature()))

	assert.ElementsMatch(t, []string{"I0_0", "I0_5", "I0_-3"}, doc.TermsWithPrefix("I0_"))
	assert.Equal(t, []string{"I1_2"}, doc.TermsWithPrefix("I1_"))
	assert.Empty(t, doc.TermsWithPrefix("I2_"))

	for c, want := range []float64{0.5, 0.0, -0.1} {
		raw, ok := doc.Value(testFields[c])
		require.True(t, ok, "channel %d", c)
		got, err := serialise.DecodeFloat64(raw)
		require.NoError(t, err)
		assert.Equal(t, want, got)

		accel := it.Accelerator(signature.Channel(c))
		assert.True(t, doc.HasTerm(accel.BucketTerm(accel.Bucket(want))))
	}
	assert.Equal(t, 4+3, doc.TermCount())
}

func TestIndexIsIdempotent(t *testing.T) {
	it := newTestImgTerms(t, weights.DefaultNumPixels)
	doc := index.NewDocument("img-1")
	require.NoError(t, it.Index(doc, scenarioSignature()))
	first := doc.Terms()
	require.NoError(t, it.Index(doc, scenarioSignature()))
	assert.Equal(t, first, doc.Terms())
}

func TestSimilarQueryScenario(t *testing.T) {
	it := newTestImgTerms(t, weights.DefaultNumPixels)
	doc := index.NewDocument("img-1")
	require.NoError(t, it.Index(doc, scenarioSignature()))

	q, err := it.SimilarQuery(doc)
	require.NoError(t, err)

	or, ok := q.(*query.OrQuery)
	require.True(t, ok)
	assert.Len(t, or.Subs, 4+3)

	coeffWeights := map[string]float64{
		"I0_0":  5.00,
		"I0_5":  0.30,
		"I0_-3": 0.52,
		"I1_2":  0.44,
	}
	for _, sub := range or.Subs[:4] {
		scaled, ok := sub.(*query.ScaleQuery)
		require.True(t, ok)
		term, ok := scaled.Sub.(*query.TermQuery)
		require.True(t, ok)
		want, known := coeffWeights[term.Term]
		require.True(t, known, "unexpected term %q", term.Term)
		assert.Equal(t, want, scaled.Weight)
	}

	dcWeights := []float64{5.00, 19.21, 34.37}
	for c, sub := range or.Subs[4:] {
		scaled, ok := sub.(*query.ScaleQuery)
		require.True(t, ok)
		assert.Equal(t, dcWeights[c], scaled.Weight)

		accel := it.Accelerator(signature.Channel(c))
		center := accel.BucketTerm(accel.Bucket(scenarioSignature().Averages[c]))
		assert.InDelta(t, 1.0, query.WeightedTerms(scaled.Sub)[center], 1e-12)
		for _, term := range query.Terms(scaled.Sub) {
			assert.True(t, strings.HasPrefix(term, it.Mapper().AveragePrefixFor(signature.Channel(c))))
		}
	}

	weighted := query.WeightedTerms(q)
	for term, w := range coeffWeights {
		assert.InDelta(t, w, weighted[term], 1e-12, term)
	}
}

func TestSimilarQueryMalformedAverage(t *testing.T) {
	it := newTestImgTerms(t, weights.DefaultNumPixels)
	doc := index.NewDocument("img-1")
	require.NoError(t, it.Index(doc, scenarioSignature()))

	raw, _ := doc.Value(testFields[signature.ChannelI])
	doc.SetValue(testFields[signature.ChannelI], raw[:3])

	_, err := it.SimilarQuery(doc)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	assert.NotErrorIs(t, err, serialise.ErrTruncated)
	ch, ok := FailedChannel(err)
	require.True(t, ok)
	assert.Equal(t, signature.ChannelI, ch)
	assert.Contains(t, err.Error(), "channel 1")
	assert.Equal(t, 400, apperrors.HTTPStatusCode(err))
}

func TestSimilarQueryMissingAverage(t *testing.T) {
	it := newTestImgTerms(t, weights.DefaultNumPixels)
	doc := index.NewDocument("img-1")
	doc.AddTerm("I0_0")
	doc.SetValue(testFields[0], serialise.EncodeFloat64(0.2))
	doc.SetValue(testFields[1], serialise.EncodeFloat64(0.1))

	_, err := it.SimilarQuery(doc)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	ch, ok := FailedChannel(err)
	require.True(t, ok)
	assert.Equal(t, signature.ChannelQ, ch)
}

func TestSimilarQueryIncompatibleConfiguration(t *testing.T) {
	wide := newTestImgTerms(t, weights.DefaultNumPixels)
	doc := index.NewDocument("img-1")
	sig := scenarioSignature()
	sig.Coeffs[signature.ChannelQ] = []int{16000}
	require.NoError(t, wide.Index(doc, sig))

	narrow := newTestImgTerms(t, 8)
	_, err := narrow.SimilarQuery(doc)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	ch, ok := FailedChannel(err)
	require.True(t, ok)
	assert.Equal(t, signature.ChannelQ, ch)
}

func TestIndexRejectsNaNAverage(t *testing.T) {
	it := newTestImgTerms(t, weights.DefaultNumPixels)
	sig := scenarioSignature()
	sig.Averages[signature.ChannelQ] = math.NaN()
	err := it.Index(index.NewDocument("img-1"), sig)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	ch, ok := FailedChannel(err)
	require.True(t, ok)
	assert.Equal(t, signature.ChannelQ, ch)

	assert.ErrorIs(t, it.Index(index.NewDocument("img-2"), nil), apperrors.ErrInvalidInput)
}

func TestIndexRejectedSignatureLeavesDocumentUntouched(t *testing.T) {
	it := newTestImgTerms(t, weights.DefaultNumPixels)
	sig := scenarioSignature()
	sig.Averages[signature.ChannelI] = math.NaN()
	doc := index.NewDocument("img-1")

	err := it.Index(doc, sig)
	require.Error(t, err)
	ch, ok := FailedChannel(err)
	require.True(t, ok)
	assert.Equal(t, signature.ChannelI, ch)
	assert.Empty(t, doc.Terms())
	assert.Empty(t, doc.Fields())
}

func TestNewRejectsBadConfig(t *testing.T) {
	table, err := weights.NewHaarTable(8)
	require.NoError(t, err)

	_, err = New(Config{Prefix: "I", AverageFields: testFields}, nil)
	assert.ErrorIs(t, err, apperrors.ErrConfiguration)

	_, err = New(Config{Prefix: "I", AverageFields: [3]string{"a", "a", "b"}}, table)
	assert.ErrorIs(t, err, apperrors.ErrConfiguration)

	_, err = New(Config{Prefix: "I", AverageFields: [3]string{"a", "", "b"}}, table)
	assert.ErrorIs(t, err, apperrors.ErrConfiguration)

	_, err = New(Config{Prefix: "I", AverageFields: testFields, Buckets: -1}, table)
	assert.ErrorIs(t, err, apperrors.ErrConfiguration)
}

func TestSimilarQueryConcurrentReaders(t *testing.T) {
	it := newTestImgTerms(t, weights.DefaultNumPixels)
	docs := make([]*index.Document, 16)
	for i := range docs {
		docs[i] = index.NewDocument(fmt.Sprintf("img-%d", i))
		sig := scenarioSignature()
		sig.Coeffs[signature.ChannelY] = append(sig.Coeffs[signature.ChannelY], i+10)
		require.NoError(t, it.Index(docs[i], sig))
	}
	var wg sync.WaitGroup
	errs := make([]error, len(docs))
	for i, doc := range docs {
		wg.Add(1)
		go func(i int, doc *index.Document) {
			defer wg.Done()
			_, errs[i] = it.SimilarQuery(doc)
		}(i, doc)
	}
	wg.Wait()
	for _, err := range errs {
		assert.NoError(t, err)
	}
}

func TestFromConfig(t *testing.T) {
	cfg := config.ImgSeekConfig{
		TermPrefix:     "I",
		AverageFields:  testFields,
		NumPixels:      128,
		Buckets:        255,
		DistanceRadius: 16,
	}
	it, err := FromConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, 16384, it.Table().N())

	cfg.AverageFields[2] = "avg_y"
	_, err = FromConfig(cfg)
	assert.ErrorIs(t, err, apperrors.ErrConfiguration)
}
