package indexer

import (
	"testing"

	"github.com/Adithya-Monish-Kumar-K/imgseek/internal/imgseek"
	"github.com/Adithya-Monish-Kumar-K/imgseek/internal/imgseek/signature"
	"github.com/Adithya-Monish-Kumar-K/imgseek/internal/imgseek/weights"
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

func newTestEngine(t testing.TB, dir string) *Engine {
	t.Helper()
	e, err := NewEngine(config.IndexerConfig{
		DataDir:           dir,
		SegmentMaxSize:    1 << 30,
		DocumentCacheSize: 16,
	}, newTestTerms(t))
	require.NoError(t, err)
	return e
}

func testSignature(coeffs ...int) *signature.Signature {
	return &signature.Signature{
		Coeffs:   [signature.NumChannels][]int{coeffs, {2}, {}},
		Averages: [signature.NumChannels]float64{0.5, 0.0, -0.1},
	}
}

func postingIDs(t *testing.T, e *Engine, term string) []string {
	t.Helper()
	postings, err := e.Search(term)
	require.NoError(t, err)
	ids := make([]string, len(postings))
	for i, p := range postings {
		ids[i] = p.DocID
	}
	return ids
}

func TestEngineIndexSignature(t *testing.T) {
	e := newTestEngine(t, t.TempDir())
	defer e.Close()

	require.NoError(t, e.IndexSignature("img-1", testSignature(0, 5, -3)))
	require.NoError(t, e.IndexSignature("img-2", testSignature(0, 7)))

	assert.Equal(t, []string{"img-1", "img-2"}, postingIDs(t, e, "I0_0"))
	assert.Equal(t, []string{"img-1"}, postingIDs(t, e, "I0_-3"))
	assert.Empty(t, postingIDs(t, e, "I0_9"))

	doc, err := e.Document("img-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"I0_-3", "I0_0", "I0_5"}, doc.TermsWithPrefix("I0_"))
	assert.Equal(t, int64(2), e.GetTotalDocs())
	assert.Equal(t, 7, e.GetDocLength("img-1"))
	assert.InDelta(t, 6.5, e.GetAvgDocLength(), 1e-9)
}

func TestEngineRejectsInvalidSignature(t *testing.T) {
	e := newTestEngine(t, t.TempDir())
	defer e.Close()

	assert.ErrorIs(t, e.IndexSignature("", testSignature(0)), apperrors.ErrInvalidInput)
	assert.ErrorIs(t, e.IndexSignature("img-1", nil), apperrors.ErrInvalidInput)

	err := e.IndexSignature("img-1", testSignature(1<<20))
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	ch, ok := imgseek.FailedChannel(err)
	assert.True(t, ok)
	assert.Equal(t, signature.ChannelY, ch)
	assert.Zero(t, e.GetTotalDocs())
}

func TestEngineDocumentNotFound(t *testing.T) {
	e := newTestEngine(t, t.TempDir())
	defer e.Close()

	_, err := e.Document("missing")
	assert.ErrorIs(t, err, apperrors.ErrDocumentNotFound)
	assert.Equal(t, 404, apperrors.HTTPStatusCode(err))
}

func TestEngineFlushAndRecover(t *testing.T) {
	dir := t.TempDir()
	e := newTestEngine(t, dir)
	require.NoError(t, e.IndexSignature("img-1", testSignature(0, 5)))
	require.NoError(t, e.Flush())

	assert.Equal(t, []string{"img-1"}, postingIDs(t, e, "I0_5"))
	doc, err := e.Document("img-1")
	require.NoError(t, err)
	assert.True(t, doc.HasTerm("I1_2"))
	require.NoError(t, e.Close())

	reopened := newTestEngine(t, dir)
	defer reopened.Close()
	assert.Equal(t, []string{"img-1"}, postingIDs(t, reopened, "I0_5"))
	doc, err = reopened.Document("img-1")
	require.NoError(t, err)
	_, ok := doc.Value("avg_q")
	assert.True(t, ok)
	assert.Equal(t, 6, reopened.GetDocLength("img-1"))

	require.NoError(t, reopened.IndexSignature("img-0", testSignature(3)))
	assert.Equal(t, []string{"img-0", "img-1"}, reopened.DocIDs())
}

func TestEngineReindexSupersedesOlderSegment(t *testing.T) {
	dir := t.TempDir()
	e := newTestEngine(t, dir)
	require.NoError(t, e.IndexSignature("img-1", testSignature(0, 5)))
	require.NoError(t, e.Flush())

	require.NoError(t, e.IndexSignature("img-1", testSignature(0, 9)))
	assert.Empty(t, postingIDs(t, e, "I0_5"))
	assert.Equal(t, []string{"img-1"}, postingIDs(t, e, "I0_9"))
	assert.Equal(t, []string{"img-1"}, postingIDs(t, e, "I0_0"))

	require.NoError(t, e.Flush())
	assert.Empty(t, postingIDs(t, e, "I0_5"))
	doc, err := e.Document("img-1")
	require.NoError(t, err)
	assert.True(t, doc.HasTerm("I0_9"))
	assert.False(t, doc.HasTerm("I0_5"))
	require.NoError(t, e.Close())

	reopened := newTestEngine(t, dir)
	defer reopened.Close()
	assert.Empty(t, postingIDs(t, reopened, "I0_5"))
	assert.Equal(t, []string{"img-1"}, postingIDs(t, reopened, "I0_9"))
	assert.Equal(t, int64(1), reopened.GetTotalDocs())
}

func TestEngineReloadSegments(t *testing.T) {
	dir := t.TempDir()
	writer := newTestEngine(t, dir)
	defer writer.Close()
	reader := newTestEngine(t, dir)
	defer reader.Close()

	assert.Zero(t, reader.ReloadSegments())

	require.NoError(t, writer.IndexSignature("img-1", testSignature(0, 5)))
	require.NoError(t, writer.Flush())

	assert.Equal(t, 1, reader.ReloadSegments())
	assert.Zero(t, reader.ReloadSegments())
	assert.Equal(t, []string{"img-1"}, postingIDs(t, reader, "I0_5"))
	_, err := reader.Document("img-1")
	require.NoError(t, err)
}
