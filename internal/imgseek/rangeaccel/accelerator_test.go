package rangeaccel

import (
	"math"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/imgseek/internal/searcher/query"
	apperrors "github.com/Adithya-Monish-Kumar-K/imgseek/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/imgseek/pkg/serialise"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDoc struct {
	terms  []string
	values map[string][]byte
}

func (d *fakeDoc) AddTerm(term string) { d.terms = append(d.terms, term) }

func (d *fakeDoc) SetValue(field string, value []byte) {
	if d.values == nil {
		d.values = make(map[string][]byte)
	}
	d.values[field] = value
}

func newYIQ(t *testing.T) [3]*Accelerator {
	t.Helper()
	var accels [3]*Accelerator
	for c, domain := range YIQDomains {
		prefix := "IA" + string(rune('0'+c)) + "_"
		a, err := NewEqualBuckets(prefix, "avg"+string(rune('0'+c)), domain, 255, 0)
		require.NoError(t, err)
		require.Equal(t, 255, a.Buckets())
		require.Equal(t, prefix, a.Prefix())
		require.Equal(t, DefaultRadius, a.Radius())
		accels[c] = a
	}
	return accels
}

func TestBucketBoundaries(t *testing.T) {
	for c, a := range newYIQ(t) {
		d := YIQDomains[c]
		assert.Equal(t, 0, a.Bucket(d.Min), "channel %d min", c)
		assert.Equal(t, 254, a.Bucket(math.Nextafter(d.Max, d.Min)), "channel %d max-eps", c)
		assert.Equal(t, 254, a.Bucket(d.Max), "channel %d max", c)
		assert.Equal(t, 0, a.Bucket(d.Min-10), "channel %d below", c)
		assert.Equal(t, 254, a.Bucket(d.Max+10), "channel %d above", c)
		assert.Equal(t, 0, a.Bucket(math.NaN()))
		assert.Equal(t, 254, a.Bucket(math.Inf(1)))
		assert.Equal(t, 0, a.Bucket(math.Inf(-1)))
	}

	y := newYIQ(t)[0]
	assert.Equal(t, 127, y.Bucket(0.5))
	assert.Equal(t, 1, y.Bucket(1.5/255))
}

func TestBucketsCoverDomainMonotonically(t *testing.T) {
	a := newYIQ(t)[1]
	prev := 0
	const steps = 10000
	d := a.Domain()
	for i := 0; i < steps; i++ {
		v := d.Min + (d.Max-d.Min)*float64(i)/steps
		b := a.Bucket(v)
		assert.GreaterOrEqual(t, b, prev)
		assert.LessOrEqual(t, b-prev, 1)
		prev = b
	}
	assert.Equal(t, a.Buckets()-1, prev)
}

func TestAddValStoresRawValue(t *testing.T) {
	a := newYIQ(t)[2]
	doc := &fakeDoc{}
	require.NoError(t, a.AddVal(doc, -0.1))

	v, err := serialise.DecodeFloat64(doc.values["avg2"])
	require.NoError(t, err)
	assert.Equal(t, -0.1, v)
	assert.Equal(t, []string{a.BucketTerm(a.Bucket(-0.1))}, doc.terms)

	require.NoError(t, a.AddVal(doc, 7.5))
	v, err = serialise.DecodeFloat64(doc.values["avg2"])
	require.NoError(t, err)
	assert.Equal(t, 7.5, v, "out-of-domain values are stored verbatim")
	assert.Equal(t, a.BucketTerm(254), doc.terms[1])

	assert.ErrorIs(t, a.AddVal(doc, math.NaN()), apperrors.ErrInvalidInput)
}

func TestQueryForValDistance(t *testing.T) {
	a, err := New(Config{Prefix: "P", Field: "f", Domain: Domain{Min: 0, Max: 10}, Width: 1, Radius: 2})
	require.NoError(t, err)

	weighted := query.WeightedTerms(a.QueryForValDistance(5.5))
	assert.Len(t, weighted, 5)
	assert.InDelta(t, 1.0, weighted["P5"], 1e-12)
	assert.InDelta(t, 2.0/3, weighted["P4"], 1e-12)
	assert.InDelta(t, 2.0/3, weighted["P6"], 1e-12)
	assert.InDelta(t, 1.0/3, weighted["P3"], 1e-12)
	assert.InDelta(t, 1.0/3, weighted["P7"], 1e-12)

	edge := query.WeightedTerms(a.QueryForValDistance(-3))
	assert.Equal(t, []string{"P0", "P1", "P2"}, query.Terms(a.QueryForValDistance(-3)))
	assert.InDelta(t, 1.0, edge["P0"], 1e-12)

	top := query.Terms(a.QueryForValDistance(10))
	assert.Equal(t, []string{"P7", "P8", "P9"}, top)
}

func TestQueryForValDistanceMatchesStoredBucket(t *testing.T) {
	for c, a := range newYIQ(t) {
		d := YIQDomains[c]
		for _, v := range []float64{d.Min, math.Nextafter(d.Max, d.Min), (d.Min + d.Max) / 2, d.Max} {
			doc := &fakeDoc{}
			require.NoError(t, a.AddVal(doc, v))
			weighted := query.WeightedTerms(a.QueryForValDistance(v))
			assert.InDelta(t, 1.0, weighted[doc.terms[0]], 1e-12, "channel %d value %v", c, v)
		}
	}
}

func TestCustomCurveSkipsNonPositiveWeights(t *testing.T) {
	a, err := New(Config{
		Prefix: "P",
		Field:  "f",
		Domain: Domain{Min: 0, Max: 10},
		Width:  1,
		Radius: 3,
		Curve: func(distance, _ int) float64 {
			if distance > 1 {
				return 0
			}
			return 1
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"P4", "P5", "P6"}, query.Terms(a.QueryForValDistance(5)))
}

func TestNewRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"no field", Config{Prefix: "P", Domain: Domain{0, 1}, Width: 0.1}},
		{"empty domain", Config{Field: "f", Domain: Domain{1, 1}, Width: 0.1}},
		{"inverted domain", Config{Field: "f", Domain: Domain{1, 0}, Width: 0.1}},
		{"zero width", Config{Field: "f", Domain: Domain{0, 1}, Width: 0}},
		{"negative width", Config{Field: "f", Domain: Domain{0, 1}, Width: -0.1}},
		{"nan width", Config{Field: "f", Domain: Domain{0, 1}, Width: math.NaN()}},
		{"gappy width", Config{Field: "f", Domain: Domain{0, 1}, Width: 0.3}},
		{"wider than domain", Config{Field: "f", Domain: Domain{0, 1}, Width: 3}},
		{"negative radius", Config{Field: "f", Domain: Domain{0, 1}, Width: 0.5, Radius: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			assert.ErrorIs(t, err, apperrors.ErrConfiguration)
		})
	}

	_, err := NewEqualBuckets("P", "f", Domain{0, 1}, 0, 0)
	assert.ErrorIs(t, err, apperrors.ErrConfiguration)
}
