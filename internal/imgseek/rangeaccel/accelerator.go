// Package rangeaccel makes a continuous per-document value queryable by
// distance through an inverted index. The raw value is stored verbatim in a
// named field and a bucket term is added alongside it; at query time the
// buckets around an anchor value are OR-ed together, each scaled by how near
// it is to the anchor.
package rangeaccel

import (
	"math"
	"strconv"

	"github.com/Adithya-Monish-Kumar-K/imgseek/internal/searcher/query"
	apperrors "github.com/Adithya-Monish-Kumar-K/imgseek/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/imgseek/pkg/serialise"
)

// DefaultRadius is the number of buckets either side of the anchor bucket
// that a distance query reaches.
const DefaultRadius = 16

// bucketCountTolerance bounds how far (max-min)/width may stray from an
// integer before the domain is considered not partitioned by the width.
const bucketCountTolerance = 1e-9

// DocumentWriter is the part of an index document AddVal writes to.
type DocumentWriter interface {
	AddTerm(term string)
	SetValue(field string, value []byte)
}

// DistanceCurve maps a bucket distance in [0, radius] to a weight. Buckets
// given a weight <= 0 are left out of the query.
type DistanceCurve func(distance, radius int) float64

// LinearFalloff weights the anchor bucket 1 and drops linearly to
// 1/(radius+1) at the edge of the window.
func LinearFalloff(distance, radius int) float64 {
	return 1 - float64(distance)/float64(radius+1)
}

// Domain is the half-open value range [Min, Max) covered by the buckets.
type Domain struct {
	Min float64
	Max float64
}

// YIQDomains are the value ranges of the Y, I and Q colour channels.
var YIQDomains = [3]Domain{
	{Min: 0.0, Max: 1.0},
	{Min: -0.523, Max: 0.523},
	{Min: -0.596, Max: 0.596},
}

// Config describes one accelerator.
type Config struct {
	Prefix string
	Field  string
	Domain Domain
	Width  float64
	Radius int
	Curve  DistanceCurve
}

// Accelerator is immutable and safe for concurrent use.
type Accelerator struct {
	prefix  string
	field   string
	domain  Domain
	width   float64
	buckets int
	radius  int
	curve   DistanceCurve
}

// New validates cfg and builds an Accelerator. Radius 0 means DefaultRadius
// and a nil Curve means LinearFalloff.
func New(cfg Config) (*Accelerator, error) {
	if cfg.Field == "" {
		return nil, apperrors.Configurationf("range accelerator %q: field name is required", cfg.Prefix)
	}
	d := cfg.Domain
	if math.IsNaN(d.Min) || math.IsNaN(d.Max) || math.IsInf(d.Min, 0) || math.IsInf(d.Max, 0) || d.Min >= d.Max {
		return nil, apperrors.Configurationf("range accelerator %q: invalid domain [%v, %v)", cfg.Prefix, d.Min, d.Max)
	}
	if !(cfg.Width > 0) || math.IsInf(cfg.Width, 0) {
		return nil, apperrors.Configurationf("range accelerator %q: bucket width must be positive, got %v", cfg.Prefix, cfg.Width)
	}
	ratio := (d.Max - d.Min) / cfg.Width
	buckets := math.Round(ratio)
	if buckets < 1 || math.Abs(ratio-buckets) > bucketCountTolerance*ratio {
		return nil, apperrors.Configurationf("range accelerator %q: width %v does not partition [%v, %v)", cfg.Prefix, cfg.Width, d.Min, d.Max)
	}
	if cfg.Radius < 0 {
		return nil, apperrors.Configurationf("range accelerator %q: negative radius %d", cfg.Prefix, cfg.Radius)
	}
	a := &Accelerator{
		prefix:  cfg.Prefix,
		field:   cfg.Field,
		domain:  d,
		width:   cfg.Width,
		buckets: int(buckets),
		radius:  cfg.Radius,
		curve:   cfg.Curve,
	}
	if a.radius == 0 {
		a.radius = DefaultRadius
	}
	if a.curve == nil {
		a.curve = LinearFalloff
	}
	return a, nil
}

// NewEqualBuckets builds an accelerator that splits domain into n buckets.
func NewEqualBuckets(prefix, field string, domain Domain, n, radius int) (*Accelerator, error) {
	if n <= 0 {
		return nil, apperrors.Configurationf("range accelerator %q: bucket count must be positive, got %d", prefix, n)
	}
	return New(Config{
		Prefix: prefix,
		Field:  field,
		Domain: domain,
		Width:  (domain.Max - domain.Min) / float64(n),
		Radius: radius,
	})
}

func (a *Accelerator) Prefix() string { return a.prefix }
func (a *Accelerator) Field() string  { return a.field }
func (a *Accelerator) Domain() Domain { return a.domain }
func (a *Accelerator) Buckets() int   { return a.buckets }
func (a *Accelerator) Radius() int    { return a.radius }

// Bucket returns the bucket holding v. Values below the domain (and NaN)
// fall into bucket 0; values at or above Max fall into the last bucket.
func (a *Accelerator) Bucket(v float64) int {
	if !(v >= a.domain.Min) {
		return 0
	}
	if v >= a.domain.Max {
		return a.buckets - 1
	}
	b := int(math.Floor((v - a.domain.Min) / a.width))
	return min(max(b, 0), a.buckets-1)
}

// BucketTerm returns the index term for bucket b.
func (a *Accelerator) BucketTerm(b int) string {
	return a.prefix + strconv.Itoa(b)
}

// AddVal stores v in the accelerator's field and adds its bucket term.
func (a *Accelerator) AddVal(doc DocumentWriter, v float64) error {
	if math.IsNaN(v) {
		return apperrors.InvalidInputf("range accelerator %q: value is NaN", a.prefix)
	}
	doc.SetValue(a.field, serialise.EncodeFloat64(v))
	doc.AddTerm(a.BucketTerm(a.Bucket(v)))
	return nil
}

// QueryForValDistance returns an OR over the buckets within the radius of
// v's bucket, each scaled by the distance curve.
func (a *Accelerator) QueryForValDistance(v float64) query.Query {
	center := a.Bucket(v)
	subs := make([]query.Query, 0, 2*a.radius+1)
	for d := 0; d <= a.radius; d++ {
		w := a.curve(d, a.radius)
		if !(w > 0) || math.IsInf(w, 0) {
			continue
		}
		if b := center - d; b >= 0 {
			subs = append(subs, query.Scale(query.Term(a.BucketTerm(b)), w))
		}
		if b := center + d; d > 0 && b < a.buckets {
			subs = append(subs, query.Scale(query.Term(a.BucketTerm(b)), w))
		}
	}
	return query.Or(subs...)
}
