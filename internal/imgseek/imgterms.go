// Package imgseek turns image signatures into index terms and builds
// similarity queries from indexed documents.
//
// At index time every significant wavelet coefficient becomes a term and the
// channel averages are stored raw alongside a range bucket term. At query
// time the coefficient terms of a document are re-read, each scaled by its
// positional weight, and OR-ed with per-channel average distance queries.
package imgseek

import (
	"errors"
	"fmt"
	"math"

	"github.com/Adithya-Monish-Kumar-K/imgseek/internal/imgseek/rangeaccel"
	"github.com/Adithya-Monish-Kumar-K/imgseek/internal/imgseek/signature"
	"github.com/Adithya-Monish-Kumar-K/imgseek/internal/imgseek/terms"
	"github.com/Adithya-Monish-Kumar-K/imgseek/internal/imgseek/weights"
	"github.com/Adithya-Monish-Kumar-K/imgseek/internal/searcher/query"
	"github.com/Adithya-Monish-Kumar-K/imgseek/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/imgseek/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/imgseek/pkg/serialise"
)

// DefaultBuckets is the number of range buckets per channel average.
const DefaultBuckets = 255

// Document is the write side of an index document.
type Document interface {
	AddTerm(term string)
	SetValue(field string, value []byte)
}

// IndexedDocument is the read side of an index document. TermsWithPrefix
// must return the document's terms that start with prefix.
type IndexedDocument interface {
	TermsWithPrefix(prefix string) []string
	Value(field string) ([]byte, bool)
}

// Config describes the term layout of one index configuration.
type Config struct {
	Prefix        string
	AverageFields [signature.NumChannels]string
	Buckets       int
	Radius        int
}

// ImgTerms is immutable after construction and safe for concurrent use.
type ImgTerms struct {
	mapper *terms.Mapper
	table  *weights.Table
	accels [signature.NumChannels]*rangeaccel.Accelerator
}

// New builds an ImgTerms from cfg and a weight table. Buckets 0 means
// DefaultBuckets and Radius 0 means rangeaccel.DefaultRadius.
func New(cfg Config, table *weights.Table) (*ImgTerms, error) {
	if table == nil {
		return nil, apperrors.Configurationf("imgseek: weight table is required")
	}
	buckets := cfg.Buckets
	if buckets == 0 {
		buckets = DefaultBuckets
	}
	seen := make(map[string]signature.Channel, signature.NumChannels)
	it := &ImgTerms{
		mapper: terms.NewMapper(cfg.Prefix),
		table:  table,
	}
	for _, c := range signature.Channels {
		field := cfg.AverageFields[c]
		if prev, ok := seen[field]; ok && field != "" {
			return nil, apperrors.Configurationf("imgseek: channels %s and %s share average field %q", prev, c, field)
		}
		seen[field] = c
		accel, err := rangeaccel.NewEqualBuckets(it.mapper.AveragePrefixFor(c), field, rangeaccel.YIQDomains[c], buckets, cfg.Radius)
		if err != nil {
			return nil, fmt.Errorf("channel %s average accelerator: %w", c, err)
		}
		it.accels[c] = accel
	}
	return it, nil
}

// FromConfig validates cfg and builds the Haar weight table and ImgTerms it
// describes.
func FromConfig(cfg config.ImgSeekConfig) (*ImgTerms, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	table, err := weights.NewHaarTable(cfg.NumPixels)
	if err != nil {
		return nil, fmt.Errorf("building weight table: %w", err)
	}
	return New(Config{
		Prefix:        cfg.TermPrefix,
		AverageFields: cfg.AverageFields,
		Buckets:       cfg.Buckets,
		Radius:        cfg.DistanceRadius,
	}, table)
}

// Mapper returns the term mapper.
func (it *ImgTerms) Mapper() *terms.Mapper {
	return it.mapper
}

// Table returns the weight table.
func (it *ImgTerms) Table() *weights.Table {
	return it.table
}

// Accelerator returns the average accelerator of channel c.
func (it *ImgTerms) Accelerator(c signature.Channel) *rangeaccel.Accelerator {
	return it.accels[c]
}

// Index writes the coefficient terms and channel averages of sig onto doc.
// A rejected signature leaves doc untouched. doc must not be mutated
// concurrently.
func (it *ImgTerms) Index(doc Document, sig *signature.Signature) error {
	if sig == nil {
		return apperrors.InvalidInputf("imgseek: nil signature")
	}
	for _, c := range signature.Channels {
		if math.IsNaN(sig.Average(c)) {
			return &ChannelError{Channel: c, Err: apperrors.InvalidInputf("average is NaN")}
		}
	}
	for _, term := range it.mapper.TermsFor(sig) {
		doc.AddTerm(term)
	}
	for _, c := range signature.Channels {
		if err := it.accels[c].AddVal(doc, sig.Average(c)); err != nil {
			return &ChannelError{Channel: c, Err: err}
		}
	}
	return nil
}

// SimilarQuery returns OR(CoefficientQuery(doc), AveragesQuery(doc)).
func (it *ImgTerms) SimilarQuery(doc IndexedDocument) (query.Query, error) {
	coeffs, err := it.CoefficientQuery(doc)
	if err != nil {
		return nil, err
	}
	averages, err := it.AveragesQuery(doc)
	if err != nil {
		return nil, err
	}
	return query.Or(coeffs, averages), nil
}

// CoefficientQuery ORs every coefficient term of doc, each scaled by the
// weight of its position and channel.
func (it *ImgTerms) CoefficientQuery(doc IndexedDocument) (query.Query, error) {
	var subs []query.Query
	for _, c := range signature.Channels {
		for _, term := range doc.TermsWithPrefix(it.mapper.PrefixFor(c)) {
			decoded, err := it.mapper.Decode(term)
			if err != nil {
				return nil, &ChannelError{Channel: c, Err: err}
			}
			w, ok := it.table.Lookup(decoded.Position, c)
			if !ok {
				return nil, &ChannelError{
					Channel: c,
					Err:     apperrors.InvalidInputf("coefficient position %d outside [-%d, %d)", decoded.Position, it.table.N(), it.table.N()),
				}
			}
			subs = append(subs, query.Scale(query.Term(term), w))
		}
	}
	return query.Or(subs...), nil
}

// AveragesQuery ORs one average-distance query per channel, each scaled by
// the channel's DC (position 0) weight.
func (it *ImgTerms) AveragesQuery(doc IndexedDocument) (query.Query, error) {
	subs := make([]query.Query, 0, signature.NumChannels)
	for _, c := range signature.Channels {
		v, err := it.storedAverage(doc, c)
		if err != nil {
			return nil, err
		}
		subs = append(subs, query.Scale(it.accels[c].QueryForValDistance(v), it.table.Weight(0, c)))
	}
	return query.Or(subs...), nil
}

func (it *ImgTerms) storedAverage(doc IndexedDocument, c signature.Channel) (float64, error) {
	field := it.accels[c].Field()
	raw, ok := doc.Value(field)
	if !ok {
		return 0, &ChannelError{Channel: c, Err: apperrors.InvalidInputf("stored average field %q is missing", field)}
	}
	v, err := serialise.DecodeFloat64(raw)
	if err != nil {
		// The decode error stays out of the chain: callers see an invalid
		// argument, not a serialisation failure.
		return 0, &ChannelError{Channel: c, Err: apperrors.InvalidInputf("stored average field %q is malformed: %v", field, err)}
	}
	if math.IsNaN(v) {
		return 0, &ChannelError{Channel: c, Err: apperrors.InvalidInputf("stored average field %q is NaN", field)}
	}
	return v, nil
}

// ChannelError reports which colour channel of a document or signature could
// not be processed. Err is always an invalid-input AppError.
type ChannelError struct {
	Channel signature.Channel
	Err     error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("channel %d (%s): %v", int(e.Channel), e.Channel, e.Err)
}

func (e *ChannelError) Unwrap() error {
	return e.Err
}

// FailedChannel returns the channel named by err, if any.
func FailedChannel(err error) (signature.Channel, bool) {
	var chErr *ChannelError
	if errors.As(err, &chErr) {
		return chErr.Channel, true
	}
	return 0, false
}
