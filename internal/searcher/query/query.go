// Package query is the query algebra evaluated by the search executor:
// single-term queries, weight scaling and OR composition. Scores of OR
// operands add; a scale node multiplies its operand's contribution.
package query

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Query is a node of a query tree. The concrete node types are *TermQuery,
// *ScaleQuery, *OrQuery and MatchNothing.
type Query interface {
	String() string
	query()
}

// TermQuery matches documents containing Term.
type TermQuery struct {
	Term string
}

// ScaleQuery multiplies the score contributed by Sub by Weight.
type ScaleQuery struct {
	Sub    Query
	Weight float64
}

// OrQuery matches documents matching any of Subs.
type OrQuery struct {
	Subs []Query
}

type matchNothing struct{}

// MatchNothing matches no documents. It is the identity of Or.
var MatchNothing Query = matchNothing{}

func (*TermQuery) query()   {}
func (*ScaleQuery) query()  {}
func (*OrQuery) query()     {}
func (matchNothing) query() {}

// Term returns a query for a single term.
func Term(term string) Query {
	return &TermQuery{Term: term}
}

// Scale wraps q so that its contribution is multiplied by weight. A
// negative, NaN or infinite weight is a programming error and panics.
func Scale(q Query, weight float64) Query {
	if math.IsNaN(weight) || math.IsInf(weight, 0) || weight < 0 {
		panic(fmt.Sprintf("query: invalid scale weight %v", weight))
	}
	if IsEmpty(q) {
		return MatchNothing
	}
	return &ScaleQuery{Sub: q, Weight: weight}
}

// Or combines queries. Empty operands are dropped and nested ORs are
// flattened; an OR of nothing is MatchNothing and an OR of one operand is
// that operand.
func Or(qs ...Query) Query {
	subs := make([]Query, 0, len(qs))
	for _, q := range qs {
		if IsEmpty(q) {
			continue
		}
		if or, ok := q.(*OrQuery); ok {
			subs = append(subs, or.Subs...)
			continue
		}
		subs = append(subs, q)
	}
	switch len(subs) {
	case 0:
		return MatchNothing
	case 1:
		return subs[0]
	default:
		return &OrQuery{Subs: subs}
	}
}

// IsEmpty reports whether q can match nothing.
func IsEmpty(q Query) bool {
	if q == nil {
		return true
	}
	_, ok := q.(matchNothing)
	return ok
}

// WeightedTerms flattens q into the effective weight of every leaf term: the
// product of the scale factors above it, summed over every occurrence.
func WeightedTerms(q Query) map[string]float64 {
	result := make(map[string]float64)
	collect(q, 1, result)
	return result
}

func collect(q Query, factor float64, into map[string]float64) {
	switch n := q.(type) {
	case *TermQuery:
		into[n.Term] += factor
	case *ScaleQuery:
		collect(n.Sub, factor*n.Weight, into)
	case *OrQuery:
		for _, sub := range n.Subs {
			collect(sub, factor, into)
		}
	}
}

// Terms returns the distinct leaf terms of q in sorted order.
func Terms(q Query) []string {
	weighted := WeightedTerms(q)
	result := make([]string, 0, len(weighted))
	for term := range weighted {
		result = append(result, term)
	}
	sort.Strings(result)
	return result
}

func (q *TermQuery) String() string {
	return q.Term
}

func (q *ScaleQuery) String() string {
	return fmt.Sprintf("(%s * %s)", q.Sub.String(), strconv.FormatFloat(q.Weight, 'g', -1, 64))
}

func (q *OrQuery) String() string {
	parts := make([]string, len(q.Subs))
	for i, sub := range q.Subs {
		parts[i] = sub.String()
	}
	return "(" + strings.Join(parts, " OR ") + ")"
}

func (matchNothing) String() string {
	return "<nothing>"
}
