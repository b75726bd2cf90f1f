// Package weights holds the per-(coefficient position, channel) importance
// weights used to scale coefficient terms in similarity queries.
package weights

import (
	"fmt"
	"math"

	"github.com/Adithya-Monish-Kumar-K/imgseek/internal/imgseek/signature"
	apperrors "github.com/Adithya-Monish-Kumar-K/imgseek/pkg/errors"
)

// WeightFunc supplies the weight of a coefficient position for a channel.
type WeightFunc func(position int, c signature.Channel) float64

// Table is an immutable weight lookup covering every position in [-N, N)
// for each of the three channels. It is safe for concurrent use.
type Table struct {
	n       int
	weights [][signature.NumChannels]float64
}

// NewTable eagerly evaluates fn once for every (position, channel) pair in
// [-n, n) x {Y, I, Q}. A non-positive n or a weight that is negative, NaN or
// infinite is a configuration error.
func NewTable(n int, fn WeightFunc) (*Table, error) {
	if n <= 0 {
		return nil, apperrors.Configurationf("weight table half-width must be positive, got %d", n)
	}
	if fn == nil {
		return nil, apperrors.Configurationf("weight table requires a weight function")
	}
	t := &Table{
		n:       n,
		weights: make([][signature.NumChannels]float64, 2*n),
	}
	for pos := -n; pos < n; pos++ {
		for _, c := range signature.Channels {
			w := fn(pos, c)
			if math.IsNaN(w) || math.IsInf(w, 0) || w < 0 {
				return nil, apperrors.Configurationf("weight for position %d channel %s is %v", pos, c, w)
			}
			t.weights[pos+n][c] = w
		}
	}
	return t, nil
}

// N returns the coefficient-space half-width the table was built for.
func (t *Table) N() int {
	return t.n
}

// Contains reports whether (position, c) has an entry.
func (t *Table) Contains(position int, c signature.Channel) bool {
	return position >= -t.n && position < t.n && c.Valid()
}

// Lookup returns the weight for (position, c) and whether it exists.
func (t *Table) Lookup(position int, c signature.Channel) (float64, bool) {
	if !t.Contains(position, c) {
		return 0, false
	}
	return t.weights[position+t.n][c], true
}

// Weight returns the weight for (position, c). Asking for a pair outside the
// table is a programming error and panics.
func (t *Table) Weight(position int, c signature.Channel) float64 {
	w, ok := t.Lookup(position, c)
	if !ok {
		panic(fmt.Sprintf("weights: no entry for position %d channel %s (N=%d)", position, c, t.n))
	}
	return w
}
