package serialise

import (
	"bytes"
	"math"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFloat64RoundTrip(t *testing.T) {
	values := []float64{0, math.Copysign(0, -1), 0.5, -0.1, 1, -0.523, 0.596, math.MaxFloat64, -math.MaxFloat64, math.SmallestNonzeroFloat64, math.Inf(1), math.Inf(-1)}
	for _, v := range values {
		got, err := DecodeFloat64(EncodeFloat64(v))
		require.NoError(t, err)
		assert.Equal(t, math.Float64bits(v), math.Float64bits(got), "value %v", v)
	}
}

func TestFloat64EncodingSortsNumerically(t *testing.T) {
	values := []float64{3.5, -2, 0, -0.001, 0.001, 1e9, -1e9, 0.25}
	encoded := make([][]byte, len(values))
	for i, v := range values {
		encoded[i] = EncodeFloat64(v)
	}
	sort.Slice(encoded, func(i, j int) bool { return bytes.Compare(encoded[i], encoded[j]) < 0 })
	sort.Float64s(values)
	for i, b := range encoded {
		got, err := DecodeFloat64(b)
		require.NoError(t, err)
		assert.Equal(t, values[i], got)
	}
}

func TestDecodeFloat64Errors(t *testing.T) {
	_, err := DecodeFloat64(nil)
	assert.ErrorIs(t, err, ErrTruncated)

	_, err = DecodeFloat64(EncodeFloat64(1)[:5])
	assert.ErrorIs(t, err, ErrTruncated)

	_, err = DecodeFloat64(append(EncodeFloat64(1), 0))
	assert.ErrorIs(t, err, ErrTrailingBytes)
}
