// Package serialise encodes scalar values stored alongside indexed documents.
// Float64 values use an order-preserving 8-byte form: the IEEE 754 bits are
// written big-endian with the sign bit flipped for positives and all bits
// flipped for negatives, so byte-wise comparison matches numeric order.
package serialise

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Float64Size is the encoded length of a float64.
const Float64Size = 8

var (
	ErrTruncated     = errors.New("serialise: truncated float64")
	ErrTrailingBytes = errors.New("serialise: trailing bytes after float64")
)

// EncodeFloat64 returns the sortable encoding of v.
func EncodeFloat64(v float64) []byte {
	bits := math.Float64bits(v)
	if bits&(1<<63) != 0 {
		bits = ^bits
	} else {
		bits |= 1 << 63
	}
	b := make([]byte, Float64Size)
	binary.BigEndian.PutUint64(b, bits)
	return b
}

// DecodeFloat64 reverses EncodeFloat64. The input must be exactly
// Float64Size bytes long.
func DecodeFloat64(b []byte) (float64, error) {
	if len(b) < Float64Size {
		return 0, fmt.Errorf("%w: got %d bytes, want %d", ErrTruncated, len(b), Float64Size)
	}
	if len(b) > Float64Size {
		return 0, fmt.Errorf("%w: got %d bytes, want %d", ErrTrailingBytes, len(b), Float64Size)
	}
	bits := binary.BigEndian.Uint64(b)
	if bits&(1<<63) != 0 {
		bits &^= 1 << 63
	} else {
		bits = ^bits
	}
	return math.Float64frombits(bits), nil
}
