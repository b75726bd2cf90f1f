// Package signature defines the perceptual image fingerprint produced by the
// wavelet decomposition step: per YIQ channel, a sparse set of significant
// coefficient positions and the channel's average over the whole image.
package signature

import "fmt"

// Channel identifies one component of the YIQ colour space.
type Channel int

const (
	ChannelY Channel = iota
	ChannelI
	ChannelQ
)

// NumChannels is the number of colour channels in a Signature.
const NumChannels = 3

// Channels lists every channel in index order.
var Channels = [NumChannels]Channel{ChannelY, ChannelI, ChannelQ}

// Valid reports whether c is one of the three YIQ channels.
func (c Channel) Valid() bool {
	return c >= ChannelY && c <= ChannelQ
}

func (c Channel) String() string {
	switch c {
	case ChannelY:
		return "Y"
	case ChannelI:
		return "I"
	case ChannelQ:
		return "Q"
	default:
		return fmt.Sprintf("Channel(%d)", int(c))
	}
}

// Signature is the fingerprint of one image. Coefficient positions lie in
// [-N, N) for the coefficient-space half-width N of the decomposition; the
// sign of a position carries the sign of the coefficient.
type Signature struct {
	Coeffs   [NumChannels][]int   `json:"coeffs"`
	Averages [NumChannels]float64 `json:"averages"`
}

// Positions returns the coefficient positions recorded for channel c.
func (s *Signature) Positions(c Channel) []int {
	return s.Coeffs[c]
}

// Average returns the average value of channel c.
func (s *Signature) Average(c Channel) float64 {
	return s.Averages[c]
}
