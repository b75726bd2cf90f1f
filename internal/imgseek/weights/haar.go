package weights

import (
	"github.com/Adithya-Monish-Kumar-K/imgseek/internal/imgseek/signature"
	apperrors "github.com/Adithya-Monish-Kumar-K/imgseek/pkg/errors"
)

// DefaultNumPixels is the side length of the square the decomposition
// resizes images to. The coefficient space half-width is its square.
const DefaultNumPixels = 128

// haarBins are the imgSeek weights per coefficient bin and YIQ channel.
// Bin b holds coefficients whose larger matrix coordinate is b, with
// everything from 5 upwards sharing the last row.
var haarBins = [6][signature.NumChannels]float64{
	//   Y      I      Q       bin total occurs
	{5.00, 19.21, 34.37}, // 0   58.58      1 (DC component)
	{0.83, 1.26, 0.36},   // 1    2.45      3
	{1.01, 0.44, 0.45},   // 2    1.90      5
	{0.52, 0.53, 0.14},   // 3    1.19      7
	{0.47, 0.28, 0.18},   // 4    0.93      9
	{0.30, 0.14, 0.27},   // 5    0.71      16384-25=16359
}

// HaarWeight returns the imgSeek weight function for a numPixels x numPixels
// Haar decomposition. The sign of a position is ignored.
func HaarWeight(numPixels int) WeightFunc {
	return func(position int, c signature.Channel) float64 {
		return haarBins[HaarBin(position, numPixels)][c]
	}
}

// HaarBin maps a coefficient position to its weight bin,
// min(max(row, col), 5) of the coefficient's matrix coordinates.
func HaarBin(position, numPixels int) int {
	if position < 0 {
		position = -position
	}
	row, col := position/numPixels, position%numPixels
	bin := max(row, col)
	if bin > len(haarBins)-1 {
		bin = len(haarBins) - 1
	}
	return bin
}

// NewHaarTable builds the standard table for a numPixels-wide decomposition.
func NewHaarTable(numPixels int) (*Table, error) {
	if numPixels <= 0 {
		return nil, apperrors.Configurationf("decomposition size must be positive, got %d", numPixels)
	}
	return NewTable(numPixels*numPixels, HaarWeight(numPixels))
}
