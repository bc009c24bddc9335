package ouster

import (
	"errors"
	"fmt"
	"math"
)

const (
	twoPi             = 2 * math.Pi
	degToRad          = twoPi / 360
	ticksPerRadian    = ENCODER_TICKS_PER_REV / twoPi
	azimuthStartShift = 2 * twoPi // keeps every temporal position positive
)

// ErrEncoderRange is returned when a column maps outside [0, ENCODER_TICKS_PER_REV).
var ErrEncoderRange = errors.New("encoder count out of range")

// Sweep maps temporal column positions to encoder counts.
//
// The range image is stored right-to-left, so Step is negative: a larger
// position means an earlier azimuth. Start is shifted by two full turns so
// that positions up to twice the column count stay inside one rotation.
type Sweep struct {
	Start float64 // radians
	Step  float64 // radians per column position
}

// NewSweep builds a Sweep from the simulated sensor's azimuth range start
// (radians) and horizontal resolution (degrees per column).
func NewSweep(azimuthStart, horizontalResolutionDeg float32) Sweep {
	return Sweep{
		Start: float64(azimuthStart) + azimuthStartShift,
		Step:  -float64(horizontalResolutionDeg) * degToRad,
	}
}

// EncoderCount returns floor((Start + Step*position) * 90112/2π).
func (s Sweep) EncoderCount(position int) (uint32, error) {
	ticks := math.Floor((s.Start + s.Step*float64(position)) * ticksPerRadian)
	if math.IsNaN(ticks) || ticks < 0 || ticks >= ENCODER_TICKS_PER_REV {
		return 0, fmt.Errorf("%w: must be between 0 and %d, not %v", ErrEncoderRange, ENCODER_TICKS_PER_REV, ticks)
	}
	return uint32(ticks), nil
}

// ColumnOrder is the temporal send order over a range image whose columns
// are stored in descending azimuth with encoder zero at the centre column.
//
// Positions run from First down to, but excluding, Last. Position p reads
// storage column p mod NumCols, which visits the buffer left-to-right
// starting just past the centre and yields ascending encoder counts.
type ColumnOrder struct {
	NumCols int
	First   int
	Last    int
}

// NewColumnOrder returns the send order for numCols columns. A non-positive
// column count yields an empty order.
func NewColumnOrder(numCols int) ColumnOrder {
	if numCols <= 0 {
		return ColumnOrder{}
	}
	last := (numCols - 1) / 2
	return ColumnOrder{NumCols: numCols, First: last + numCols, Last: last}
}

// Len returns the number of columns in the order.
func (o ColumnOrder) Len() int {
	return o.First - o.Last
}

// Position returns the temporal position of the i-th column sent.
func (o ColumnOrder) Position(i int) int {
	return o.First - i
}

// StorageIndex returns the buffer column read for a temporal position.
func (o ColumnOrder) StorageIndex(position int) int {
	return position % o.NumCols
}
