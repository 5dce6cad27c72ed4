// Package acoustic holds the small shared types and conversions used
// throughout the simulator: the Reception value and the dB <-> linear gain
// helpers every component (tape, noise, transmit) needs.
package acoustic

import "math"

// Reception is one contribution to a hydrophone's signal tape: x spans
// samples [TStart, TStart+len(X)) and is additive with any other Reception
// overlapping the same span.
type Reception struct {
	TStart int64
	X      []float32
}

// End returns the sample index one past the last sample of the Reception.
func (r Reception) End() int64 { return r.TStart + int64(len(r.X)) }

// LastIndex returns the Reception's final sample index (End()-1).
func (r Reception) LastIndex() int64 { return r.End() - 1 }

// DBToLinear converts a decibel value to a linear amplitude scale factor,
// i.e. 10^(db/20).
func DBToLinear(db float64) float64 { return math.Pow(10, db/20) }

// Clamp saturates v to [-1, 1].
func Clamp(v float32) float32 {
	switch {
	case v > 1:
		return 1
	case v < -1:
		return -1
	default:
		return v
	}
}
