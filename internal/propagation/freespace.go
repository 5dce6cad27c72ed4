package propagation

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// SoundSpeedMps is the nominal underwater speed of sound used by
// FreeSpaceModel's delay calculation (spec's own S3 acceptance scenario
// uses 1500 m/s for the 1000 m / 0.6667 s example).
const SoundSpeedMps = 1500.0

// FreeSpaceModel is a reference Model implementation: pure propagation
// delay by range/SoundSpeedMps and 1/r spherical-spreading loss, no
// multipath or reverberation. It stands in for the real external
// propagation library (spec §6, "consumed" interface) so the simulator is
// runnable standalone; a production deployment supplies its own Model.
type FreeSpaceModel struct {
	// SpreadingDB, when non-zero, overrides the default 20*log10(r) spherical
	// spreading loss (dB re 1 m) with a custom coefficient times log10(r).
	SpreadingDB float64
}

// Channel builds a per-receiver pure-delay, pure-gain Channel for the given
// transmitter/receiver geometry.
func (m FreeSpaceModel) Channel(tx, rx []Position, fs float64) (Channel, error) {
	spreading := m.SpreadingDB
	if spreading == 0 {
		spreading = 20
	}
	legs := make([]freeSpaceLeg, len(rx))
	for i, r := range rx {
		d := rangeMeters(tx, r)
		if d < 1 {
			d = 1
		}
		delaySec := d / SoundSpeedMps
		lossDB := spreading * math.Log10(d)
		legs[i] = freeSpaceLeg{
			delaySamples: int(math.Round(delaySec * fs)),
			gain:         math.Pow(10, -lossDB/20),
		}
	}
	return &freeSpaceChannel{legs: legs}, nil
}

// rangeMeters returns the distance from the centroid of tx to r; multi-
// element transmit arrays collapse to their mean position since
// FreeSpaceModel has no beamforming.
func rangeMeters(tx []Position, r Position) float64 {
	if len(tx) == 0 {
		return math.Hypot(math.Hypot(r.X, r.Y), r.Z)
	}
	var cx, cy, cz float64
	for _, t := range tx {
		cx += t.X
		cy += t.Y
		cz += t.Z
	}
	n := float64(len(tx))
	cx, cy, cz = cx/n, cy/n, cz/n
	dx, dy, dz := r.X-cx, r.Y-cy, r.Z-cz
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

type freeSpaceLeg struct {
	delaySamples int
	gain         float64
}

type freeSpaceChannel struct {
	legs []freeSpaceLeg
}

// Apply sums tx's columns into a single source signal (no per-element
// directivity) and produces one delayed, scaled copy per receiver leg.
func (c *freeSpaceChannel) Apply(x *mat.Dense, fs float64) (*mat.Dense, error) {
	rows, cols := x.Dims()
	src := make([]float64, rows)
	for t := 0; t < rows; t++ {
		var s float64
		for k := 0; k < cols; k++ {
			s += x.At(t, k)
		}
		src[t] = s
	}

	maxDelay := 0
	for _, leg := range c.legs {
		if leg.delaySamples > maxDelay {
			maxDelay = leg.delaySamples
		}
	}
	out := mat.NewDense(rows+maxDelay, len(c.legs), nil)
	for k, leg := range c.legs {
		for t := 0; t < rows; t++ {
			out.Set(t+leg.delaySamples, k, src[t]*leg.gain)
		}
	}
	return out, nil
}
