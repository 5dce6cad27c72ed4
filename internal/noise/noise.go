// Package noise provides the simulator's default NoiseSource: a stationary
// red-Gaussian process sampled per ADC block and scaled by the receiver
// reference level before being mixed into a tape read.
package noise

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/stat/distuv"
)

// Source is the contract consumed by the scheduler: a stationary random
// process parameterized by block length and sample rate. Any implementation
// with this call shape may be plugged in, per spec §4.6.
type Source interface {
	Sample(n int, fs float64) []float32
}

// RedGaussian is the default NoiseSource: white Gaussian noise shaped by a
// one-pole low-pass (the "red"/pink-leaning tilt) and scaled to a reference
// level expressed in the same 1 uPa-normalized units as the rest of the
// pipeline. It is stateful across calls (the pole carries over) so spectral
// content stays continuous across ADC blocks.
type RedGaussian struct {
	level float64 // linear reference scale applied to each sample
	pole  float64 // one-pole filter coefficient, 0 disables shaping (white)
	state float64 // filter memory, persists across Sample calls
	rng   *rand.Rand
	dist  distuv.Normal
}

// NewRedGaussian builds a RedGaussian source. level is a linear amplitude
// reference (apply acoustic.DBToLinear to a dB reference level beforehand);
// pole is the one-pole smoothing coefficient in [0,1) — 0 yields white noise,
// values closer to 1 yield a steeper low-frequency tilt. seed selects the
// underlying PRNG stream so scenarios are reproducible.
func NewRedGaussian(level, pole float64, seed uint64) *RedGaussian {
	rng := rand.New(rand.NewSource(int64(seed)))
	return &RedGaussian{
		level: level,
		pole:  pole,
		rng:   rng,
		dist:  distuv.Normal{Mu: 0, Sigma: 1, Src: rng},
	}
}

// Sample produces n samples at rate fs. fs is accepted to satisfy the
// NoiseSource call shape; a stationary Gaussian process used here does not
// depend on it, matching the default described in spec §4.6.
func (g *RedGaussian) Sample(n int, fs float64) []float32 {
	_ = fs
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		white := g.dist.Rand()
		g.state = clampFinite(g.pole*g.state + (1-g.pole)*white)
		out[i] = float32(g.state * g.level)
	}
	return out
}

// Silent is a NoiseSource that always returns zeros, useful for tests and
// for scenarios that want a deterministic, noise-free tape (spec S5).
type Silent struct{}

// Sample implements Source.
func (Silent) Sample(n int, fs float64) []float32 { _ = fs; return make([]float32, n) }

// compile-time interface checks
var (
	_ Source = (*RedGaussian)(nil)
	_ Source = Silent{}
)

// clampFinite guards against NaN/Inf creeping into the tape from a
// misconfigured pole coefficient.
func clampFinite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
