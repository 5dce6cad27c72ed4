// Package propagation is a thin facade over the external underwater
// propagation model (spec §6, "External interfaces — propagation model").
// The core treats the model as an opaque collaborator; this package adds
// the stable cache key and memoization discipline spec §9 describes for
// static (non-mobile) scenes, plus FreeSpaceModel, a simple reference Model.
package propagation

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"gonum.org/v1/gonum/mat"
)

// Position is a 3D position in meters; Z is negative downward per spec §3.
type Position struct {
	X, Y, Z float64
}

// Channel is the propagation model's operator mapping a transmitted
// source-signal matrix to the multi-channel received signal, aligned in
// absolute simulated time from sample zero (spec §6).
type Channel interface {
	// Apply takes an (Nsamp x Ntx) source matrix and returns an
	// (Nsamp_out x Nrx) received matrix whose column k is the signal
	// arriving at the k'th receiver position the Channel was built with.
	Apply(x *mat.Dense, fs float64) (*mat.Dense, error)
}

// Model builds Channel objects for a transmitter/receiver geometry at a
// given sample rate. It is the interface the core expects the external
// propagation library to provide.
type Model interface {
	Channel(tx, rx []Position, fs float64) (Channel, error)
}

// Adapter wraps a Model with optional memoization for static (non-mobile)
// scenes, per spec §9 "Channel memoization for static scenes". The cache is
// process-local, unbounded, and never expires entries: static scenes have
// few unique (tx, rx, fs) keys over a simulation's lifetime.
type Adapter struct {
	model    Model
	mobility bool
	cache    *cache.Cache
}

// NewAdapter builds an Adapter. When mobility is true, memoization is
// disabled and every call goes to the underlying model (positions may change
// between calls).
func NewAdapter(model Model, mobility bool) *Adapter {
	return &Adapter{
		model:    model,
		mobility: mobility,
		cache:    cache.New(cacheTTLForever, cache.NoExpiration),
	}
}

// Channel returns a (possibly cached) Channel for the given geometry and
// sample rate.
func (a *Adapter) Channel(tx, rx []Position, fs float64) (Channel, error) {
	if a.mobility {
		return a.model.Channel(tx, rx, fs)
	}
	key := cacheKey(tx, rx, fs)
	if v, ok := a.cache.Get(key); ok {
		return v.(Channel), nil
	}
	ch, err := a.model.Channel(tx, rx, fs)
	if err != nil {
		return nil, fmt.Errorf("propagation channel: %w", err)
	}
	a.cache.Set(key, ch, cacheTTLForever)
	return ch, nil
}

// cacheKey builds a stable string serialization of the geometry and sample
// rate, suitable as a memoization key.
func cacheKey(tx, rx []Position, fs float64) string {
	var b strings.Builder
	writePositions(&b, "tx", tx)
	writePositions(&b, "rx", rx)
	b.WriteString("|fs=")
	b.WriteString(strconv.FormatFloat(fs, 'g', -1, 64))
	return b.String()
}

func writePositions(b *strings.Builder, label string, ps []Position) {
	b.WriteString(label)
	b.WriteString("=[")
	for i, p := range ps {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteString(strconv.FormatFloat(p.X, 'g', -1, 64))
		b.WriteByte(',')
		b.WriteString(strconv.FormatFloat(p.Y, 'g', -1, 64))
		b.WriteByte(',')
		b.WriteString(strconv.FormatFloat(p.Z, 'g', -1, 64))
	}
	b.WriteString("]")
}

// cacheTTLForever is go-cache's NoExpiration sentinel value, named for this
// package's use: memoized Channels never expire.
const cacheTTLForever = time.Duration(-1)
