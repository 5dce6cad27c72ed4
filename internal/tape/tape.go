// Package tape implements SignalTape: a per-hydrophone, time-indexed
// accumulator of future receptions with a read-and-purge discipline that
// bounds memory to in-flight arrivals.
package tape

import (
	"sync"

	"github.com/underwatersim/vaosim/internal/acoustic"
	"github.com/underwatersim/vaosim/internal/metrics"
)

// Tape is a time-indexed additive accumulator of Receptions for one
// hydrophone. It is safe for concurrent Append/Read/Purge.
type Tape struct {
	label string // owning node ID, for the tape-liveness/purge metrics

	mu         sync.Mutex
	receptions []acoustic.Reception
}

// New returns an empty Tape reporting its liveness/purge metrics under label
// (the owning node's ID).
func New(label string) *Tape { return &Tape{label: label} }

// Append adds a contribution spanning [tStart, tStart+len(x)). x is not
// retained by reference mutation by the caller afterward; Tape keeps its own
// copy so a caller may reuse its buffer.
func (t *Tape) Append(tStart int64, x []float32) {
	if len(x) == 0 {
		return
	}
	cp := make([]float32, len(x))
	copy(cp, x)
	t.mu.Lock()
	t.receptions = append(t.receptions, acoustic.Reception{TStart: tStart, X: cp})
	live := len(t.receptions)
	t.mu.Unlock()
	metrics.SetTapeLive(t.label, live)
}

// Read returns the additive, saturating-clamped sum of all Receptions
// intersecting [tStart, tStart+n). When purge is true, any Reception whose
// last sample index is < tStart+n is dropped before returning (it can never
// contribute to a future read with a later or equal window start).
func (t *Tape) Read(tStart int64, n int, purge bool) []float32 {
	out := make([]float32, n)
	if n <= 0 {
		return out
	}
	winEnd := tStart + int64(n)

	t.mu.Lock()
	for _, r := range t.receptions {
		rEnd := r.End()
		lo := r.TStart
		if lo < tStart {
			lo = tStart
		}
		hi := rEnd
		if hi > winEnd {
			hi = winEnd
		}
		for s := lo; s < hi; s++ {
			out[s-tStart] += r.X[s-r.TStart]
		}
	}
	purged := 0
	if purge {
		kept := t.receptions[:0]
		for _, r := range t.receptions {
			if r.LastIndex() >= winEnd {
				kept = append(kept, r)
			} else {
				purged++
			}
		}
		t.receptions = kept
	}
	live := len(t.receptions)
	t.mu.Unlock()

	for i := 0; i < purged; i++ {
		metrics.IncTapePurge(t.label)
	}
	if purge {
		metrics.SetTapeLive(t.label, live)
	}

	for i, v := range out {
		out[i] = acoustic.Clamp(v)
	}
	return out
}

// Purge drops Receptions entirely before tKeepFrom, i.e. every Reception
// whose last sample index is < tKeepFrom.
func (t *Tape) Purge(tKeepFrom int64) {
	t.mu.Lock()
	kept := t.receptions[:0]
	purged := 0
	for _, r := range t.receptions {
		if r.LastIndex() >= tKeepFrom {
			kept = append(kept, r)
		} else {
			purged++
		}
	}
	t.receptions = kept
	live := len(t.receptions)
	t.mu.Unlock()

	for i := 0; i < purged; i++ {
		metrics.IncTapePurge(t.label)
	}
	metrics.SetTapeLive(t.label, live)
}

// Len reports the number of Receptions currently retained (for metrics/tests).
func (t *Tape) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.receptions)
}
