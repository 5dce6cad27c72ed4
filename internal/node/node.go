// Package node models the simulated modem: its geometry, gains, DAC burst
// buffer and per-hydrophone tapes, plus the node-local slice of the dynamic
// get/set parameter bag described in spec §9.
package node

import (
	"sync"
	"sync/atomic"

	"github.com/underwatersim/vaosim/internal/propagation"
	"github.com/underwatersim/vaosim/internal/tape"
)

// ParamKind tags the dynamic type carried by a Value, modeling the source's
// untyped symbolic get/set keys as a small tagged variant (spec §9).
type ParamKind int

const (
	KindInt ParamKind = iota
	KindFloat
	KindBool
	KindListFloat
)

// Value is a dynamically-typed parameter value.
type Value struct {
	Kind ParamKind
	Int  int64
	Flt  float64
	Bool bool
	List []float64
}

func IntValue(v int64) Value        { return Value{Kind: KindInt, Int: v} }
func FloatValue(v float64) Value    { return Value{Kind: KindFloat, Flt: v} }
func BoolValue(v bool) Value        { return Value{Kind: KindBool, Bool: v} }
func ListValue(v []float64) Value   { return Value{Kind: KindListFloat, List: v} }

const defaultOBufSize = 1_920_000

// Node is the simulated modem aggregate described in spec §3/§4.3.
type Node struct {
	ID string

	mu        sync.RWMutex
	Pos       propagation.Position
	RelPos    []propagation.Position // hydrophone offsets; first OChannels are transmit-capable
	OChannels int
	IGainDB   float64
	OGainDB   float64
	Mute      bool
	OBufSize  int

	seqno atomic.Uint64

	tapesMu sync.RWMutex
	Tapes   []*tape.Tape // one per hydrophone, len(Tapes) == len(RelPos)

	dacMu  sync.Mutex
	dacBuf []float32
}

// New builds a Node with one Tape per hydrophone offset.
func New(id string, pos propagation.Position, relPos []propagation.Position, ochannels int, igainDB, ogainDB float64) *Node {
	n := &Node{
		ID:        id,
		Pos:       pos,
		RelPos:    append([]propagation.Position(nil), relPos...),
		OChannels: ochannels,
		IGainDB:   igainDB,
		OGainDB:   ogainDB,
		OBufSize:  defaultOBufSize,
		Tapes:     make([]*tape.Tape, len(relPos)),
	}
	for i := range n.Tapes {
		n.Tapes[i] = tape.New(id)
	}
	return n
}

// NumHydrophones returns the number of receive elements.
func (n *Node) NumHydrophones() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.RelPos)
}

// NumTxChannels returns the number of transmit-capable channels.
func (n *Node) NumTxChannels() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.OChannels
}

// TxPositions returns the absolute positions of the transmit-capable
// hydrophones (node position + relative offset).
func (n *Node) TxPositions() []propagation.Position {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]propagation.Position, n.OChannels)
	for ch := 0; ch < n.OChannels; ch++ {
		out[ch] = addPos(n.Pos, n.RelPos[ch])
	}
	return out
}

// RxPositions returns the absolute positions of every hydrophone (receive).
func (n *Node) RxPositions() []propagation.Position {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]propagation.Position, len(n.RelPos))
	for ch, rp := range n.RelPos {
		out[ch] = addPos(n.Pos, rp)
	}
	return out
}

func addPos(a, b propagation.Position) propagation.Position {
	return propagation.Position{X: a.X + b.X, Y: a.Y + b.Y, Z: a.Z + b.Z}
}

// IsMuted reports the current mute state.
func (n *Node) IsMuted() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.Mute
}

// InputGainDB returns the current ADC gain in dB.
func (n *Node) InputGainDB() float64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.IGainDB
}

// OutputGainDB returns the current DAC gain in dB.
func (n *Node) OutputGainDB() float64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.OGainDB
}

// NextSeqno returns the current input block sequence counter and increments
// it, per spec §4.2 step 4 ("increment the node's seqno").
func (n *Node) NextSeqno() uint64 { return n.seqno.Add(1) - 1 }

// Seqno returns the current (not-yet-delivered) sequence counter value.
func (n *Node) Seqno() uint64 { return n.seqno.Load() }

// ResetSeqno sets the sequence counter back to zero; ireset and set(iseqno,*)
// both map to this (spec §4.3: "set to any value resets seqno to 0").
func (n *Node) ResetSeqno() { n.seqno.Store(0) }

// AppendDAC appends samples to the DAC burst buffer, dropping and reporting
// overflow once OBufSize is exceeded (spec §9 Open Question, resolved:
// "drop append when capacity exceeded, warn").
func (n *Node) AppendDAC(samples []float32) (appended int, overflow bool) {
	n.dacMu.Lock()
	defer n.dacMu.Unlock()
	n.mu.RLock()
	limit := n.OBufSize
	n.mu.RUnlock()
	room := limit - len(n.dacBuf)
	if room <= 0 {
		return 0, true
	}
	if len(samples) > room {
		samples = samples[:room]
		overflow = true
	}
	n.dacBuf = append(n.dacBuf, samples...)
	return len(samples), overflow
}

// ClearDAC empties the DAC burst buffer without transmitting it.
func (n *Node) ClearDAC() {
	n.dacMu.Lock()
	n.dacBuf = n.dacBuf[:0]
	n.dacMu.Unlock()
}

// SnapshotAndClearDAC atomically returns a copy of the current DAC buffer
// and clears it, per the ostart contract (spec §4.5).
func (n *Node) SnapshotAndClearDAC() []float32 {
	n.dacMu.Lock()
	defer n.dacMu.Unlock()
	out := make([]float32, len(n.dacBuf))
	copy(out, n.dacBuf)
	n.dacBuf = n.dacBuf[:0]
	return out
}

// Get returns the node-local slice of the dynamic parameter bag described in
// spec §6 "Supported parameters". Simulation-wide keys (time, irate, orate,
// iblksize, irates, orates) are resolved one layer up by the Simulation's
// client adapter, which falls back to Get for everything else.
func (n *Node) Get(key string) (Value, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	switch key {
	case "iseqno":
		return IntValue(int64(n.seqno.Load())), true
	case "ichannels":
		return IntValue(int64(len(n.RelPos))), true
	case "igain":
		return FloatValue(n.IGainDB), true
	case "ochannels":
		return IntValue(int64(n.OChannels)), true
	case "ogain":
		return FloatValue(n.OGainDB), true
	case "omute":
		return BoolValue(n.Mute), true
	case "obufsize":
		return IntValue(int64(n.OBufSize)), true
	default:
		return Value{}, false
	}
}

// Set applies a node-local parameter; unknown keys are silently ignored
// (spec §4.3). Returns true if the key was recognized. "iseqno" is handled
// by the caller via ResetSeqno — it needs no value interpretation since any
// value means reset — so it is absent from this switch.
func (n *Node) Set(key string, v Value) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	switch key {
	case "igain":
		if v.Kind == KindFloat || v.Kind == KindInt {
			n.IGainDB = numeric(v)
			return true
		}
	case "ogain":
		if v.Kind == KindFloat || v.Kind == KindInt {
			n.OGainDB = numeric(v)
			return true
		}
	case "omute":
		if v.Kind == KindBool {
			n.Mute = v.Bool
			return true
		}
	case "obufsize":
		if v.Kind == KindInt {
			n.OBufSize = int(v.Int)
			return true
		}
	}
	return false
}

func numeric(v Value) float64 {
	if v.Kind == KindInt {
		return float64(v.Int)
	}
	return v.Flt
}
