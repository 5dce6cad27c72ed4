package sim

import (
	"math"

	"github.com/underwatersim/vaosim/internal/clock"
	"github.com/underwatersim/vaosim/internal/daemon"
	"github.com/underwatersim/vaosim/internal/metrics"
	"github.com/underwatersim/vaosim/internal/node"
)

// boundNode wires a Node to its Simulation and ProtocolDaemon, realizing
// both daemon.Client (the daemon's "opaque client" indirection, spec §9)
// and clock.SchedNode (what the scheduler drives, spec §4.2).
type boundNode struct {
	node   *node.Node
	daemon daemon.ProtocolDaemon
	sim    *Simulation
}

var (
	_ daemon.Client   = (*boundNode)(nil)
	_ clock.SchedNode = (*boundNode)(nil)
)

// --- daemon.Client ---

func (b *boundNode) NodeID() string { return b.node.ID }
func (b *boundNode) IRate() float64 { return b.sim.IRate }
func (b *boundNode) OChannels() int { return b.node.NumTxChannels() }

// Get resolves simulation-wide keys the Node itself has no notion of (spec
// §6 "Parameters"), falling back to the node-local parameter bag.
func (b *boundNode) Get(key string) (node.Value, bool) {
	switch key {
	case "time":
		return node.IntValue(int64(math.Round(float64(b.sim.clock.Now()) / b.sim.IRate))), true
	case "iblksize":
		return node.IntValue(int64(b.sim.IBlkSize)), true
	case "irate":
		return node.FloatValue(b.sim.IRate), true
	case "irates":
		return node.ListValue([]float64{b.sim.IRate}), true
	case "orate":
		return node.FloatValue(b.sim.ORate), true
	case "orates":
		return node.ListValue([]float64{b.sim.ORate}), true
	default:
		return b.node.Get(key)
	}
}

// Set applies a parameter; "iseqno" is a reset signal regardless of its
// value (spec §4.3), and simulation-wide keys (irate, orate, iblksize, ...)
// are read-only so they fall through Node.Set's unknown-key no-op.
func (b *boundNode) Set(key string, v node.Value) {
	if key == "iseqno" {
		b.ResetSeqno()
		return
	}
	b.node.Set(key, v)
}

func (b *boundNode) ResetSeqno() {
	b.node.ResetSeqno()
	metrics.IncSeqnoReset(b.node.ID)
}

func (b *boundNode) ClearDAC() { b.node.ClearDAC() }

func (b *boundNode) AppendDAC(samples []float32) (int, bool) {
	appended, overflow := b.node.AppendDAC(samples)
	if overflow {
		metrics.IncDACBufferDrop(b.node.ID)
	}
	return appended, overflow
}

func (b *boundNode) SnapshotDAC() []float32 { return b.node.SnapshotAndClearDAC() }

// Transmit hands a reshaped DAC burst to the simulation's shared pipeline,
// addressed to every other node (spec §4.4).
func (b *boundNode) Transmit(tRequestSample int64, x [][]float32, id string) int64 {
	tStart, err := b.sim.pipeline.Transmit(b.node, b.sim.nodeList(), b.daemon, tRequestSample, x, id)
	if err != nil {
		metrics.IncTransmitError(b.node.ID)
	}
	return tStart
}

// --- clock.SchedNode ---

func (b *boundNode) ID() string       { return b.node.ID }
func (b *boundNode) Hydrophones() int { return b.node.NumHydrophones() }

func (b *boundNode) ReadHydrophone(ch int, tStart int64, n int, purge bool) []float32 {
	return b.node.Tapes[ch].Read(tStart, n, purge)
}

func (b *boundNode) NextSeqno() uint64 { return b.node.NextSeqno() }

func (b *boundNode) Stream(block clock.Block) { b.daemon.Stream(block) }
