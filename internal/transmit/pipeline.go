// Package transmit implements the TransmitPipeline: it turns a client DAC
// burst into delayed, scaled contributions on every other node's tapes,
// using an external propagation model (spec §4.4).
package transmit

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"

	"github.com/underwatersim/vaosim/internal/acoustic"
	"github.com/underwatersim/vaosim/internal/clock"
	"github.com/underwatersim/vaosim/internal/logging"
	"github.com/underwatersim/vaosim/internal/metrics"
	"github.com/underwatersim/vaosim/internal/node"
	"github.com/underwatersim/vaosim/internal/propagation"
)

// EventSink is the subset of a node's ProtocolDaemon used to fire the
// asynchronous ostart/ostop notifications (spec §4.4 step 8).
type EventSink interface {
	Event(tUs uint64, name string, id string)
}

// Receiver pairs a node with the tape it owns for one hydrophone, used to
// build the flattened receiver list handed to the propagation model.
type Receiver struct {
	Node       *node.Node
	Hydrophone int
}

// Pipeline is the TransmitPipeline described in spec §4.4.
type Pipeline struct {
	Adapter            *propagation.Adapter
	Clock              *clock.Clock
	IRate              float64
	ORate              float64
	TxRefDB            float64 // default 185 dB re uPa@1m
	RxRefDB            float64 // default -190 dB re 1/uPa
	ProcessingHeadroom time.Duration
	Workers            int // worker pool size for steps 4-7; 0 runs inline

	sem chan struct{}
}

// NewPipeline builds a Pipeline. If workers <= 0 the heavy channel-apply
// step runs inline on the caller goroutine, so Transmit returns t_start only
// after the receiver tapes have been written; with workers > 0 that step is
// dispatched to the worker pool.
func NewPipeline(adapter *propagation.Adapter, c *clock.Clock, irate, orate, txrefDB, rxrefDB float64, headroom time.Duration, workers int) *Pipeline {
	p := &Pipeline{
		Adapter:            adapter,
		Clock:              c,
		IRate:              irate,
		ORate:              orate,
		TxRefDB:            txrefDB,
		RxRefDB:            rxrefDB,
		ProcessingHeadroom: headroom,
		Workers:            workers,
	}
	if workers > 0 {
		p.sem = make(chan struct{}, workers)
	}
	return p
}

// Transmit consumes a DAC burst from txNode, addressed to every hydrophone
// of every node in allNodes except txNode itself (half-duplex, spec §4.4
// "Mute & half-duplex"). x is (Nsamp_DAC, Nchan_tx), ±1 scaled. id is
// echoed in the ostart/ostop notifications; an empty id is replaced with a
// generated one.
//
// Steps 1-6 run synchronously so the returned t_start is observable by the
// caller before this call returns (spec §4.4 "Execution model"). Steps 4-7
// — building/applying the propagation channel and pushing the result onto
// receiver tapes — run on the pipeline's worker pool; tape.Append takes the
// same per-hydrophone lock the scheduler's Read uses, which is the ordering
// discipline this implementation chooses (spec §5, option ii).
func (p *Pipeline) Transmit(txNode *node.Node, allNodes []*node.Node, events EventSink, tRequestSample int64, x [][]float32, id string) (int64, error) {
	if id == "" {
		id = uuid.NewString()
	}
	if txNode.IsMuted() {
		metrics.IncTransmitMuted(txNode.ID)
		return p.Clock.Now(), nil
	}
	metrics.IncTransmit(txNode.ID)

	nsampDAC := len(x)

	// Step 2: decimate if rates differ.
	if p.ORate != p.IRate {
		factor := int(p.ORate / p.IRate)
		if factor > 1 {
			x = decimate(x, factor)
		}
	}

	// Step 3: geometry.
	txPositions := txNode.TxPositions()
	receivers := flattenReceivers(txNode, allNodes)
	rxPositions := make([]propagation.Position, len(receivers))
	for i, r := range receivers {
		rxPositions[i] = r.Node.RxPositions()[r.Hydrophone]
	}

	// Step 6: t_start, computed without waiting on the channel.
	headroomSamples := int64(math.Round(p.ProcessingHeadroom.Seconds() * p.IRate))
	tStart := tRequestSample
	if floor := p.Clock.Now() + headroomSamples; floor > tStart {
		tStart = floor
	}

	// Step 8: schedule ostart/ostop.
	if events != nil && p.Clock != nil {
		stopOffset := int64(math.Round(float64(nsampDAC) * p.IRate / p.ORate))
		p.Clock.Schedule(tStart, func(tNow int64) {
			events.Event(sampleToUs(tStart, p.IRate), "ostart", id)
		})
		p.Clock.Schedule(tStart+stopOffset, func(tNow int64) {
			events.Event(sampleToUs(tStart+stopOffset, p.IRate), "ostop", id)
		})
	}

	job := func() {
		if err := p.deliver(txNode, receivers, txPositions, rxPositions, x, tStart); err != nil {
			metrics.IncTransmitError(txNode.ID)
			metrics.IncError(metrics.ErrPropagation)
			logging.L().Warn("propagation_failed", "node", txNode.ID, "error", err)
		}
	}
	if p.sem == nil {
		job()
	} else {
		p.sem <- struct{}{}
		go func() {
			defer func() { <-p.sem }()
			job()
		}()
	}

	return tStart, nil
}

// deliver runs steps 4-7: obtain the channel, apply it, and push scaled
// columns onto each receiver's tape.
func (p *Pipeline) deliver(txNode *node.Node, receivers []Receiver, txPositions, rxPositions []propagation.Position, x [][]float32, tStart int64) error {
	ch, err := p.Adapter.Channel(txPositions, rxPositions, p.IRate)
	if err != nil {
		return fmt.Errorf("channel: %w", err)
	}

	scale := acoustic.DBToLinear(p.TxRefDB + txNode.OutputGainDB())
	xm := toMatrix(x, scale)

	y, err := ch.Apply(xm, p.IRate)
	if err != nil {
		return fmt.Errorf("apply: %w", err)
	}

	rows, cols := y.Dims()
	for k := 0; k < cols && k < len(receivers); k++ {
		r := receivers[k]
		col := make([]float32, rows)
		rxScale := acoustic.DBToLinear(p.RxRefDB + r.Node.InputGainDB())
		for t := 0; t < rows; t++ {
			col[t] = float32(y.At(t, k) * rxScale)
		}
		r.Node.Tapes[r.Hydrophone].Append(tStart, col)
		metrics.IncTapeAppend(r.Node.ID)
	}

	if p.Clock != nil {
		nowSample := p.Clock.Now()
		if nowSample > tStart {
			latenessMs := float64(nowSample-tStart) / p.IRate * 1000
			metrics.SetTransmitLateness(latenessMs)
			clock.WarnBehind("transmit_worker", latenessMs)
		}
	}
	return nil
}

// flattenReceivers lists every hydrophone of every node except txNode, in
// node order then hydrophone order (spec §4.4 step 3).
func flattenReceivers(txNode *node.Node, allNodes []*node.Node) []Receiver {
	var out []Receiver
	for _, n := range allNodes {
		if n == txNode {
			continue
		}
		for ch := range n.Tapes {
			out = append(out, Receiver{Node: n, Hydrophone: ch})
		}
	}
	return out
}

// decimate subsamples x by the given integer factor with no anti-alias
// filter, per spec §4.4 step 2 ("simple subsampling, no anti-alias filter").
func decimate(x [][]float32, factor int) [][]float32 {
	out := make([][]float32, 0, len(x)/factor+1)
	for i := 0; i < len(x); i += factor {
		out = append(out, x[i])
	}
	return out
}

// toMatrix converts a (samples x channels) float32 slice-of-slices into a
// gonum Dense, applying a uniform linear scale.
func toMatrix(x [][]float32, scale float64) *mat.Dense {
	rows := len(x)
	cols := 0
	if rows > 0 {
		cols = len(x[0])
	}
	m := mat.NewDense(rows, cols, nil)
	for i, row := range x {
		for j, v := range row {
			m.Set(i, j, float64(v)*scale)
		}
	}
	return m
}

func sampleToUs(t int64, irate float64) uint64 {
	return uint64(math.Round(float64(t) / irate * 1e6))
}
