// Package clock drives simulated time forward in fixed ADC blocks, pacing
// the simulated clock against wall-clock time and firing time-keyed
// callbacks (spec §4.2).
package clock

import (
	"context"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/underwatersim/vaosim/internal/logging"
	"github.com/underwatersim/vaosim/internal/metrics"
	"github.com/underwatersim/vaosim/internal/noise"
)

// Block is one ADC frame ready for delivery: NSamples x NChannels samples,
// sample-major with channel as the minor axis — the same layout the data
// plane puts on the wire (spec §4.5).
type Block struct {
	TimestampUs uint64
	Seqno       uint64
	NSamples    int
	NChannels   int
	Samples     []float32 // len == NSamples*NChannels, samples[t*NChannels+ch]
}

// SchedNode is the view the Scheduler needs of a Node+daemon pair. The sim
// package supplies the concrete implementation binding Node tapes and the
// ProtocolDaemon together.
type SchedNode interface {
	ID() string
	Hydrophones() int
	ReadHydrophone(ch int, tStart int64, n int, purge bool) []float32
	NextSeqno() uint64
	Stream(block Block)
}

// TimerFunc is invoked when simulated time crosses a scheduled t_fire.
type TimerFunc func(tNow int64)

type timerEntry struct {
	tFire int64
	fn    TimerFunc
}

// Clock is the scheduler described in spec §4.2: it owns simulated time t,
// the timer list, and the per-tick block-production loop.
type Clock struct {
	IRate    float64
	IBlkSize int

	noise       noise.Source
	rxrefLinear float64

	nodesMu sync.RWMutex
	nodes   []SchedNode

	t0      atomic.Value // time.Time
	t       atomic.Int64
	running atomic.Bool

	timersMu sync.Mutex
	timers   []timerEntry
}

// New builds a Clock. rxrefLinear is the linear scale (10^(rxref/20))
// applied to noise samples before mixing into a tape read (spec §4.2 step 3).
func New(irate float64, iblksize int, noiseSrc noise.Source, rxrefLinear float64) *Clock {
	c := &Clock{IRate: irate, IBlkSize: iblksize, noise: noiseSrc, rxrefLinear: rxrefLinear}
	c.t0.Store(time.Time{})
	return c
}

// SetNodes replaces the set of nodes the scheduler drives. Must only be
// called while stopped (spec §3: "immutability of node set while running").
func (c *Clock) SetNodes(nodes []SchedNode) {
	c.nodesMu.Lock()
	c.nodes = append([]SchedNode(nil), nodes...)
	c.nodesMu.Unlock()
}

// Now returns the current simulated sample index.
func (c *Clock) Now() int64 { return c.t.Load() }

// Running reports whether the scheduler loop is active.
func (c *Clock) Running() bool { return c.running.Load() }

// Schedule inserts a timer entry, maintained in ascending t_fire order
// (spec §5 "Shared resources — Timers list").
func (c *Clock) Schedule(tFire int64, fn TimerFunc) {
	c.timersMu.Lock()
	defer c.timersMu.Unlock()
	i := sort.Search(len(c.timers), func(i int) bool { return c.timers[i].tFire >= tFire })
	c.timers = append(c.timers, timerEntry{})
	copy(c.timers[i+1:], c.timers[i:])
	c.timers[i] = timerEntry{tFire: tFire, fn: fn}
}

// popDue removes and returns every timer whose t_fire <= tNow, in ascending order.
func (c *Clock) popDue(tNow int64) []timerEntry {
	c.timersMu.Lock()
	defer c.timersMu.Unlock()
	i := 0
	for i < len(c.timers) && c.timers[i].tFire <= tNow {
		i++
	}
	due := append([]timerEntry(nil), c.timers[:i]...)
	c.timers = c.timers[i:]
	return due
}

// Run starts the scheduler loop and blocks until ctx is cancelled or Close
// is called. It is meant to be run on a dedicated goroutine.
func (c *Clock) Run(ctx context.Context) error {
	c.t0.Store(time.Now())
	c.t.Store(0)
	c.running.Store(true)
	defer c.running.Store(false)

	for {
		if !c.running.Load() {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		tNow := c.t.Load()
		t0 := c.t0.Load().(time.Time)
		if t0.IsZero() {
			return nil
		}
		deadline := t0.Add(time.Duration(float64(tNow) / c.IRate * float64(time.Second)))
		if wait := time.Until(deadline); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return nil
			}
		}
		if !c.running.Load() {
			return nil
		}

		c.produceBlocks(tNow)

		newT := tNow + int64(c.IBlkSize)
		c.t.Store(newT)

		for _, due := range c.popDue(newT) {
			due.fn(newT)
		}
	}
}

// produceBlocks reads every node's tapes for the current tick, mixes in
// noise, and hands the block to each node's daemon.
func (c *Clock) produceBlocks(tNow int64) {
	c.nodesMu.RLock()
	nodes := c.nodes
	c.nodesMu.RUnlock()

	for _, n := range nodes {
		nch := n.Hydrophones()
		samples := make([]float32, c.IBlkSize*nch)
		for ch := 0; ch < nch; ch++ {
			signal := n.ReadHydrophone(ch, tNow, c.IBlkSize, true)
			noiseSamples := c.noise.Sample(c.IBlkSize, c.IRate)
			for i := 0; i < c.IBlkSize; i++ {
				v := signal[i] + noiseSamples[i]*float32(c.rxrefLinear)
				samples[i*nch+ch] = clamp(v)
			}
		}
		seqno := n.NextSeqno()
		tsUs := uint64(math.Round(float64(tNow) / c.IRate * 1e6))
		n.Stream(Block{TimestampUs: tsUs, Seqno: seqno, NSamples: c.IBlkSize, NChannels: nch, Samples: samples})
		metrics.IncADCFrame(n.ID())
	}
}

// Close clears t0 and the simulated time, which causes the loop to exit at
// its next check (spec §4.2 "Cancellation"). Any in-flight transmit jobs
// finish independently; their results simply never get read.
func (c *Clock) Close() {
	c.running.Store(false)
	c.t0.Store(time.Time{})
	c.t.Store(0)
	c.timersMu.Lock()
	c.timers = nil
	c.timersMu.Unlock()
}

// WarnBehind logs that processing has fallen behind the scheduled delivery
// instant. The transmit pipeline calls it when a worker finishes after
// t_start (spec §4.2, §4.4); the scheduler loop itself does not call it.
func WarnBehind(component string, latenessMs float64) {
	logging.L().Warn("behind_schedule", "component", component, "lateness_ms", latenessMs)
}

func clamp(v float32) float32 {
	switch {
	case v > 1:
		return 1
	case v < -1:
		return -1
	default:
		return v
	}
}
