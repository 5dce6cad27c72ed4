// Package sim is the Simulation Orchestrator (spec §2 item 8): lifecycle
// glue that binds Nodes, the Scheduler, the TransmitPipeline and each
// node's ProtocolDaemon together, and realizes the daemon's opaque "client"
// indirection (spec §9) over a concrete Node.
package sim

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/underwatersim/vaosim/internal/acoustic"
	"github.com/underwatersim/vaosim/internal/clock"
	"github.com/underwatersim/vaosim/internal/daemon"
	"github.com/underwatersim/vaosim/internal/logging"
	"github.com/underwatersim/vaosim/internal/metrics"
	"github.com/underwatersim/vaosim/internal/node"
	"github.com/underwatersim/vaosim/internal/noise"
	"github.com/underwatersim/vaosim/internal/propagation"
	"github.com/underwatersim/vaosim/internal/transmit"
)

// NodeConfig describes one simulated modem to add via AddNode.
type NodeConfig struct {
	ID        string
	Pos       propagation.Position
	RelPos    []propagation.Position
	OChannels int
	IGainDB   float64
	OGainDB   float64

	Framing string // "uasp" or "uasp2"
	IPAddr  string
	Port    int // UASP: command port (data is Port+1); UASP2: TCP port
}

// Simulation is the root aggregate described in spec §3 "Simulation".
type Simulation struct {
	Frequency          float64
	IRate              float64
	ORate              float64
	IBlkSize           int
	TxRefDB            float64
	RxRefDB            float64
	Mobility           bool
	TransmitWorkers    int
	ProcessingHeadroom time.Duration

	model propagation.Model
	noise noise.Source

	clock    *clock.Clock
	adapter  *propagation.Adapter
	pipeline *transmit.Pipeline

	mu      sync.RWMutex
	nodes   []*boundNode
	running bool

	cancel context.CancelFunc
}

// Option configures a Simulation at construction time.
type Option func(*Simulation)

func WithFrequency(hz float64) Option   { return func(s *Simulation) { s.Frequency = hz } }
func WithIRate(v float64) Option        { return func(s *Simulation) { s.IRate = v } }
func WithORate(v float64) Option        { return func(s *Simulation) { s.ORate = v } }
func WithIBlkSize(v int) Option         { return func(s *Simulation) { s.IBlkSize = v } }
func WithTxRefDB(v float64) Option      { return func(s *Simulation) { s.TxRefDB = v } }
func WithRxRefDB(v float64) Option      { return func(s *Simulation) { s.RxRefDB = v } }
func WithMobility(v bool) Option        { return func(s *Simulation) { s.Mobility = v } }
func WithNoise(n noise.Source) Option   { return func(s *Simulation) { s.noise = n } }
func WithTransmitWorkers(n int) Option  { return func(s *Simulation) { s.TransmitWorkers = n } }
func WithProcessingHeadroom(d time.Duration) Option {
	return func(s *Simulation) { s.ProcessingHeadroom = d }
}

// New builds a Simulation against an external propagation model, applying
// spec §3 defaults (irate = 4*frequency, orate = 8*frequency, txref=185dB,
// rxref=-190dB) before options override them.
func New(model propagation.Model, opts ...Option) *Simulation {
	s := &Simulation{
		model:   model,
		TxRefDB: 185,
		RxRefDB: -190,
	}
	for _, o := range opts {
		o(s)
	}
	if s.Frequency == 0 {
		s.Frequency = 24000
	}
	if s.IRate == 0 {
		s.IRate = 4 * s.Frequency
	}
	if s.ORate == 0 {
		s.ORate = 8 * s.Frequency
	}
	if s.noise == nil {
		s.noise = noise.NewRedGaussian(1e-6, 0.98, 1)
	}
	return s
}

// AddNode constructs a Node and its ProtocolDaemon and appends it to the
// simulation. Refused once the simulation is running (spec §4.3).
func (s *Simulation) AddNode(cfg NodeConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		metrics.IncError(metrics.ErrConfig)
		return fmt.Errorf("%w: AddNode called while running", ErrConfig)
	}
	n := node.New(cfg.ID, cfg.Pos, cfg.RelPos, cfg.OChannels, cfg.IGainDB, cfg.OGainDB)
	bn := &boundNode{node: n, sim: s}

	var d daemon.ProtocolDaemon
	switch cfg.Framing {
	case "uasp2":
		d = daemon.NewUASP2(bn, cfg.IPAddr, cfg.Port)
	case "uasp", "":
		d = daemon.NewUASP(bn, cfg.IPAddr, cfg.Port)
	default:
		metrics.IncError(metrics.ErrConfig)
		return fmt.Errorf("%w: unknown framing %q", ErrConfig, cfg.Framing)
	}
	bn.daemon = d
	s.nodes = append(s.nodes, bn)
	return nil
}

// Run validates the simulation, starts the scheduler and every node's
// daemon, and blocks until ctx is cancelled or Close is called.
func (s *Simulation) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("%w: already running", ErrConfig)
	}
	if math.Mod(s.ORate, s.IRate) != 0 {
		s.mu.Unlock()
		metrics.IncError(metrics.ErrConfig)
		return fmt.Errorf("%w: orate %.0f is not a multiple of irate %.0f", ErrConfig, s.ORate, s.IRate)
	}
	if s.IBlkSize == 0 {
		s.IBlkSize = autoBlockSize(s.maxHydrophonesLocked())
	}

	rxrefLinear := acoustic.DBToLinear(s.RxRefDB)
	s.clock = clock.New(s.IRate, s.IBlkSize, s.noise, rxrefLinear)
	s.adapter = propagation.NewAdapter(s.model, s.Mobility)
	s.pipeline = transmit.NewPipeline(s.adapter, s.clock, s.IRate, s.ORate, s.TxRefDB, s.RxRefDB, s.ProcessingHeadroom, s.TransmitWorkers)

	schedNodes := make([]clock.SchedNode, len(s.nodes))
	for i, bn := range s.nodes {
		schedNodes[i] = bn
	}
	s.clock.SetNodes(schedNodes)

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	nodes := append([]*boundNode(nil), s.nodes...)
	s.mu.Unlock()

	errCh := make(chan error, len(nodes)+1)
	var wg sync.WaitGroup
	for _, bn := range nodes {
		wg.Add(1)
		go func(bn *boundNode) {
			defer wg.Done()
			if err := bn.daemon.Run(runCtx); err != nil {
				logging.L().Error("daemon_run_failed", "node", bn.node.ID, "error", err)
				errCh <- err
			}
		}(bn)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := s.clock.Run(runCtx); err != nil {
			errCh <- err
		}
	}()

	<-runCtx.Done()
	wg.Wait()
	close(errCh)
	for err := range errCh {
		if err != nil {
			return err
		}
	}
	return nil
}

// Close tears down the scheduler and every daemon, then empties the node
// list (spec §3 "Lifecycle").
func (s *Simulation) Close() error {
	s.mu.Lock()
	cancel := s.cancel
	c := s.clock
	nodes := append([]*boundNode(nil), s.nodes...)
	s.nodes = nil
	s.running = false
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if c != nil {
		c.Close()
	}
	var firstErr error
	for _, bn := range nodes {
		if err := bn.daemon.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Simulation) nodeList() []*node.Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*node.Node, len(s.nodes))
	for i, bn := range s.nodes {
		out[i] = bn.node
	}
	return out
}

func (s *Simulation) maxHydrophonesLocked() int {
	max := 1
	for _, bn := range s.nodes {
		if n := bn.node.NumHydrophones(); n > max {
			max = n
		}
	}
	return max
}

// autoBlockSize implements spec §4.2 "Auto block size": min(floor(353/maxch), 256).
func autoBlockSize(maxch int) int {
	if maxch <= 0 {
		maxch = 1
	}
	v := 353 / maxch
	if v > 256 {
		v = 256
	}
	if v < 1 {
		v = 1
	}
	return v
}
