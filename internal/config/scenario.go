// Package config loads a simulation scenario from YAML and the daemon's
// ambient CLI/environment configuration, mirroring the teacher binary's
// flag+env-override pattern (spec §6 "CLI surface" notes this is an
// external-collaborator concern; the YAML scenario format and process
// configuration are supplemented here since a complete binary needs them).
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/underwatersim/vaosim/internal/propagation"
	"github.com/underwatersim/vaosim/internal/sim"
)

// ScenarioNode is one node entry in a scenario YAML file.
type ScenarioNode struct {
	ID        string    `yaml:"id"`
	Pos       []float64 `yaml:"pos"`    // [x, y, z]
	RelPos    [][]float64 `yaml:"relpos"` // hydrophone offsets, first ochannels are tx-capable
	OChannels int       `yaml:"ochannels"`
	IGainDB   float64   `yaml:"igain"`
	OGainDB   float64   `yaml:"ogain"`
	Framing   string    `yaml:"framing"` // "uasp" | "uasp2"
	IPAddr    string    `yaml:"ipaddr"`
	Port      int       `yaml:"port"`
}

// Scenario is the YAML-described simulation: global acoustic parameters
// plus the node list (spec §3 "Simulation").
type Scenario struct {
	Frequency float64        `yaml:"frequency"`
	IRate     float64        `yaml:"irate"`
	ORate     float64        `yaml:"orate"`
	IBlkSize  int            `yaml:"iblksize"`
	TxRefDB   *float64       `yaml:"txref"`
	RxRefDB   *float64       `yaml:"rxref"`
	Mobility  bool           `yaml:"mobility"`
	Nodes     []ScenarioNode `yaml:"nodes"`
}

// LoadScenario reads and parses a scenario YAML file.
func LoadScenario(path string) (*Scenario, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrConfig, path, err)
	}
	var sc Scenario
	if err := yaml.Unmarshal(b, &sc); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrConfig, path, err)
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

// Validate checks structural invariants the scenario loader can catch
// before handing the scenario to the simulation (spec §7 "Configuration error").
func (s *Scenario) Validate() error {
	if len(s.Nodes) == 0 {
		return fmt.Errorf("%w: scenario has no nodes", ErrConfig)
	}
	seen := make(map[string]bool, len(s.Nodes))
	for _, n := range s.Nodes {
		if n.ID == "" {
			return fmt.Errorf("%w: node with empty id", ErrConfig)
		}
		if seen[n.ID] {
			return fmt.Errorf("%w: duplicate node id %q", ErrConfig, n.ID)
		}
		seen[n.ID] = true
		if n.OChannels > len(n.RelPos) {
			return fmt.Errorf("%w: node %q ochannels=%d exceeds %d hydrophones", ErrConfig, n.ID, n.OChannels, len(n.RelPos))
		}
		switch n.Framing {
		case "", "uasp", "uasp2":
		default:
			return fmt.Errorf("%w: node %q unknown framing %q", ErrConfig, n.ID, n.Framing)
		}
	}
	return nil
}

// SimOptions converts the scenario's global parameters into sim.Option
// overrides. Per-node wiring is handled separately by AddNodesTo.
func (s *Scenario) SimOptions() []sim.Option {
	var opts []sim.Option
	if s.Frequency > 0 {
		opts = append(opts, sim.WithFrequency(s.Frequency))
	}
	if s.IRate > 0 {
		opts = append(opts, sim.WithIRate(s.IRate))
	}
	if s.ORate > 0 {
		opts = append(opts, sim.WithORate(s.ORate))
	}
	if s.IBlkSize > 0 {
		opts = append(opts, sim.WithIBlkSize(s.IBlkSize))
	}
	if s.TxRefDB != nil {
		opts = append(opts, sim.WithTxRefDB(*s.TxRefDB))
	}
	if s.RxRefDB != nil {
		opts = append(opts, sim.WithRxRefDB(*s.RxRefDB))
	}
	opts = append(opts, sim.WithMobility(s.Mobility))
	return opts
}

// AddNodesTo registers every scenario node on sn.
func (s *Scenario) AddNodesTo(sn *sim.Simulation) error {
	for _, n := range s.Nodes {
		cfg := sim.NodeConfig{
			ID:        n.ID,
			Pos:       toPosition(n.Pos),
			RelPos:    toPositions(n.RelPos),
			OChannels: n.OChannels,
			IGainDB:   n.IGainDB,
			OGainDB:   n.OGainDB,
			Framing:   n.Framing,
			IPAddr:    n.IPAddr,
			Port:      n.Port,
		}
		if cfg.IPAddr == "" {
			cfg.IPAddr = "0.0.0.0"
		}
		if err := sn.AddNode(cfg); err != nil {
			return err
		}
	}
	return nil
}

func toPosition(v []float64) propagation.Position {
	var p propagation.Position
	if len(v) > 0 {
		p.X = v[0]
	}
	if len(v) > 1 {
		p.Y = v[1]
	}
	if len(v) > 2 {
		p.Z = v[2]
	}
	return p
}

func toPositions(vs [][]float64) []propagation.Position {
	out := make([]propagation.Position, len(vs))
	for i, v := range vs {
		out[i] = toPosition(v)
	}
	return out
}
