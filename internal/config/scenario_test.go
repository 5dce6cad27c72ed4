package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/underwatersim/vaosim/internal/propagation"
	"github.com/underwatersim/vaosim/internal/sim"
)

const sampleScenario = `
frequency: 24000
mobility: false
nodes:
  - id: node1
    pos: [0, 0, 0]
    relpos: [[0, 0, 0]]
    ochannels: 1
    framing: uasp2
    ipaddr: 127.0.0.1
    port: 0
  - id: node2
    pos: [1000, 0, 0]
    relpos: [[0, 0, 0], [0, 1, 0]]
    ochannels: 0
    framing: uasp2
    ipaddr: 127.0.0.1
    port: 0
`

func writeScenario(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scene.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadScenarioParsesNodesAndGlobals(t *testing.T) {
	path := writeScenario(t, sampleScenario)
	sc, err := LoadScenario(path)
	require.NoError(t, err)
	require.Equal(t, 24000.0, sc.Frequency)
	require.Len(t, sc.Nodes, 2)
	require.Equal(t, "node1", sc.Nodes[0].ID)
	require.Equal(t, 1, sc.Nodes[0].OChannels)
}

func TestLoadScenarioMissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorIs(t, err, ErrConfig)
}

func TestValidateRejectsDuplicateNodeIDs(t *testing.T) {
	sc := &Scenario{Nodes: []ScenarioNode{{ID: "a"}, {ID: "a"}}}
	require.ErrorIs(t, sc.Validate(), ErrConfig)
}

func TestValidateRejectsOChannelsExceedingHydrophones(t *testing.T) {
	sc := &Scenario{Nodes: []ScenarioNode{{ID: "a", OChannels: 2, RelPos: [][]float64{{0, 0, 0}}}}}
	require.ErrorIs(t, sc.Validate(), ErrConfig)
}

func TestValidateRejectsUnknownFraming(t *testing.T) {
	sc := &Scenario{Nodes: []ScenarioNode{{ID: "a", Framing: "bogus"}}}
	require.ErrorIs(t, sc.Validate(), ErrConfig)
}

func TestValidateRejectsEmptyNodeList(t *testing.T) {
	sc := &Scenario{}
	require.ErrorIs(t, sc.Validate(), ErrConfig)
}

func TestSimOptionsOnlyAppliesSetFields(t *testing.T) {
	sc := &Scenario{Frequency: 12000}
	opts := sc.SimOptions()
	s := sim.New(stubModel{}, opts...)
	require.Equal(t, 12000.0, s.Frequency)
}

func TestAddNodesToDefaultsIPAddr(t *testing.T) {
	sc := &Scenario{Nodes: []ScenarioNode{
		{ID: "n1", OChannels: 1, RelPos: [][]float64{{0, 0, 0}}, Framing: "uasp2", Port: 0},
	}}
	s := sim.New(stubModel{})
	require.NoError(t, sc.AddNodesTo(s))
}

type stubModel struct{}

func (stubModel) Channel(tx, rx []propagation.Position, fs float64) (propagation.Channel, error) {
	return nil, nil
}
