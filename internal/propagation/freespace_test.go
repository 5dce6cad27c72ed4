package propagation

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestFreeSpaceModelDelayMatchesRangeOverSoundSpeed(t *testing.T) {
	m := FreeSpaceModel{}
	tx := []Position{{X: 0, Y: 0, Z: 0}}
	rx := []Position{{X: 1000, Y: 0, Z: 0}}
	ch, err := m.Channel(tx, rx, 96000)
	require.NoError(t, err)

	x := mat.NewDense(1, 1, []float64{1})
	out, err := ch.Apply(x, 96000)
	require.NoError(t, err)

	wantDelay := int(math.Round(1000.0 / SoundSpeedMps * 96000))
	rows, cols := out.Dims()
	require.Equal(t, 1, cols)
	require.Greater(t, rows, wantDelay)
	require.NotZero(t, out.At(wantDelay, 0))
	for t2 := 0; t2 < rows; t2++ {
		if t2 != wantDelay {
			require.Zero(t, out.At(t2, 0))
		}
	}
}

func TestFreeSpaceModelAppliesSphericalSpreadingLoss(t *testing.T) {
	m := FreeSpaceModel{}
	near, err := m.Channel([]Position{{}}, []Position{{X: 10}}, 48000)
	require.NoError(t, err)
	far, err := m.Channel([]Position{{}}, []Position{{X: 1000}}, 48000)
	require.NoError(t, err)

	x := mat.NewDense(1, 1, []float64{1})
	outNear, err := near.Apply(x, 48000)
	require.NoError(t, err)
	outFar, err := far.Apply(x, 48000)
	require.NoError(t, err)

	dNear, _ := outNear.Dims()
	dFar, _ := outFar.Dims()
	var peakNear, peakFar float64
	for i := 0; i < dNear; i++ {
		if v := math.Abs(outNear.At(i, 0)); v > peakNear {
			peakNear = v
		}
	}
	for i := 0; i < dFar; i++ {
		if v := math.Abs(outFar.At(i, 0)); v > peakFar {
			peakFar = v
		}
	}
	require.Greater(t, peakNear, peakFar)
}

func TestFreeSpaceModelMultiElementTxCollapsesToCentroid(t *testing.T) {
	m := FreeSpaceModel{}
	tx := []Position{{X: -1}, {X: 1}}
	ch, err := m.Channel(tx, []Position{{X: 500}}, 48000)
	require.NoError(t, err)
	require.NotNil(t, ch)
}
