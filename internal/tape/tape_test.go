package tape

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReadSumsOverlappingReceptions(t *testing.T) {
	tp := New("node-1")
	tp.Append(0, []float32{1, 1, 1, 1})
	tp.Append(2, []float32{1, 1, 1, 1})
	got := tp.Read(0, 6, false)
	require.Equal(t, []float32{1, 1, 1, 1, 1, 1}, got[:4])
	require.Equal(t, float32(1), got[4])
	require.Equal(t, float32(1), got[5])
	require.InDelta(t, 1, got[2], 1e-6)
	require.InDelta(t, 1, got[3], 1e-6)
}

func TestReadClampsToUnitRange(t *testing.T) {
	tp := New("node-1")
	tp.Append(0, []float32{0.9, 0.9})
	tp.Append(0, []float32{0.9, -0.9})
	got := tp.Read(0, 2, false)
	require.Equal(t, float32(1), got[0])
	require.InDelta(t, 0, got[1], 1e-6)
}

func TestReadPurgesFullyConsumedReceptions(t *testing.T) {
	tp := New("node-1")
	tp.Append(0, []float32{1, 1, 1, 1}) // last index 3
	tp.Append(10, []float32{1, 1})      // last index 11, not yet consumed
	_ = tp.Read(0, 4, true)             // window [0,4): consumes first Reception fully
	require.Equal(t, 1, tp.Len())

	got := tp.Read(4, 4, true) // window [4,8): no overlap with either
	require.Equal(t, []float32{0, 0, 0, 0}, got)
	require.Equal(t, 1, tp.Len(), "unconsumed future Reception must survive purge")
}

func TestReadDoesNotPurgeStraddlingReception(t *testing.T) {
	tp := New("node-1")
	tp.Append(2, []float32{1, 1, 1, 1}) // spans [2,6)
	_ = tp.Read(0, 4, true)             // window [0,4) overlaps but doesn't fully consume
	require.Equal(t, 1, tp.Len(), "reception extending past the read window must survive")

	got := tp.Read(4, 4, true) // window [4,8) consumes the remaining tail
	require.Equal(t, float32(1), got[0])
	require.Equal(t, float32(1), got[1])
	require.Equal(t, float32(0), got[2])
	require.Equal(t, 0, tp.Len())
}

func TestAppendOutOfOrderStartsIsAdditive(t *testing.T) {
	tp := New("node-1")
	// Later transmission arrives with an earlier start (shorter path).
	tp.Append(100, []float32{1})
	tp.Append(10, []float32{1})
	got := tp.Read(0, 120, false)
	require.Equal(t, float32(1), got[10])
	require.Equal(t, float32(1), got[100])
}

func TestPurgeDropsEntirelyPastReceptions(t *testing.T) {
	tp := New("node-1")
	tp.Append(0, []float32{1, 1})   // last index 1
	tp.Append(5, []float32{1, 1})   // last index 6
	tp.Purge(2)
	require.Equal(t, 1, tp.Len())
	got := tp.Read(5, 2, false)
	require.Equal(t, []float32{1, 1}, got)
}

func TestReadEmptyTapeReturnsZeros(t *testing.T) {
	tp := New("node-1")
	got := tp.Read(0, 8, true)
	require.Len(t, got, 8)
	for _, v := range got {
		require.Equal(t, float32(0), v)
	}
}
