package clock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/underwatersim/vaosim/internal/noise"
)

type fakeNode struct {
	id  string
	nch int

	mu      sync.Mutex
	blocks  []Block
	seqno   uint64
	readArg []int64
}

func (f *fakeNode) ID() string        { return f.id }
func (f *fakeNode) Hydrophones() int  { return f.nch }
func (f *fakeNode) NextSeqno() uint64 { f.mu.Lock(); defer f.mu.Unlock(); v := f.seqno; f.seqno++; return v }

func (f *fakeNode) ReadHydrophone(ch int, tStart int64, n int, purge bool) []float32 {
	f.mu.Lock()
	f.readArg = append(f.readArg, tStart)
	f.mu.Unlock()
	return make([]float32, n)
}

func (f *fakeNode) Stream(b Block) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blocks = append(f.blocks, b)
}

func (f *fakeNode) snapshot() []Block {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Block(nil), f.blocks...)
}

func TestRunProducesBlocksAtEachTick(t *testing.T) {
	n := &fakeNode{id: "n1", nch: 2}
	c := New(96000, 960, noise.Silent{}, 0)
	c.SetNodes([]SchedNode{n})

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	require.NoError(t, c.Run(ctx))

	blocks := n.snapshot()
	require.NotEmpty(t, blocks)
	for _, b := range blocks {
		require.Equal(t, 960, b.NSamples)
		require.Equal(t, 2, b.NChannels)
		require.Len(t, b.Samples, 960*2)
	}
}

func TestScheduleFiresInTFireOrder(t *testing.T) {
	c := New(96000, 960, noise.Silent{}, 0)

	var mu sync.Mutex
	var fired []int64
	record := func(tNow int64) {
		mu.Lock()
		fired = append(fired, tNow)
		mu.Unlock()
	}

	c.Schedule(2000, record)
	c.Schedule(500, record)
	c.Schedule(1500, record)

	due := c.popDue(1999)
	require.Len(t, due, 2)
	require.Equal(t, int64(500), due[0].tFire)
	require.Equal(t, int64(1500), due[1].tFire)

	due = c.popDue(2000)
	require.Len(t, due, 1)
	require.Equal(t, int64(2000), due[0].tFire)
}

func TestCloseStopsTheRunLoop(t *testing.T) {
	n := &fakeNode{id: "n1", nch: 1}
	c := New(96000, 960, noise.Silent{}, 0)
	c.SetNodes([]SchedNode{n})

	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background()) }()

	require.Eventually(t, func() bool { return c.Running() }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	c.Close()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not exit after Close")
	}
	require.False(t, c.Running())
	require.Equal(t, int64(0), c.Now())
}

func TestNowAdvancesByBlockSize(t *testing.T) {
	n := &fakeNode{id: "n1", nch: 1}
	c := New(96000, 960, noise.Silent{}, 0)
	c.SetNodes([]SchedNode{n})

	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Millisecond)
	defer cancel()
	require.NoError(t, c.Run(ctx))

	require.True(t, c.Now() > 0)
	require.Zero(t, c.Now()%960)
}
