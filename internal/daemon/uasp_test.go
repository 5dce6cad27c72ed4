package daemon

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/underwatersim/vaosim/internal/clock"
)

func TestUASPVersionHandshakeOverUDP(t *testing.T) {
	cl := newFakeClient()
	d := NewUASP(cl, "127.0.0.1", 0)
	d.port = 0 // let the OS assign both base and base+1 deterministically below

	ln, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	port := ln.LocalAddr().(*net.UDPAddr).Port
	require.NoError(t, ln.Close())
	d.port = port

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = d.Run(ctx) }()

	require.Eventually(t, func() bool {
		d.mu.RLock()
		defer d.mu.RUnlock()
		return d.cmdConn != nil
	}, time.Second, time.Millisecond)

	client, err := net.DialUDP("udp", nil, &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: port})
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Write([]byte(`{"action":"version","id":1}` + "\n"))
	require.NoError(t, err)

	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 4096)
	n, err := client.Read(buf)
	require.NoError(t, err)

	var resp Response
	require.NoError(t, json.Unmarshal(buf[:n], &resp))
	require.Equal(t, ServerName, resp.Name)
	require.EqualValues(t, 1, resp.ID)
}

func TestUASPStreamSkippedWithoutIstart(t *testing.T) {
	cl := newFakeClient()
	d := NewUASP(cl, "127.0.0.1", 0)
	// Stream before Run/istart must not panic even with nil sockets.
	d.Stream(clock.Block{NSamples: 1, NChannels: 1, Samples: []float32{0}})
}

func TestUASPStreamDeliversFrameAfterIstart(t *testing.T) {
	cl := newFakeClient()
	d := NewUASP(cl, "127.0.0.1", 0)

	ln, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	port := ln.LocalAddr().(*net.UDPAddr).Port
	require.NoError(t, ln.Close())
	d.port = port

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = d.Run(ctx) }()
	require.Eventually(t, func() bool {
		d.mu.RLock()
		defer d.mu.RUnlock()
		return d.cmdConn != nil && d.tx != nil
	}, time.Second, time.Millisecond)

	dataListener, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	defer dataListener.Close()
	d.dest.Learn("127.0.0.1", dataListener.LocalAddr().(*net.UDPAddr).Port)

	d.Stream(clock.Block{TimestampUs: 5, Seqno: 1, NSamples: 1, NChannels: 1, Samples: []float32{0.5}})

	require.NoError(t, dataListener.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 64)
	n, err := dataListener.Read(buf)
	require.NoError(t, err)
	h, err := DecodeHeader(buf[:n])
	require.NoError(t, err)
	require.EqualValues(t, 1, h.Seqno)
}
