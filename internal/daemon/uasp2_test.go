package daemon

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/underwatersim/vaosim/internal/clock"
)

func TestUASP2VersionHandshake(t *testing.T) {
	cl := newFakeClient()
	d := NewUASP2(cl, "127.0.0.1", 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = d.Run(ctx) }()

	require.Eventually(t, func() bool {
		d.mu.RLock()
		defer d.mu.RUnlock()
		return d.ln != nil
	}, time.Second, time.Millisecond)

	d.mu.RLock()
	addr := d.ln.Addr().String()
	d.mu.RUnlock()

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte(`{"action":"version","id":7}` + "\n"))
	require.NoError(t, err)

	reader := bufio.NewReader(conn)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	line, err := reader.ReadString('\n')
	require.NoError(t, err)

	var resp Response
	require.NoError(t, json.Unmarshal([]byte(line), &resp))
	require.Equal(t, ServerName, resp.Name)
	require.Equal(t, ProtocolVersion, resp.Protocol)
	require.EqualValues(t, 7, resp.ID)
}

func TestUASP2OdataThenOstartTriggersTransmit(t *testing.T) {
	cl := newFakeClient()
	transmitted := make(chan []float32, 1)
	cl.transmit = func(tReq int64, x [][]float32, id string) int64 {
		flat := make([]float32, len(x))
		for i, row := range x {
			flat[i] = row[0]
		}
		transmitted <- flat
		return tReq
	}
	d := NewUASP2(cl, "127.0.0.1", 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = d.Run(ctx) }()

	require.Eventually(t, func() bool {
		d.mu.RLock()
		defer d.mu.RUnlock()
		return d.ln != nil
	}, time.Second, time.Millisecond)
	d.mu.RLock()
	addr := d.ln.Addr().String()
	d.mu.RUnlock()

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	frame := EncodeFrame(FrameHeader{}, []float32{1, -1})
	odataReq := map[string]any{"action": "odata", "data": base64.StdEncoding.EncodeToString(frame)}
	b, _ := json.Marshal(odataReq)
	_, err = conn.Write(append(b, '\n'))
	require.NoError(t, err)

	_, err = conn.Write([]byte(`{"action":"ostart"}` + "\n"))
	require.NoError(t, err)

	select {
	case got := <-transmitted:
		require.Equal(t, []float32{1, -1}, got)
	case <-time.After(2 * time.Second):
		t.Fatal("transmit was not invoked")
	}
}

func TestUASP2StreamDeliversFrameOverUDP(t *testing.T) {
	cl := newFakeClient()
	d := NewUASP2(cl, "127.0.0.1", 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = d.Run(ctx) }()
	require.Eventually(t, func() bool {
		d.mu.RLock()
		defer d.mu.RUnlock()
		return d.dataConn != nil && d.tx != nil
	}, time.Second, time.Millisecond)

	dataListener, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	defer dataListener.Close()
	d.dest.Learn("127.0.0.1", dataListener.LocalAddr().(*net.UDPAddr).Port)

	d.Stream(clock.Block{TimestampUs: 9, Seqno: 3, NSamples: 1, NChannels: 1, Samples: []float32{0.25}})

	require.NoError(t, dataListener.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 64)
	n, err := dataListener.Read(buf)
	require.NoError(t, err)
	h, err := DecodeHeader(buf[:n])
	require.NoError(t, err)
	require.EqualValues(t, 3, h.Seqno)
}
