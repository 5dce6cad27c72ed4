package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/underwatersim/vaosim/internal/clock"
	"github.com/underwatersim/vaosim/internal/logging"
	"github.com/underwatersim/vaosim/internal/metrics"
	"github.com/underwatersim/vaosim/internal/transport"
)

// UASP2 is the TCP-command + UDP-data framing (spec §4.5 "UASP2 framing").
// One TCP listener accepts a single command connection at a time;
// line-delimited JSON flows both ways on it. odata arrives in-band as a
// base64 field rather than over a second socket. ADC frames go out over a
// dedicated UDP socket to the address learned from istart.
type UASP2 struct {
	client Client
	ipaddr string
	port   int
	dest   Destination
	logger *slog.Logger

	mu       sync.RWMutex
	ln       net.Listener
	dataConn *net.UDPConn
	conn     net.Conn
	enc      *json.Encoder
	connMu   sync.Mutex // serializes writes to conn
	tx       *transport.AsyncTx[clock.Block]

	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewUASP2 builds a UASP2 daemon listening on (ipaddr, port) for TCP
// commands; the UDP data-out socket is bound ephemeral.
func NewUASP2(client Client, ipaddr string, port int) *UASP2 {
	return &UASP2{client: client, ipaddr: ipaddr, port: port, logger: logging.L().With("node", client.NodeID(), "framing", "uasp2")}
}

// Run binds the TCP listener and the UDP data socket, then accepts clients
// one at a time until ctx is cancelled.
func (u *UASP2) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", u.ipaddr, u.port))
	if err != nil {
		metrics.IncError(metrics.ErrListen)
		return fmt.Errorf("%w: %s:%d: %v", ErrBind, u.ipaddr, u.port, err)
	}
	dataConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP(u.ipaddr), Port: 0})
	if err != nil {
		_ = ln.Close()
		metrics.IncError(metrics.ErrListen)
		return fmt.Errorf("%w: data socket: %v", ErrListen, err)
	}

	u.mu.Lock()
	u.ln, u.dataConn = ln, dataConn
	u.tx = transport.NewAsyncTx(ctx, streamBacklog, u.sendBlock, transport.Hooks{
		OnError: func(error) { metrics.IncPeerGone(u.client.NodeID()) },
		OnDrop: func() error {
			metrics.IncError(metrics.ErrConnWrite)
			return nil
		},
	})
	u.mu.Unlock()
	metrics.SetDaemonBound(u.client.NodeID(), true)
	u.logger.Info("uasp2_listen", "addr", ln.Addr().String())

	go func() { <-ctx.Done(); _ = ln.Close() }()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return u.Close()
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return u.Close()
			}
			metrics.IncError(metrics.ErrAccept)
			continue
		}
		u.handleConn(ctx, conn)
	}
}

// handleConn owns the single active client connection until it disconnects,
// then returns so Run can accept the next one (spec: "on disconnect, the
// daemon waits for a new connection").
func (u *UASP2) handleConn(ctx context.Context, conn net.Conn) {
	u.mu.Lock()
	u.conn = conn
	u.enc = json.NewEncoder(conn)
	u.mu.Unlock()
	u.logger.Info("client_connected", "remote", conn.RemoteAddr().String())

	u.wg.Add(1)
	defer u.wg.Done()
	defer func() {
		_ = conn.Close()
		u.mu.Lock()
		if u.conn == conn {
			u.conn, u.enc = nil, nil
		}
		u.mu.Unlock()
		u.dest.Clear()
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}
		var req Request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			metrics.IncBadCommand(u.client.NodeID())
			u.logger.Warn("bad_command", "error", err)
			continue
		}
		remoteHost, _, _ := net.SplitHostPort(conn.RemoteAddr().String())
		resp := HandleRequest(u.client, &u.dest, remoteHost, req)
		if resp != nil {
			u.write(resp)
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		metrics.IncError(metrics.ErrConnRead)
	}
}

func (u *UASP2) write(resp *Response) {
	u.connMu.Lock()
	defer u.connMu.Unlock()
	u.mu.RLock()
	enc := u.enc
	u.mu.RUnlock()
	if enc == nil {
		return
	}
	if err := enc.Encode(resp); err != nil {
		metrics.IncPeerGone(u.client.NodeID())
	}
}

// Stream hands one ADC frame to the async sender so the scheduler never
// blocks on UDP write backpressure.
func (u *UASP2) Stream(block clock.Block) {
	if _, ok := u.dest.Get(); !ok {
		return
	}
	u.mu.RLock()
	tx := u.tx
	u.mu.RUnlock()
	if tx == nil {
		return
	}
	_ = tx.SendFrame(block)
}

// sendBlock is the AsyncTx worker-goroutine body: it encodes and writes one
// ADC frame to the address learned from istart.
func (u *UASP2) sendBlock(block clock.Block) error {
	host, port, ok := u.dest.Get()
	if !ok {
		return nil
	}
	u.mu.RLock()
	conn := u.dataConn
	u.mu.RUnlock()
	if conn == nil {
		return nil
	}
	addr := &net.UDPAddr{IP: net.ParseIP(host), Port: port}
	frame := EncodeFrame(FrameHeader{TimestampUs: block.TimestampUs, Seqno: uint32(block.Seqno), NSamples: uint16(block.NSamples), NChannels: uint16(block.NChannels)}, block.Samples)
	_, err := conn.WriteToUDP(frame, addr)
	return err
}

// Event writes an asynchronous notification back on the command connection.
func (u *UASP2) Event(tUs uint64, name string, id string) {
	resp := &Response{Event: name, Time: int64(tUs)}
	if id != "" {
		resp.ID = id
	}
	u.write(resp)
}

// Close releases the listener, data socket and any active connection.
func (u *UASP2) Close() error {
	var err error
	u.closeOnce.Do(func() {
		u.mu.Lock()
		ln, dataConn, conn, tx := u.ln, u.dataConn, u.conn, u.tx
		u.ln, u.dataConn, u.conn, u.enc, u.tx = nil, nil, nil, nil, nil
		u.mu.Unlock()
		if tx != nil {
			tx.Close()
		}
		if ln != nil {
			err = ln.Close()
		}
		if dataConn != nil {
			if e := dataConn.Close(); err == nil {
				err = e
			}
		}
		if conn != nil {
			_ = conn.Close()
		}
		metrics.SetDaemonBound(u.client.NodeID(), false)
		u.wg.Wait()
	})
	return err
}
