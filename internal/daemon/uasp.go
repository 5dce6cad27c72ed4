package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/underwatersim/vaosim/internal/clock"
	"github.com/underwatersim/vaosim/internal/logging"
	"github.com/underwatersim/vaosim/internal/metrics"
	"github.com/underwatersim/vaosim/internal/transport"
)

// streamBacklog bounds how many unsent ADC frames an AsyncTx will queue
// behind a slow or wedged UDP peer before dropping the newest one.
const streamBacklog = 8

// UASP is the UDP-command + UDP-data framing (spec §4.5 "UASP framing").
// Two UDP sockets are bound at (ipaddr, baseport) for commands and
// (ipaddr, baseport+1) for data; the data socket is only used to send ADC
// frames and is never read, so DAC samples arrive only as in-band odata
// commands. Replies and notifications go back to the most recent command
// sender's address.
type UASP struct {
	client  Client
	ipaddr  string
	port    int
	dest    Destination
	logger  *slog.Logger

	mu      sync.RWMutex
	cmdConn *net.UDPConn
	dataConn *net.UDPConn
	lastAddr *net.UDPAddr
	tx       *transport.AsyncTx[clock.Block]

	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewUASP builds a UASP daemon bound (on Run) to (ipaddr, baseport) for
// commands and (ipaddr, baseport+1) as the socket ADC frames are sent from.
func NewUASP(client Client, ipaddr string, baseport int) *UASP {
	return &UASP{client: client, ipaddr: ipaddr, port: baseport, logger: logging.L().With("node", client.NodeID(), "framing", "uasp")}
}

// Run binds both UDP sockets and spins the command-read loop.
func (u *UASP) Run(ctx context.Context) error {
	cmdAddr := &net.UDPAddr{IP: net.ParseIP(u.ipaddr), Port: u.port}
	cmdConn, err := net.ListenUDP("udp", cmdAddr)
	if err != nil {
		wrap := fmt.Errorf("%w: cmd %s:%d: %v", ErrBind, u.ipaddr, u.port, err)
		metrics.IncError(metrics.ErrListen)
		return wrap
	}
	dataAddr := &net.UDPAddr{IP: net.ParseIP(u.ipaddr), Port: u.port + 1}
	dataConn, err := net.ListenUDP("udp", dataAddr)
	if err != nil {
		_ = cmdConn.Close()
		wrap := fmt.Errorf("%w: data %s:%d: %v", ErrListen, u.ipaddr, u.port+1, err)
		metrics.IncError(metrics.ErrListen)
		return wrap
	}

	u.mu.Lock()
	u.cmdConn, u.dataConn = cmdConn, dataConn
	u.tx = transport.NewAsyncTx(ctx, streamBacklog, u.sendBlock, transport.Hooks{
		OnError: func(error) { metrics.IncPeerGone(u.client.NodeID()) },
		OnDrop: func() error {
			metrics.IncError(metrics.ErrConnWrite)
			return nil
		},
	})
	u.mu.Unlock()
	metrics.SetDaemonBound(u.client.NodeID(), true)
	u.logger.Info("uasp_listen", "cmd_port", u.port, "data_port", u.port+1)

	u.wg.Add(1)
	go u.readLoop(ctx)

	<-ctx.Done()
	return u.Close()
}

func (u *UASP) readLoop(ctx context.Context) {
	defer u.wg.Done()
	buf := make([]byte, 65536)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		u.mu.RLock()
		conn := u.cmdConn
		u.mu.RUnlock()
		if conn == nil {
			return
		}
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			continue
		}
		u.mu.Lock()
		u.lastAddr = addr
		u.mu.Unlock()

		var req Request
		if err := json.Unmarshal(buf[:n], &req); err != nil {
			metrics.IncBadCommand(u.client.NodeID())
			u.logger.Warn("bad_command", "error", err)
			continue
		}
		resp := HandleRequest(u.client, &u.dest, addr.IP.String(), req)
		if resp != nil {
			u.reply(addr, resp)
		}
	}
}

func (u *UASP) reply(addr *net.UDPAddr, resp *Response) {
	line, err := json.Marshal(resp)
	if err != nil {
		return
	}
	line = append(line, '\n')
	u.mu.RLock()
	conn := u.cmdConn
	u.mu.RUnlock()
	if conn == nil {
		return
	}
	if _, err := conn.WriteToUDP(line, addr); err != nil {
		metrics.IncPeerGone(u.client.NodeID())
	}
}

// Stream hands one ADC frame to the async sender so the scheduler never
// blocks on UDP write backpressure. A peer that never called istart is
// silently skipped (spec §7); a full send queue drops the frame.
func (u *UASP) Stream(block clock.Block) {
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
// ADC frame to the currently learned data destination.
func (u *UASP) sendBlock(block clock.Block) error {
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

// Event sends an asynchronous notification to the last known command sender.
func (u *UASP) Event(tUs uint64, name string, id string) {
	u.mu.RLock()
	addr := u.lastAddr
	u.mu.RUnlock()
	if addr == nil {
		return
	}
	resp := &Response{Event: name, Time: int64(tUs)}
	if id != "" {
		resp.ID = id
	}
	u.reply(addr, resp)
}

// Close releases both UDP sockets.
func (u *UASP) Close() error {
	var err error
	u.closeOnce.Do(func() {
		u.mu.Lock()
		cmdConn, dataConn, tx := u.cmdConn, u.dataConn, u.tx
		u.cmdConn, u.dataConn, u.tx = nil, nil, nil
		u.mu.Unlock()
		if tx != nil {
			tx.Close()
		}
		if cmdConn != nil {
			err = cmdConn.Close()
		}
		if dataConn != nil {
			if e := dataConn.Close(); err == nil {
				err = e
			}
		}
		metrics.SetDaemonBound(u.client.NodeID(), false)
		u.wg.Wait()
	})
	return err
}
