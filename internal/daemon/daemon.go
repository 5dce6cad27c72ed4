// Package daemon implements the ProtocolDaemon contract: a control-plane
// command channel plus a data-out plane, in two concrete framings — UASP
// (UDP+UDP) and UASP2 (TCP command + UDP data) — sharing the request
// dispatch and wire codec in this package (spec §4.5).
package daemon

import (
	"context"
	"sync"

	"github.com/underwatersim/vaosim/internal/clock"
)

// ProtocolDaemon is the per-node daemon handle the scheduler and transmit
// pipeline drive.
type ProtocolDaemon interface {
	Run(ctx context.Context) error
	Stream(block clock.Block)
	Event(tUs uint64, name string, id string)
	Close() error
}

var (
	_ ProtocolDaemon = (*UASP)(nil)
	_ ProtocolDaemon = (*UASP2)(nil)
)

// Destination is the client's learned data-out address, set by istart and
// cleared by istop (spec §4.5). Safe for concurrent use by the command
// handler and the streaming path.
type Destination struct {
	mu   sync.RWMutex
	host string
	port int
	set  bool
}

// Learn records the client's data-out address.
func (d *Destination) Learn(host string, port int) {
	d.mu.Lock()
	d.host, d.port, d.set = host, port, true
	d.mu.Unlock()
}

// Clear forgets the learned address; streaming becomes a silent no-op.
func (d *Destination) Clear() {
	d.mu.Lock()
	d.set = false
	d.mu.Unlock()
}

// Get returns the current destination, if any.
func (d *Destination) Get() (host string, port int, ok bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.host, d.port, d.set
}
