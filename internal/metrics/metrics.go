// Package metrics exposes the simulator's Prometheus counters/gauges and the
// /metrics, /ready HTTP endpoints, mirroring the teacher gateway's
// observability stack but renamed to the acoustic domain.
package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/underwatersim/vaosim/internal/logging"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus counters/gauges.
var (
	ADCFramesStreamed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "adc_frames_streamed_total",
		Help: "Total ADC data frames produced and handed to the node's daemon, by node.",
	}, []string{"node"})
	ADCSeqnoResets = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "adc_seqno_resets_total",
		Help: "Total ireset/set-iseqno sequence counter resets, by node.",
	}, []string{"node"})
	TapeReceptionsAppended = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tape_receptions_appended_total",
		Help: "Total Receptions appended to a hydrophone tape, by node.",
	}, []string{"node"})
	TapeReceptionsPurged = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tape_receptions_purged_total",
		Help: "Total Receptions purged from a hydrophone tape, by node.",
	}, []string{"node"})
	TapeReceptionsLive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tape_receptions_live",
		Help: "Currently retained Receptions across a node's tapes.",
	}, []string{"node"})
	TransmitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transmits_total",
		Help: "Total transmit() invocations, by node.",
	}, []string{"node"})
	TransmitMuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transmits_muted_total",
		Help: "Total transmit() calls suppressed by node mute, by node.",
	}, []string{"node"})
	TransmitLateMs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "transmit_worker_lateness_ms",
		Help: "Lateness in milliseconds of the most recent transmit worker completion past t_start.",
	})
	TransmitErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transmit_errors_total",
		Help: "Total propagation-model or pipeline errors, by node.",
	}, []string{"node"})
	DaemonClients = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "daemon_clients",
		Help: "Whether a node's daemon currently has its sockets bound (0/1).",
	}, []string{"node"})
	DaemonBadCommands = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "daemon_bad_commands_total",
		Help: "Total malformed or unknown control-plane commands, by node.",
	}, []string{"node"})
	DaemonBadPackets = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "daemon_bad_packets_total",
		Help: "Total malformed odata/data-plane packets dropped, by node.",
	}, []string{"node"})
	DaemonPeerGone = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "daemon_peer_gone_total",
		Help: "Total swallowed send failures against a disappeared client, by node.",
	}, []string{"node"})
	DACBufferDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dac_buffer_drops_total",
		Help: "Total odata appends dropped because obufsize was exceeded, by node.",
	}, []string{"node"})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})

	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error label constants (stable label values to bound cardinality).
const (
	ErrConnRead    = "conn_read"
	ErrConnWrite   = "conn_write"
	ErrListen      = "listen"
	ErrAccept      = "accept"
	ErrBadCommand  = "bad_command"
	ErrBadPacket   = "bad_packet"
	ErrPropagation = "propagation"
	ErrConfig      = "config"
)

// StartHTTP serves Prometheus metrics at /metrics and a readiness probe at
// /ready on the given address.
func StartHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// Local mirrored counters for cheap periodic logging without scraping Prometheus in-process.
var (
	localFramesStreamed uint64
	localTransmits      uint64
	localBadCommands    uint64
	localBadPackets     uint64
	localErrors         uint64
)

// Snapshot is a cheap copy of the process-wide local counters.
type Snapshot struct {
	FramesStreamed uint64
	Transmits      uint64
	BadCommands    uint64
	BadPackets     uint64
	Errors         uint64
}

// Snap returns the current local counter snapshot.
func Snap() Snapshot {
	return Snapshot{
		FramesStreamed: atomic.LoadUint64(&localFramesStreamed),
		Transmits:      atomic.LoadUint64(&localTransmits),
		BadCommands:    atomic.LoadUint64(&localBadCommands),
		BadPackets:     atomic.LoadUint64(&localBadPackets),
		Errors:         atomic.LoadUint64(&localErrors),
	}
}

// IncADCFrame records one ADC frame produced for a node and handed to its
// daemon, whether or not a client data destination is set.
func IncADCFrame(node string) {
	ADCFramesStreamed.WithLabelValues(node).Inc()
	atomic.AddUint64(&localFramesStreamed, 1)
}

// IncSeqnoReset records a sequence-counter reset for a node.
func IncSeqnoReset(node string) { ADCSeqnoResets.WithLabelValues(node).Inc() }

// IncTapeAppend records a Reception appended to a node's tapes.
func IncTapeAppend(node string) { TapeReceptionsAppended.WithLabelValues(node).Inc() }

// IncTapePurge records a Reception purged from a node's tapes.
func IncTapePurge(node string) { TapeReceptionsPurged.WithLabelValues(node).Inc() }

// SetTapeLive records the current retained-Reception count for a node.
func SetTapeLive(node string, n int) { TapeReceptionsLive.WithLabelValues(node).Set(float64(n)) }

// IncTransmit records a transmit() call for a node.
func IncTransmit(node string) {
	TransmitsTotal.WithLabelValues(node).Inc()
	atomic.AddUint64(&localTransmits, 1)
}

// IncTransmitMuted records a transmit() call suppressed by mute.
func IncTransmitMuted(node string) { TransmitMuted.WithLabelValues(node).Inc() }

// SetTransmitLateness records the lateness (ms) of the most recent transmit worker.
func SetTransmitLateness(ms float64) { TransmitLateMs.Set(ms) }

// IncTransmitError records a propagation/pipeline failure for a node.
func IncTransmitError(node string) { TransmitErrors.WithLabelValues(node).Inc() }

// SetDaemonBound records whether a node's daemon has its sockets bound.
func SetDaemonBound(node string, bound bool) {
	v := 0.0
	if bound {
		v = 1.0
	}
	DaemonClients.WithLabelValues(node).Set(v)
}

// IncBadCommand records a malformed/unknown control-plane command for a node.
func IncBadCommand(node string) {
	DaemonBadCommands.WithLabelValues(node).Inc()
	atomic.AddUint64(&localBadCommands, 1)
}

// IncBadPacket records a malformed data-plane packet dropped for a node.
func IncBadPacket(node string) {
	DaemonBadPackets.WithLabelValues(node).Inc()
	atomic.AddUint64(&localBadPackets, 1)
}

// IncPeerGone records a swallowed send failure against a vanished client.
func IncPeerGone(node string) { DaemonPeerGone.WithLabelValues(node).Inc() }

// IncDACBufferDrop records an odata append dropped for exceeding obufsize.
func IncDACBufferDrop(node string) { DACBufferDrops.WithLabelValues(node).Inc() }

// IncError records an error by subsystem label.
func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

// InitBuildInfo sets the build info gauge and pre-registers error label series.
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	for _, lbl := range []string{ErrConnRead, ErrConnWrite, ErrListen, ErrAccept, ErrBadCommand, ErrBadPacket, ErrPropagation, ErrConfig} {
		Errors.WithLabelValues(lbl).Add(0)
	}
}

// SetReadinessFunc registers a function used by /ready and IsReady.
func SetReadinessFunc(fn func() bool) { readinessMu.Lock(); readinessFn = fn; readinessMu.Unlock() }

// IsReady invokes the registered readiness function if present.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil {
		return true
	}
	return fn()
}

// Ready is a concise alias used at call sites.
func Ready() bool { return IsReady() }
