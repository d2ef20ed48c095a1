package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"mbft/internal/logging"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus counters
var (
	PacketsTx = promauto.NewCounter(prometheus.CounterOpts{
		Name: "packets_tx_total",
		Help: "Total binary packets written to the serial link (retransmits included).",
	})
	BytesTx = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bytes_tx_total",
		Help: "Total bytes written to the serial link.",
	})
	Retransmits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "retransmits_total",
		Help: "Total retransmissions (ack timeouts and peer resend requests).",
	})
	InjectedFaults = promauto.NewCounter(prometheus.CounterOpts{
		Name: "injected_faults_total",
		Help: "Total outgoing packets mangled by the fault-injection knob.",
	})
	RxLines = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rx_lines_total",
		Help: "Total non-empty ASCII response lines read from the firmware.",
	})
	MalformedLines = promauto.NewCounter(prometheus.CounterOpts{
		Name: "malformed_lines_total",
		Help: "Total input flushes caused by invalid UTF-8 in the response stream.",
	})
	BlocksWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "blocks_written_total",
		Help: "Total file data blocks acknowledged by the firmware.",
	})
	Reconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reconnects_total",
		Help: "Total successful serial port reopens after a read failure.",
	})
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

// Error label constants (stable label values to bound cardinality)
const (
	ErrSerialWrite  = "serial_write"
	ErrSerialRead   = "serial_read"
	ErrSync         = "sync"
	ErrPeerFatal    = "peer_fatal"
	ErrOverflow     = "payload_overflow"
	ErrResponseDrop = "response_drop"
	ErrConnLost     = "connection_lost"
)

// StartHTTP serves Prometheus metrics at /metrics on the given address.
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

// Local mirrored counters for easy logging (avoid Prometheus scraping in-process)
var (
	localPacketsTx   uint64
	localBytesTx     uint64
	localRetransmits uint64
	localFaults      uint64
	localRxLines     uint64
	localMalformed   uint64
	localBlocks      uint64
	localReconnects  uint64
	localErrors      uint64
)

// Snapshot is a cheap copy of local counters.
type Snapshot struct {
	PacketsTx   uint64
	BytesTx     uint64
	Retransmits uint64
	Faults      uint64
	RxLines     uint64
	Malformed   uint64
	Blocks      uint64
	Reconnects  uint64
	Errors      uint64 // sum across error labels
}

func Snap() Snapshot {
	return Snapshot{
		PacketsTx:   atomic.LoadUint64(&localPacketsTx),
		BytesTx:     atomic.LoadUint64(&localBytesTx),
		Retransmits: atomic.LoadUint64(&localRetransmits),
		Faults:      atomic.LoadUint64(&localFaults),
		RxLines:     atomic.LoadUint64(&localRxLines),
		Malformed:   atomic.LoadUint64(&localMalformed),
		Blocks:      atomic.LoadUint64(&localBlocks),
		Reconnects:  atomic.LoadUint64(&localReconnects),
		Errors:      atomic.LoadUint64(&localErrors),
	}
}

// Wrapper helpers to keep call sites simple.
func IncPacketTx() {
	PacketsTx.Inc()
	atomic.AddUint64(&localPacketsTx, 1)
}

func AddBytesTx(n int) {
	BytesTx.Add(float64(n))
	atomic.AddUint64(&localBytesTx, uint64(n))
}

func IncRetransmit() {
	Retransmits.Inc()
	atomic.AddUint64(&localRetransmits, 1)
}

func IncFault() {
	InjectedFaults.Inc()
	atomic.AddUint64(&localFaults, 1)
}

func IncRxLine() {
	RxLines.Inc()
	atomic.AddUint64(&localRxLines, 1)
}

func IncMalformed() {
	MalformedLines.Inc()
	atomic.AddUint64(&localMalformed, 1)
}

func IncBlock() {
	BlocksWritten.Inc()
	atomic.AddUint64(&localBlocks, 1)
}

func IncReconnect() {
	Reconnects.Inc()
	atomic.AddUint64(&localReconnects, 1)
}

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

// InitBuildInfo sets the build info gauge (should be called once at startup).
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	// Pre-register error label series so the first error does not pay a
	// registration latency.
	for _, lbl := range []string{
		ErrSerialWrite, ErrSerialRead, ErrSync,
		ErrPeerFatal, ErrOverflow, ErrResponseDrop, ErrConnLost,
	} {
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
	if fn == nil { // if not set yet, treat as ready so metrics endpoint doesn't flap
		return true
	}
	return fn()
}
