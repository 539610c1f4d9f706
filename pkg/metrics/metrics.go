// Package metrics provides Prometheus instrumentation for a MiniGU
// database: transaction throughput and conflicts, garbage collection,
// WAL bytes written, and checkpoint duration.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/minigu-db/minigu/pkg/checkpoint"
	"github.com/minigu-db/minigu/pkg/storage"
	"github.com/minigu-db/minigu/pkg/wal"
)

var (
	_ storage.ManagerMetrics = (*Metrics)(nil)
	_ wal.Metrics            = (*Metrics)(nil)
	_ checkpoint.Metrics     = (*Metrics)(nil)
)

// Metrics bundles every counter/gauge/histogram this module exposes,
// registered against its own registry rather than the global default
// so that multiple embedded Database instances in one process don't
// collide registering the same metric names twice.
type Metrics struct {
	registry *prometheus.Registry

	txnBegun        prometheus.Counter
	txnCommitted    prometheus.Counter
	txnAborted      prometheus.Counter
	conflictsTotal  *prometheus.CounterVec
	gcReclaimed     prometheus.Counter
	activeTxns      prometheus.Gauge
	walBytesWritten prometheus.Counter
	walFlushLatency prometheus.Histogram

	checkpointDuration prometheus.Histogram
	checkpointTotal    prometheus.Counter
	checkpointBytes    prometheus.Counter

	searchLatency prometheus.Histogram
}

// New constructs a Metrics instance and registers all of its
// collectors against a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		txnBegun: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "minigu_transactions_begun_total",
			Help: "Total number of transactions begun.",
		}),
		txnCommitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "minigu_transactions_committed_total",
			Help: "Total number of transactions committed.",
		}),
		txnAborted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "minigu_transactions_aborted_total",
			Help: "Total number of transactions aborted.",
		}),
		conflictsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "minigu_conflicts_total",
			Help: "Total number of transaction conflicts detected by kind.",
		}, []string{"kind"}),
		gcReclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "minigu_gc_undo_entries_reclaimed_total",
			Help: "Total number of undo-log entries reclaimed by garbage collection.",
		}),
		activeTxns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "minigu_active_transactions",
			Help: "Current number of active transactions.",
		}),
		walBytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "minigu_wal_bytes_written_total",
			Help: "Total bytes written to the write-ahead log.",
		}),
		walFlushLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "minigu_wal_flush_duration_seconds",
			Help:    "Latency of WAL flush (buffer write + fsync) calls.",
			Buckets: prometheus.DefBuckets,
		}),
		checkpointDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "minigu_checkpoint_duration_seconds",
			Help:    "Duration of a full checkpoint run.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}),
		checkpointTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "minigu_checkpoints_total",
			Help: "Total number of checkpoints completed.",
		}),
		checkpointBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "minigu_checkpoint_bytes_written_total",
			Help: "Total bytes written across all checkpoint files.",
		}),
		searchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "minigu_vector_search_duration_seconds",
			Help:    "Latency of vector index search calls.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		m.txnBegun, m.txnCommitted, m.txnAborted, m.conflictsTotal,
		m.gcReclaimed, m.activeTxns, m.walBytesWritten, m.walFlushLatency,
		m.checkpointDuration, m.checkpointTotal, m.checkpointBytes,
		m.searchLatency,
	)
	return m
}

// Handler exposes the metrics in Prometheus's text exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// The following methods implement storage.ManagerMetrics.

func (m *Metrics) TxnBegun()     { m.txnBegun.Inc(); m.activeTxns.Inc() }
func (m *Metrics) TxnCommitted() { m.txnCommitted.Inc(); m.activeTxns.Dec() }
func (m *Metrics) TxnAborted()   { m.txnAborted.Inc(); m.activeTxns.Dec() }

func (m *Metrics) ConflictDetected(kind string) { m.conflictsTotal.WithLabelValues(kind).Inc() }
func (m *Metrics) GCReclaimed(n int)            { m.gcReclaimed.Add(float64(n)) }

// WALBytesWritten records bytes appended to the write-ahead log.
func (m *Metrics) WALBytesWritten(n int) { m.walBytesWritten.Add(float64(n)) }

// ObserveWALFlush records the latency of one WAL flush call.
func (m *Metrics) ObserveWALFlush(d time.Duration) { m.walFlushLatency.Observe(d.Seconds()) }

// ObserveCheckpoint records a completed checkpoint's duration and
// file size.
func (m *Metrics) ObserveCheckpoint(d time.Duration, bytesWritten int) {
	m.checkpointDuration.Observe(d.Seconds())
	m.checkpointTotal.Inc()
	m.checkpointBytes.Add(float64(bytesWritten))
}

// ObserveSearch records the latency of one vector index search call.
func (m *Metrics) ObserveSearch(d time.Duration) { m.searchLatency.Observe(d.Seconds()) }

// Timer measures elapsed wall-clock time for histogram observations.
type Timer struct{ start time.Time }

// NewTimer starts a timer.
func NewTimer() Timer { return Timer{start: time.Now()} }

// Elapsed returns the time since the timer started.
func (t Timer) Elapsed() time.Duration { return time.Since(t.start) }
