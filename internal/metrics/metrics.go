// Package metrics provides Prometheus instrumentation for the dendrodb
// storage engine. Unlike the teacher's global-registry metrics, every
// *Metrics here is registered against a private prometheus.Registry owned
// by the DB, since an embedded library may be opened more than once per
// process and must not collide on global metric names.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every Prometheus collector the engine populates.
type Metrics struct {
	Registry *prometheus.Registry

	PageReadsTotal     *prometheus.CounterVec // result=hit|miss|fault
	PageWritesTotal    prometheus.Counter
	PageAllocsTotal    prometheus.Counter
	PageFreesTotal     prometheus.Counter
	OverflowPagesTotal prometheus.Counter

	WalFsyncsTotal   prometheus.Counter
	WalBytesWritten  prometheus.Counter
	WalFrameDuration prometheus.Histogram

	BtreeSplitsTotal prometheus.Counter
	BtreeMergesTotal prometheus.Counter

	TxnCommitsTotal   *prometheus.CounterVec // mode=auto|read|write
	TxnAbortsTotal    prometheus.Counter
	TxnCommitDuration prometheus.Histogram
	ReadersActive     prometheus.Gauge

	CursorStepsTotal *prometheus.CounterVec // state=init|hasrow|done|error

	StartTime time.Time
}

// New creates a fresh metrics set registered against its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{Registry: reg, StartTime: time.Now()}

	m.PageReadsTotal = registerCounterVec(reg, "dendrodb_page_reads_total",
		"Total page reads by cache result", "result")
	m.PageWritesTotal = registerCounter(reg, "dendrodb_page_writes_total",
		"Total pages written by the pager")
	m.PageAllocsTotal = registerCounter(reg, "dendrodb_page_allocs_total",
		"Total page allocations")
	m.PageFreesTotal = registerCounter(reg, "dendrodb_page_frees_total",
		"Total pages returned to the freelist")
	m.OverflowPagesTotal = registerCounter(reg, "dendrodb_overflow_pages_total",
		"Total overflow pages written")

	m.WalFsyncsTotal = registerCounter(reg, "dendrodb_wal_fsyncs_total",
		"Total fsync calls issued against the journal")
	m.WalBytesWritten = registerCounter(reg, "dendrodb_wal_bytes_written_total",
		"Total bytes appended to the journal")
	m.WalFrameDuration = registerHistogram(reg, "dendrodb_wal_frame_write_seconds",
		"Duration of a single journal frame write", prometheus.DefBuckets)

	m.BtreeSplitsTotal = registerCounter(reg, "dendrodb_btree_splits_total",
		"Total B-tree node splits")
	m.BtreeMergesTotal = registerCounter(reg, "dendrodb_btree_merges_total",
		"Total B-tree node merges")

	m.TxnCommitsTotal = registerCounterVec(reg, "dendrodb_txn_commits_total",
		"Total committed transactions by mode", "mode")
	m.TxnAbortsTotal = registerCounter(reg, "dendrodb_txn_aborts_total",
		"Total aborted/rolled-back transactions")
	m.TxnCommitDuration = registerHistogram(reg, "dendrodb_txn_commit_seconds",
		"Duration of a transaction commit", []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1})
	m.ReadersActive = registerGauge(reg, "dendrodb_readers_active",
		"Number of read views currently open")

	m.CursorStepsTotal = registerCounterVec(reg, "dendrodb_cursor_steps_total",
		"Total cursor step() calls by resulting state", "state")

	return m
}

func registerCounter(reg *prometheus.Registry, name, help string) prometheus.Counter {
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help})
	reg.MustRegister(c)
	return c
}

func registerCounterVec(reg *prometheus.Registry, name, help string, labels ...string) *prometheus.CounterVec {
	c := prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, labels)
	reg.MustRegister(c)
	return c
}

func registerGauge(reg *prometheus.Registry, name, help string) prometheus.Gauge {
	g := prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help})
	reg.MustRegister(g)
	return g
}

func registerHistogram(reg *prometheus.Registry, name, help string, buckets []float64) prometheus.Histogram {
	h := prometheus.NewHistogram(prometheus.HistogramOpts{Name: name, Help: help, Buckets: buckets})
	reg.MustRegister(h)
	return h
}

// RecordCommit records a committed transaction.
func (m *Metrics) RecordCommit(mode string, duration time.Duration) {
	m.TxnCommitsTotal.WithLabelValues(mode).Inc()
	m.TxnCommitDuration.Observe(duration.Seconds())
}

// RecordCursorStep records a cursor step() outcome.
func (m *Metrics) RecordCursorStep(state string) {
	m.CursorStepsTotal.WithLabelValues(state).Inc()
}

// RecordPageRead records a page cache lookup outcome.
func (m *Metrics) RecordPageRead(result string) {
	m.PageReadsTotal.WithLabelValues(result).Inc()
}
