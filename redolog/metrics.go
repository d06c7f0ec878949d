package redolog

import "github.com/prometheus/client_golang/prometheus"

// Metrics mirrors the shape of iris's storage/wal.WalMetrics: a small,
// explicit struct of counters/histograms/gauges registered once at Init
// and touched from the hot paths that matter for operating the engine.
type Metrics struct {
	appends          prometheus.Counter
	flushes          prometheus.Counter
	flushWaits       prometheus.Counter
	fsyncDuration    prometheus.Histogram
	checkpoints      prometheus.Counter
	checkpointWrites prometheus.Counter
	retryExhaustions prometheus.Counter
	capacityErrors   prometheus.Counter
	modifiedAge      prometheus.Gauge
	checkpointAge    prometheus.Gauge
	bufferFillRatio  prometheus.Gauge
}

// NewMetrics registers the engine's series under registerer. A nil
// registerer is accepted: the series are then registered with a fresh
// private registry that nothing scrapes, so unit tests don't need a live
// Prometheus registry.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.NewRegistry()
	}

	factory := prometheus.WrapRegistererWithPrefix("redolog_", registerer)

	m := &Metrics{
		appends: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "appends_total",
			Help: "Total number of log records appended to the buffer.",
		}),
		flushes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flushes_total",
			Help: "Total number of buffer drains submitted to disk.",
		}),
		flushWaits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flush_waits_total",
			Help: "Total number of WriteUpTo calls that parked on flush_event.",
		}),
		fsyncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fsync_duration_seconds",
			Help:    "Duration of log group fsync calls.",
			Buckets: prometheus.DefBuckets,
		}),
		checkpoints: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "checkpoints_total",
			Help: "Total number of completed checkpoints.",
		}),
		checkpointWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "checkpoint_writes_total",
			Help: "Total number of checkpoint record writes submitted.",
		}),
		retryExhaustions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "retry_exhaustions_total",
			Help: "Total number of bounded retry loops that gave up.",
		}),
		capacityErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "capacity_exceeded_total",
			Help: "Total number of log-group capacity violations.",
		}),
		modifiedAge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "modified_age_bytes",
			Help: "lsn - oldest_dirty_page_lsn.",
		}),
		checkpointAge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "checkpoint_age_bytes",
			Help: "lsn - last_checkpoint_lsn.",
		}),
		bufferFillRatio: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "buffer_fill_ratio",
			Help: "buf_free / buf_size.",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.appends, m.flushes, m.flushWaits, m.fsyncDuration, m.checkpoints,
		m.checkpointWrites, m.retryExhaustions, m.capacityErrors,
		m.modifiedAge, m.checkpointAge, m.bufferFillRatio,
	} {
		_ = factory.Register(c)
	}

	return m
}
