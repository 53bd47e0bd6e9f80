package engine

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's Prometheus collectors.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	BatchesIngested      prometheus.Counter
	TransactionsIngested prometheus.Counter
	Rejected             *prometheus.CounterVec
	ReplayFailures       prometheus.Counter
	Recovered            prometheus.Counter
	Horizon              prometheus.Gauge
	Materialized         prometheus.Gauge
	IngestDuration       prometheus.Histogram
}

// NewMetrics creates the engine collectors and registers them with reg.
// Pass nil to create unregistered collectors (tests).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		BatchesIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "syncd",
			Name:      "batches_ingested_total",
			Help:      "Batches appended to the transaction log.",
		}),
		TransactionsIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "syncd",
			Name:      "transactions_ingested_total",
			Help:      "Transactions appended to the transaction log.",
		}),
		Rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "syncd",
			Name:      "batches_rejected_total",
			Help:      "Batches rejected before or during append, by reason.",
		}, []string{"reason"}),
		ReplayFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "syncd",
			Name:      "replay_failures_total",
			Help:      "Logged batches that could not be applied to the payload store.",
		}),
		Recovered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "syncd",
			Name:      "recovered_entries_total",
			Help:      "Log entries applied to the payload store by recovery.",
		}),
		Horizon: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "syncd",
			Name:      "log_horizon",
			Help:      "Highest position in the transaction log.",
		}),
		Materialized: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "syncd",
			Name:      "store_materialized_position",
			Help:      "Highest log position applied to the payload store.",
		}),
		IngestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "syncd",
			Name:      "ingest_duration_seconds",
			Help:      "Time spent inside the critical section per ingest.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.BatchesIngested,
			m.TransactionsIngested,
			m.Rejected,
			m.ReplayFailures,
			m.Recovered,
			m.Horizon,
			m.Materialized,
			m.IngestDuration,
		)
	}
	return m
}

func (m *Metrics) ingested(position int64, txs int, seconds float64) {
	if m == nil {
		return
	}
	m.BatchesIngested.Inc()
	m.TransactionsIngested.Add(float64(txs))
	m.Horizon.Set(float64(position))
	m.IngestDuration.Observe(seconds)
}

func (m *Metrics) rejected(reason string) {
	if m == nil {
		return
	}
	m.Rejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) replayFailed() {
	if m == nil {
		return
	}
	m.ReplayFailures.Inc()
}

func (m *Metrics) applied(position int64, recovered int) {
	if m == nil {
		return
	}
	m.Materialized.Set(float64(position))
	if recovered > 0 {
		m.Recovered.Add(float64(recovered))
	}
}

func (m *Metrics) status(horizon, materialized int64) {
	if m == nil {
		return
	}
	m.Horizon.Set(float64(horizon))
	m.Materialized.Set(float64(materialized))
}
