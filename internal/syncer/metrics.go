package syncer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records orchestrator activity. A nil *Metrics records nothing.
type Metrics struct {
	queueDepth    prometheus.Gauge
	outcomes      *prometheus.CounterVec
	cycleDuration prometheus.Histogram
}

// NewMetrics registers the sync metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "splitledger_sync_queue_depth",
			Help: "Mutations waiting to reach the remote ledger.",
		}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "splitledger_sync_mutations_total",
			Help: "Mutation submissions by outcome.",
		}, []string{"outcome"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "splitledger_sync_cycle_duration_seconds",
			Help:    "Duration of sync cycles.",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
	}
	reg.MustRegister(m.queueDepth, m.outcomes, m.cycleDuration)
	return m
}

func (m *Metrics) setDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

func (m *Metrics) outcome(o Outcome) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(string(o)).Inc()
}

func (m *Metrics) cycle(d time.Duration) {
	if m == nil {
		return
	}
	m.cycleDuration.Observe(d.Seconds())
}
