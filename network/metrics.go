package network

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the bootstrap collectors. A nil *Metrics records nothing.
type Metrics struct {
	BlocksApplied  prometheus.Counter
	Failures       *prometheus.CounterVec
	TipChainLength prometheus.Gauge
	Duration       prometheus.Histogram
}

// NewMetrics creates the bootstrap collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		BlocksApplied: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "chainsync",
			Subsystem: "bootstrap",
			Name:      "blocks_applied_total",
			Help:      "Number of blocks applied from bootstrap peers.",
		}),
		Failures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chainsync",
			Subsystem: "bootstrap",
			Name:      "failures_total",
			Help:      "Number of failed bootstrap attempts by failure kind.",
		}, []string{"kind"}),
		TipChainLength: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "chainsync",
			Subsystem: "bootstrap",
			Name:      "tip_chain_length",
			Help:      "Chain length of the branch tip after the last bootstrap.",
		}),
		Duration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "chainsync",
			Subsystem: "bootstrap",
			Name:      "duration_seconds",
			Help:      "Duration of bootstrap attempts.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}),
	}
}

func (m *Metrics) blockApplied() {
	if m == nil {
		return
	}
	m.BlocksApplied.Inc()
}

func (m *Metrics) attemptFinished(start time.Time, chainLength uint32, err error) {
	if m == nil {
		return
	}
	m.Duration.Observe(time.Since(start).Seconds())

	if err != nil {
		kind := "unknown"
		if e, ok := AsError(err); ok {
			kind = e.Kind.String()
		}
		m.Failures.WithLabelValues(kind).Inc()
		return
	}
	m.TipChainLength.Set(float64(chainLength))
}
