package orchestrator

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors that report activation activity.
type Metrics struct {
	activations   *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	stageFailures *prometheus.CounterVec
	stale         prometheus.Counter
	inFlight      prometheus.Gauge
}

var (
	defaultMetricsOnce sync.Once
	sharedMetrics      *Metrics
)

// DefaultMetrics returns the metrics registered with the global registry.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		sharedMetrics = MustNewMetrics(prometheus.DefaultRegisterer)
	})
	return sharedMetrics
}

// MustNewMetrics registers the collectors with reg and panics on a
// registration error. Tests should pass a fresh registry.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		activations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gatecheck",
				Name:      "activations_total",
				Help:      "Finished activations by outcome.",
			},
			[]string{"outcome"},
		),
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "gatecheck",
				Name:      "call_duration_seconds",
				Help:      "Duration of backend calls.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"call", "result"},
		),
		stageFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gatecheck",
				Name:      "call_failures_total",
				Help:      "Failed backend calls by failure code.",
			},
			[]string{"call", "code"},
		),
		stale: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "gatecheck",
				Name:      "stale_activations_total",
				Help:      "Activations whose results were discarded because a newer one started.",
			},
		),
		inFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "gatecheck",
				Name:      "activations_in_flight",
				Help:      "Activations currently running.",
			},
		),
	}
	reg.MustRegister(m.activations, m.stageDuration, m.stageFailures, m.stale, m.inFlight)
	return m
}

func (m *Metrics) observeCall(call, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(call, result).Observe(d.Seconds())
}

func (m *Metrics) incFailure(call, code string) {
	if m == nil {
		return
	}
	m.stageFailures.WithLabelValues(call, code).Inc()
}

func (m *Metrics) incActivation(outcome Outcome) {
	if m == nil {
		return
	}
	m.activations.WithLabelValues(string(outcome)).Inc()
}

func (m *Metrics) incStale() {
	if m == nil {
		return
	}
	m.stale.Inc()
}

func (m *Metrics) trackInFlight() func() {
	if m == nil {
		return func() {}
	}
	m.inFlight.Inc()
	return m.inFlight.Dec
}
