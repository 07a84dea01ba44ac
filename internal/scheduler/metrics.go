package scheduler

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors that report turn loop activity.
type Metrics struct {
	turns          *prometheus.CounterVec
	generation     *prometheus.HistogramVec
	failures       *prometheus.CounterVec
	sideEffects    *prometheus.CounterVec
	sessionsActive prometheus.Gauge
}

var (
	defaultMetricsOnce sync.Once
	sharedMetrics      *Metrics
)

// DefaultMetrics returns metrics registered with the global registry.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		sharedMetrics = MustNewMetrics(prometheus.DefaultRegisterer)
	})
	return sharedMetrics
}

// MustNewMetrics constructs Metrics on reg. Collectors that are already
// registered are reused; any other registration error panics.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	turns := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "backroom",
			Subsystem: "scheduler",
			Name:      "turns_total",
			Help:      "Turns persisted, by participant and kind.",
		},
		[]string{"participant", "kind"},
	)
	generation := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "backroom",
			Subsystem: "scheduler",
			Name:      "generation_duration_seconds",
			Help:      "Latency of provider generation calls.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 160},
		},
		[]string{"backend", "status"},
	)
	failures := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "backroom",
			Subsystem: "scheduler",
			Name:      "failures_total",
			Help:      "Failed generation steps, by category.",
		},
		[]string{"category"},
	)
	sideEffects := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "backroom",
			Subsystem: "scheduler",
			Name:      "side_effects_total",
			Help:      "Side-effect dispatches, by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)
	sessionsActive := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "backroom",
			Subsystem: "scheduler",
			Name:      "sessions_active",
			Help:      "Sessions whose turn loop is running.",
		},
	)

	collectors := []prometheus.Collector{turns, generation, failures, sideEffects, sessionsActive}
	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
				switch target := collector.(type) {
				case *prometheus.HistogramVec:
					generation = already.ExistingCollector.(*prometheus.HistogramVec)
				case *prometheus.CounterVec:
					switch target { //nolint:exhaustive
					case turns:
						turns = already.ExistingCollector.(*prometheus.CounterVec)
					case failures:
						failures = already.ExistingCollector.(*prometheus.CounterVec)
					case sideEffects:
						sideEffects = already.ExistingCollector.(*prometheus.CounterVec)
					}
				case prometheus.Gauge:
					sessionsActive = already.ExistingCollector.(prometheus.Gauge)
				}
				continue
			}
			panic(err)
		}
	}

	return &Metrics{
		turns:          turns,
		generation:     generation,
		failures:       failures,
		sideEffects:    sideEffects,
		sessionsActive: sessionsActive,
	}
}

// IncTurn counts a persisted turn.
func (m *Metrics) IncTurn(participant, kind string) {
	if m == nil || m.turns == nil {
		return
	}
	m.turns.WithLabelValues(participant, kind).Inc()
}

// ObserveGeneration records the latency of one provider call.
func (m *Metrics) ObserveGeneration(backend, status string, d time.Duration) {
	if m == nil || m.generation == nil {
		return
	}
	m.generation.WithLabelValues(backend, status).Observe(d.Seconds())
}

// IncFailure counts a failed step.
func (m *Metrics) IncFailure(category string) {
	if m == nil || m.failures == nil {
		return
	}
	m.failures.WithLabelValues(category).Inc()
}

// IncSideEffect counts a side-effect dispatch.
func (m *Metrics) IncSideEffect(kind, outcome string) {
	if m == nil || m.sideEffects == nil {
		return
	}
	m.sideEffects.WithLabelValues(kind, outcome).Inc()
}

// SessionStarted marks a turn loop as running.
func (m *Metrics) SessionStarted() {
	if m == nil || m.sessionsActive == nil {
		return
	}
	m.sessionsActive.Inc()
}

// SessionEnded marks a turn loop as finished.
func (m *Metrics) SessionEnded() {
	if m == nil || m.sessionsActive == nil {
		return
	}
	m.sessionsActive.Dec()
}
