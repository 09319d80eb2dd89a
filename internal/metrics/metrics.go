// Package metrics exposes dashwatch health and performance counters to Prometheus.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "dashwatch"

var cycleBuckets = []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40}

// Metrics tracks pipeline, capture and alert statistics. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	cycles        *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	regions       *prometheus.CounterVec
	observations  *prometheus.CounterVec
	ocrErrors     prometheus.Counter
	alerts        *prometheus.CounterVec
	reconnects    prometheus.Counter
	circuitState  prometheus.Gauge
	lastCycle     prometheus.Gauge
}

// New creates the collectors and registers them with reg. Collectors already
// registered by an earlier call are reused.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "cycles_total",
			Help:      "Monitoring cycles by outcome",
		}, []string{"outcome"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "cycle_duration_seconds",
			Help:      "Latency of a full capture-to-emit cycle",
			Buckets:   cycleBuckets,
		}),
		regions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "vision",
			Name:      "regions_total",
			Help:      "Regions extracted per color class",
		}, []string{"class"}),
		observations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "observations_total",
			Help:      "Service observations by status and registry match",
		}, []string{"status", "registered"}),
		ocrErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ocr",
			Name:      "errors_total",
			Help:      "Regions skipped because OCR failed",
		}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alert",
			Name:      "notifications_total",
			Help:      "Down notifications by channel and outcome",
		}, []string{"channel", "outcome"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "capture",
			Name:      "reconnect_attempts_total",
			Help:      "Camera reconnection attempts",
		}),
		circuitState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "capture",
			Name:      "circuit_state",
			Help:      "Capture circuit breaker state (0 closed, 1 open, 2 half-open)",
		}),
		lastCycle: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "last_cycle_timestamp_seconds",
			Help:      "Unix time of the last completed cycle",
		}),
	}

	m.cycles = register(reg, m.cycles)
	m.cycleDuration = register(reg, m.cycleDuration)
	m.regions = register(reg, m.regions)
	m.observations = register(reg, m.observations)
	m.ocrErrors = register(reg, m.ocrErrors)
	m.alerts = register(reg, m.alerts)
	m.reconnects = register(reg, m.reconnects)
	m.circuitState = register(reg, m.circuitState)
	m.lastCycle = register(reg, m.lastCycle)
	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if reg == nil {
		return c
	}
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return c
}

// CycleCompleted records a finished cycle.
func (m *Metrics) CycleCompleted(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(outcome).Inc()
	m.cycleDuration.Observe(d.Seconds())
	if outcome == "ok" {
		m.lastCycle.SetToCurrentTime()
	}
}

// RegionsFound adds n regions of the given color class.
func (m *Metrics) RegionsFound(class string, n int) {
	if m == nil {
		return
	}
	m.regions.WithLabelValues(class).Add(float64(n))
}

// Observed counts one emitted observation.
func (m *Metrics) Observed(status string, registered bool) {
	if m == nil {
		return
	}
	label := "false"
	if registered {
		label = "true"
	}
	m.observations.WithLabelValues(status, label).Inc()
}

// OCRError counts a skipped region.
func (m *Metrics) OCRError() {
	if m == nil {
		return
	}
	m.ocrErrors.Inc()
}

// AlertAttempt records the outcome of a down notification.
func (m *Metrics) AlertAttempt(channel string, attempted bool) {
	if m == nil {
		return
	}
	outcome := "skipped"
	if attempted {
		outcome = "attempted"
	}
	m.alerts.WithLabelValues(channel, outcome).Inc()
}

// ReconnectAttempt counts a camera reconnection attempt.
func (m *Metrics) ReconnectAttempt() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

// SetCircuitState publishes the capture breaker state.
func (m *Metrics) SetCircuitState(state int) {
	if m == nil {
		return
	}
	m.circuitState.Set(float64(state))
}
