package system

import (
	"time"

	"github.com/moolen/ordo/internal/component"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for the orchestrator. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	HookDuration *prometheus.HistogramVec // seconds per component and phase
	HookFailures *prometheus.CounterVec   // failed hooks per component and phase
	Running      prometheus.Gauge         // components currently in the store
	Transitions  *prometheus.CounterVec   // completed start/stop transitions
}

// NewMetrics creates the orchestrator metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	hookDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ordo_component_hook_duration_seconds",
		Help:    "Duration of component factory, start and stop hooks",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
	}, []string{"component", "phase"})

	hookFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ordo_component_hook_failures_total",
		Help: "Total number of failed component factory, start and stop hooks",
	}, []string{"component", "phase"})

	running := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ordo_components_running",
		Help: "Number of components currently started",
	})

	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ordo_system_transitions_total",
		Help: "Total number of system state transitions",
	}, []string{"state"})

	reg.MustRegister(hookDuration)
	reg.MustRegister(hookFailures)
	reg.MustRegister(running)
	reg.MustRegister(transitions)

	return &Metrics{
		HookDuration: hookDuration,
		HookFailures: hookFailures,
		Running:      running,
		Transitions:  transitions,
	}
}

func (m *Metrics) observeHook(id component.ID, phase Phase, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.HookDuration.WithLabelValues(string(id), string(phase)).Observe(elapsed.Seconds())
	if err != nil {
		m.HookFailures.WithLabelValues(string(id), string(phase)).Inc()
	}
}

func (m *Metrics) setRunning(n int) {
	if m == nil {
		return
	}
	m.Running.Set(float64(n))
}

func (m *Metrics) transition(to State) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(to.String()).Inc()
}
