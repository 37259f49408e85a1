package controller

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the controller's Prometheus collectors. A nil *Metrics
// disables instrumentation (all methods are nil-safe), so library users
// pay nothing unless they attach a collector.
type Metrics struct {
	Ticks             prometheus.Counter
	SignalsMarshalled *prometheus.CounterVec
	BusTimeouts       prometheus.Counter
	StepErrors        prometheus.Counter
}

// NewMetrics registers the controller collectors against reg (defaulting
// to the global Prometheus registry when nil).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		Ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cosim_ticks_total",
			Help: "Completed step-coordination ticks.",
		}),
		SignalsMarshalled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cosim_signals_marshalled_total",
			Help: "Signals copied between function channels and the signal table, by direction.",
		}, []string{"direction"}),
		BusTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cosim_bus_timeouts_total",
			Help: "Bus exchanges that timed out waiting for the next step grant.",
		}),
		StepErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cosim_step_errors_total",
			Help: "Step handler invocations that returned an error.",
		}),
	}
	reg.MustRegister(m.Ticks, m.SignalsMarshalled, m.BusTimeouts, m.StepErrors)
	return m
}

func (m *Metrics) IncTicks() {
	if m == nil {
		return
	}
	m.Ticks.Inc()
}

func (m *Metrics) AddSignalsMarshalled(direction string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.SignalsMarshalled.WithLabelValues(direction).Add(float64(n))
}

func (m *Metrics) IncBusTimeouts() {
	if m == nil {
		return
	}
	m.BusTimeouts.Inc()
}

func (m *Metrics) IncStepErrors() {
	if m == nil {
		return
	}
	m.StepErrors.Inc()
}
