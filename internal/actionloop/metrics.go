package actionloop

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/beamline-core/internal/infrastructure/metrics"
)

// Metrics counts loop activity by loop kind. A nil *Metrics records nothing.
type Metrics struct {
	running      *prometheus.GaugeVec
	handledTotal *prometheus.CounterVec
	failureTotal *prometheus.CounterVec
}

// NewMetrics creates loop collectors and registers them with reg.
func NewMetrics(reg *metrics.Registry) (*Metrics, error) {
	m := &Metrics{
		running: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metrics.Namespace,
			Subsystem: "actionloop",
			Name:      "running",
			Help:      "Action loops currently running.",
		}, []string{"kind"}),
		handledTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "actionloop",
			Name:      "handled_total",
			Help:      "Handler invocations, by loop kind and handler (action or timeout).",
		}, []string{"kind", "handler"}),
		failureTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "actionloop",
			Name:      "failures_total",
			Help:      "Loops stopped by a handler error or panic.",
		}, []string{"kind"}),
	}

	for name, c := range map[string]prometheus.Collector{
		"actionloop.running":  m.running,
		"actionloop.handled":  m.handledTotal,
		"actionloop.failures": m.failureTotal,
	} {
		if err := reg.Register(name, c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) started(kind string) {
	if m != nil {
		m.running.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) stopped(kind string) {
	if m != nil {
		m.running.WithLabelValues(kind).Dec()
	}
}

func (m *Metrics) handled(kind, handler string) {
	if m != nil {
		m.handledTotal.WithLabelValues(kind, handler).Inc()
	}
}

func (m *Metrics) failed(kind string) {
	if m != nil {
		m.failureTotal.WithLabelValues(kind).Inc()
	}
}
