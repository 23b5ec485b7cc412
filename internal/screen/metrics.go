package screen

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/beamline-core/internal/infrastructure/metrics"
)

// Metrics counts screen activity. A nil *Metrics records nothing.
type Metrics struct {
	open           prometheus.Gauge
	movesTotal     *prometheus.CounterVec
	errorsTotal    *prometheus.CounterVec
	upstreamChecks *prometheus.CounterVec
}

// NewMetrics creates screen collectors and registers them with reg.
func NewMetrics(reg *metrics.Registry) (*Metrics, error) {
	m := &Metrics{
		open: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metrics.Namespace,
			Subsystem: "screen",
			Name:      "open",
			Help:      "Screens currently open.",
		}),
		movesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "screen",
			Name:      "target_writes_total",
			Help:      "target_control writes, by direction and result.",
		}, []string{"direction", "result"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "screen",
			Name:      "errors_total",
			Help:      "Errors delivered to handlers, by kind.",
		}, []string{"kind"}),
		upstreamChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "screen",
			Name:      "upstream_checks_total",
			Help:      "Completed upstream checks, by verdict.",
		}, []string{"verdict"}),
	}

	for name, c := range map[string]prometheus.Collector{
		"screen.open":            m.open,
		"screen.target_writes":   m.movesTotal,
		"screen.errors":          m.errorsTotal,
		"screen.upstream_checks": m.upstreamChecks,
	} {
		if err := reg.Register(name, c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) opened() {
	if m != nil {
		m.open.Inc()
	}
}

func (m *Metrics) closed() {
	if m != nil {
		m.open.Dec()
	}
}

func (m *Metrics) targetWritten(wantIn bool, err error) {
	if m == nil {
		return
	}
	direction, result := "out", "ok"
	if wantIn {
		direction = "in"
	}
	if err != nil {
		result = "failed"
	}
	m.movesTotal.WithLabelValues(direction, result).Inc()
}

func (m *Metrics) errorReported(kind ErrorKind) {
	if m != nil {
		m.errorsTotal.WithLabelValues(string(kind)).Inc()
	}
}

func (m *Metrics) upstreamChecked(clear bool) {
	if m == nil {
		return
	}
	verdict := "blocked"
	if clear {
		verdict = "clear"
	}
	m.upstreamChecks.WithLabelValues(verdict).Inc()
}
