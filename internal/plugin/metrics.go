package plugin

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the Prometheus collectors a manager updates.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	executions *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	loads      *prometheus.CounterVec
	live       prometheus.Gauge
	registered prometheus.Gauge
}

// NewMetrics registers the plugin collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		executions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aion",
			Subsystem: "plugin",
			Name:      "executions_total",
			Help:      "Plugin command invocations by outcome.",
		}, []string{"plugin", "command", "status"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "aion",
			Subsystem: "plugin",
			Name:      "execution_duration_seconds",
			Help:      "Plugin command latency.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
		}, []string{"plugin"}),
		loads: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aion",
			Subsystem: "plugin",
			Name:      "loads_total",
			Help:      "Plugin load attempts by result.",
		}, []string{"plugin", "result"}),
		live: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "aion",
			Subsystem: "plugin",
			Name:      "live",
			Help:      "Number of live plugins.",
		}),
		registered: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "aion",
			Subsystem: "plugin",
			Name:      "registered",
			Help:      "Number of registered plugin descriptors.",
		}),
	}
}

func (m *Metrics) observeExecution(e Execution) {
	if m == nil {
		return
	}
	m.executions.WithLabelValues(e.Plugin, e.Command, string(e.Status)).Inc()
	m.duration.WithLabelValues(e.Plugin).Observe(e.Duration.Seconds())
}

func (m *Metrics) observeLoad(plugin string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.loads.WithLabelValues(plugin, result).Inc()
}

func (m *Metrics) setLive(n int) {
	if m == nil {
		return
	}
	m.live.Set(float64(n))
}

func (m *Metrics) setRegistered(n int) {
	if m == nil {
		return
	}
	m.registered.Set(float64(n))
}
