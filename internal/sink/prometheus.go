package sink

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tinytelemetry/anystat/internal/model"
)

// Metrics exports record values and sink health on a private registry.
type Metrics struct {
	registry *prometheus.Registry
	value    *prometheus.GaugeVec
	samples  *prometheus.CounterVec
	alerts   *prometheus.CounterVec
	dropped  *prometheus.CounterVec
}

// NewMetrics registers the anystat collectors plus the Go runtime ones.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		value: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "anystat",
			Name:      "record_value",
			Help:      "Last reported value of each record.",
		}, []string{"record"}),
		samples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "anystat",
			Name:      "samples_total",
			Help:      "Samples reported per record.",
		}, []string{"record"}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "anystat",
			Name:      "alerts_total",
			Help:      "Alerts fired per record and severity.",
		}, []string{"record", "severity"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "anystat",
			Name:      "sink_dropped_total",
			Help:      "Events dropped because a sink queue was full.",
		}, []string{"sink"}),
	}
	m.registry.MustRegister(
		m.value, m.samples, m.alerts, m.dropped,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Name() string { return "prometheus" }

func (m *Metrics) Handle(ev model.Event) {
	switch ev.Kind {
	case model.EventSample:
		m.value.WithLabelValues(ev.Sample.Path).Set(ev.Sample.Value)
		m.samples.WithLabelValues(ev.Sample.Path).Inc()
	case model.EventAlert:
		m.alerts.WithLabelValues(ev.Alert.Path, ev.Alert.Severity.String()).Inc()
	}
}

func (m *Metrics) Close() error { return nil }

// DropCounter returns an AsyncConfig.OnDrop hook counting drops for sink.
func (m *Metrics) DropCounter(sink string) func() {
	c := m.dropped.WithLabelValues(sink)
	return c.Inc
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
