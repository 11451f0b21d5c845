package gateway

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/semlive/metric"
)

// Metrics holds Prometheus metrics for the gateway
type Metrics struct {
	clientsConnected prometheus.Gauge
	connectionTotal  prometheus.Counter
	requestsTotal    *prometheus.CounterVec
	repliesSent      *prometheus.CounterVec
	repliesDropped   prometheus.Counter
	errorsTotal      *prometheus.CounterVec
}

func newMetrics(registry *metric.MetricsRegistry) (*Metrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &Metrics{
		clientsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "semlive",
			Subsystem: "gateway",
			Name:      "clients_connected",
			Help:      "Currently connected websocket viewers",
		}),
		connectionTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "semlive",
			Subsystem: "gateway",
			Name:      "connections_total",
			Help:      "Websocket connections accepted",
		}),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "semlive",
			Subsystem: "gateway",
			Name:      "requests_total",
			Help:      "Viewer requests by type and result",
		}, []string{"type", "result"}),
		repliesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "semlive",
			Subsystem: "gateway",
			Name:      "replies_sent_total",
			Help:      "Replies written to viewers by type",
		}, []string{"type"}),
		repliesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "semlive",
			Subsystem: "gateway",
			Name:      "replies_dropped_total",
			Help:      "Replies dropped from full viewer queues",
		}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "semlive",
			Subsystem: "gateway",
			Name:      "errors_total",
			Help:      "Connection errors by stage",
		}, []string{"stage"}),
	}

	for _, register := range []func() error{
		func() error { return registry.RegisterGauge("gateway", "clients_connected", m.clientsConnected) },
		func() error { return registry.RegisterCounter("gateway", "connections_total", m.connectionTotal) },
		func() error { return registry.RegisterCounterVec("gateway", "requests_total", m.requestsTotal) },
		func() error { return registry.RegisterCounterVec("gateway", "replies_sent_total", m.repliesSent) },
		func() error { return registry.RegisterCounter("gateway", "replies_dropped_total", m.repliesDropped) },
		func() error { return registry.RegisterCounterVec("gateway", "errors_total", m.errorsTotal) },
	} {
		if err := register(); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) connected(clients int) {
	if m == nil {
		return
	}
	m.connectionTotal.Inc()
	m.clientsConnected.Set(float64(clients))
}

func (m *Metrics) disconnected(clients int) {
	if m == nil {
		return
	}
	m.clientsConnected.Set(float64(clients))
}

func (m *Metrics) request(kind string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.requestsTotal.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) sent(kind string) {
	if m == nil {
		return
	}
	m.repliesSent.WithLabelValues(kind).Inc()
}

func (m *Metrics) dropped() {
	if m == nil {
		return
	}
	m.repliesDropped.Inc()
}

func (m *Metrics) error(stage string) {
	if m == nil {
		return
	}
	m.errorsTotal.WithLabelValues(stage).Inc()
}
