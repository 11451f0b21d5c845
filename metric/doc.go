// Package metric provides Prometheus metrics for the live core.
//
// MetricsRegistry wraps a private prometheus.Registry. It registers the core
// metrics (connection state, channels, messages, presence, frames) on creation and
// lets components register their own collectors under a "component.metric" key so
// duplicate registrations surface as classified errors instead of panics.
//
//	registry := metric.NewMetricsRegistry()
//	registry.CoreMetrics().RecordConnectionState(true)
//	http.Handle("/metrics", registry.Handler())
package metric
