package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "semlive"

// Metrics contains the core live metrics
type Metrics struct {
	// Connection metrics
	ConnectionState prometheus.Gauge
	Reconnects      prometheus.Counter

	// Channel metrics
	ChannelsActive      prometheus.Gauge
	ChannelTransitions  *prometheus.CounterVec
	ChannelInitFailures *prometheus.CounterVec
	MessagesReceived    *prometheus.CounterVec
	PushMessages        prometheus.Counter

	// Request metrics
	PresenceRequests *prometheus.CounterVec
	PresenceDuration prometheus.Histogram
	Publishes        *prometheus.CounterVec

	// Frame delivery metrics
	FramesEmitted   prometheus.Counter
	FramesCoalesced prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all core metrics
func NewMetrics() *Metrics {
	return &Metrics{
		ConnectionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "connected",
			Help:      "Transport connection state (0=disconnected, 1=connected)",
		}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "reconnects_total",
			Help:      "Total number of transport reconnections",
		}),
		ChannelsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "channels",
			Name:      "active",
			Help:      "Number of channels held by the registry",
		}),
		ChannelTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "channels",
			Name:      "transitions_total",
			Help:      "Channel status transitions by target status",
		}, []string{"status"}),
		ChannelInitFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "channels",
			Name:      "init_failures_total",
			Help:      "Channel initialization failures by error kind",
		}, []string{"kind"}),
		MessagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messages",
			Name:      "received_total",
			Help:      "Messages delivered to channels by scope",
		}, []string{"scope"}),
		PushMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messages",
			Name:      "push_total",
			Help:      "Server-pushed messages not bound to a subscription",
		}),
		PresenceRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "presence",
			Name:      "requests_total",
			Help:      "Presence requests by result",
		}, []string{"result"}),
		PresenceDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "presence",
			Name:      "duration_seconds",
			Help:      "Presence request round-trip time",
			Buckets:   prometheus.DefBuckets,
		}),
		Publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messages",
			Name:      "published_total",
			Help:      "Client publishes by result",
		}, []string{"result"}),
		FramesEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "frames",
			Name:      "emitted_total",
			Help:      "Frame snapshots delivered to consumers",
		}),
		FramesCoalesced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "frames",
			Name:      "coalesced_total",
			Help:      "Frame pushes folded into a later snapshot by the throttle",
		}),
	}
}

func (c *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.ConnectionState,
		c.Reconnects,
		c.ChannelsActive,
		c.ChannelTransitions,
		c.ChannelInitFailures,
		c.MessagesReceived,
		c.PushMessages,
		c.PresenceRequests,
		c.PresenceDuration,
		c.Publishes,
		c.FramesEmitted,
		c.FramesCoalesced,
	}
}

// The Record methods are nil-safe so components can run without metrics.

// RecordConnectionState updates the transport connection gauge
func (c *Metrics) RecordConnectionState(connected bool) {
	if c == nil {
		return
	}
	value := 0.0
	if connected {
		value = 1.0
	}
	c.ConnectionState.Set(value)
}

// RecordReconnect increments the reconnection counter
func (c *Metrics) RecordReconnect() {
	if c == nil {
		return
	}
	c.Reconnects.Inc()
}

// RecordActiveChannels sets the number of channels held by the registry
func (c *Metrics) RecordActiveChannels(n int) {
	if c == nil {
		return
	}
	c.ChannelsActive.Set(float64(n))
}

// RecordTransition counts a channel status transition
func (c *Metrics) RecordTransition(status string) {
	if c == nil {
		return
	}
	c.ChannelTransitions.WithLabelValues(status).Inc()
}

// RecordInitFailure counts a channel initialization failure by kind
func (c *Metrics) RecordInitFailure(kind string) {
	if c == nil {
		return
	}
	c.ChannelInitFailures.WithLabelValues(kind).Inc()
}

// RecordMessage counts a message delivered to a channel
func (c *Metrics) RecordMessage(scope string) {
	if c == nil {
		return
	}
	c.MessagesReceived.WithLabelValues(scope).Inc()
}

// RecordPush counts a server-pushed message
func (c *Metrics) RecordPush() {
	if c == nil {
		return
	}
	c.PushMessages.Inc()
}

// RecordPresence records a presence request outcome and duration
func (c *Metrics) RecordPresence(result string, d time.Duration) {
	if c == nil {
		return
	}
	c.PresenceRequests.WithLabelValues(result).Inc()
	c.PresenceDuration.Observe(d.Seconds())
}

// RecordPublish records a client publish outcome
func (c *Metrics) RecordPublish(result string) {
	if c == nil {
		return
	}
	c.Publishes.WithLabelValues(result).Inc()
}

// RecordFrameEmitted counts a delivered frame snapshot
func (c *Metrics) RecordFrameEmitted() {
	if c == nil {
		return
	}
	c.FramesEmitted.Inc()
}

// RecordFrameCoalesced counts a push absorbed by the throttle
func (c *Metrics) RecordFrameCoalesced() {
	if c == nil {
		return
	}
	c.FramesCoalesced.Inc()
}
