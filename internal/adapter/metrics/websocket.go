package metrics

import "github.com/prometheus/client_golang/prometheus"

// WebSocketMetrics tracks the live inbox channel.
type WebSocketMetrics struct {
	ActiveConnections prometheus.Gauge
	Publications      *prometheus.CounterVec
}

func NewWebSocketMetrics(reg prometheus.Registerer) *WebSocketMetrics {
	m := &WebSocketMetrics{
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "active_connections",
			Help:      "Number of connected live-update clients.",
		}),
		Publications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "publications_total",
			Help:      "Inbox updates published, by outcome.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(m.ActiveConnections, m.Publications)
	return m
}
