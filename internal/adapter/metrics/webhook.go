package metrics

import "github.com/prometheus/client_golang/prometheus"

// WebhookMetrics tracks inbound Meta webhook deliveries.
type WebhookMetrics struct {
	EventsReceived     *prometheus.CounterVec
	SignatureFailures  prometheus.Counter
	ProcessingDuration prometheus.Histogram
}

func NewWebhookMetrics(reg prometheus.Registerer) *WebhookMetrics {
	m := &WebhookMetrics{
		EventsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "events_total",
			Help:      "Messaging events received, by kind (message, echo, read, other).",
		}, []string{"kind"}),
		SignatureFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "signature_failures_total",
			Help:      "Webhook deliveries rejected by signature verification.",
		}),
		ProcessingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "processing_duration_seconds",
			Help:      "Duration of webhook payload processing in seconds.",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
	}

	reg.MustRegister(m.EventsReceived, m.SignatureFailures, m.ProcessingDuration)
	return m
}
