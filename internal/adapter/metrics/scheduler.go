package metrics

import "github.com/prometheus/client_golang/prometheus"

// SchedulerMetrics tracks background runs triggered by cron or the cron endpoints.
type SchedulerMetrics struct {
	RunsTotal   *prometheus.CounterVec
	RunDuration *prometheus.HistogramVec
	IsLeader    prometheus.Gauge
}

func NewSchedulerMetrics(reg prometheus.Registerer) *SchedulerMetrics {
	m := &SchedulerMetrics{
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "runs_total",
			Help:      "Total number of background runs, by task and outcome.",
		}, []string{"task", "outcome"}),
		RunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "run_duration_seconds",
			Help:      "Duration of background runs in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"task"}),
		IsLeader: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "is_leader",
			Help:      "1 if this instance currently holds the scheduler lease.",
		}),
	}

	reg.MustRegister(m.RunsTotal, m.RunDuration, m.IsLeader)
	return m
}

// MessagingMetrics counts outbound sends and scheduled message outcomes.
type MessagingMetrics struct {
	ScheduledOutcomes *prometheus.CounterVec
	MessagesSent      *prometheus.CounterVec
	JobsProcessed     *prometheus.CounterVec
}

func NewMessagingMetrics(reg prometheus.Registerer) *MessagingMetrics {
	m := &MessagingMetrics{
		ScheduledOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduled",
			Name:      "messages_total",
			Help:      "Scheduled messages processed, by outcome.",
		}, []string{"outcome"}),
		MessagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Outbound messages sent, by provider and source.",
		}, []string{"provider", "source"}),
		JobsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "processed_total",
			Help:      "Background jobs processed, by type and outcome.",
		}, []string{"type", "outcome"}),
	}

	reg.MustRegister(m.ScheduledOutcomes, m.MessagesSent, m.JobsProcessed)
	return m
}
