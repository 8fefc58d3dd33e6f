package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ProviderMetrics tracks outbound calls to Meta, Google and Slack.
type ProviderMetrics struct {
	CallsTotal     *prometheus.CounterVec
	CallDuration   *prometheus.HistogramVec
	TokenRefreshes *prometheus.CounterVec
	BreakerState   *prometheus.GaugeVec
}

func NewProviderMetrics(reg prometheus.Registerer) *ProviderMetrics {
	m := &ProviderMetrics{
		CallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "calls_total",
			Help:      "Total provider API calls, by provider, operation and outcome.",
		}, []string{"provider", "operation", "outcome"}),
		CallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "call_duration_seconds",
			Help:      "Duration of provider API calls in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider", "operation"}),
		TokenRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tokens",
			Name:      "refreshes_total",
			Help:      "Token refresh attempts, by provider and outcome.",
		}, []string{"provider", "outcome"}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open), by component.",
		}, []string{"component"}),
	}

	reg.MustRegister(m.CallsTotal, m.CallDuration, m.TokenRefreshes, m.BreakerState)
	return m
}

// ObserveCall records one provider call. A nil receiver is a no-op so adapters
// can be used without metrics in tests.
func (m *ProviderMetrics) ObserveCall(provider, operation string, start time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.CallsTotal.WithLabelValues(provider, operation, outcome).Inc()
	m.CallDuration.WithLabelValues(provider, operation).Observe(time.Since(start).Seconds())
}

func (m *ProviderMetrics) ObserveRefresh(provider string, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.TokenRefreshes.WithLabelValues(provider, outcome).Inc()
}

func (m *ProviderMetrics) SetBreakerState(component string, state float64) {
	if m == nil {
		return
	}
	m.BreakerState.WithLabelValues(component).Set(state)
}
