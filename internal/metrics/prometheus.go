package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// promMetrics are the Prometheus series fed by the collector.
type promMetrics struct {
	attempts        *prometheus.CounterVec
	attemptDuration *prometheus.HistogramVec
	requests        *prometheus.CounterVec
	fallbacksUsed   prometheus.Histogram
	selections      *prometheus.CounterVec
	healthy         *prometheus.GaugeVec
	breakerState    *prometheus.GaugeVec
	dropped         prometheus.Counter
}

func newPromMetrics(reg prometheus.Registerer) *promMetrics {
	factory := promauto.With(reg)

	return &promMetrics{
		attempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "router_attempts_total",
				Help: "Provider attempts by outcome (success or failure kind)",
			},
			[]string{"provider", "outcome"},
		),
		attemptDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "router_attempt_duration_seconds",
				Help:    "Provider attempt duration in seconds",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"provider"},
		),
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "router_requests_total",
				Help: "Routed requests by result (served, degraded, failed)",
			},
			[]string{"result"},
		),
		fallbacksUsed: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "router_fallbacks_used",
				Help:    "Chain position of the provider that served the request",
				Buckets: []float64{0, 1, 2, 3, 5},
			},
		),
		selections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "router_primary_selections_total",
				Help: "Times a provider was picked as primary",
			},
			[]string{"provider"},
		),
		healthy: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "router_provider_healthy",
				Help: "1 when the last health sweep found the provider healthy",
			},
			[]string{"provider"},
		),
		breakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "router_circuit_breaker_state",
				Help: "Circuit breaker state (0 closed, 1 open, 2 half-open)",
			},
			[]string{"provider"},
		),
		dropped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "router_metric_events_dropped_total",
				Help: "Metric events dropped because the collector buffer was full",
			},
		),
	}
}

func breakerGaugeValue(state string) float64 {
	switch state {
	case "OPEN":
		return 1
	case "HALF-OPEN":
		return 2
	default:
		return 0
	}
}

func boolGaugeValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
