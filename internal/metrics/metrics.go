// ABOUTME: Prometheus metrics for dispatch outcomes and connection state.
// ABOUTME: Registered via promauto on the default registry.

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	dispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "unity_hub_dispatch_total",
		Help: "Total command dispatches by outcome",
	}, []string{"outcome"})

	dispatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "unity_hub_dispatch_duration_seconds",
		Help:    "Command dispatch latency from send to correlated result",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	})

	liveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "unity_hub_live_sessions",
		Help: "Number of currently connected Unity instances",
	})

	telemetryDropsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "unity_hub_telemetry_drops_total",
		Help: "Telemetry events dropped because the queue was full (backpressure)",
	})
)

// ObserveDispatch records one completed dispatch.
func ObserveDispatch(outcome string, elapsed time.Duration) {
	if outcome == "" {
		outcome = "unknown"
	}
	dispatchTotal.WithLabelValues(outcome).Inc()
	dispatchDuration.Observe(elapsed.Seconds())
}

// SetLiveSessions updates the connected-instance gauge.
func SetLiveSessions(n int) {
	liveSessions.Set(float64(n))
}

// IncTelemetryDrop records a dropped telemetry event.
func IncTelemetryDrop() {
	telemetryDropsTotal.Inc()
}
