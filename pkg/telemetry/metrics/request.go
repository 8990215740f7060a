package metrics

import (
	"time"

	"duckcoding-hq/relay/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// RequestMetrics tracks proxied traffic.
//
// Metrics:
//   - relay_proxy_requests_total: requests by tool and outcome
//   - relay_proxy_request_duration_seconds: time until the response body ends
//   - relay_proxy_upstream_errors_total: failed upstream exchanges by kind
//   - relay_proxy_response_bytes_total: response bytes relayed to clients
type RequestMetrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	upstreamErrors  *prometheus.CounterVec
	responseBytes   *prometheus.CounterVec
}

// NewRequestMetrics creates and registers request metrics with the provided registry.
func NewRequestMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *RequestMetrics {
	rm := &RequestMetrics{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "proxy",
				Name:      "requests_total",
				Help:      "Total number of proxied requests",
			},
			[]string{"tool", "outcome"},
		),

		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: "proxy",
				Name:      "request_duration_seconds",
				Help:      "Duration of proxied requests in seconds, including streamed bodies",
				Buckets:   cfg.RequestDurationBuckets,
			},
			[]string{"tool"},
		),

		upstreamErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "proxy",
				Name:      "upstream_errors_total",
				Help:      "Total number of failed upstream exchanges",
			},
			[]string{"tool", "kind"},
		),

		responseBytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "proxy",
				Name:      "response_bytes_total",
				Help:      "Total response bytes relayed to clients",
			},
			[]string{"tool"},
		),
	}

	registry.MustRegister(
		rm.requestsTotal,
		rm.requestDuration,
		rm.upstreamErrors,
		rm.responseBytes,
	)

	return rm
}

// RecordRequest records one completed request.
func (rm *RequestMetrics) RecordRequest(tool, outcome string, duration time.Duration) {
	rm.requestsTotal.WithLabelValues(tool, outcome).Inc()
	rm.requestDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// RecordUpstreamError records one failed upstream exchange.
func (rm *RequestMetrics) RecordUpstreamError(tool, kind string) {
	rm.upstreamErrors.WithLabelValues(tool, kind).Inc()
}

// RecordResponseBytes adds relayed response bytes.
func (rm *RequestMetrics) RecordResponseBytes(tool string, n int64) {
	rm.responseBytes.WithLabelValues(tool).Add(float64(n))
}
