// Package metrics provides Prometheus metrics for the relay.
//
// A Collector registers every metric on a private registry:
//
//   - relay_proxy_requests_total{tool,outcome}
//   - relay_proxy_request_duration_seconds{tool}
//   - relay_proxy_upstream_errors_total{tool,kind}
//   - relay_proxy_response_bytes_total{tool}
//   - relay_sessions_events_total{type}
//   - relay_sessions_activity_dropped_total
//   - relay_sessions_events_dropped_total
//   - relay_sessions_pruned_total{tool}
//
// The Collector also satisfies session.Observer, so the session manager
// reports into it directly.
//
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
//	mux.Handle(cfg.Telemetry.Metrics.Path, collector.Handler())
package metrics
