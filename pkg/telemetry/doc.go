// Package telemetry groups the relay's observability packages.
//
//   - logging: slog handlers with credential redaction and request context
//   - metrics: Prometheus collectors for proxied requests and sessions
//   - tracing: OpenTelemetry server spans for proxied requests
//   - health: component checks behind the management /health endpoint
package telemetry
