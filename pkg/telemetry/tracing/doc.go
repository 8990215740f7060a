// Package tracing exports one OpenTelemetry span per proxied request.
//
// Tracing is off by default. When enabled, spans go to an OTLP gRPC
// collector and incoming W3C traceparent headers are honored, so a tool that
// traces its own calls sees the relay hop as a child span:
//
//	telemetry:
//	  tracing:
//	    enabled: true
//	    endpoint: localhost:4317
//	    sampler: ratio
//	    sample_ratio: 0.25
//
// Middleware opens the server span; the proxy handler annotates it through
// Annotate with the tool, session, route source and outcome. API keys and
// request bodies are never recorded.
package tracing
