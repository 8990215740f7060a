package tracing

import (
	"fmt"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const (
	// SamplerAlways keeps every trace.
	SamplerAlways = "always"

	// SamplerNever drops every trace.
	SamplerNever = "never"

	// SamplerRatio keeps a fraction of traces, decided by trace id.
	SamplerRatio = "ratio"
)

// createSampler builds the root sampler. It is wrapped in ParentBased so a
// caller that already sampled its trace (traceparent flag set) keeps the
// relay's span in it.
func createSampler(strategy string, ratio float64) (sdktrace.Sampler, error) {
	var base sdktrace.Sampler

	switch strategy {
	case SamplerAlways:
		base = sdktrace.AlwaysSample()
	case SamplerNever:
		base = sdktrace.NeverSample()
	case SamplerRatio:
		if ratio < 0 || ratio > 1 {
			return nil, fmt.Errorf("sample ratio must be between 0.0 and 1.0, got %f", ratio)
		}
		base = sdktrace.TraceIDRatioBased(ratio)
	default:
		return nil, fmt.Errorf("unknown sampler strategy: %s (valid: always, never, ratio)", strategy)
	}

	return sdktrace.ParentBased(base), nil
}
