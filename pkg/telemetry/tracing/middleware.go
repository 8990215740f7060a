package tracing

import (
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Middleware opens a server span around every request of a tool listener.
// With a nil or disabled tracer it returns next unchanged.
func Middleware(t *Tracer, toolID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if t == nil || !t.Enabled() {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := t.propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := t.Start(ctx, "proxy "+r.Method,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					attribute.String(AttrToolID, toolID),
					attribute.String(attrHTTPMethod, r.Method),
					attribute.String(attrURLPath, r.URL.Path),
				),
			)
			defer span.End()

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
