package tracing

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span attribute keys. Relay-specific keys live under "relay.".
const (
	AttrToolID        = "relay.tool_id"
	AttrSessionID     = "relay.session_id"
	AttrRouteSource   = "relay.route.source"
	AttrOutcome       = "relay.outcome"
	AttrUpstreamHost  = "relay.upstream.host"
	AttrErrorKind     = "relay.upstream.error_kind"
	AttrResponseBytes = "relay.response.bytes"

	attrHTTPMethod = "http.request.method"
	attrHTTPStatus = "http.response.status_code"
	attrURLPath    = "url.path"
)

// Exchange summarizes one proxied request.
type Exchange struct {
	ToolID        string
	SessionID     string
	RouteSource   string
	UpstreamHost  string
	Outcome       string
	ErrorKind     string
	StatusCode    int
	ResponseBytes int64
}

// Attributes returns the span attributes of the exchange, skipping empty
// fields.
func (e Exchange) Attributes() []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 8)
	add := func(key, value string) {
		if value != "" {
			attrs = append(attrs, attribute.String(key, value))
		}
	}
	add(AttrToolID, e.ToolID)
	add(AttrSessionID, e.SessionID)
	add(AttrRouteSource, e.RouteSource)
	add(AttrUpstreamHost, e.UpstreamHost)
	add(AttrOutcome, e.Outcome)
	add(AttrErrorKind, e.ErrorKind)
	if e.StatusCode > 0 {
		attrs = append(attrs, attribute.Int(attrHTTPStatus, e.StatusCode))
	}
	attrs = append(attrs, attribute.Int64(AttrResponseBytes, e.ResponseBytes))
	return attrs
}

// Annotate records the exchange on the span in ctx. Upstream failures and
// 5xx responses mark the span as failed; 4xx answers do not.
func Annotate(ctx context.Context, e Exchange) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}

	span.SetAttributes(e.Attributes()...)
	switch {
	case e.ErrorKind != "":
		span.SetStatus(codes.Error, e.ErrorKind)
	case e.StatusCode >= http.StatusInternalServerError:
		span.SetStatus(codes.Error, http.StatusText(e.StatusCode))
	}
}
