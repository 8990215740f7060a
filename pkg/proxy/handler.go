package proxy

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"time"

	"duckcoding-hq/relay/pkg/proxy/types"
	"duckcoding-hq/relay/pkg/route"
	"duckcoding-hq/relay/pkg/session"
	"duckcoding-hq/relay/pkg/telemetry/logging"
	"duckcoding-hq/relay/pkg/telemetry/tracing"
)

// Phase is the lifecycle stage of a proxied request.
type Phase string

const (
	PhaseAccepted    Phase = "accepted"
	PhaseIdentifying Phase = "identifying"
	PhaseRouted      Phase = "routed"
	PhaseForwarding  Phase = "forwarding"
	PhaseCompleted   Phase = "completed"
	PhaseFailed      Phase = "failed"
)

// Request outcomes reported to the metrics recorder.
const (
	OutcomeOK            = "ok"
	OutcomeUnauthorized  = "unauthorized"
	OutcomeClientError   = "client_error"
	OutcomeNoRoute       = "no_route"
	OutcomeStoreError    = "store_error"
	OutcomeUpstreamError = "upstream_error"
	OutcomeCanceled      = "canceled"
)

// SessionService identifies requests and resolves their routes.
// *session.Manager implements it.
type SessionService interface {
	Identify(toolID string, raw session.RawIdentity) (session.Handle, error)
	ResolveRoute(ctx context.Context, toolID, sessionID string) (route.Route, error)
	ResolveDefault(toolID string) (route.Route, error)
	RecordActivity(h session.Handle)
}

// Recorder receives per-request metrics. *metrics.Collector implements it.
type Recorder interface {
	RecordRequest(toolID, outcome string, duration time.Duration)
	RecordUpstreamError(toolID, kind string)
	RecordResponseBytes(toolID string, n int64)
}

type nopRecorder struct{}

func (nopRecorder) RecordRequest(string, string, time.Duration) {}
func (nopRecorder) RecordUpstreamError(string, string)          {}
func (nopRecorder) RecordResponseBytes(string, int64)           {}

// HandlerConfig configures the proxy of one tool.
type HandlerConfig struct {
	// ToolID is the tool this listener serves.
	ToolID string

	// LocalAPIKey, when set, must match the key presented by the client.
	LocalAPIKey string

	// AuthHeader receives the upstream key when the client sent none.
	AuthHeader string

	// SessionHeaders carry a client session token, checked in order.
	SessionHeaders []string

	// MaxBodyBytes caps the request body.
	MaxBodyBytes int64
}

// exchange is the per-request state shared with the reverse proxy hooks.
type exchange struct {
	phase    Phase
	outcome  string
	handle   *session.Handle
	route    route.Route
	locs     credLocation
	upErr    *UpstreamError
	recorded bool
}

type exchangeKey struct{}

func exchangeFrom(ctx context.Context) *exchange {
	ex, _ := ctx.Value(exchangeKey{}).(*exchange)
	return ex
}

// Handler forwards the requests of one tool to the upstream chosen for the
// request's session.
type Handler struct {
	cfg      HandlerConfig
	sessions SessionService
	metrics  Recorder
	logger   *slog.Logger
	proxy    *httputil.ReverseProxy
}

// NewHandler creates the proxy handler of a tool. transport performs the
// upstream round trips; metrics may be nil.
func NewHandler(cfg HandlerConfig, sessions SessionService, transport http.RoundTripper, metrics Recorder, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = nopRecorder{}
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 32 << 20
	}

	h := &Handler{
		cfg:      cfg,
		sessions: sessions,
		metrics:  metrics,
		logger:   logger.With("component", "proxy", "tool_id", cfg.ToolID),
	}

	// FlushInterval 0 flushes text/event-stream and unknown-length bodies
	// after every write.
	h.proxy = &httputil.ReverseProxy{
		Rewrite:        h.rewrite,
		Transport:      transport,
		ModifyResponse: h.modifyResponse,
		ErrorHandler:   h.handleUpstreamError,
		ErrorLog:       slog.NewLogLogger(h.logger.Handler(), slog.LevelWarn),
	}
	return h
}

// ToolID returns the tool served by the handler.
func (h *Handler) ToolID() string {
	return h.cfg.ToolID
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ex := &exchange{phase: PhaseAccepted, outcome: OutcomeOK}
	rw := newResponseWriter(w, func() { h.recordActivity(ex) })
	logger := logging.FromContext(r.Context(), h.logger)

	defer func() {
		h.recordActivity(ex)
		if ex.phase != PhaseFailed {
			ex.phase = PhaseCompleted
		}
		h.metrics.RecordRequest(h.cfg.ToolID, ex.outcome, time.Since(start))
		h.metrics.RecordResponseBytes(h.cfg.ToolID, rw.bytes)
		tracing.Annotate(r.Context(), h.traceExchange(ex, rw))
	}()

	locs, key := clientCredential(r)
	if h.cfg.LocalAPIKey != "" && !keyMatches(key, h.cfg.LocalAPIKey) {
		logger.Warn("rejected request with wrong local api key",
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)
		h.fail(rw, ex, OutcomeUnauthorized, types.NewAuthenticationError("invalid local API key"))
		return
	}
	ex.locs = locs

	body, err := readBody(r, h.cfg.MaxBodyBytes)
	if err != nil {
		logger.Warn("rejected request body", "path", r.URL.Path, "error", err)
		h.fail(rw, ex, OutcomeClientError, HandleError(err))
		return
	}

	ex.phase = PhaseIdentifying
	rt, err := h.route(r, body, ex, logger)
	if err != nil {
		outcome := OutcomeNoRoute
		if errors.Is(err, session.ErrStoreUnavailable) {
			outcome = OutcomeStoreError
		}
		logger.Error("no usable route",
			"session_id", sessionIDOf(ex),
			"error", err,
		)
		h.fail(rw, ex, outcome, HandleError(err))
		return
	}
	ex.route = rt
	ex.phase = PhaseRouted

	ctx := context.WithValue(r.Context(), exchangeKey{}, ex)
	if ex.handle != nil {
		ctx = logging.WithSession(ctx, ex.handle.SessionID)
	}

	ex.phase = PhaseForwarding
	h.proxy.ServeHTTP(rw, r.WithContext(ctx))
}

// route identifies the request's session and resolves its upstream.
// Unidentifiable requests use the tool's global route and stay unrecorded.
func (h *Handler) route(r *http.Request, body []byte, ex *exchange, logger *slog.Logger) (route.Route, error) {
	raw := session.RawIdentity{
		BodyUserID:  sniffUserID(body, r.Header.Get("Content-Type")),
		HeaderToken: headerToken(r.Header, h.cfg.SessionHeaders),
		ConnID:      ConnIDFromContext(r.Context()),
		RemoteAddr:  r.RemoteAddr,
	}

	handle, err := h.sessions.Identify(h.cfg.ToolID, raw)
	if err != nil {
		logger.Debug("request not attributable to a session", "error", err)
		return h.sessions.ResolveDefault(h.cfg.ToolID)
	}
	ex.handle = &handle
	return h.sessions.ResolveRoute(r.Context(), h.cfg.ToolID, handle.SessionID)
}

func (h *Handler) rewrite(pr *httputil.ProxyRequest) {
	ex := exchangeFrom(pr.In.Context())
	pr.SetURL(ex.route.URL)
	setCredential(pr.Out, ex.locs, h.cfg.AuthHeader, ex.route.APIKey)
}

func (h *Handler) modifyResponse(res *http.Response) error {
	rewriteResponse(res, exchangeFrom(res.Request.Context()))
	return nil
}

func (h *Handler) handleUpstreamError(w http.ResponseWriter, r *http.Request, err error) {
	ex := exchangeFrom(r.Context())
	upErr := NewUpstreamError(ex.route.URL.Host, err)
	ex.upErr = upErr
	ex.phase = PhaseFailed

	logger := logging.FromContext(r.Context(), h.logger)

	if upErr.Kind == KindClientClosed {
		ex.outcome = OutcomeCanceled
		logger.Debug("client closed request", "upstream", ex.route.URL.Host)
		return
	}

	ex.outcome = OutcomeUpstreamError
	h.metrics.RecordUpstreamError(h.cfg.ToolID, upErr.Kind)
	logger.Error("upstream request failed",
		"upstream", ex.route.URL.Host,
		"route_source", ex.route.Source,
		"kind", upErr.Kind,
		"error", err,
	)
	WriteErrorResponse(w, HandleError(upErr))
}

func (h *Handler) fail(w http.ResponseWriter, ex *exchange, outcome string, errResp *types.ErrorResponse) {
	ex.phase = PhaseFailed
	ex.outcome = outcome
	WriteErrorResponse(w, errResp)
}

// recordActivity queues one activity record for an identified session, at
// most once per request.
func (h *Handler) recordActivity(ex *exchange) {
	if ex.handle == nil || ex.recorded {
		return
	}
	ex.recorded = true
	h.sessions.RecordActivity(*ex.handle)
}

func (h *Handler) traceExchange(ex *exchange, rw *responseWriter) tracing.Exchange {
	te := tracing.Exchange{
		ToolID:        h.cfg.ToolID,
		SessionID:     sessionIDOf(ex),
		RouteSource:   string(ex.route.Source),
		Outcome:       ex.outcome,
		StatusCode:    rw.statusCode,
		ResponseBytes: rw.bytes,
	}
	if ex.route.URL != nil {
		te.UpstreamHost = ex.route.URL.Host
	}
	if ex.upErr != nil {
		te.ErrorKind = ex.upErr.Kind
	}
	return te
}

func sessionIDOf(ex *exchange) string {
	if ex.handle == nil {
		return ""
	}
	return ex.handle.SessionID
}
