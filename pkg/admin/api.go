package admin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"duckcoding-hq/relay/pkg/netproxy"
	"duckcoding-hq/relay/pkg/server"
	"duckcoding-hq/relay/pkg/session"
	"duckcoding-hq/relay/pkg/telemetry/health"
)

// Sessions is the session registry as seen by the management API.
// *session.Manager implements it.
type Sessions interface {
	ListSessions(ctx context.Context, toolID string, page, pageSize int) (*session.Page, error)
	ClearSessions(ctx context.Context, toolID string) (int64, error)
	Cleanup(ctx context.Context, toolID string, maxCount, maxAgeDays int) (int64, error)
	GetSession(ctx context.Context, sessionID string) (*session.Session, error)
	DeleteSession(ctx context.Context, sessionID string) error
	UpdateConfig(ctx context.Context, sessionID string, cfg session.Config) error
	UpdateNote(ctx context.Context, sessionID string, note *string) error
	Subscribe(buffer int) (<-chan session.Event, func())
}

// Proxies controls the per-tool listeners. *server.Supervisor implements it.
type Proxies interface {
	Start(ctx context.Context, toolID string) error
	Stop(ctx context.Context, toolID string) error
	Status() []server.Status
}

// NetworkProxy applies the outbound network proxy. *netproxy.Applier
// implements it.
type NetworkProxy interface {
	Status() netproxy.Status
	Apply() (netproxy.Status, error)
}

// Options wires the management API.
type Options struct {
	Sessions Sessions
	Proxies  Proxies
	Network  NetworkProxy

	// Health serves /health. A checker with only the proxies check is
	// created when nil.
	Health *health.Checker

	// Metrics is mounted at MetricsPath when set.
	Metrics     http.Handler
	MetricsPath string

	// Token enables bearer authentication for everything but /health.
	Token string

	// MaxCount and MaxAgeDays are used by cleanup requests without a body.
	MaxCount   int
	MaxAgeDays int

	// EventWriteTimeout bounds one websocket write. Default: 5 seconds
	EventWriteTimeout time.Duration

	Logger *slog.Logger
}

// API serves the management endpoints.
type API struct {
	opts   Options
	logger *slog.Logger
	router chi.Router
}

// New builds the management API router.
func New(opts Options) *API {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.EventWriteTimeout <= 0 {
		opts.EventWriteTimeout = 5 * time.Second
	}

	if opts.Health == nil {
		opts.Health = health.New(0, "")
	}
	if opts.Proxies != nil {
		opts.Health.RegisterCheck("proxies", proxiesCheck(opts.Proxies))
	}

	a := &API{
		opts:   opts,
		logger: opts.Logger.With("component", "admin"),
	}
	a.router = a.routes()
	return a
}

// ServeHTTP implements http.Handler.
func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.router.ServeHTTP(w, r)
}

func (a *API) routes() chi.Router {
	r := chi.NewRouter()
	r.Method(http.MethodGet, "/health", a.opts.Health.Handler())
	r.Method(http.MethodHead, "/health", a.opts.Health.Handler())

	r.Group(func(r chi.Router) {
		r.Use(bearerAuth(a.opts.Token))

		if a.opts.Metrics != nil {
			path := a.opts.MetricsPath
			if path == "" {
				path = "/metrics"
			}
			r.Method(http.MethodGet, path, a.opts.Metrics)
		}

		r.Route("/api", func(r chi.Router) {
			r.Route("/tools/{tool}/sessions", func(r chi.Router) {
				r.Get("/", a.listSessions)
				r.Delete("/", a.clearSessions)
				r.Post("/cleanup", a.cleanupSessions)
			})
			r.Route("/sessions/{id}", func(r chi.Router) {
				r.Get("/", a.getSession)
				r.Delete("/", a.deleteSession)
				r.Put("/config", a.updateConfig)
				r.Put("/note", a.updateNote)
			})

			r.Get("/proxies", a.listProxies)
			r.Post("/proxies/{tool}/start", a.startProxy)
			r.Post("/proxies/{tool}/stop", a.stopProxy)

			r.Get("/network-proxy", a.networkStatus)
			r.Post("/network-proxy/apply", a.applyNetwork)

			r.Get("/events", a.events)
		})
	})

	return r
}

// proxiesCheck fails when an enabled listener died or could not bind.
// Listeners stopped by an operator are not a failure.
func proxiesCheck(p Proxies) health.CheckFunc {
	return func(context.Context) error {
		var failed []error
		for _, st := range p.Status() {
			if st.Enabled && !st.Running && st.LastError != "" {
				failed = append(failed, fmt.Errorf("%s: %s", st.ToolID, st.LastError))
			}
		}
		return errors.Join(failed...)
	}
}

func (a *API) listSessions(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page", 1)
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	pageSize, err := queryInt(r, "page_size", 0)
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	p, err := a.opts.Sessions.ListSessions(r.Context(), chi.URLParam(r, "tool"), page, pageSize)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, p)
}

func (a *API) clearSessions(w http.ResponseWriter, r *http.Request) {
	n, err := a.opts.Sessions.ClearSessions(r.Context(), chi.URLParam(r, "tool"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]int64{"deleted": n})
}

type cleanupRequest struct {
	MaxCount   *int `json:"max_count"`
	MaxAgeDays *int `json:"max_age_days"`
}

func (a *API) cleanupSessions(w http.ResponseWriter, r *http.Request) {
	var req cleanupRequest
	if err := decodeOptional(r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	maxCount, maxAge := a.opts.MaxCount, a.opts.MaxAgeDays
	if req.MaxCount != nil {
		maxCount = *req.MaxCount
	}
	if req.MaxAgeDays != nil {
		maxAge = *req.MaxAgeDays
	}
	if maxCount < 0 || maxAge < 0 {
		Error(w, http.StatusBadRequest, "max_count and max_age_days must not be negative")
		return
	}

	n, err := a.opts.Sessions.Cleanup(r.Context(), chi.URLParam(r, "tool"), maxCount, maxAge)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]int64{"deleted": n})
}

func (a *API) getSession(w http.ResponseWriter, r *http.Request) {
	s, err := a.opts.Sessions.GetSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, s)
}

func (a *API) deleteSession(w http.ResponseWriter, r *http.Request) {
	if err := a.opts.Sessions.DeleteSession(r.Context(), chi.URLParam(r, "id")); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) updateConfig(w http.ResponseWriter, r *http.Request) {
	var cfg session.Config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	id := chi.URLParam(r, "id")
	if err := a.opts.Sessions.UpdateConfig(r.Context(), id, cfg); err != nil {
		a.fail(w, r, err)
		return
	}
	a.getSession(w, r)
}

type noteRequest struct {
	Note *string `json:"note"`
}

func (a *API) updateNote(w http.ResponseWriter, r *http.Request) {
	var req noteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Note != nil && *req.Note == "" {
		req.Note = nil
	}

	if err := a.opts.Sessions.UpdateNote(r.Context(), chi.URLParam(r, "id"), req.Note); err != nil {
		a.fail(w, r, err)
		return
	}
	a.getSession(w, r)
}

func (a *API) listProxies(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]any{"proxies": a.opts.Proxies.Status()})
}

func (a *API) startProxy(w http.ResponseWriter, r *http.Request) {
	a.controlProxy(w, r, a.opts.Proxies.Start)
}

func (a *API) stopProxy(w http.ResponseWriter, r *http.Request) {
	a.controlProxy(w, r, a.opts.Proxies.Stop)
}

func (a *API) controlProxy(w http.ResponseWriter, r *http.Request, fn func(context.Context, string) error) {
	toolID := chi.URLParam(r, "tool")
	if err := fn(r.Context(), toolID); err != nil {
		a.fail(w, r, err)
		return
	}
	for _, st := range a.opts.Proxies.Status() {
		if st.ToolID == toolID {
			JSON(w, http.StatusOK, st)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) networkStatus(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, a.opts.Network.Status())
}

func (a *API) applyNetwork(w http.ResponseWriter, r *http.Request) {
	st, err := a.opts.Network.Apply()
	if err != nil {
		a.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, st)
}

// fail maps a domain error to a status code.
func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, session.ErrSessionNotFound), errors.Is(err, server.ErrUnknownTool):
		status = http.StatusNotFound
	case errors.Is(err, session.ErrInvalidConfig), errors.Is(err, netproxy.ErrInvalidSettings):
		status = http.StatusBadRequest
	case errors.Is(err, server.ErrAlreadyRunning), errors.Is(err, server.ErrNotRunning):
		status = http.StatusConflict
	case errors.Is(err, session.ErrStoreUnavailable):
		status = http.StatusServiceUnavailable
	}

	if status >= http.StatusInternalServerError {
		a.logger.ErrorContext(r.Context(), "management request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
	}
	Error(w, status, err.Error())
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, errors.New(name + " must be a non-negative integer")
	}
	return v, nil
}

// decodeOptional decodes a JSON body if one was sent.
func decodeOptional(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if err != nil && !errors.Is(err, io.EOF) {
		return errors.New("invalid JSON body")
	}
	return nil
}
