package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"duckcoding-hq/relay/pkg/config"
	"duckcoding-hq/relay/pkg/proxy"
	"duckcoding-hq/relay/pkg/proxy/middleware"
)

var (
	// ErrUnknownTool indicates a tool without configuration.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrAlreadyRunning indicates the tool's listener is already up.
	ErrAlreadyRunning = errors.New("proxy already running")

	// ErrNotRunning indicates the tool's listener is down.
	ErrNotRunning = errors.New("proxy not running")
)

// HandlerFactory builds the proxy handler of a tool.
type HandlerFactory func(toolID string, tool config.ToolConfig) http.Handler

// Status describes the listener of one tool.
type Status struct {
	ToolID      string     `json:"tool_id"`
	Enabled     bool       `json:"enabled"`
	Running     bool       `json:"running"`
	Address     string     `json:"address"`
	Port        int        `json:"port"`
	AllowPublic bool       `json:"allow_public"`
	LocalKeySet bool       `json:"local_key_set"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
}

type listener struct {
	httpServer *http.Server
	addr       string
	startedAt  time.Time
	done       chan struct{}
}

// Supervisor owns one HTTP listener per tool and starts or stops them
// independently.
type Supervisor struct {
	cfg     config.ServerConfig
	tools   map[string]config.ToolConfig
	factory HandlerFactory
	logger  *slog.Logger

	mu        sync.Mutex
	listeners map[string]*listener
	lastErr   map[string]error
}

// NewSupervisor creates a supervisor for the configured tools.
func NewSupervisor(cfg config.ServerConfig, tools map[string]config.ToolConfig, factory HandlerFactory, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		cfg:       cfg,
		tools:     tools,
		factory:   factory,
		logger:    logger.With("component", "server"),
		listeners: make(map[string]*listener),
		lastErr:   make(map[string]error),
	}
}

// Run starts every enabled listener, blocks until ctx is cancelled and then
// shuts all listeners down gracefully.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.StartEnabled(ctx); err != nil {
		_ = s.StopAll(context.Background())
		return err
	}

	<-ctx.Done()
	s.logger.Info("context cancelled, initiating shutdown")
	return s.StopAll(context.Background())
}

// StartEnabled starts the listeners of every enabled tool.
func (s *Supervisor) StartEnabled(ctx context.Context) error {
	var errs []error
	for _, toolID := range s.toolIDs() {
		if !s.tools[toolID].IsEnabled() {
			continue
		}
		if err := s.Start(ctx, toolID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Start binds and serves the listener of a tool. The port is bound before
// Start returns, so address conflicts surface to the caller.
func (s *Supervisor) Start(_ context.Context, toolID string) error {
	tool, ok := s.tools[toolID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTool, toolID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, running := s.listeners[toolID]; running {
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, toolID)
	}

	addr := tool.ListenAddress()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		err = fmt.Errorf("failed to listen for %s on %s: %w", toolID, addr, err)
		s.lastErr[toolID] = err
		return err
	}

	srv := &http.Server{
		Handler:           s.chain(s.factory(toolID, tool)),
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
		IdleTimeout:       s.cfg.IdleTimeout,
		MaxHeaderBytes:    s.cfg.MaxHeaderBytes,
		ConnContext:       proxy.ConnContext,
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}

	l := &listener{
		httpServer: srv,
		addr:       ln.Addr().String(),
		startedAt:  time.Now(),
		done:       make(chan struct{}),
	}
	s.listeners[toolID] = l
	delete(s.lastErr, toolID)

	go s.serve(toolID, l, ln)

	s.logger.Info("proxy started",
		"tool_id", toolID,
		"address", l.addr,
		"allow_public", tool.AllowPublic,
		"local_key", tool.LocalAPIKey != "",
	)
	return nil
}

func (s *Supervisor) serve(toolID string, l *listener, ln net.Listener) {
	defer close(l.done)

	err := l.httpServer.Serve(ln)
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return
	}

	s.logger.Error("proxy listener failed", "tool_id", toolID, "error", err)
	s.mu.Lock()
	if s.listeners[toolID] == l {
		delete(s.listeners, toolID)
	}
	s.lastErr[toolID] = err
	s.mu.Unlock()
}

// Stop gracefully shuts down the listener of a tool. In-flight requests,
// including open streams, get up to ShutdownTimeout to finish.
func (s *Supervisor) Stop(ctx context.Context, toolID string) error {
	if _, ok := s.tools[toolID]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTool, toolID)
	}

	s.mu.Lock()
	l, running := s.listeners[toolID]
	delete(s.listeners, toolID)
	s.mu.Unlock()

	if !running {
		return fmt.Errorf("%w: %s", ErrNotRunning, toolID)
	}

	shutdownCtx := ctx
	if s.cfg.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		shutdownCtx, cancel = context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
		defer cancel()
	}

	err := l.httpServer.Shutdown(shutdownCtx)
	if err != nil {
		s.logger.Warn("graceful shutdown incomplete, closing connections", "tool_id", toolID, "error", err)
		_ = l.httpServer.Close()
	}
	<-l.done

	s.logger.Info("proxy stopped", "tool_id", toolID)
	if err != nil {
		return fmt.Errorf("shutdown of %s: %w", toolID, err)
	}
	return nil
}

// StopAll stops every running listener.
func (s *Supervisor) StopAll(ctx context.Context) error {
	s.mu.Lock()
	running := make([]string, 0, len(s.listeners))
	for toolID := range s.listeners {
		running = append(running, toolID)
	}
	s.mu.Unlock()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, toolID := range running {
		wg.Add(1)
		go func(toolID string) {
			defer wg.Done()
			if err := s.Stop(ctx, toolID); err != nil && !errors.Is(err, ErrNotRunning) {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(toolID)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// Status reports every configured tool, sorted by tool id.
func (s *Supervisor) Status() []Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Status, 0, len(s.tools))
	for _, toolID := range s.toolIDs() {
		tool := s.tools[toolID]
		st := Status{
			ToolID:      toolID,
			Enabled:     tool.IsEnabled(),
			Address:     tool.ListenAddress(),
			Port:        tool.Port,
			AllowPublic: tool.AllowPublic,
			LocalKeySet: tool.LocalAPIKey != "",
		}
		if l, ok := s.listeners[toolID]; ok {
			started := l.startedAt
			st.Running = true
			st.Address = l.addr
			st.StartedAt = &started
		}
		if err := s.lastErr[toolID]; err != nil {
			st.LastError = err.Error()
		}
		out = append(out, st)
	}
	return out
}

// Addr returns the bound address of a running tool listener.
func (s *Supervisor) Addr(toolID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.listeners[toolID]
	if !ok {
		return "", false
	}
	return l.addr, true
}

func (s *Supervisor) toolIDs() []string {
	ids := make([]string, 0, len(s.tools))
	for id := range s.tools {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// chain applies the middleware shared by every tool listener. The request id
// lives in the context only; proxied headers are not touched.
func (s *Supervisor) chain(h http.Handler) http.Handler {
	h = middleware.LoggingMiddleware(s.logger)(h)
	h = middleware.ContextRequestIDMiddleware(h)
	return middleware.RecoveryMiddleware(s.logger)(h)
}
