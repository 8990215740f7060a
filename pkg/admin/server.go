package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"duckcoding-hq/relay/pkg/config"
	"duckcoding-hq/relay/pkg/proxy/middleware"
)

// Server runs the management API on its own listener.
type Server struct {
	cfg        *config.AdminConfig
	serverCfg  *config.ServerConfig
	handler    http.Handler
	httpServer *http.Server
	logger     *slog.Logger

	mu      sync.Mutex
	addr    string
	running bool
	cancel  context.CancelFunc
	ready   chan struct{}
}

// NewServer creates the management server.
func NewServer(cfg *config.AdminConfig, serverCfg *config.ServerConfig, api http.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "admin.server")

	var h http.Handler = api
	h = middleware.LoggingMiddleware(logger)(h)
	h = middleware.RequestIDMiddleware(h)
	h = middleware.RecoveryMiddleware(logger)(h)

	return &Server{
		cfg:       cfg,
		serverCfg: serverCfg,
		handler:   h,
		logger:    logger,
		ready:     make(chan struct{}),
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	if !s.cfg.Enabled {
		s.logger.Info("management API disabled")
		close(s.ready)
		return nil
	}

	ln, err := net.Listen("tcp", s.cfg.ListenAddress)
	if err != nil {
		close(s.ready)
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.ListenAddress, err)
	}

	// Hijacked websocket connections are not tracked by Shutdown; they
	// observe this context instead.
	baseCtx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	s.httpServer = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: s.serverCfg.ReadHeaderTimeout,
		IdleTimeout:       s.serverCfg.IdleTimeout,
		MaxHeaderBytes:    s.serverCfg.MaxHeaderBytes,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}
	s.addr = ln.Addr().String()
	s.running = true
	s.cancel = cancel
	s.mu.Unlock()
	close(s.ready)

	s.logger.Info("management API listening",
		"address", s.addr,
		"auth", s.cfg.Token != "",
	)

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
		close(errChan)
	}()

	select {
	case err := <-errChan:
		s.setStopped()
		cancel()
		if err != nil {
			return fmt.Errorf("management server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	}
}

// Shutdown stops the server, waiting up to ShutdownTimeout for in-flight
// requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	srv, cancel := s.httpServer, s.cancel
	s.mu.Unlock()

	s.logger.Info("shutting down management API")
	cancel()

	if s.serverCfg.ShutdownTimeout > 0 {
		var stop context.CancelFunc
		ctx, stop = context.WithTimeout(ctx, s.serverCfg.ShutdownTimeout)
		defer stop()
	}

	err := srv.Shutdown(ctx)
	s.setStopped()
	if err != nil {
		_ = srv.Close()
		return fmt.Errorf("management server shutdown: %w", err)
	}
	return nil
}

// Addr blocks until the listener is bound and returns its address, or ""
// when the server is disabled or failed to bind.
func (s *Server) Addr() string {
	<-s.ready
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

func (s *Server) setStopped() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}
