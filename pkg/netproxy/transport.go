package netproxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/net/proxy"
)

// TransportOptions holds the timeouts of the upstream transport.
type TransportOptions struct {
	// ConnectTimeout bounds TCP connection establishment (to the upstream or
	// to the network proxy).
	ConnectTimeout time.Duration

	// TLSHandshakeTimeout bounds the TLS handshake with the upstream.
	TLSHandshakeTimeout time.Duration

	// ResponseHeaderTimeout bounds the wait for response headers once the
	// request was written. Zero disables it, which streaming responses need
	// when upstreams take long to produce the first token.
	ResponseHeaderTimeout time.Duration

	// IdleConnTimeout is how long idle keep-alive connections are kept.
	IdleConnTimeout time.Duration

	// MaxIdleConns caps idle connections across all hosts.
	MaxIdleConns int
}

// DefaultTransportOptions returns the defaults used when no options are given.
func DefaultTransportOptions() TransportOptions {
	return TransportOptions{
		ConnectTimeout:        30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 0,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          100,
	}
}

// NewTransport builds an HTTP transport that egresses through the network
// proxy described by settings. Inactive settings yield a direct transport;
// the process environment is never consulted so that variables exported by
// ApplyEnv cannot route the relay through itself.
func NewTransport(settings *Settings, opts TransportOptions) (*http.Transport, error) {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultTransportOptions().ConnectTimeout
	}

	dialer := &net.Dialer{
		Timeout:   opts.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}

	t := &http.Transport{
		Proxy:                 nil,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          opts.MaxIdleConns,
		IdleConnTimeout:       opts.IdleConnTimeout,
		TLSHandshakeTimeout:   opts.TLSHandshakeTimeout,
		ResponseHeaderTimeout: opts.ResponseHeaderTimeout,
		ExpectContinueTimeout: 1 * time.Second,
	}

	u, err := settings.URL()
	if err != nil {
		return nil, err
	}
	if u == nil {
		return t, nil
	}

	switch u.Scheme {
	case TypeSOCKS5:
		var auth *proxy.Auth
		if settings.Username != "" {
			auth = &proxy.Auth{User: settings.Username, Password: settings.Password}
		}
		d, err := proxy.SOCKS5("tcp", u.Host, auth, dialer)
		if err != nil {
			return nil, fmt.Errorf("create socks5 dialer: %w", err)
		}
		cd, ok := d.(proxy.ContextDialer)
		if !ok {
			return nil, errors.New("socks5 dialer does not support contexts")
		}
		t.DialContext = cd.DialContext
	default:
		t.Proxy = http.ProxyURL(u)
	}

	return t, nil
}

// Provider holds the transport currently used for upstream traffic and lets
// it be swapped when the network proxy settings change. It implements
// http.RoundTripper so callers never hold on to a stale transport.
type Provider struct {
	opts    TransportOptions
	current atomic.Pointer[http.Transport]
	proxy   atomic.Pointer[string]
	logger  *slog.Logger
}

// NewProvider creates a provider with a transport built from settings.
func NewProvider(settings *Settings, opts TransportOptions) (*Provider, error) {
	p := &Provider{
		opts:   opts,
		logger: slog.Default().With("component", "netproxy"),
	}
	if err := p.Rebuild(settings); err != nil {
		return nil, err
	}
	return p, nil
}

// Rebuild replaces the transport. Idle connections of the previous transport
// are closed; in-flight requests finish on it.
func (p *Provider) Rebuild(settings *Settings) error {
	t, err := NewTransport(settings, p.opts)
	if err != nil {
		return err
	}

	redacted := settings.Redacted()
	old := p.current.Swap(t)
	p.proxy.Store(&redacted)
	if old != nil {
		old.CloseIdleConnections()
	}

	if redacted == "" {
		p.logger.Info("upstream transport rebuilt", "network_proxy", "direct")
	} else {
		p.logger.Info("upstream transport rebuilt", "network_proxy", redacted)
	}
	return nil
}

// RoundTrip implements http.RoundTripper.
func (p *Provider) RoundTrip(req *http.Request) (*http.Response, error) {
	return p.current.Load().RoundTrip(req)
}

// Proxy returns the redacted network proxy URL in use, or "" for direct.
func (p *Provider) Proxy() string {
	if v := p.proxy.Load(); v != nil {
		return *v
	}
	return ""
}

// CloseIdleConnections closes idle connections of the current transport.
func (p *Provider) CloseIdleConnections() {
	if t := p.current.Load(); t != nil {
		t.CloseIdleConnections()
	}
}

// DialCheck verifies that the network proxy accepts TCP connections. It is
// used by the management API before applying new settings.
func DialCheck(ctx context.Context, settings *Settings, timeout time.Duration) error {
	if !settings.Active() {
		return nil
	}
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(settings.Host, settings.Port))
	if err != nil {
		return fmt.Errorf("network proxy unreachable: %w", err)
	}
	return conn.Close()
}
