package netproxy

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Proxy types accepted in Settings.Type.
const (
	TypeHTTP   = "http"
	TypeHTTPS  = "https"
	TypeSOCKS5 = "socks5"
)

// ErrInvalidSettings is returned when enabled settings cannot form a proxy URL.
var ErrInvalidSettings = errors.New("invalid network proxy settings")

// Settings describes the outbound network proxy. The JSON names match the
// global configuration file so the struct can be embedded there.
type Settings struct {
	Enabled  bool   `json:"proxy_enabled"`
	Type     string `json:"proxy_type,omitempty"`
	Host     string `json:"proxy_host,omitempty"`
	Port     string `json:"proxy_port,omitempty"`
	Username string `json:"proxy_username,omitempty"`
	Password string `json:"proxy_password,omitempty"`
}

// Active reports whether the settings should be applied at all.
func (s *Settings) Active() bool {
	return s != nil && s.Enabled && s.Host != "" && s.Port != ""
}

// Validate checks the settings when they are enabled. Disabled settings are
// always valid.
func (s *Settings) Validate() error {
	if s == nil || !s.Enabled {
		return nil
	}

	switch strings.ToLower(s.Type) {
	case "", TypeHTTP, TypeHTTPS, TypeSOCKS5:
	default:
		return fmt.Errorf("%w: unsupported proxy type %q", ErrInvalidSettings, s.Type)
	}
	if s.Host == "" {
		return fmt.Errorf("%w: proxy_host is required", ErrInvalidSettings)
	}
	if s.Port == "" {
		return fmt.Errorf("%w: proxy_port is required", ErrInvalidSettings)
	}
	return nil
}

// URL builds the proxy URL including credentials. It returns nil, nil when
// the settings are not active.
func (s *Settings) URL() (*url.URL, error) {
	if !s.Active() {
		return nil, nil
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}

	scheme := strings.ToLower(s.Type)
	if scheme == "" {
		scheme = TypeHTTP
	}

	u := &url.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(s.Host, s.Port),
	}
	if s.Username != "" {
		if s.Password != "" {
			u.User = url.UserPassword(s.Username, s.Password)
		} else {
			u.User = url.User(s.Username)
		}
	}
	return u, nil
}

// Redacted returns the proxy URL with the password masked, or "" when the
// settings are not active.
func (s *Settings) Redacted() string {
	u, err := s.URL()
	if err != nil || u == nil {
		return ""
	}
	return u.Redacted()
}
