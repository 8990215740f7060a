package netproxy

import (
	"log/slog"
	"sync"
)

// Status is the network proxy state reported to operators. All URLs are
// redacted.
type Status struct {
	Enabled    bool   `json:"enabled"`
	Configured string `json:"configured"`
	Transport  string `json:"transport"`
	Env        string `json:"env"`
	ApplyEnv   bool   `json:"apply_env"`
}

// Applier pushes the configured network proxy into the upstream transport
// and, when enabled, into the process environment.
type Applier struct {
	provider *Provider
	settings func() *Settings
	applyEnv bool

	mu     sync.Mutex
	logger *slog.Logger
}

// NewApplier creates an applier. settings returns the current configuration
// and may return nil when none is loaded.
func NewApplier(provider *Provider, settings func() *Settings, applyEnv bool) *Applier {
	return &Applier{
		provider: provider,
		settings: settings,
		applyEnv: applyEnv,
		logger:   slog.Default().With("component", "netproxy.applier"),
	}
}

// Apply rebuilds the transport from the current settings and re-exports the
// environment. Invalid settings leave the previous transport in place.
func (a *Applier) Apply() (Status, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := a.current()
	if err := s.Validate(); err != nil {
		a.logger.Warn("network proxy settings rejected", "error", err)
		return a.status(s), err
	}
	if err := a.provider.Rebuild(s); err != nil {
		return a.status(s), err
	}
	if a.applyEnv {
		applied, err := ApplyEnv(s)
		if err != nil {
			return a.status(s), err
		}
		a.logger.Info("network proxy environment applied", "proxy", applied)
	}
	return a.status(s), nil
}

// Status reports configured, in-use and exported proxy values.
func (a *Applier) Status() Status {
	return a.status(a.current())
}

func (a *Applier) current() *Settings {
	if a.settings == nil {
		return &Settings{}
	}
	if s := a.settings(); s != nil {
		return s
	}
	return &Settings{}
}

func (a *Applier) status(s *Settings) Status {
	return Status{
		Enabled:    s.Enabled,
		Configured: s.Redacted(),
		Transport:  a.provider.Proxy(),
		Env:        CurrentEnv(),
		ApplyEnv:   a.applyEnv,
	}
}
