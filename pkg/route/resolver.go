package route

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"duckcoding-hq/relay/pkg/upstream"
)

var (
	// ErrNoRoute means neither the session nor the global configuration
	// provides both an upstream URL and an API key for the tool.
	ErrNoRoute = errors.New("no upstream configured")

	// ErrInvalidRoute means the effective upstream URL is not an absolute
	// http(s) URL.
	ErrInvalidRoute = errors.New("invalid upstream url")
)

// Source tells which precedence level produced a route.
type Source string

const (
	SourceProfile Source = "profile"
	SourceSession Source = "session"
	SourceGlobal  Source = "global"
)

// Route is the effective upstream for one session. It is derived and never
// persisted.
type Route struct {
	URL    *url.URL
	APIKey string
	Source Source
}

// Override carries the per-session routing fields.
type Override struct {
	ProfileName string
	URL         string
	APIKey      string
}

// GlobalSource provides the global default upstream of a tool.
type GlobalSource interface {
	Default(toolID string) (upstream.Credentials, bool)
}

// ProfileStore looks up named profiles.
type ProfileStore interface {
	Profile(toolID, name string) (upstream.Credentials, bool)
}

// Resolver computes the effective route of a session.
type Resolver struct {
	globals  GlobalSource
	profiles ProfileStore
	logger   *slog.Logger
}

// NewResolver creates a resolver. profiles may be nil when named profiles
// are not in use.
func NewResolver(globals GlobalSource, profiles ProfileStore) *Resolver {
	return &Resolver{
		globals:  globals,
		profiles: profiles,
		logger:   slog.Default().With("component", "route.resolver"),
	}
}

// Resolve applies the precedence profile > session override > global.
//
// A pinned profile that no longer exists falls through to the next level. A
// half-set session override is completed field by field from the global
// default.
func (r *Resolver) Resolve(toolID string, o Override) (Route, error) {
	if o.ProfileName != "" && r.profiles != nil {
		if c, ok := r.profiles.Profile(toolID, o.ProfileName); ok && c.Complete() {
			return build(c, SourceProfile)
		}
		r.logger.Warn("pinned profile not found, falling back",
			"tool_id", toolID,
			"profile", o.ProfileName,
		)
	}

	var global upstream.Credentials
	if r.globals != nil {
		global, _ = r.globals.Default(toolID)
	}

	if o.URL != "" || o.APIKey != "" {
		c := upstream.Credentials{URL: o.URL, APIKey: o.APIKey}
		if c.URL == "" {
			c.URL = global.URL
		}
		if c.APIKey == "" {
			c.APIKey = global.APIKey
		}
		if !c.Complete() {
			return Route{}, fmt.Errorf("%w for tool %s", ErrNoRoute, toolID)
		}
		return build(c, SourceSession)
	}

	if !global.Complete() {
		return Route{}, fmt.Errorf("%w for tool %s", ErrNoRoute, toolID)
	}
	return build(global, SourceGlobal)
}

func build(c upstream.Credentials, source Source) (Route, error) {
	u, err := url.Parse(c.URL)
	if err != nil {
		return Route{}, fmt.Errorf("%w: %v", ErrInvalidRoute, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Route{}, fmt.Errorf("%w: %q", ErrInvalidRoute, c.URL)
	}
	return Route{URL: u, APIKey: c.APIKey, Source: source}, nil
}
