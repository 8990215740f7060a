package session

import (
	"context"
	"fmt"

	"duckcoding-hq/relay/pkg/route"
)

// Config names stored in config_name.
const (
	// ConfigGlobal means the session inherits the tool's global upstream.
	ConfigGlobal = "global"

	// ConfigCustom means the session uses its own url/api_key or a pinned
	// profile.
	ConfigCustom = "custom"
)

// Session is one row of the session registry. Timestamps are Unix seconds.
type Session struct {
	SessionID         string  `db:"session_id" json:"session_id"`
	DisplayID         string  `db:"display_id" json:"display_id"`
	ToolID            string  `db:"tool_id" json:"tool_id"`
	ConfigName        string  `db:"config_name" json:"config_name"`
	CustomProfileName *string `db:"custom_profile_name" json:"custom_profile_name,omitempty"`
	URL               string  `db:"url" json:"url"`
	APIKey            string  `db:"api_key" json:"api_key"`
	Note              *string `db:"note" json:"note,omitempty"`
	FirstSeenAt       int64   `db:"first_seen_at" json:"first_seen_at"`
	LastSeenAt        int64   `db:"last_seen_at" json:"last_seen_at"`
	RequestCount      int64   `db:"request_count" json:"request_count"`
	CreatedAt         int64   `db:"created_at" json:"created_at"`
	UpdatedAt         int64   `db:"updated_at" json:"updated_at"`
}

// Config is the routing projection of a session, read on every request.
type Config struct {
	ConfigName        string  `db:"config_name" json:"config_name"`
	CustomProfileName *string `db:"custom_profile_name" json:"custom_profile_name,omitempty"`
	URL               string  `db:"url" json:"url"`
	APIKey            string  `db:"api_key" json:"api_key"`
}

// Override converts the projection into resolver input. Sessions on the
// global config ignore any stale url/api_key left in the row. A config_name
// other than global or custom names a profile directly.
func (c *Config) Override() route.Override {
	if c == nil || c.ConfigName == "" || c.ConfigName == ConfigGlobal {
		return route.Override{}
	}
	o := route.Override{URL: c.URL, APIKey: c.APIKey}
	switch {
	case c.CustomProfileName != nil && *c.CustomProfileName != "":
		o.ProfileName = *c.CustomProfileName
	case c.ConfigName != ConfigCustom:
		o.ProfileName = c.ConfigName
	}
	return o
}

// Normalize validates the projection and clears fields that do not apply to
// its config_name.
func (c Config) Normalize() (Config, error) {
	switch c.ConfigName {
	case "", ConfigGlobal:
		return Config{ConfigName: ConfigGlobal}, nil
	case ConfigCustom:
		if c.CustomProfileName != nil && *c.CustomProfileName == "" {
			c.CustomProfileName = nil
		}
		if c.CustomProfileName == nil && c.URL == "" && c.APIKey == "" {
			return Config{}, fmt.Errorf("%w: custom config needs a profile, url or api_key", ErrInvalidConfig)
		}
		return c, nil
	default:
		if len(c.ConfigName) > 128 {
			return Config{}, fmt.Errorf("%w: config name too long", ErrInvalidConfig)
		}
		return c, nil
	}
}

// Page is one page of a tool's sessions, most recently active first.
type Page struct {
	Sessions []Session `json:"sessions"`
	Total    int64     `json:"total"`
	Page     int       `json:"page"`
	PageSize int       `json:"page_size"`
}

// Store persists sessions. Implementations must make UpsertSession atomic so
// that concurrent upserts of one session never lose an increment.
type Store interface {
	// UpsertSession inserts a new session or bumps last_seen_at and
	// request_count of an existing one. It returns the resulting
	// request_count. display_id and tool_id are ignored for existing rows.
	UpsertSession(ctx context.Context, sessionID, displayID, toolID string, ts int64) (int64, error)

	// GetSessions returns one page of a tool's sessions.
	GetSessions(ctx context.Context, toolID string, page, pageSize int) (*Page, error)

	// GetSession returns nil, nil when the session does not exist.
	GetSession(ctx context.Context, sessionID string) (*Session, error)

	// GetSessionConfig returns nil, nil when the session does not exist.
	GetSessionConfig(ctx context.Context, sessionID string) (*Config, error)

	UpdateSessionConfig(ctx context.Context, sessionID string, cfg Config) error
	UpdateSessionNote(ctx context.Context, sessionID string, note *string) error
	DeleteSession(ctx context.Context, sessionID string) error
	ClearSessions(ctx context.Context, toolID string) (int64, error)

	// ToolIDs returns the distinct tool ids that own at least one session.
	ToolIDs(ctx context.Context) ([]string, error)

	// CleanupOldSessions deletes sessions idle for more than maxAgeDays and
	// then the least recently seen ones beyond maxCount. Non-positive limits
	// disable the corresponding phase.
	CleanupOldSessions(ctx context.Context, toolID string, maxCount, maxAgeDays int) (int64, error)

	Close() error
}
