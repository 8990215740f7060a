package upstream

import (
	"errors"
	"fmt"
	"os"

	"github.com/goccy/go-json"

	"duckcoding-hq/relay/pkg/netproxy"
)

// Credentials is an upstream base URL with the API key used against it.
type Credentials struct {
	URL    string `json:"url"`
	APIKey string `json:"api_key"`
}

// Complete reports whether both fields are set.
func (c Credentials) Complete() bool {
	return c.URL != "" && c.APIKey != ""
}

// GlobalConfig is the read-only snapshot of the global configuration file.
// It is never written by the relay; the desktop application owns the file.
type GlobalConfig struct {
	UserID      string `json:"user_id,omitempty"`
	SystemToken string `json:"system_token,omitempty"`

	// Upstreams maps a tool id to its default upstream.
	Upstreams map[string]Credentials `json:"upstreams,omitempty"`

	// Profiles maps a tool id to its named profiles.
	Profiles map[string]map[string]Credentials `json:"profiles,omitempty"`

	netproxy.Settings
}

// Default returns the global default upstream for a tool.
func (g *GlobalConfig) Default(toolID string) (Credentials, bool) {
	if g == nil {
		return Credentials{}, false
	}
	c, ok := g.Upstreams[toolID]
	return c, ok
}

// Profile returns a named profile of a tool.
func (g *GlobalConfig) Profile(toolID, name string) (Credentials, bool) {
	if g == nil || name == "" {
		return Credentials{}, false
	}
	c, ok := g.Profiles[toolID][name]
	return c, ok
}

// ProfileNames lists the profiles known for a tool.
func (g *GlobalConfig) ProfileNames(toolID string) []string {
	if g == nil {
		return nil
	}
	names := make([]string, 0, len(g.Profiles[toolID]))
	for name := range g.Profiles[toolID] {
		names = append(names, name)
	}
	return names
}

// Load reads a global configuration file. A missing or empty file yields an
// empty configuration.
func Load(path string) (*GlobalConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &GlobalConfig{}, nil
		}
		return nil, fmt.Errorf("read global config: %w", err)
	}
	return Parse(data)
}

// Parse decodes a global configuration document.
func Parse(data []byte) (*GlobalConfig, error) {
	cfg := &GlobalConfig{}
	if len(data) == 0 {
		return cfg, nil
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse global config: %w", err)
	}
	return cfg, nil
}
