// Package config loads and persists the client configuration file.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

type Config struct {
	Identity Identity `json:"identity"`
	Relay    Relay    `json:"relay"`
	Media    Media    `json:"media"`
	Call     Call     `json:"call"`
	Room     Room     `json:"room"`
}

type Identity struct {
	// UserID is the server-assigned participant identity this client
	// announces itself as.
	UserID string `json:"user_id"`
}

type Relay struct {
	// URL of the signaling relay websocket, e.g. ws://host:8080/websocket.
	URL string `json:"url"`
}

type Media struct {
	// ICEServers are STUN/TURN URLs handed to the media engine.
	// Reloaded live when the config file changes.
	ICEServers []string `json:"ice_servers"`
}

type Call struct {
	// RejectDisplayMs is how long a rejected call's target stays
	// visible before the state clears.
	RejectDisplayMs int `json:"reject_display_ms"`
}

type Room struct {
	// OfferDebounceMs delays the existing-member offer after a newcomer
	// joins, so the newcomer can finish its own setup.
	OfferDebounceMs int `json:"offer_debounce_ms"`

	// DefaultMaxParticipants is used when creating a room without an
	// explicit bound. 0 means unbounded.
	DefaultMaxParticipants int `json:"default_max_participants"`
}

func Default() Config {
	return Config{
		Relay: Relay{
			URL: "ws://127.0.0.1:8080/websocket",
		},
		Media: Media{
			ICEServers: []string{"stun:stun.l.google.com:19302"},
		},
		Call: Call{
			RejectDisplayMs: 2000,
		},
		Room: Room{
			OfferDebounceMs:        1000,
			DefaultMaxParticipants: 16,
		},
	}
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Identity.UserID) == "" {
		return errors.New("identity.user_id is required")
	}
	u, err := url.Parse(c.Relay.URL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return errors.New("relay.url must be a ws:// or wss:// URL")
	}
	if len(c.Media.ICEServers) == 0 {
		return errors.New("media.ice_servers must not be empty")
	}
	if c.Call.RejectDisplayMs < 0 {
		return errors.New("call.reject_display_ms must be >= 0")
	}
	if c.Room.OfferDebounceMs < 0 {
		return errors.New("room.offer_debounce_ms must be >= 0")
	}
	if c.Room.DefaultMaxParticipants < 0 {
		return errors.New("room.default_max_participants must be >= 0")
	}
	return nil
}

// Load reads the config at path on top of the defaults. Callers validate
// after applying any overrides.
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg to path, creating parent directories as needed.
func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(b, '\n'), 0o644)
}

// Ensure loads the config at path, writing defaults first when the file does
// not exist. The bool reports whether the file was created.
func Ensure(path string, userID string) (Config, bool, error) {
	if _, err := os.Stat(path); err == nil {
		cfg, err := Load(path)
		return cfg, false, err
	} else if !os.IsNotExist(err) {
		return Config{}, false, err
	}
	cfg := Default()
	cfg.Identity.UserID = userID
	if err := Save(path, cfg); err != nil {
		return Config{}, false, err
	}
	return cfg, true, nil
}
