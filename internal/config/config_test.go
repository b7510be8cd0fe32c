package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultValidatesWithUser(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err == nil {
		t.Fatal("defaults must not validate without a user id")
	}
	cfg.Identity.UserID = "alice"
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
}

func TestValidate(t *testing.T) {
	base := Default()
	base.Identity.UserID = "alice"

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"http relay url", func(c *Config) { c.Relay.URL = "http://localhost:8080" }},
		{"empty relay url", func(c *Config) { c.Relay.URL = "" }},
		{"no ice servers", func(c *Config) { c.Media.ICEServers = nil }},
		{"negative reject delay", func(c *Config) { c.Call.RejectDisplayMs = -1 }},
		{"negative debounce", func(c *Config) { c.Room.OfferDebounceMs = -1 }},
		{"negative room bound", func(c *Config) { c.Room.DefaultMaxParticipants = -1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation failure")
			}
		})
	}

	wss := base
	wss.Relay.URL = "wss://relay.example.com/websocket"
	if err := wss.Validate(); err != nil {
		t.Fatal(err)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")

	cfg := Default()
	cfg.Identity.UserID = "alice"
	cfg.Media.ICEServers = []string{"stun:stun.example.com:3478", "turn:turn.example.com:3478"}
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.Identity.UserID != "alice" {
		t.Fatalf("user id lost: %+v", got.Identity)
	}
	if len(got.Media.ICEServers) != 2 {
		t.Fatalf("ice servers lost: %v", got.Media.ICEServers)
	}

	// Partial files inherit defaults for the missing sections.
	partial := filepath.Join(t.TempDir(), "partial.json")
	if err := os.WriteFile(partial, []byte(`{"identity":{"user_id":"bob"}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err = Load(partial)
	if err != nil {
		t.Fatal(err)
	}
	if got.Identity.UserID != "bob" {
		t.Fatalf("user id lost: %+v", got.Identity)
	}
	if got.Relay.URL != Default().Relay.URL || got.Room.OfferDebounceMs != 1000 {
		t.Fatalf("defaults not inherited: %+v", got)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "garbage.json")); err == nil {
		t.Fatal("expected error for a missing file")
	}
}

func TestEnsure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	cfg, created, err := Ensure(path, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if !created {
		t.Fatal("expected the file to be created")
	}
	if cfg.Identity.UserID != "alice" {
		t.Fatalf("created config missing user id: %+v", cfg.Identity)
	}

	cfg, created, err = Ensure(path, "ignored")
	if err != nil {
		t.Fatal(err)
	}
	if created {
		t.Fatal("second Ensure must not recreate the file")
	}
	if cfg.Identity.UserID != "alice" {
		t.Fatalf("existing config clobbered: %+v", cfg.Identity)
	}
}

func TestWatchReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg := Default()
	cfg.Identity.UserID = "alice"
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}

	reloads := make(chan Config, 4)
	stop, err := Watch(path, func(c Config) { reloads <- c })
	if err != nil {
		t.Fatal(err)
	}
	defer stop()

	cfg.Media.ICEServers = []string{"stun:stun.other.example:3478"}
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-reloads:
		if len(got.Media.ICEServers) != 1 || got.Media.ICEServers[0] != "stun:stun.other.example:3478" {
			t.Fatalf("reload delivered stale config: %+v", got.Media)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no reload after rewrite")
	}

	// A single save can surface as several fs events; drain the duplicates.
	for {
		select {
		case <-reloads:
			continue
		case <-time.After(200 * time.Millisecond):
		}
		break
	}

	// An invalid rewrite is skipped, not delivered.
	if err := os.WriteFile(path, []byte(`{"relay":{"url":"http://nope"}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(200 * time.Millisecond)
	select {
	case got := <-reloads:
		t.Fatalf("invalid config delivered: %+v", got)
	default:
	}
}
