package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mamun-swe/client.remotedesk/internal/protocol"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "remotedesk.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv(EnvRelayURL, "")
	t.Setenv(EnvAgentToken, "")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RelayURL != DefaultRelayURL {
		t.Errorf("RelayURL = %q", cfg.RelayURL)
	}
	if cfg.Agent.URL != DefaultAgentURL || cfg.Agent.Listen != DefaultAgentListen {
		t.Errorf("Agent = %+v", cfg.Agent)
	}
	if cfg.Viewport != (ViewportConfig{Width: 1280, Height: 720}) {
		t.Errorf("Viewport = %+v", cfg.Viewport)
	}
	if cfg.STUN != nil {
		t.Errorf("STUN = %v, want nil (built-in servers)", cfg.STUN)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	t.Setenv(EnvRelayURL, "")
	t.Setenv(EnvAgentToken, "")

	path := writeFile(t, `
role: guest
room: blue-fox
relay_url: wss://relay.example.com/ws
stun: []
offer_on_start: true
agent:
  token: from-file
viewport:
  width: 1920
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Role != protocol.RoleGuest || cfg.Room != "blue-fox" || !cfg.OfferOnStart {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.RelayURL != "wss://relay.example.com/ws" {
		t.Errorf("RelayURL = %q", cfg.RelayURL)
	}
	if cfg.STUN == nil || len(cfg.STUN) != 0 {
		t.Errorf("STUN = %#v, want an empty list", cfg.STUN)
	}
	if cfg.Agent.Token != "from-file" || cfg.Agent.URL != DefaultAgentURL {
		t.Errorf("Agent = %+v", cfg.Agent)
	}
	if cfg.Viewport.Width != 1920 || cfg.Viewport.Height != DefaultHeight {
		t.Errorf("Viewport = %+v", cfg.Viewport)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv(EnvRelayURL, "ws://10.0.0.2:4000/ws")
	t.Setenv(EnvAgentToken, "from-env")

	cfg, err := Load(writeFile(t, "relay_url: ws://ignored/ws\nagent:\n  token: from-file\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RelayURL != "ws://10.0.0.2:4000/ws" {
		t.Errorf("RelayURL = %q", cfg.RelayURL)
	}
	if cfg.Agent.Token != "from-env" {
		t.Errorf("Agent.Token = %q", cfg.Agent.Token)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load of a missing file succeeded")
	}
	if _, err := Load(writeFile(t, "viewport: [1, 2")); err == nil {
		t.Error("Load of invalid YAML succeeded")
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Role = "observer"
	cfg.RelayURL = "://"
	cfg.Viewport.Width = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate accepted a bad config")
	}
	for _, want := range []string{"role", "relay_url", "viewport"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}

	cfg = Default()
	cfg.RelayURL = ""
	cfg.MQTT.Broker = "tcp://localhost:1883"
	if err := cfg.Validate(); err != nil {
		t.Errorf("MQTT config without relay: %v", err)
	}
}

func TestEnsureRoom(t *testing.T) {
	cfg := Default()
	room := cfg.EnsureRoom()
	if room == "" || strings.Count(room, "-") != 2 {
		t.Errorf("generated room %q, want three words", room)
	}
	if again := cfg.EnsureRoom(); again != room {
		t.Errorf("EnsureRoom changed the room: %q then %q", room, again)
	}

	cfg.Room = "kept"
	if got := cfg.EnsureRoom(); got != "kept" {
		t.Errorf("EnsureRoom = %q, want kept", got)
	}
}

func TestNormalizeWSURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"ws://localhost:4000/ws", "ws://localhost:4000/ws"},
		{"ws://localhost:4000", "ws://localhost:4000/ws"},
		{"https://relay.example.com", "wss://relay.example.com/ws"},
		{"relay.example.com", "wss://relay.example.com/ws"},
		{"  wss://relay.example.com/signal  ", "wss://relay.example.com/signal"},
	}
	for _, tt := range tests {
		got, err := NormalizeWSURL(tt.in)
		if err != nil {
			t.Errorf("NormalizeWSURL(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("NormalizeWSURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	if _, err := NormalizeWSURL("://"); err == nil {
		t.Error("NormalizeWSURL accepted an empty host")
	}
}
