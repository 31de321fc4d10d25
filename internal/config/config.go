// Package config holds the settings shared by the CLI commands.
//
// Values are layered: built-in defaults, then an optional YAML file, then
// environment variables, then command-line flags (applied by the caller).
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	petname "github.com/dustinkirkland/golang-petname"
	"gopkg.in/yaml.v3"

	"github.com/mamun-swe/client.remotedesk/internal/protocol"
)

// Environment variables read by ApplyEnv.
const (
	EnvRelayURL   = "REMOTEDESK_RELAY_URL"
	EnvAgentToken = "REMOTEDESK_AGENT_TOKEN"
)

// Defaults.
const (
	DefaultRelayURL    = "ws://localhost:4000/ws"
	DefaultRelayListen = ":4000"
	DefaultAgentURL    = "ws://127.0.0.1:7777"
	DefaultAgentListen = "127.0.0.1:7777"
	DefaultWidth       = 1280
	DefaultHeight      = 720
)

// Config is the full set of options for one participant, relay or agent.
type Config struct {
	// Role is host or guest. Empty until chosen by a command or prompt.
	Role protocol.Role `yaml:"role"`

	// Room is the room both participants join. A readable random name is
	// generated when empty.
	Room string `yaml:"room"`

	// RelayURL is the websocket signaling relay.
	RelayURL string `yaml:"relay_url"`

	// MQTT, when Broker is set, replaces the relay with a shared broker.
	MQTT MQTTConfig `yaml:"mqtt"`

	// STUN lists ICE server URLs. Omitted means the built-in public
	// servers; an explicit empty list disables STUN.
	STUN []string `yaml:"stun"`

	// OfferOnStart makes the host offer immediately instead of waiting for
	// the guest to join.
	OfferOnStart bool `yaml:"offer_on_start"`

	Agent    AgentConfig    `yaml:"agent"`
	Viewport ViewportConfig `yaml:"viewport"`

	// RelayListen is the address the reference relay binds.
	RelayListen string `yaml:"relay_listen"`

	Debug bool `yaml:"debug"`
}

// MQTTConfig selects the MQTT signaling bus.
type MQTTConfig struct {
	Broker string `yaml:"broker"` // e.g. tcp://localhost:1883
	Prefix string `yaml:"prefix"`
}

// AgentConfig describes the privileged local agent.
type AgentConfig struct {
	// URL is where the host's bridge dials.
	URL string `yaml:"url"`

	// Listen is the loopback address the agent server binds.
	Listen string `yaml:"listen"`

	// Token is the shared secret between host and agent. Never logged.
	Token string `yaml:"token"`

	// LockPath overrides the single-instance lock file.
	LockPath string `yaml:"lock_path"`
}

// ViewportConfig is the host's page size in CSS pixels.
type ViewportConfig struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// Default returns a Config with every default applied.
func Default() *Config {
	return &Config{
		RelayURL:    DefaultRelayURL,
		RelayListen: DefaultRelayListen,
		Agent: AgentConfig{
			URL:    DefaultAgentURL,
			Listen: DefaultAgentListen,
		},
		Viewport: ViewportConfig{Width: DefaultWidth, Height: DefaultHeight},
	}
}

// Load reads the YAML file at path over the defaults, then applies the
// environment. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.ApplyEnv()
	cfg.fill()
	return cfg, nil
}

// ApplyEnv overrides fields from the environment.
func (c *Config) ApplyEnv() {
	if v := strings.TrimSpace(os.Getenv(EnvRelayURL)); v != "" {
		c.RelayURL = v
	}
	if v := os.Getenv(EnvAgentToken); v != "" {
		c.Agent.Token = v
	}
}

// fill restores defaults for fields a file left blank.
func (c *Config) fill() {
	if c.RelayURL == "" {
		c.RelayURL = DefaultRelayURL
	}
	if c.RelayListen == "" {
		c.RelayListen = DefaultRelayListen
	}
	if c.Agent.URL == "" {
		c.Agent.URL = DefaultAgentURL
	}
	if c.Agent.Listen == "" {
		c.Agent.Listen = DefaultAgentListen
	}
	if c.Viewport.Width <= 0 {
		c.Viewport.Width = DefaultWidth
	}
	if c.Viewport.Height <= 0 {
		c.Viewport.Height = DefaultHeight
	}
}

// EnsureRoom generates a room name when none is set and returns the room.
func (c *Config) EnsureRoom() string {
	if c.Room == "" {
		c.Room = petname.Generate(3, "-")
	}
	return c.Room
}

// Validate checks the fields a participant needs.
func (c *Config) Validate() error {
	var errs []error
	if c.Role != "" && !c.Role.Valid() {
		errs = append(errs, fmt.Errorf("role %q: must be host or guest", c.Role))
	}
	if c.MQTT.Broker == "" {
		if _, err := NormalizeWSURL(c.RelayURL); err != nil {
			errs = append(errs, fmt.Errorf("relay_url: %w", err))
		}
	}
	if c.Viewport.Width <= 0 || c.Viewport.Height <= 0 {
		errs = append(errs, fmt.Errorf("viewport %dx%d: must be positive", c.Viewport.Width, c.Viewport.Height))
	}
	return errors.Join(errs...)
}

// NormalizeWSURL validates a relay URL. A missing or non-websocket scheme
// becomes wss, and an empty path becomes /ws.
func NormalizeWSURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		raw = "wss://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid WebSocket URL: %s", raw)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		u.Scheme = "wss"
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws"
	}
	return u.String(), nil
}
