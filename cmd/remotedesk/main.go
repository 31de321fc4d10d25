// RemoteDesk CLI entry point.
//
// A host shares its screen with one guest over a WebRTC peer connection and
// lets the guest drive it through a "control" data channel, gated by a host
// toggle. Signaling goes through a websocket relay (or an MQTT broker); input
// is injected by an optional local agent, with in-page replay as fallback.
//
// With no subcommand the role is chosen interactively.
package main

import (
	"context"
	"os"
	"os/signal"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/mamun-swe/client.remotedesk/internal/config"
	"github.com/mamun-swe/client.remotedesk/internal/protocol"
	"github.com/mamun-swe/client.remotedesk/internal/util"
)

var version = "dev"

// Flags shared by every command. Only flags set on the command line
// override the config file and environment.
var (
	configFlag   string
	debugFlag    bool
	roomFlag     string
	relayFlag    string
	mqttFlag     string
	stunFlag     []string
	agentURLFlag string
	listenFlag   string
	offerFlag    bool
)

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "remotedesk",
		Short:         "Peer-to-peer screen sharing with remote control",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if debugFlag {
				util.EnableDebug()
			}
			pterm.Info.Printfln("RemoteDesk — v%s", version)
			pterm.Println()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInteractive(cmd)
		},
	}

	f := cmd.PersistentFlags()
	f.StringVar(&configFlag, "config", "", "path to a YAML config file")
	f.BoolVar(&debugFlag, "debug", false, "enable debug logging")
	f.StringVar(&roomFlag, "room", "", "room to join (host: generated when empty)")
	f.StringVar(&relayFlag, "relay", "", "signaling relay URL (default "+config.DefaultRelayURL+")")
	f.StringVar(&mqttFlag, "mqtt", "", "signal through this MQTT broker instead of the relay (e.g. tcp://localhost:1883)")
	f.StringSliceVar(&stunFlag, "stun", nil, "STUN server URLs (default: public Google and Twilio servers)")

	cmd.AddCommand(hostCmd(), guestCmd(), relayCmd(), agentCmd())
	return cmd
}

func hostCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "host",
		Short: "Share this screen and accept remote control",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			cfg.Role = protocol.RoleHost
			return runHost(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&agentURLFlag, "agent", "", "local agent URL (default "+config.DefaultAgentURL+")")
	cmd.Flags().BoolVar(&offerFlag, "offer", false, "offer at once instead of waiting for the guest to join")
	return cmd
}

func guestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "guest",
		Short: "View a host's screen and send control events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			cfg.Role = protocol.RoleGuest
			if cfg.Room == "" {
				cfg.Room = askText("Room to join", "")
			}
			return runGuest(cmd.Context(), cfg)
		},
	}
}

func relayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Run the signaling relay",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runRelay(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&listenFlag, "listen", "", "listen address (default "+config.DefaultRelayListen+")")
	return cmd
}

func agentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Run the local input agent",
		Long: "Run the local input agent. It listens on a loopback address only and\n" +
			"reads its shared token from " + config.EnvAgentToken + " or the config file.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runAgent(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&listenFlag, "listen", "", "loopback listen address (default "+config.DefaultAgentListen+")")
	return cmd
}

// loadConfig layers flags over the config file and environment.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configFlag)
	if err != nil {
		return nil, err
	}

	f := cmd.Flags()
	if f.Changed("room") {
		cfg.Room = roomFlag
	}
	if f.Changed("relay") {
		cfg.RelayURL = relayFlag
	}
	if f.Changed("mqtt") {
		cfg.MQTT.Broker = mqttFlag
	}
	if f.Changed("stun") {
		cfg.STUN = stunFlag
	}
	if f.Lookup("agent") != nil && f.Changed("agent") {
		cfg.Agent.URL = agentURLFlag
	}
	if f.Lookup("offer") != nil && f.Changed("offer") {
		cfg.OfferOnStart = offerFlag
	}
	if f.Lookup("listen") != nil && f.Changed("listen") {
		switch cmd.Name() {
		case "relay":
			cfg.RelayListen = listenFlag
		case "agent":
			cfg.Agent.Listen = listenFlag
		}
	}

	if cfg.Debug {
		util.EnableDebug()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ---------------------------------------------------------------------------
// Interactive mode
// ---------------------------------------------------------------------------

// runInteractive asks for the role when no subcommand is given.
func runInteractive(cmd *cobra.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	choice, _ := pterm.DefaultInteractiveSelect.
		WithOptions([]string{
			"Host  — Share this screen",
			"Guest — View and control a host",
			"Relay — Run the signaling relay",
			"Agent — Run the local input agent",
		}).
		WithDefaultText("Select your role").
		Show()

	pterm.Println()
	ctx := cmd.Context()

	switch {
	case strings.HasPrefix(choice, "Host"):
		cfg.Role = protocol.RoleHost
		cfg.RelayURL = askRelay(cfg)
		return runHost(ctx, cfg)
	case strings.HasPrefix(choice, "Guest"):
		cfg.Role = protocol.RoleGuest
		cfg.RelayURL = askRelay(cfg)
		if cfg.Room == "" {
			cfg.Room = askText("Room to join", "")
		}
		return runGuest(ctx, cfg)
	case strings.HasPrefix(choice, "Relay"):
		return runRelay(ctx, cfg)
	default:
		return runAgent(ctx, cfg)
	}
}

// askRelay prompts for the relay URL until a valid one is entered. An empty
// answer keeps the configured URL.
func askRelay(cfg *config.Config) string {
	if cfg.MQTT.Broker != "" {
		return cfg.RelayURL
	}
	for {
		raw := askText("Relay URL", cfg.RelayURL)
		wsURL, err := config.NormalizeWSURL(raw)
		if err == nil {
			return wsURL
		}
		util.LogWarning("invalid input: please enter a valid host or URL")
	}
}

// askText prompts once; an empty answer returns def. With no default the
// prompt repeats until something is entered.
func askText(prompt, def string) string {
	text := prompt
	if def != "" {
		text += " [" + def + "]"
	}
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText(text).
			Show()
		pterm.Println()

		raw = strings.TrimSpace(raw)
		switch {
		case raw != "":
			return raw
		case def != "":
			return def
		}
		util.LogWarning("a value is required")
	}
}
