package main

import (
	"bufio"
	"context"
	"errors"
	"os"

	"github.com/pion/webrtc/v4"
	"github.com/pterm/pterm"

	"github.com/mamun-swe/client.remotedesk/internal/agent"
	"github.com/mamun-swe/client.remotedesk/internal/config"
	"github.com/mamun-swe/client.remotedesk/internal/control"
	"github.com/mamun-swe/client.remotedesk/internal/protocol"
	"github.com/mamun-swe/client.remotedesk/internal/session"
	"github.com/mamun-swe/client.remotedesk/internal/signaling"
	"github.com/mamun-swe/client.remotedesk/internal/transport"
	"github.com/mamun-swe/client.remotedesk/internal/util"
)

// ---------------------------------------------------------------------------
// Run modes
// ---------------------------------------------------------------------------

// runHost shares the screen and routes the guest's control events.
func runHost(ctx context.Context, cfg *config.Config) error {
	room := cfg.EnsureRoom()

	bus, err := openBus(ctx, cfg)
	if err != nil {
		return err
	}
	defer bus.Close()

	page := control.NewHeadlessPage(viewport(cfg))
	bridge := agent.Dial(ctx, agent.BridgeOptions{URL: cfg.Agent.URL, Token: cfg.Agent.Token})
	defer bridge.Close()

	router := control.NewRouter(&control.Policy{}, bridge, control.NewReplayer(page))
	defer router.Close()

	sess := session.New(session.Options{
		Role:          protocol.RoleHost,
		OfferOnStart:  cfg.OfferOnStart,
		OnControl:     func(ev protocol.ControlEvent) { router.Handle(ev) },
		OnChat:        printChat,
		OnStateChange: printState,
	}, bus, session.PeerFactory(transport.Options{
		ICEServers: cfg.STUN,
		Video:      webrtc.RTPTransceiverDirectionSendonly,
	}))

	if err := join(ctx, bus, sess, room); err != nil {
		sess.Close()
		return err
	}

	pterm.Success.Printfln("hosting room %s", room)
	pterm.Info.Printfln("the guest joins with: remotedesk guest --room %s", room)
	pterm.Info.Println("remote control is off; type 'allow on' to enable it, 'help' for commands")

	h := &hostREPL{sess: sess, router: router, bridge: bridge, page: page}
	return repl(ctx, sess, h.exec)
}

// runGuest views the host and sends control events.
func runGuest(ctx context.Context, cfg *config.Config) error {
	bus, err := openBus(ctx, cfg)
	if err != nil {
		return err
	}
	defer bus.Close()

	sess := session.New(session.Options{
		Role:          protocol.RoleGuest,
		OnChat:        printChat,
		OnStateChange: printState,
	}, bus, session.PeerFactory(transport.Options{
		ICEServers: cfg.STUN,
		Video:      webrtc.RTPTransceiverDirectionRecvonly,
	}))

	if err := join(ctx, bus, sess, cfg.Room); err != nil {
		sess.Close()
		return err
	}

	pterm.Success.Printfln("joined room %s", cfg.Room)
	pterm.Info.Println("type 'help' for commands; pointer coordinates are pixels of the viewer surface")

	g := &guestREPL{
		sess:     sess,
		capturer: control.NewCapturer(protocol.RoleGuest, viewport(cfg), sess.SendControl),
	}
	return repl(ctx, sess, g.exec)
}

// runRelay serves the reference signaling relay.
func runRelay(ctx context.Context, cfg *config.Config) error {
	return signaling.NewRelay().ListenAndServe(ctx, cfg.RelayListen)
}

// runAgent serves the reference input agent. Only one agent runs per machine.
func runAgent(ctx context.Context, cfg *config.Config) error {
	lockPath := cfg.Agent.LockPath
	if lockPath == "" {
		lockPath = agent.DefaultLockPath()
	}
	unlock, err := agent.Lock(lockPath)
	if err != nil {
		return err
	}
	defer unlock()

	if cfg.Agent.Token == "" {
		util.LogWarning("no agent token configured; any local process can drive input (set %s)", config.EnvAgentToken)
	}

	server := agent.NewServer(agent.ServerOptions{Token: cfg.Agent.Token})
	return server.ListenAndServe(ctx, cfg.Agent.Listen)
}

// ---------------------------------------------------------------------------
// Helper Functions
// ---------------------------------------------------------------------------

// openBus connects to the MQTT broker when one is configured and to the
// websocket relay otherwise.
func openBus(ctx context.Context, cfg *config.Config) (signaling.Bus, error) {
	if cfg.MQTT.Broker != "" {
		b, err := signaling.DialMQTT(ctx, signaling.MQTTOptions{Broker: cfg.MQTT.Broker, Prefix: cfg.MQTT.Prefix})
		if err != nil {
			return nil, err
		}
		util.LogInfo("signaling through MQTT broker %s", cfg.MQTT.Broker)
		return b, nil
	}

	wsURL, err := config.NormalizeWSURL(cfg.RelayURL)
	if err != nil {
		return nil, err
	}
	b, err := signaling.Dial(ctx, wsURL)
	if err != nil {
		return nil, err
	}
	util.LogInfo("signaling through relay %s", wsURL)
	return b, nil
}

// join enters the room, starts negotiation and feeds bus messages to the
// session in the background. Joining comes first: the relay drops frames
// sent before a join.
func join(ctx context.Context, bus signaling.Bus, sess *session.Session, room string) error {
	if err := bus.Join(room, sess.Role()); err != nil {
		return err
	}
	if err := sess.Start(); err != nil {
		return err
	}

	util.StartStatsReporter(ctx)
	go func() {
		if err := sess.Run(ctx, bus); err != nil && !errors.Is(err, context.Canceled) {
			util.LogError("signaling stopped: %v", err)
			sess.Close()
		}
	}()
	return nil
}

// repl reads commands from stdin until quit, Ctrl+C, or the session closes.
func repl(ctx context.Context, sess *session.Session, exec func(line string) (bool, error)) error {
	defer sess.Close()

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sess.Done():
			util.LogInfo("session closed")
			return nil
		case line, ok := <-lines:
			if !ok {
				// stdin closed; keep serving until the session ends.
				lines = nil
				continue
			}
			quit, err := exec(line)
			if err != nil {
				util.LogWarning("%v", err)
			}
			if quit {
				return nil
			}
		}
	}
}

func viewport(cfg *config.Config) control.Viewport {
	return control.Viewport{Width: cfg.Viewport.Width, Height: cfg.Viewport.Height}
}

func printChat(text string) {
	pterm.Info.Printfln("peer: %s", text)
}

func printState(st session.State) {
	switch st {
	case session.StateConnected:
		util.LogSuccess("peer connected")
	case session.StateClosed:
		util.LogInfo("peer connection closed")
	default:
		util.LogDebug("session %s", st)
	}
}
