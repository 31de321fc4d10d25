package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pterm/pterm"

	"github.com/mamun-swe/client.remotedesk/internal/control"
	"github.com/mamun-swe/client.remotedesk/internal/protocol"
	"github.com/mamun-swe/client.remotedesk/internal/session"
)

// participant is the part of a Session the command loops use.
type participant interface {
	SendChat(text string) error
	State() session.State
}

// videoTarget is where guest key presses originate: the remote video, never
// a local text field.
var videoTarget = control.Target{Tag: "VIDEO"}

const hostHelp = `commands:
  allow on|off   enable or revoke remote control
  chat <text>    send a chat message
  status         show session, control and agent state
  quit           end the session`

const guestHelp = `commands:
  move <x> <y>            move the pointer (surface pixels)
  click <x> <y> [button]  click (button 0 primary, 2 secondary)
  wheel <dx> <dy>         scroll
  key <key> [code]        press and release a key, e.g. "key Enter" or "key a KeyA"
  chat <text>             send a chat message
  status                  show session state
  quit                    end the session`

// splitCommand returns the first word of line and the rest, trimmed.
func splitCommand(line string) (string, string) {
	line = strings.TrimSpace(line)
	name, rest, _ := strings.Cut(line, " ")
	return strings.ToLower(name), strings.TrimSpace(rest)
}

// ---------------------------------------------------------------------------
// Host
// ---------------------------------------------------------------------------

type hostREPL struct {
	sess   participant
	router *control.Router
	bridge interface{ Connected() bool }
	page   *control.HeadlessPage
}

// exec runs one host command and reports whether to quit.
func (h *hostREPL) exec(line string) (bool, error) {
	name, rest := splitCommand(line)
	switch name {
	case "":
		return false, nil
	case "quit", "exit":
		return true, nil
	case "help":
		pterm.Println(hostHelp)
	case "allow":
		switch strings.ToLower(rest) {
		case "on", "yes", "true":
			h.router.SetAllowed(true)
		case "off", "no", "false":
			h.router.SetAllowed(false)
		default:
			return false, fmt.Errorf("usage: allow on|off")
		}
	case "chat":
		return false, h.sess.SendChat(rest)
	case "status":
		x, y := h.page.Cursor()
		pterm.Info.Printfln("session %s, control %s, agent %s, cursor (%.0f,%.0f)",
			h.sess.State(), onOff(h.router.Allowed()), connectedText(h.bridge.Connected()), x, y)
	default:
		return false, fmt.Errorf("unknown command %q (try help)", name)
	}
	return false, nil
}

// ---------------------------------------------------------------------------
// Guest
// ---------------------------------------------------------------------------

type guestREPL struct {
	sess     participant
	capturer *control.Capturer
}

// exec runs one guest command and reports whether to quit.
func (g *guestREPL) exec(line string) (bool, error) {
	name, rest := splitCommand(line)
	args := strings.Fields(rest)

	var sent bool
	switch name {
	case "":
		return false, nil
	case "quit", "exit":
		return true, nil
	case "help":
		pterm.Println(guestHelp)
		return false, nil
	case "chat":
		return false, g.sess.SendChat(rest)
	case "status":
		surface := g.capturer.Surface()
		pterm.Info.Printfln("session %s, surface %dx%d", g.sess.State(), surface.Width, surface.Height)
		return false, nil

	case "move":
		nums, err := parseFloats(args, 2, 2)
		if err != nil {
			return false, fmt.Errorf("usage: move <x> <y>: %w", err)
		}
		sent = g.capturer.Move(nums[0], nums[1])
	case "click":
		nums, err := parseFloats(args, 2, 3)
		if err != nil {
			return false, fmt.Errorf("usage: click <x> <y> [button]: %w", err)
		}
		button := 0
		if len(nums) == 3 {
			button = int(nums[2])
		}
		sent = g.capturer.Click(nums[0], nums[1], button)
	case "wheel":
		nums, err := parseFloats(args, 2, 2)
		if err != nil {
			return false, fmt.Errorf("usage: wheel <dx> <dy>: %w", err)
		}
		sent = g.capturer.Wheel(nums[0], nums[1])
	case "key":
		if len(args) < 1 || len(args) > 2 {
			return false, fmt.Errorf("usage: key <key> [code]")
		}
		key, code := args[0], args[0]
		if len(args) == 2 {
			code = args[1]
		}
		sent = g.capturer.Key(videoTarget, key, code, protocol.Modifiers{}, protocol.PhaseDown)
		if sent {
			sent = g.capturer.Key(videoTarget, key, code, protocol.Modifiers{}, protocol.PhaseUp)
		}

	default:
		return false, fmt.Errorf("unknown command %q (try help)", name)
	}

	if !sent {
		return false, fmt.Errorf("%s not sent: control channel is not open", name)
	}
	return false, nil
}

// parseFloats parses between lo and hi numeric arguments.
func parseFloats(args []string, lo, hi int) ([]float64, error) {
	if len(args) < lo || len(args) > hi {
		return nil, fmt.Errorf("want %d to %d numbers, got %d", lo, hi, len(args))
	}
	out := make([]float64, len(args))
	for i, a := range args {
		v, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return nil, fmt.Errorf("bad number %q", a)
		}
		out[i] = v
	}
	return out, nil
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func connectedText(b bool) string {
	if b {
		return "connected"
	}
	return "not connected (in-page replay)"
}
