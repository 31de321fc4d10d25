package main

import (
	"errors"
	"testing"

	"github.com/mamun-swe/client.remotedesk/internal/control"
	"github.com/mamun-swe/client.remotedesk/internal/protocol"
	"github.com/mamun-swe/client.remotedesk/internal/session"
)

type fakeParticipant struct {
	chats []string
	err   error
}

func (p *fakeParticipant) SendChat(text string) error {
	p.chats = append(p.chats, text)
	return p.err
}

func (p *fakeParticipant) State() session.State { return session.StateConnected }

type fakeAgentLink struct{ up bool }

func (f fakeAgentLink) Connected() bool { return f.up }

func newGuest(open bool) (*guestREPL, *fakeParticipant, *[]protocol.ControlEvent) {
	var sent []protocol.ControlEvent
	p := &fakeParticipant{}
	send := func(ev protocol.ControlEvent) bool {
		if !open {
			return false
		}
		sent = append(sent, ev)
		return true
	}
	capturer := control.NewCapturer(protocol.RoleGuest, control.Viewport{Width: 1280, Height: 720}, send)
	return &guestREPL{sess: p, capturer: capturer}, p, &sent
}

func TestGuestCommands(t *testing.T) {
	tests := []struct {
		line string
		want []protocol.ControlEvent
	}{
		{"move 640 360", []protocol.ControlEvent{protocol.Move(0.5, 0.5)}},
		{"  click 1280 0 2 ", []protocol.ControlEvent{protocol.Click(1, 0, 2)}},
		{"click 2560 -10", []protocol.ControlEvent{protocol.Click(1, 0, 0)}},
		{"wheel 0 120", []protocol.ControlEvent{protocol.Wheel(0, 120)}},
		{"key Enter", []protocol.ControlEvent{
			protocol.Key("Enter", "Enter", protocol.Modifiers{}, protocol.PhaseDown),
			protocol.Key("Enter", "Enter", protocol.Modifiers{}, protocol.PhaseUp),
		}},
		{"KEY a KeyA", []protocol.ControlEvent{
			protocol.Key("a", "KeyA", protocol.Modifiers{}, protocol.PhaseDown),
			protocol.Key("a", "KeyA", protocol.Modifiers{}, protocol.PhaseUp),
		}},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			g, _, sent := newGuest(true)
			quit, err := g.exec(tt.line)
			if quit || err != nil {
				t.Fatalf("exec = %v, %v", quit, err)
			}
			if len(*sent) != len(tt.want) {
				t.Fatalf("sent %v, want %v", *sent, tt.want)
			}
			for i := range tt.want {
				if (*sent)[i] != tt.want[i] {
					t.Errorf("event %d = %s, want %s", i, (*sent)[i], tt.want[i])
				}
			}
		})
	}
}

func TestGuestCommandErrors(t *testing.T) {
	for _, line := range []string{"move 1", "move a b", "click 1 2 3 4", "wheel", "key", "fly 1 2"} {
		g, _, sent := newGuest(true)
		if _, err := g.exec(line); err == nil {
			t.Errorf("exec(%q) succeeded", line)
		}
		if len(*sent) != 0 {
			t.Errorf("exec(%q) sent %v", line, *sent)
		}
	}

	g, _, _ := newGuest(false)
	if _, err := g.exec("move 1 1"); err == nil {
		t.Error("move on a closed channel reported success")
	}
}

func TestGuestChatAndQuit(t *testing.T) {
	g, p, sent := newGuest(false)

	if _, err := g.exec("chat  hello there "); err != nil {
		t.Fatalf("chat: %v", err)
	}
	if len(p.chats) != 1 || p.chats[0] != "hello there" {
		t.Errorf("chats = %q", p.chats)
	}
	if len(*sent) != 0 {
		t.Errorf("chat produced control events: %v", *sent)
	}

	for _, line := range []string{"", "   ", "status", "help"} {
		if quit, err := g.exec(line); quit || err != nil {
			t.Errorf("exec(%q) = %v, %v", line, quit, err)
		}
	}
	if quit, _ := g.exec("quit"); !quit {
		t.Error("quit did not quit")
	}
}

func TestHostCommands(t *testing.T) {
	page := control.NewHeadlessPage(control.Viewport{Width: 1280, Height: 720})
	router := control.NewRouter(&control.Policy{}, nil, control.NewReplayer(page))
	defer router.Close()
	p := &fakeParticipant{}
	h := &hostREPL{sess: p, router: router, bridge: fakeAgentLink{}, page: page}

	if _, err := h.exec("allow on"); err != nil {
		t.Fatalf("allow on: %v", err)
	}
	if !router.Allowed() {
		t.Error("allow on did not allow control")
	}
	if router.Handle(protocol.Move(0.5, 0.5)) != control.Accept {
		t.Error("move rejected after allow on")
	}

	if _, err := h.exec("allow OFF"); err != nil {
		t.Fatalf("allow off: %v", err)
	}
	if router.Allowed() {
		t.Error("allow off did not revoke control")
	}
	if _, err := h.exec("allow maybe"); err == nil {
		t.Error("allow maybe succeeded")
	}

	p.err = errors.New("relay gone")
	if _, err := h.exec("chat hi"); err == nil {
		t.Error("chat error was not reported")
	}
	if len(p.chats) != 1 || p.chats[0] != "hi" {
		t.Errorf("chats = %q", p.chats)
	}

	if _, err := h.exec("status"); err != nil {
		t.Errorf("status: %v", err)
	}
	if _, err := h.exec("reboot"); err == nil {
		t.Error("unknown command succeeded")
	}
	if quit, _ := h.exec("exit"); !quit {
		t.Error("exit did not quit")
	}
}
