package session

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/mamun-swe/client.remotedesk/internal/protocol"
	"github.com/mamun-swe/client.remotedesk/internal/signaling"
	"github.com/mamun-swe/client.remotedesk/internal/transport"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

// Compile-time interface checks.
var (
	_ Transport         = (*fakeTransport)(nil)
	_ Transport         = (*transport.Peer)(nil)
	_ transport.Channel = (*fakeChannel)(nil)
)

// fakeTransport records every call in order. Channels it creates write their
// Close into the same log so teardown order is observable.
type fakeTransport struct {
	mu        sync.Mutex
	ops       []string
	onICE     func(webrtc.ICECandidateInit)
	onState   func(webrtc.PeerConnectionState)
	onChannel func(transport.Channel)
	channels  []*fakeChannel
}

func (f *fakeTransport) record(op string) {
	f.mu.Lock()
	f.ops = append(f.ops, op)
	f.mu.Unlock()
}

func (f *fakeTransport) log() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ops...)
}

func (f *fakeTransport) CreateOffer() (webrtc.SessionDescription, error) {
	f.record("offer")
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "fake-offer"}, nil
}

func (f *fakeTransport) CreateAnswer() (webrtc.SessionDescription, error) {
	f.record("answer")
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "fake-answer"}, nil
}

func (f *fakeTransport) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	f.record("remote:" + sdp.Type.String())
	return nil
}

func (f *fakeTransport) AddICECandidate(c webrtc.ICECandidateInit) error {
	f.record("ice:" + c.Candidate)
	return nil
}

func (f *fakeTransport) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	f.mu.Lock()
	f.onICE = fn
	f.mu.Unlock()
}

func (f *fakeTransport) OnStateChange(fn func(webrtc.PeerConnectionState)) {
	f.mu.Lock()
	f.onState = fn
	f.mu.Unlock()
}

func (f *fakeTransport) CreateChannel(label string) (transport.Channel, error) {
	f.record("channel:" + label)
	ch := &fakeChannel{label: label, owner: f, state: webrtc.DataChannelStateOpen}
	f.mu.Lock()
	f.channels = append(f.channels, ch)
	f.mu.Unlock()
	return ch, nil
}

func (f *fakeTransport) OnChannel(fn func(transport.Channel)) {
	f.mu.Lock()
	f.onChannel = fn
	f.mu.Unlock()
}

func (f *fakeTransport) Close() error {
	f.record("close")
	return nil
}

func (f *fakeTransport) emitState(st webrtc.PeerConnectionState) {
	f.mu.Lock()
	fn := f.onState
	f.mu.Unlock()
	fn(st)
}

func (f *fakeTransport) emitCandidate(c webrtc.ICECandidateInit) {
	f.mu.Lock()
	fn := f.onICE
	f.mu.Unlock()
	fn(c)
}

func (f *fakeTransport) emitChannel(ch transport.Channel) {
	f.mu.Lock()
	fn := f.onChannel
	f.mu.Unlock()
	fn(ch)
}

type fakeChannel struct {
	label string
	owner *fakeTransport

	mu        sync.Mutex
	state     webrtc.DataChannelState
	sent      []string
	onMessage func(webrtc.DataChannelMessage)
}

func (c *fakeChannel) Label() string { return c.label }

func (c *fakeChannel) ReadyState() webrtc.DataChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *fakeChannel) SendText(s string) error {
	c.mu.Lock()
	c.sent = append(c.sent, s)
	c.mu.Unlock()
	return nil
}

func (c *fakeChannel) OnOpen(func())  {}
func (c *fakeChannel) OnClose(func()) {}

func (c *fakeChannel) OnMessage(fn func(webrtc.DataChannelMessage)) {
	c.mu.Lock()
	c.onMessage = fn
	c.mu.Unlock()
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	c.state = webrtc.DataChannelStateClosed
	c.mu.Unlock()
	if c.owner != nil {
		c.owner.record("channel-close")
	}
	return nil
}

func (c *fakeChannel) deliver(s string) {
	c.mu.Lock()
	fn := c.onMessage
	c.mu.Unlock()
	fn(webrtc.DataChannelMessage{IsString: true, Data: []byte(s)})
}

func (c *fakeChannel) sentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

type fakeSignaler struct {
	mu   sync.Mutex
	sent []protocol.Message
}

func (f *fakeSignaler) Send(msg protocol.Message) error {
	f.mu.Lock()
	f.sent = append(f.sent, msg)
	f.mu.Unlock()
	return nil
}

func (f *fakeSignaler) types() []protocol.Type {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]protocol.Type, len(f.sent))
	for i, m := range f.sent {
		out[i] = m.Type
	}
	return out
}

// harness builds a Session over a fakeTransport and a fakeSignaler.
type harness struct {
	s       *Session
	sig     *fakeSignaler
	tr      *fakeTransport
	created int

	mu     sync.Mutex
	states []State
	ctrl   []protocol.ControlEvent
	chat   []string
}

func newHarness(t *testing.T, role protocol.Role) *harness {
	t.Helper()
	h := &harness{sig: &fakeSignaler{}, tr: &fakeTransport{}}
	h.s = New(Options{
		Role: role,
		OnStateChange: func(st State) {
			h.mu.Lock()
			h.states = append(h.states, st)
			h.mu.Unlock()
		},
		OnControl: func(ev protocol.ControlEvent) {
			h.mu.Lock()
			h.ctrl = append(h.ctrl, ev)
			h.mu.Unlock()
		},
		OnChat: func(text string) {
			h.mu.Lock()
			h.chat = append(h.chat, text)
			h.mu.Unlock()
		},
	}, h.sig, func() (Transport, error) {
		h.created++
		return h.tr, nil
	})
	t.Cleanup(func() { h.s.Close() })
	return h
}

// settle waits until everything queued so far has been processed.
func (h *harness) settle() {
	h.s.call(func() {})
}

func (h *harness) stateLog() []State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]State(nil), h.states...)
}

func offer() protocol.Message {
	return protocol.Offer(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "remote-offer"})
}

func answer() protocol.Message {
	return protocol.Answer(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "remote-answer"})
}

func ice(name string) protocol.Message {
	return protocol.ICE(webrtc.ICECandidateInit{Candidate: name})
}

// ---------------------------------------------------------------------------
// Negotiation
// ---------------------------------------------------------------------------

// TestGuestFlushesEarlyCandidates verifies that candidates arriving before the
// offer are applied in arrival order, exactly once, right after the remote
// description and before the answer is created.
func TestGuestFlushesEarlyCandidates(t *testing.T) {
	h := newHarness(t, protocol.RoleGuest)
	if err := h.s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if h.s.State() != StateAnswering {
		t.Fatalf("state = %s, want answering", h.s.State())
	}

	h.s.HandleSignal(ice("c1"))
	h.s.HandleSignal(ice("c2"))
	h.s.HandleSignal(ice("c3"))
	h.settle()
	if h.created != 0 {
		t.Fatal("transport created before the offer")
	}

	h.s.HandleSignal(offer())
	h.s.HandleSignal(ice("c4"))
	h.settle()

	want := []string{"remote:offer", "ice:c1", "ice:c2", "ice:c3", "answer", "ice:c4"}
	if got := h.tr.log(); !reflect.DeepEqual(got, want) {
		t.Fatalf("transport calls = %v, want %v", got, want)
	}
	if got := h.sig.types(); !reflect.DeepEqual(got, []protocol.Type{protocol.TypeAnswer}) {
		t.Errorf("signaled %v, want [answer]", got)
	}

	h.tr.emitState(webrtc.PeerConnectionStateConnected)
	h.settle()
	if h.s.State() != StateConnected {
		t.Errorf("state = %s, want connected", h.s.State())
	}
}

func TestHostOffersOnPeerJoin(t *testing.T) {
	h := newHarness(t, protocol.RoleHost)
	if err := h.s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if h.s.State() != StateIdle {
		t.Fatalf("host left idle before peer-join: %s", h.s.State())
	}

	h.s.HandleSignal(protocol.PeerJoin(protocol.RoleGuest))
	h.s.HandleSignal(ice("g1"))
	h.settle()
	if h.s.State() != StateOffering {
		t.Fatalf("state = %s, want offering", h.s.State())
	}
	if got := h.sig.types(); !reflect.DeepEqual(got, []protocol.Type{protocol.TypeOffer}) {
		t.Errorf("signaled %v, want [offer]", got)
	}

	// A local candidate is forwarded immediately.
	h.tr.emitCandidate(webrtc.ICECandidateInit{Candidate: "h1"})
	h.s.HandleSignal(answer())
	h.settle()

	want := []string{"channel:control", "offer", "remote:answer", "ice:g1"}
	if got := h.tr.log(); !reflect.DeepEqual(got, want) {
		t.Fatalf("transport calls = %v, want %v", got, want)
	}
	if got := h.sig.types(); !reflect.DeepEqual(got, []protocol.Type{protocol.TypeOffer, protocol.TypeICE}) {
		t.Errorf("signaled %v, want [offer ice]", got)
	}

	h.tr.emitState(webrtc.PeerConnectionStateConnected)
	h.settle()

	want2 := []State{StateOffering, StateConnected}
	if got := h.stateLog(); !reflect.DeepEqual(got, want2) {
		t.Errorf("states = %v, want %v", got, want2)
	}
}

func TestOfferOnStart(t *testing.T) {
	sig := &fakeSignaler{}
	tr := &fakeTransport{}
	s := New(Options{Role: protocol.RoleHost, OfferOnStart: true}, sig, func() (Transport, error) { return tr, nil })
	defer s.Close()

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if s.State() != StateOffering {
		t.Errorf("state = %s, want offering", s.State())
	}
}

// TestProtocolErrorsKeepState verifies that out-of-place signals are logged
// and leave both state and transport untouched.
func TestProtocolErrorsKeepState(t *testing.T) {
	t.Run("offer to host", func(t *testing.T) {
		h := newHarness(t, protocol.RoleHost)
		h.s.Start()
		h.s.HandleSignal(offer())
		h.settle()
		if h.s.State() != StateIdle || h.created != 0 {
			t.Errorf("state = %s created = %d", h.s.State(), h.created)
		}
	})

	t.Run("glare", func(t *testing.T) {
		h := newHarness(t, protocol.RoleHost)
		h.s.Start()
		h.s.HandleSignal(protocol.PeerJoin(protocol.RoleGuest))
		h.settle()
		before := h.tr.log()

		h.s.HandleSignal(offer())
		h.settle()
		if h.s.State() != StateOffering {
			t.Errorf("state = %s, want offering", h.s.State())
		}
		if got := h.tr.log(); !reflect.DeepEqual(got, before) {
			t.Errorf("transport touched: %v", got)
		}
	})

	t.Run("answer while answering", func(t *testing.T) {
		h := newHarness(t, protocol.RoleGuest)
		h.s.Start()
		h.s.HandleSignal(answer())
		h.settle()
		if h.s.State() != StateAnswering || h.created != 0 {
			t.Errorf("state = %s created = %d", h.s.State(), h.created)
		}
	})

	t.Run("answer while idle", func(t *testing.T) {
		h := newHarness(t, protocol.RoleHost)
		h.s.Start()
		h.s.HandleSignal(answer())
		h.settle()
		if h.s.State() != StateIdle {
			t.Errorf("state = %s, want idle", h.s.State())
		}
	})

	t.Run("peer-join with our role", func(t *testing.T) {
		h := newHarness(t, protocol.RoleHost)
		h.s.Start()
		h.s.HandleSignal(protocol.PeerJoin(protocol.RoleHost))
		h.settle()
		if h.s.State() != StateIdle || len(h.sig.types()) != 0 {
			t.Errorf("host reacted to another host: state = %s", h.s.State())
		}
	})

	t.Run("duplicate offer", func(t *testing.T) {
		h := newHarness(t, protocol.RoleGuest)
		h.s.Start()
		h.s.HandleSignal(offer())
		h.settle()
		before := h.tr.log()

		h.s.HandleSignal(offer())
		h.settle()
		if got := h.tr.log(); !reflect.DeepEqual(got, before) {
			t.Errorf("second offer reached the transport: %v", got)
		}
	})
}

// TestStateIsMonotonic verifies that repeated or late transport events never
// move the session backwards or re-announce a state.
func TestStateIsMonotonic(t *testing.T) {
	h := newHarness(t, protocol.RoleGuest)
	h.s.Start()
	h.s.HandleSignal(offer())
	h.settle()

	h.tr.emitState(webrtc.PeerConnectionStateConnected)
	h.tr.emitState(webrtc.PeerConnectionStateConnected)
	h.settle()
	h.tr.emitState(webrtc.PeerConnectionStateFailed)
	<-h.s.Done()
	h.tr.emitState(webrtc.PeerConnectionStateConnected)

	want := []State{StateAnswering, StateConnected, StateClosed}
	if got := h.stateLog(); !reflect.DeepEqual(got, want) {
		t.Errorf("states = %v, want %v", got, want)
	}
}

// ---------------------------------------------------------------------------
// Channel
// ---------------------------------------------------------------------------

func TestHostReceivesControl(t *testing.T) {
	h := newHarness(t, protocol.RoleHost)
	h.s.Start()
	h.s.HandleSignal(protocol.PeerJoin(protocol.RoleGuest))
	h.settle()

	ch := h.tr.channels[0]
	ch.deliver(`{"type":"ctrl","kind":"click","x":0.5,"y":0.5,"button":0}`)
	ch.deliver(`{"type":"chat","text":"hi host"}`)
	ch.deliver(`garbage`)
	h.settle()

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.ctrl) != 1 || h.ctrl[0] != protocol.Click(0.5, 0.5, 0) {
		t.Errorf("control events = %v", h.ctrl)
	}
	if len(h.chat) != 1 || h.chat[0] != "hi host" {
		t.Errorf("chat = %v", h.chat)
	}
}

func TestGuestAttachesRemoteChannel(t *testing.T) {
	h := newHarness(t, protocol.RoleGuest)
	h.s.Start()
	h.s.HandleSignal(offer())
	h.settle()

	if h.s.SendControl(protocol.Move(0.2, 0.2)) {
		t.Fatal("SendControl succeeded before a channel existed")
	}

	other := &fakeChannel{label: "files", state: webrtc.DataChannelStateOpen}
	ctrl := &fakeChannel{label: ControlLabel, state: webrtc.DataChannelStateOpen}
	h.tr.emitChannel(other)
	h.tr.emitChannel(ctrl)
	h.settle()

	if !h.s.SendControl(protocol.Move(0.2, 0.2)) {
		t.Fatal("SendControl dropped on an open control channel")
	}
	if ctrl.sentCount() != 1 || other.sentCount() != 0 {
		t.Errorf("sent control=%d other=%d", ctrl.sentCount(), other.sentCount())
	}

	// Control events arriving at a guest are ignored.
	ctrl.deliver(`{"type":"ctrl","kind":"move","x":0.1,"y":0.1}`)
	h.settle()
	h.mu.Lock()
	n := len(h.ctrl)
	h.mu.Unlock()
	if n != 0 {
		t.Errorf("guest delivered %d control events", n)
	}
}

func TestHostIgnoresRemoteChannelAndNeverSendsControl(t *testing.T) {
	h := newHarness(t, protocol.RoleHost)
	h.s.Start()
	h.s.HandleSignal(protocol.PeerJoin(protocol.RoleGuest))
	h.settle()

	rogue := &fakeChannel{label: ControlLabel, state: webrtc.DataChannelStateOpen}
	h.tr.emitChannel(rogue)
	h.settle()

	if h.s.SendControl(protocol.Key("a", "KeyA", protocol.Modifiers{}, protocol.PhaseDown)) {
		t.Error("host sent a control event")
	}
	if rogue.sentCount() != 0 || h.tr.channels[0].sentCount() != 0 {
		t.Error("a frame left the host")
	}
}

func TestChatFallsBackToRelay(t *testing.T) {
	h := newHarness(t, protocol.RoleGuest)
	h.s.Start()

	if err := h.s.SendChat("over the relay"); err != nil {
		t.Fatalf("SendChat: %v", err)
	}
	if got := h.sig.types(); !reflect.DeepEqual(got, []protocol.Type{protocol.TypeChat}) {
		t.Errorf("signaled %v, want [chat]", got)
	}

	h.s.HandleSignal(protocol.Chat("relayed reply"))
	h.settle()
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.chat) != 1 || h.chat[0] != "relayed reply" {
		t.Errorf("chat = %v", h.chat)
	}
}

// ---------------------------------------------------------------------------
// Teardown
// ---------------------------------------------------------------------------

func TestCloseOrderAndIdempotence(t *testing.T) {
	h := newHarness(t, protocol.RoleHost)
	h.s.Start()
	h.s.HandleSignal(protocol.PeerJoin(protocol.RoleGuest))
	h.settle()

	if err := h.s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := h.s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	select {
	case <-h.s.Done():
	case <-time.After(time.Second):
		t.Fatal("Done not closed")
	}

	want := []string{"channel:control", "offer", "channel-close", "close"}
	if got := h.tr.log(); !reflect.DeepEqual(got, want) {
		t.Errorf("transport calls = %v, want %v", got, want)
	}

	// Signals after close neither block nor reach the transport.
	h.s.HandleSignal(ice("late"))
	h.s.HandleSignal(answer())
	if got := h.tr.log(); len(got) != len(want) {
		t.Errorf("transport touched after close: %v", got)
	}
	if err := h.s.Start(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Start after close: %v", err)
	}
	if err := h.s.SendChat("anyone?"); !errors.Is(err, ErrInvalidState) {
		t.Errorf("SendChat after close: %v", err)
	}
}

func TestCloseFromIdleDiscardsBufferedCandidates(t *testing.T) {
	h := newHarness(t, protocol.RoleGuest)
	h.s.Start()
	h.s.HandleSignal(ice("c1"))
	h.settle()

	if err := h.s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if h.created != 0 {
		t.Error("transport created by close")
	}
	if h.s.State() != StateClosed {
		t.Errorf("state = %s", h.s.State())
	}
}

// ---------------------------------------------------------------------------
// End to end over real peer connections
// ---------------------------------------------------------------------------

func TestHostGuestOverPeerConnection(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	room := signaling.NewMemoryRoom()
	hostBus, guestBus := room.Connect(), room.Connect()
	defer hostBus.Close()
	defer guestBus.Close()
	factory := PeerFactory(transport.Options{ICEServers: []string{}})

	received := make(chan protocol.ControlEvent, 16)
	connected := make(chan struct{}, 2)
	onState := func(st State) {
		if st == StateConnected {
			connected <- struct{}{}
		}
	}

	host := New(Options{
		Role:          protocol.RoleHost,
		OnStateChange: onState,
		OnControl:     func(ev protocol.ControlEvent) { received <- ev },
	}, hostBus, factory)
	defer host.Close()

	guest := New(Options{Role: protocol.RoleGuest, OnStateChange: onState}, guestBus, factory)
	defer guest.Close()

	go host.Run(ctx, hostBus)
	go guest.Run(ctx, guestBus)

	if err := guest.Start(); err != nil {
		t.Fatalf("guest Start: %v", err)
	}
	if err := host.Start(); err != nil {
		t.Fatalf("host Start: %v", err)
	}
	if err := hostBus.Join("blue-fox", protocol.RoleHost); err != nil {
		t.Fatalf("host Join: %v", err)
	}
	if err := guestBus.Join("blue-fox", protocol.RoleGuest); err != nil {
		t.Fatalf("guest Join: %v", err)
	}

	for i := 0; i < 2; i++ {
		select {
		case <-connected:
		case <-ctx.Done():
			t.Fatalf("timed out waiting for connection: host=%s guest=%s", host.State(), guest.State())
		}
	}

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	want := protocol.Click(0.5, 0.5, 0)
	for !guest.SendControl(want) {
		select {
		case <-ticker.C:
		case <-ctx.Done():
			t.Fatal("control channel never opened on the guest")
		}
	}

	select {
	case got := <-received:
		if got != want {
			t.Errorf("host received %+v, want %+v", got, want)
		}
	case <-ctx.Done():
		t.Fatal("host never received the control event")
	}
}
