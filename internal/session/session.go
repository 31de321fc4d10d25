// Package session negotiates one peer-to-peer session between a host and a
// guest over a signaling bus.
//
// A Session is an actor: signaling messages, transport callbacks, channel
// messages and the public lifecycle calls all run one at a time on a single
// goroutine, so negotiation state needs no further locking. The state itself
// is mirrored behind a read lock for observers.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/mamun-swe/client.remotedesk/internal/channel"
	"github.com/mamun-swe/client.remotedesk/internal/protocol"
	"github.com/mamun-swe/client.remotedesk/internal/transport"
	"github.com/mamun-swe/client.remotedesk/internal/util"
)

// ControlLabel is the label of the data channel carrying control events.
const ControlLabel = "control"

// defaultInboxSize is the depth of the actor inbox.
const defaultInboxSize = 64

// Transport is the peer connection surface the negotiator drives.
// *transport.Peer implements it.
type Transport interface {
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetRemoteDescription(sdp webrtc.SessionDescription) error
	AddICECandidate(c webrtc.ICECandidateInit) error
	OnICECandidate(fn func(webrtc.ICECandidateInit))
	OnStateChange(fn func(webrtc.PeerConnectionState))
	CreateChannel(label string) (transport.Channel, error)
	OnChannel(fn func(transport.Channel))
	Close() error
}

// TransportFactory creates the Transport when negotiation begins.
type TransportFactory func() (Transport, error)

// PeerFactory returns a TransportFactory backed by transport.NewPeer.
func PeerFactory(opts transport.Options) TransportFactory {
	return func() (Transport, error) {
		p, err := transport.NewPeer(opts)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}

// Signaler sends messages to the other member of the room.
type Signaler interface {
	Send(msg protocol.Message) error
}

// Receiver yields messages from the other member of the room.
type Receiver interface {
	Receive(ctx context.Context) (protocol.Message, error)
}

// Options configures a Session.
type Options struct {
	Role protocol.Role

	// OfferOnStart makes a host offer immediately instead of waiting for a
	// peer-join announcement.
	OfferOnStart bool

	// OnControl receives control events from the guest. Host only.
	OnControl func(protocol.ControlEvent)

	// OnChat receives chat text from either path.
	OnChat func(text string)

	// OnStateChange observes every transition, including the final Closed.
	OnStateChange func(State)

	// InboxSize overrides the actor inbox depth.
	InboxSize int
}

// Session owns the transport and the control channel of one participant.
type Session struct {
	opts         Options
	sig          Signaler
	newTransport TransportFactory
	log          util.Logger

	inbox   chan func()
	done    chan struct{}
	stopped bool // actor-owned; set by shutdown

	mu    sync.RWMutex
	state State

	// Owned by the actor goroutine.
	tr        Transport
	remoteSet bool
	pending   *CandidateBuffer

	channel *channel.ControlChannel
}

// New creates a Session in Idle and starts its actor goroutine. The caller
// must eventually call Close.
func New(opts Options, sig Signaler, newTransport TransportFactory) *Session {
	size := opts.InboxSize
	if size <= 0 {
		size = defaultInboxSize
	}

	s := &Session{
		opts:         opts,
		sig:          sig,
		newTransport: newTransport,
		log:          util.Tagged("session/" + string(opts.Role)),
		inbox:        make(chan func(), size),
		done:         make(chan struct{}),
		pending:      NewCandidateBuffer(MaxBufferedCandidates),
	}
	s.channel = channel.New(s.onChannelMessage, util.Tagged("channel/"+string(opts.Role)))

	go s.loop()
	return s
}

// ---------------------------------------------------------------------------
// Actor
// ---------------------------------------------------------------------------

func (s *Session) loop() {
	for fn := range s.inbox {
		fn()
		if s.stopped {
			close(s.done)
			return
		}
	}
}

// post queues fn, waiting for room. Returns false once the session is done.
func (s *Session) post(fn func()) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.inbox <- fn:
		return true
	case <-s.done:
		return false
	}
}

// tryPost queues fn only if the inbox has room.
func (s *Session) tryPost(fn func()) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.inbox <- fn:
		return true
	default:
		return false
	}
}

// call runs fn on the actor and waits for it. Returns false if the session
// finished before fn ran.
func (s *Session) call(fn func()) bool {
	ran := make(chan struct{})
	if !s.post(func() {
		fn()
		close(ran)
	}) {
		return false
	}

	select {
	case <-ran:
		return true
	case <-s.done:
		// done is closed after the item that stopped the actor completed.
		select {
		case <-ran:
			return true
		default:
			return false
		}
	}
}

// ---------------------------------------------------------------------------
// Public API
// ---------------------------------------------------------------------------

// Role returns the role this session plays.
func (s *Session) Role() protocol.Role {
	return s.opts.Role
}

// State returns the current negotiation state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Done is closed once the session has reached Closed and released its
// resources.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Start begins negotiation for the configured role. A guest moves to
// Answering and waits for an offer; a host waits for a peer-join, or offers
// at once when OfferOnStart is set.
func (s *Session) Start() error {
	var err error
	if !s.call(func() {
		switch s.opts.Role {
		case protocol.RoleGuest:
			err = s.startAsAnswerer()
		case protocol.RoleHost:
			if s.opts.OfferOnStart {
				err = s.startAsOfferer()
			}
		default:
			err = fmt.Errorf("%w: %q", ErrWrongRole, s.opts.Role)
		}
	}) {
		return fmt.Errorf("%w: session closed", ErrInvalidState)
	}
	return err
}

// HandleSignal queues a message received from the signaling bus.
func (s *Session) HandleSignal(msg protocol.Message) {
	s.post(func() {
		if err := s.handleSignal(msg); err != nil {
			s.log.Warn("%s: %v", msg.Type, err)
		}
	})
}

// Run feeds messages from r into the session until ctx ends, r fails, or the
// session closes. A session that closed on its own is not an error.
func (s *Session) Run(ctx context.Context, r Receiver) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-s.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		msg, err := r.Receive(ctx)
		if err != nil {
			select {
			case <-s.done:
				return nil
			default:
			}
			return err
		}
		s.HandleSignal(msg)
	}
}

// SendControl sends a control event to the host over the data channel. It
// never queues: events sent while the channel is not open are dropped. A
// host never sends control events.
func (s *Session) SendControl(ev protocol.ControlEvent) bool {
	if s.opts.Role != protocol.RoleGuest {
		s.log.Debug("not sending %s while hosting", ev)
		return false
	}
	return s.channel.Send(protocol.Control(ev))
}

// SendChat sends text over the data channel when it is open and through the
// signaling bus otherwise.
func (s *Session) SendChat(text string) error {
	if text == "" {
		return nil
	}
	if s.channel.IsOpen() && s.channel.Send(protocol.Chat(text)) {
		return nil
	}
	if s.State() == StateClosed {
		return fmt.Errorf("%w: session closed", ErrInvalidState)
	}
	return s.sig.Send(protocol.Chat(text))
}

// Close tears the session down: control channel first, then transport.
// Safe to call more than once.
func (s *Session) Close() error {
	var err error
	s.call(func() {
		err = s.shutdown("closed locally")
	})
	return err
}

// ---------------------------------------------------------------------------
// Negotiation (actor goroutine only)
// ---------------------------------------------------------------------------

func (s *Session) setState(next State) error {
	s.mu.Lock()
	prev := s.state
	if !prev.CanTransition(next) {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidState, prev, next)
	}
	s.state = next
	s.mu.Unlock()

	s.log.Info("%s -> %s", prev, next)
	if s.opts.OnStateChange != nil {
		s.opts.OnStateChange(next)
	}
	return nil
}

func (s *Session) ensureTransport() error {
	if s.tr != nil {
		return nil
	}

	tr, err := s.newTransport()
	if err != nil {
		return fmt.Errorf("create transport: %w", err)
	}
	s.tr = tr

	tr.OnICECandidate(func(c webrtc.ICECandidateInit) {
		s.post(func() { s.onLocalCandidate(c) })
	})
	tr.OnStateChange(func(st webrtc.PeerConnectionState) {
		s.post(func() { s.onTransportState(st) })
	})
	tr.OnChannel(func(ch transport.Channel) {
		s.post(func() { s.onRemoteChannel(ch) })
	})
	return nil
}

func (s *Session) startAsOfferer() error {
	if state := s.State(); state != StateIdle {
		return fmt.Errorf("%w: cannot offer while %s", ErrInvalidState, state)
	}
	if err := s.ensureTransport(); err != nil {
		s.fail(err)
		return err
	}

	ch, err := s.tr.CreateChannel(ControlLabel)
	if err != nil {
		err = fmt.Errorf("create control channel: %w", err)
		s.fail(err)
		return err
	}
	s.channel.Attach(ch)

	offer, err := s.tr.CreateOffer()
	if err != nil {
		err = fmt.Errorf("create offer: %w", err)
		s.fail(err)
		return err
	}
	if err := s.setState(StateOffering); err != nil {
		return err
	}
	return s.signal(protocol.Offer(offer))
}

func (s *Session) startAsAnswerer() error {
	return s.setState(StateAnswering)
}

func (s *Session) handleSignal(msg protocol.Message) error {
	if s.State() == StateClosed {
		s.log.Debug("discarding %s after close", msg.Type)
		return nil
	}

	switch msg.Type {
	case protocol.TypePeerJoin:
		return s.onPeerJoin(msg.Role)
	case protocol.TypeOffer, protocol.TypeAnswer:
		if msg.SDP == nil {
			return fmt.Errorf("%w: no sdp", protocol.ErrMalformed)
		}
		if msg.Type == protocol.TypeOffer {
			return s.onRemoteOffer(*msg.SDP)
		}
		return s.onRemoteAnswer(*msg.SDP)
	case protocol.TypeICE:
		if msg.Candidate == nil {
			return fmt.Errorf("%w: no candidate", protocol.ErrMalformed)
		}
		return s.onRemoteCandidate(*msg.Candidate)
	case protocol.TypeChat:
		s.deliverChat(msg.Text)
	case protocol.TypeControl:
		s.log.Warn("ignoring control event received through the relay")
	default:
		s.log.Debug("ignoring %s", msg.Type)
	}
	return nil
}

func (s *Session) onPeerJoin(role protocol.Role) error {
	if role == s.opts.Role {
		return fmt.Errorf("%w: peer also joined as %s", ErrWrongRole, role)
	}
	if s.opts.Role == protocol.RoleHost && s.State() == StateIdle {
		s.log.Info("peer joined, offering")
		return s.startAsOfferer()
	}
	s.log.Debug("peer-join while %s", s.State())
	return nil
}

func (s *Session) onRemoteOffer(sdp webrtc.SessionDescription) error {
	if s.opts.Role == protocol.RoleHost {
		return fmt.Errorf("%w: host received an offer", ErrWrongRole)
	}
	switch state := s.State(); {
	case state == StateOffering:
		return fmt.Errorf("%w: offer while offering", ErrInvalidState)
	case state != StateIdle && state != StateAnswering:
		return fmt.Errorf("%w: offer while %s", ErrInvalidState, state)
	case s.remoteSet:
		return fmt.Errorf("%w: duplicate offer", ErrInvalidState)
	}

	if err := s.ensureTransport(); err != nil {
		s.fail(err)
		return err
	}
	if err := s.tr.SetRemoteDescription(sdp); err != nil {
		return fmt.Errorf("set remote offer: %w", err)
	}
	s.remoteSet = true
	s.flushCandidates()

	answer, err := s.tr.CreateAnswer()
	if err != nil {
		err = fmt.Errorf("create answer: %w", err)
		s.fail(err)
		return err
	}
	if s.State() == StateIdle {
		if err := s.setState(StateAnswering); err != nil {
			return err
		}
	}
	return s.signal(protocol.Answer(answer))
}

func (s *Session) onRemoteAnswer(sdp webrtc.SessionDescription) error {
	if state := s.State(); state != StateOffering {
		return fmt.Errorf("%w: answer while %s", ErrInvalidState, state)
	}
	if s.remoteSet {
		return fmt.Errorf("%w: duplicate answer", ErrInvalidState)
	}
	if err := s.tr.SetRemoteDescription(sdp); err != nil {
		return fmt.Errorf("set remote answer: %w", err)
	}
	s.remoteSet = true
	s.flushCandidates()
	return nil
}

func (s *Session) onRemoteCandidate(c webrtc.ICECandidateInit) error {
	if s.remoteSet {
		if err := s.tr.AddICECandidate(c); err != nil {
			return fmt.Errorf("add candidate: %w", err)
		}
		return nil
	}
	if err := s.pending.Push(c); err != nil {
		return fmt.Errorf("discarding candidate: %w", err)
	}
	s.log.Debug("buffered candidate (%d pending)", s.pending.Len())
	return nil
}

// flushCandidates applies buffered candidates in arrival order. A candidate
// the transport refuses is logged and skipped.
func (s *Session) flushCandidates() {
	pending := s.pending.Drain()
	if len(pending) == 0 {
		return
	}
	s.log.Debug("applying %d buffered candidates", len(pending))
	for _, c := range pending {
		if err := s.tr.AddICECandidate(c); err != nil {
			s.log.Warn("add buffered candidate: %v", err)
		}
	}
}

func (s *Session) onLocalCandidate(c webrtc.ICECandidateInit) {
	if s.State() == StateClosed {
		return
	}
	if err := s.signal(protocol.ICE(c)); err != nil {
		s.log.Warn("%v", err)
	}
}

func (s *Session) onTransportState(st webrtc.PeerConnectionState) {
	switch st {
	case webrtc.PeerConnectionStateConnected:
		if s.State().Negotiating() {
			if err := s.setState(StateConnected); err != nil {
				s.log.Warn("%v", err)
			}
		}
	case webrtc.PeerConnectionStateFailed,
		webrtc.PeerConnectionStateDisconnected,
		webrtc.PeerConnectionStateClosed:
		if err := s.shutdown("transport " + st.String()); err != nil {
			s.log.Warn("close: %v", err)
		}
	}
}

func (s *Session) onRemoteChannel(ch transport.Channel) {
	if s.opts.Role == protocol.RoleHost {
		s.log.Warn("ignoring data channel %q opened by the guest", ch.Label())
		return
	}
	if ch.Label() != ControlLabel {
		s.log.Debug("ignoring data channel %q", ch.Label())
		return
	}
	if s.State() == StateClosed {
		ch.Close()
		return
	}
	s.channel.Attach(ch)
}

// onChannelMessage runs on the transport's callback goroutine. It must not
// block, so a full inbox drops the message.
func (s *Session) onChannelMessage(msg protocol.Message) {
	if !s.tryPost(func() { s.dispatchChannel(msg) }) {
		util.Stats.AddDropped()
		s.log.Debug("inbox full, dropped %s", msg.Type)
	}
}

func (s *Session) dispatchChannel(msg protocol.Message) {
	switch msg.Type {
	case protocol.TypeControl:
		if s.opts.Role != protocol.RoleHost {
			s.log.Debug("ignoring control event sent to a guest")
			return
		}
		if s.opts.OnControl != nil {
			s.opts.OnControl(msg.Event)
		}
	case protocol.TypeChat:
		s.deliverChat(msg.Text)
	default:
		s.log.Debug("ignoring %s on the control channel", msg.Type)
	}
}

func (s *Session) deliverChat(text string) {
	if s.opts.OnChat != nil {
		s.opts.OnChat(text)
	}
}

func (s *Session) signal(msg protocol.Message) error {
	if err := s.sig.Send(msg); err != nil {
		return fmt.Errorf("send %s: %w", msg.Type, err)
	}
	return nil
}

// fail logs a transport error and closes the session.
func (s *Session) fail(err error) {
	s.log.Error("%v", err)
	if cerr := s.shutdown("negotiation failed"); cerr != nil {
		s.log.Warn("close: %v", cerr)
	}
}

// shutdown moves to Closed, then releases the control channel before the
// transport. Idempotent.
func (s *Session) shutdown(reason string) error {
	if s.State() == StateClosed {
		return nil
	}
	s.log.Info("closing: %s", reason)

	var errs []error
	if err := s.channel.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close channel: %w", err))
	}
	if s.tr != nil {
		if err := s.tr.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close transport: %w", err))
		}
	}
	if n := s.pending.Len(); n > 0 {
		s.log.Debug("discarding %d buffered candidates", n)
	}
	s.pending.Clear()

	if err := s.setState(StateClosed); err != nil {
		errs = append(errs, err)
	}
	s.stopped = true
	return errors.Join(errs...)
}
