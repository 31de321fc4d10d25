// Package transport wraps a pion PeerConnection behind the small surface the
// session negotiator needs: describe, add candidates, open data channels, and
// report connection state.
package transport

import (
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/mamun-swe/client.remotedesk/internal/util"
)

// Channel is the part of a pion DataChannel the control layer uses.
type Channel interface {
	Label() string
	ReadyState() webrtc.DataChannelState
	SendText(s string) error
	OnOpen(f func())
	OnClose(f func())
	OnMessage(f func(msg webrtc.DataChannelMessage))
	Close() error
}

// Compile-time interface check.
var _ Channel = (*webrtc.DataChannel)(nil)

// Options configures a Peer.
type Options struct {
	// ICEServers are STUN/TURN URLs. Nil means DefaultSTUNServers; an empty
	// slice disables STUN entirely.
	ICEServers []string

	// Video, when set, adds one video transceiver with this direction:
	// sendonly on the sharing side, recvonly on the viewing side. Media
	// capture and rendering happen outside this package.
	Video webrtc.RTPTransceiverDirection
}

// Peer is one side of a peer-to-peer session.
//
// Its lifecycle is owned by the caller: nothing here closes the connection on
// its own. The PeerConnection state is recorded and forwarded to the
// OnStateChange callback.
type Peer struct {
	pc *webrtc.PeerConnection

	mu      sync.RWMutex
	pcState webrtc.PeerConnectionState
	onState func(webrtc.PeerConnectionState)

	closeOnce sync.Once
	closeErr  error
}

// NewPeer creates a Peer backed by a new PeerConnection.
func NewPeer(opts Options) (*Peer, error) {
	pc, err := newPeerConnection(opts.ICEServers)
	if err != nil {
		return nil, err
	}

	if opts.Video != webrtc.RTPTransceiverDirectionUnknown {
		if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
			Direction: opts.Video,
		}); err != nil {
			pc.Close()
			return nil, err
		}
	}

	p := &Peer{
		pc:      pc,
		pcState: webrtc.PeerConnectionStateNew,
	}

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		util.LogDebug("PeerConnection state: %s", state.String())
		p.mu.Lock()
		p.pcState = state
		fn := p.onState
		p.mu.Unlock()
		if fn != nil {
			fn(state)
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		util.LogInfo("remote %s track %s (%s)", track.Kind(), track.ID(), track.Codec().MimeType)
	})

	return p, nil
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// ConnectionState returns the last observed PeerConnection state.
func (p *Peer) ConnectionState() webrtc.PeerConnectionState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.pcState
}

// OnStateChange registers the callback invoked on every PeerConnection state
// change. A later call replaces the earlier callback.
func (p *Peer) OnStateChange(fn func(webrtc.PeerConnectionState)) {
	p.mu.Lock()
	p.onState = fn
	p.mu.Unlock()
}

// Close shuts down the PeerConnection. Safe to call more than once.
func (p *Peer) Close() error {
	p.closeOnce.Do(func() {
		p.closeErr = p.pc.Close()
	})
	return p.closeErr
}

// ---------------------------------------------------------------------------
// Signaling
// ---------------------------------------------------------------------------

// CreateOffer generates an SDP offer and applies it as the local description.
func (p *Peer) CreateOffer() (webrtc.SessionDescription, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return offer, nil
}

// CreateAnswer generates an SDP answer and applies it as the local
// description. The remote offer must already be set.
func (p *Peer) CreateAnswer() (webrtc.SessionDescription, error) {
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return answer, nil
}

// SetRemoteDescription applies the remote SDP.
func (p *Peer) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	return p.pc.SetRemoteDescription(sdp)
}

// OnICECandidate registers a callback invoked for every local candidate
// gathered. The end-of-gathering signal is not forwarded.
func (p *Peer) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	p.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c != nil {
			fn(c.ToJSON())
		}
	})
}

// AddICECandidate adds a remote candidate received through signaling.
func (p *Peer) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return p.pc.AddICECandidate(candidate)
}

// ---------------------------------------------------------------------------
// Data
// ---------------------------------------------------------------------------

// CreateChannel opens an ordered, reliable data channel named label.
func (p *Peer) CreateChannel(label string) (Channel, error) {
	return newControlChannel(p.pc, label)
}

// OnChannel registers a callback invoked for every data channel the remote
// side opens.
func (p *Peer) OnChannel(fn func(Channel)) {
	p.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		fn(dc)
	})
}
