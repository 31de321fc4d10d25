package transport

import (
	"github.com/pion/webrtc/v4"
)

// DefaultSTUNServers are used when no ICE servers are configured. No TURN:
// relayed media needs infrastructure the deployment has to provide itself.
var DefaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:global.stun.twilio.com:3478",
}

// newPeerConnection creates a PeerConnection configured with the given STUN/
// TURN URLs. A nil list selects DefaultSTUNServers; an empty, non-nil list
// gathers host candidates only.
func newPeerConnection(iceServers []string) (*webrtc.PeerConnection, error) {
	if iceServers == nil {
		iceServers = DefaultSTUNServers
	}
	var config webrtc.Configuration
	if len(iceServers) > 0 {
		config.ICEServers = []webrtc.ICEServer{
			{URLs: iceServers},
		}
	}
	return webrtc.NewPeerConnection(config)
}

// newControlChannel creates the ordered, reliable DataChannel that carries
// control events and chat. Only the offering side calls this; the answering
// side receives the channel through OnDataChannel.
func newControlChannel(pc *webrtc.PeerConnection, label string) (*webrtc.DataChannel, error) {
	ordered := true
	return pc.CreateDataChannel(label, &webrtc.DataChannelInit{
		Ordered: &ordered,
	})
}
