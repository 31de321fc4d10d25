// Package protocol defines the JSON frames exchanged with the signaling relay,
// over the peer control channel, and with the local privileged agent.
//
// All three links share one envelope, Message, discriminated by Type. Control
// events are flattened into the envelope on the wire (kind, x, y, ...), the
// same shape the browser client produces.
package protocol

import (
	"github.com/pion/webrtc/v4"
)

// Type identifies the kind of frame.
type Type string

const (
	TypeJoin       Type = "join"        // client → relay
	TypePeerJoin   Type = "peer-join"   // relay → client
	TypeOffer      Type = "offer"       // peer → peer via relay
	TypeAnswer     Type = "answer"      // peer → peer via relay
	TypeICE        Type = "ice"         // peer → peer via relay
	TypeChat       Type = "chat"        // peer → peer, channel or relay
	TypeControl    Type = "ctrl"        // guest → host over the control channel; host → agent
	TypeHello      Type = "hello"       // host → agent
	TypeSetAllowed Type = "set-allowed" // host → agent
)

// Role is the part a participant plays in a session. It is chosen before the
// session exists and never negotiated.
type Role string

const (
	RoleHost  Role = "host"  // shares its screen, offers, accepts control
	RoleGuest Role = "guest" // views, answers, sends control
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleHost || r == RoleGuest
}

// Message is one frame on any of the three links. Only the fields relevant to
// Type are meaningful; the codec ignores the rest.
type Message struct {
	Type Type

	RoomID string // join
	Role   Role   // join, peer-join (optional)

	SDP       *webrtc.SessionDescription // offer, answer
	Candidate *webrtc.ICECandidateInit   // ice

	Text  string       // chat
	Event ControlEvent // ctrl

	Token   string // hello, set-allowed, ctrl (agent link only)
	Allowed bool   // set-allowed
}

// Join builds a join frame announcing role in roomID.
func Join(roomID string, role Role) Message {
	return Message{Type: TypeJoin, RoomID: roomID, Role: role}
}

// PeerJoin builds a peer-join frame for a member playing role.
func PeerJoin(role Role) Message {
	return Message{Type: TypePeerJoin, Role: role}
}

// Offer wraps a local offer description.
func Offer(sdp webrtc.SessionDescription) Message {
	return Message{Type: TypeOffer, SDP: &sdp}
}

// Answer wraps a local answer description.
func Answer(sdp webrtc.SessionDescription) Message {
	return Message{Type: TypeAnswer, SDP: &sdp}
}

// ICE wraps a trickled candidate.
func ICE(candidate webrtc.ICECandidateInit) Message {
	return Message{Type: TypeICE, Candidate: &candidate}
}

// Chat builds a chat frame.
func Chat(text string) Message {
	return Message{Type: TypeChat, Text: text}
}

// Control wraps a control event.
func Control(ev ControlEvent) Message {
	return Message{Type: TypeControl, Event: ev}
}

// Hello builds the agent greeting.
func Hello(token string) Message {
	return Message{Type: TypeHello, Token: token}
}

// SetAllowed builds the agent authorization toggle.
func SetAllowed(allowed bool, token string) Message {
	return Message{Type: TypeSetAllowed, Allowed: allowed, Token: token}
}

// WithToken returns a copy of m carrying token.
func (m Message) WithToken(token string) Message {
	m.Token = token
	return m
}
