package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// ErrMalformed is wrapped by every decoding and validation failure.
var ErrMalformed = errors.New("malformed message")

// Browser clients flatten the DOM event type into the ctrl frame, which
// overwrites "ctrl" with "keydown"/"keyup". Decode accepts that form.
const (
	legacyKeyDown = "keydown"
	legacyKeyUp   = "keyup"
)

// wire is the flat JSON shape shared by every link.
type wire struct {
	Type      string                   `json:"type"`
	RoomID    string                   `json:"roomId,omitempty"`
	Role      string                   `json:"role,omitempty"`
	SDP       json.RawMessage          `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit `json:"candidate,omitempty"`
	Text      string                   `json:"text,omitempty"`
	Token     string                   `json:"token,omitempty"`
	Allowed   *bool                    `json:"allowed,omitempty"`

	Kind   string   `json:"kind,omitempty"`
	X      *float64 `json:"x,omitempty"`
	Y      *float64 `json:"y,omitempty"`
	DX     *float64 `json:"dx,omitempty"`
	DY     *float64 `json:"dy,omitempty"`
	Button *int     `json:"button,omitempty"`
	Key    string   `json:"key,omitempty"`
	Code   string   `json:"code,omitempty"`
	Alt    bool     `json:"alt,omitempty"`
	Ctrl   bool     `json:"ctrl,omitempty"`
	Shift  bool     `json:"shift,omitempty"`
	Meta   bool     `json:"meta,omitempty"`
	Phase  string   `json:"phase,omitempty"`
}

// Encode serializes a Message into a single JSON object.
func Encode(msg Message) ([]byte, error) {
	w := wire{
		Type:   string(msg.Type),
		RoomID: msg.RoomID,
		Role:   string(msg.Role),
		Text:   msg.Text,
		Token:  msg.Token,
	}

	switch msg.Type {
	case TypeOffer, TypeAnswer:
		if msg.SDP == nil {
			return nil, fmt.Errorf("%w: %s without sdp", ErrMalformed, msg.Type)
		}
		raw, err := json.Marshal(msg.SDP)
		if err != nil {
			return nil, err
		}
		w.SDP = raw

	case TypeICE:
		if msg.Candidate == nil {
			return nil, fmt.Errorf("%w: ice without candidate", ErrMalformed)
		}
		w.Candidate = msg.Candidate

	case TypeSetAllowed:
		allowed := msg.Allowed
		w.Allowed = &allowed

	case TypeControl:
		if err := msg.Event.Validate(); err != nil {
			return nil, err
		}
		encodeEvent(&w, msg.Event.Normalize())
	}

	return json.Marshal(w)
}

// Decode parses one JSON object into a Message. Every failure wraps
// ErrMalformed; callers facing a remote peer should drop the frame.
func Decode(data []byte) (Message, error) {
	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	msg := Message{
		Type:  Type(w.Type),
		Role:  Role(w.Role),
		Token: w.Token,
	}
	if msg.Role != "" && !msg.Role.Valid() {
		return Message{}, fmt.Errorf("%w: unknown role %q", ErrMalformed, w.Role)
	}

	switch msg.Type {
	case TypeJoin:
		if w.RoomID == "" {
			return Message{}, fmt.Errorf("%w: join without roomId", ErrMalformed)
		}
		msg.RoomID = w.RoomID

	case TypePeerJoin, TypeHello:

	case TypeOffer, TypeAnswer:
		sdp, err := decodeSDP(w.SDP, msg.Type)
		if err != nil {
			return Message{}, err
		}
		msg.SDP = &sdp

	case TypeICE:
		if w.Candidate == nil {
			return Message{}, fmt.Errorf("%w: ice without candidate", ErrMalformed)
		}
		msg.Candidate = w.Candidate

	case TypeChat:
		if w.Text == "" {
			return Message{}, fmt.Errorf("%w: empty chat", ErrMalformed)
		}
		msg.Text = w.Text

	case TypeSetAllowed:
		if w.Allowed == nil {
			return Message{}, fmt.Errorf("%w: set-allowed without allowed", ErrMalformed)
		}
		msg.Allowed = *w.Allowed

	case TypeControl, legacyKeyDown, legacyKeyUp:
		if msg.Type != TypeControl && EventKind(w.Kind) != KindKey {
			return Message{}, fmt.Errorf("%w: %s frame with kind %q", ErrMalformed, w.Type, w.Kind)
		}
		ev, err := decodeEvent(&w)
		if err != nil {
			return Message{}, err
		}
		msg.Type = TypeControl
		msg.Event = ev

	default:
		return Message{}, fmt.Errorf("%w: unknown type %q", ErrMalformed, w.Type)
	}

	return msg, nil
}

// decodeSDP accepts either a description object {type, sdp} or a bare SDP
// string. The description type must agree with the frame type.
func decodeSDP(raw json.RawMessage, typ Type) (webrtc.SessionDescription, error) {
	want := webrtc.SDPTypeOffer
	if typ == TypeAnswer {
		want = webrtc.SDPTypeAnswer
	}

	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: %s without sdp", ErrMalformed, typ)
	}

	var sd webrtc.SessionDescription
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &sd.SDP); err != nil {
			return sd, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		sd.Type = want
	} else if err := json.Unmarshal(raw, &sd); err != nil {
		return sd, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if sd.SDP == "" {
		return sd, fmt.Errorf("%w: %s with empty sdp", ErrMalformed, typ)
	}
	if sd.Type == webrtc.SDPTypeUnknown {
		sd.Type = want
	}
	if sd.Type != want {
		return sd, fmt.Errorf("%w: %s carries a %s description", ErrMalformed, typ, sd.Type)
	}
	return sd, nil
}

func encodeEvent(w *wire, ev ControlEvent) {
	w.Kind = string(ev.Kind)

	switch ev.Kind {
	case KindMove:
		w.X, w.Y = float(ev.X), float(ev.Y)
	case KindClick:
		button := ev.Button
		w.X, w.Y, w.Button = float(ev.X), float(ev.Y), &button
	case KindWheel:
		w.DX, w.DY = float(ev.DX), float(ev.DY)
	case KindKey:
		w.Key, w.Code, w.Phase = ev.Key, ev.Code, string(ev.Phase)
		w.Alt, w.Ctrl, w.Shift, w.Meta = ev.Modifiers.Alt, ev.Modifiers.Ctrl, ev.Modifiers.Shift, ev.Modifiers.Meta
	}
}

func decodeEvent(w *wire) (ControlEvent, error) {
	var ev ControlEvent

	switch EventKind(w.Kind) {
	case KindMove, KindClick:
		if w.X == nil || w.Y == nil {
			return ev, fmt.Errorf("%w: %s without coordinates", ErrMalformed, w.Kind)
		}
		button := 0
		if w.Button != nil {
			button = *w.Button
		}
		if EventKind(w.Kind) == KindMove {
			ev = Move(*w.X, *w.Y)
		} else {
			ev = Click(*w.X, *w.Y, button)
		}

	case KindWheel:
		var dx, dy float64
		if w.DX != nil {
			dx = *w.DX
		}
		if w.DY != nil {
			dy = *w.DY
		}
		ev = Wheel(dx, dy)

	case KindKey:
		phase := KeyPhase(w.Phase)
		switch w.Type {
		case legacyKeyDown:
			phase = PhaseDown
		case legacyKeyUp:
			phase = PhaseUp
		}
		ev = Key(w.Key, w.Code, Modifiers{Alt: w.Alt, Ctrl: w.Ctrl, Shift: w.Shift, Meta: w.Meta}, phase)

	default:
		return ev, fmt.Errorf("%w: unknown event kind %q", ErrMalformed, w.Kind)
	}

	if err := ev.Validate(); err != nil {
		return ControlEvent{}, err
	}
	return ev, nil
}

func float(v float64) *float64 {
	return &v
}
