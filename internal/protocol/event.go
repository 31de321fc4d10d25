package protocol

import (
	"fmt"
	"math"
)

// EventKind discriminates ControlEvent variants.
type EventKind string

const (
	KindMove  EventKind = "move"
	KindClick EventKind = "click"
	KindWheel EventKind = "wheel"
	KindKey   EventKind = "key"
)

// KeyPhase is the edge of a key event.
type KeyPhase string

const (
	PhaseDown KeyPhase = "down"
	PhaseUp   KeyPhase = "up"
)

// maxButton is the highest pointer button index (0 primary … 4 forward).
const maxButton = 4

// Modifiers holds the modifier key state at the time of a key event.
type Modifiers struct {
	Alt   bool
	Ctrl  bool
	Shift bool
	Meta  bool
}

// ControlEvent is a pointer or keyboard action. Pointer coordinates are
// normalized to [0,1] of the sharer's viewport; values outside that range are
// clamped, never rejected.
//
// Only the fields of Kind are meaningful. Constructors and Normalize zero the
// others so that two equal actions compare equal with ==.
type ControlEvent struct {
	Kind EventKind

	X, Y   float64 // move, click
	Button int     // click

	DX, DY float64 // wheel, in CSS pixels

	Key       string // key
	Code      string // key
	Modifiers Modifiers
	Phase     KeyPhase
}

// Move builds a pointer move to (x, y).
func Move(x, y float64) ControlEvent {
	return ControlEvent{Kind: KindMove, X: Clamp01(x), Y: Clamp01(y)}
}

// Click builds a click of button at (x, y).
func Click(x, y float64, button int) ControlEvent {
	return ControlEvent{Kind: KindClick, X: Clamp01(x), Y: Clamp01(y), Button: button}
}

// Wheel builds a scroll by (dx, dy).
func Wheel(dx, dy float64) ControlEvent {
	return ControlEvent{Kind: KindWheel, DX: dx, DY: dy}
}

// Key builds a key edge.
func Key(key, code string, mods Modifiers, phase KeyPhase) ControlEvent {
	return ControlEvent{Kind: KindKey, Key: key, Code: code, Modifiers: mods, Phase: phase}
}

// Clamp01 limits v to [0,1]. NaN maps to 0.
func Clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}

// Normalize clamps pointer coordinates and clears fields that do not belong
// to the event's kind.
func (e ControlEvent) Normalize() ControlEvent {
	switch e.Kind {
	case KindMove:
		return Move(e.X, e.Y)
	case KindClick:
		return Click(e.X, e.Y, e.Button)
	case KindWheel:
		return Wheel(e.DX, e.DY)
	case KindKey:
		return Key(e.Key, e.Code, e.Modifiers, e.Phase)
	}
	return e
}

// Validate reports whether e is a well-formed event. Out-of-range coordinates
// are not an error; they are clamped by Normalize.
func (e ControlEvent) Validate() error {
	switch e.Kind {
	case KindMove, KindClick:
		if math.IsNaN(e.X) || math.IsNaN(e.Y) {
			return fmt.Errorf("%w: %s coordinates are NaN", ErrMalformed, e.Kind)
		}
		if e.Kind == KindClick && (e.Button < 0 || e.Button > maxButton) {
			return fmt.Errorf("%w: click button %d out of range", ErrMalformed, e.Button)
		}
	case KindWheel:
		if math.IsNaN(e.DX) || math.IsNaN(e.DY) || math.IsInf(e.DX, 0) || math.IsInf(e.DY, 0) {
			return fmt.Errorf("%w: wheel delta is not finite", ErrMalformed)
		}
	case KindKey:
		if e.Key == "" && e.Code == "" {
			return fmt.Errorf("%w: key event without key or code", ErrMalformed)
		}
		if e.Phase != PhaseDown && e.Phase != PhaseUp {
			return fmt.Errorf("%w: key phase %q", ErrMalformed, e.Phase)
		}
	default:
		return fmt.Errorf("%w: unknown event kind %q", ErrMalformed, e.Kind)
	}
	return nil
}

// String renders e compactly for logs.
func (e ControlEvent) String() string {
	switch e.Kind {
	case KindMove:
		return fmt.Sprintf("move(%.3f,%.3f)", e.X, e.Y)
	case KindClick:
		return fmt.Sprintf("click(%.3f,%.3f,b%d)", e.X, e.Y, e.Button)
	case KindWheel:
		return fmt.Sprintf("wheel(%.0f,%.0f)", e.DX, e.DY)
	case KindKey:
		return fmt.Sprintf("key(%s/%s,%s)", e.Key, e.Code, e.Phase)
	}
	return fmt.Sprintf("unknown(%s)", e.Kind)
}
