package control

import (
	"strings"

	"github.com/mamun-swe/client.remotedesk/internal/protocol"
)

// Target describes the guest-side element an input event came from.
type Target struct {
	Tag      string // upper-case element name, e.g. "VIDEO"
	Editable bool   // contenteditable
}

// IsTextField reports whether t is one of the guest's own text inputs.
func (t Target) IsTextField() bool {
	switch strings.ToUpper(t.Tag) {
	case "INPUT", "TEXTAREA":
		return true
	}
	return t.Editable
}

// Capturer turns the guest's pointer and keyboard input over the remote video
// surface into control events. Pointer positions are normalized against the
// surface size. Input typed into the guest's own text fields is never sent,
// and a participant who is hosting sends nothing.
type Capturer struct {
	role    protocol.Role
	surface Viewport
	send    func(protocol.ControlEvent) bool
}

// NewCapturer creates a Capturer for a surface of the given size. send is
// usually Session.SendControl.
func NewCapturer(role protocol.Role, surface Viewport, send func(protocol.ControlEvent) bool) *Capturer {
	return &Capturer{role: role, surface: surface, send: send}
}

// Surface returns the size pointer positions are normalized against.
func (c *Capturer) Surface() Viewport {
	return c.surface
}

// Move reports the pointer at surface pixel (px, py).
func (c *Capturer) Move(px, py float64) bool {
	x, y, ok := c.normalize(px, py)
	if !ok {
		return false
	}
	return c.emit(protocol.Move(x, y))
}

// Click reports a click of button at surface pixel (px, py).
func (c *Capturer) Click(px, py float64, button int) bool {
	x, y, ok := c.normalize(px, py)
	if !ok {
		return false
	}
	return c.emit(protocol.Click(x, y, button))
}

// Wheel reports a scroll by (dx, dy) CSS pixels.
func (c *Capturer) Wheel(dx, dy float64) bool {
	return c.emit(protocol.Wheel(dx, dy))
}

// Key reports a key edge that originated at target.
func (c *Capturer) Key(target Target, key, code string, mods protocol.Modifiers, phase protocol.KeyPhase) bool {
	if target.IsTextField() {
		return false
	}
	return c.emit(protocol.Key(key, code, mods, phase))
}

func (c *Capturer) normalize(px, py float64) (float64, float64, bool) {
	if c.surface.Width <= 0 || c.surface.Height <= 0 {
		return 0, 0, false
	}
	return px / float64(c.surface.Width), py / float64(c.surface.Height), true
}

func (c *Capturer) emit(ev protocol.ControlEvent) bool {
	if c.role != protocol.RoleGuest {
		return false
	}
	if ev.Validate() != nil {
		return false
	}
	return c.send(ev)
}
