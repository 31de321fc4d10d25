package control

import (
	"math"
	"strings"
	"sync"

	"github.com/mamun-swe/client.remotedesk/internal/protocol"
	"github.com/mamun-swe/client.remotedesk/internal/util"
)

// Viewport is a surface size in CSS pixels.
type Viewport struct {
	Width, Height int
}

// Denormalize maps normalized coordinates onto vp, rounding to the nearest
// pixel.
func Denormalize(x, y float64, vp Viewport) (int, int) {
	return int(math.Round(x * float64(vp.Width))), int(math.Round(y * float64(vp.Height)))
}

// Synthetic DOM event types dispatched by the Replayer.
const (
	EventClick   = "click"
	EventKeyDown = "keydown"
	EventKeyUp   = "keyup"
)

// SyntheticEvent is a DOM-style event dispatched to an Element.
type SyntheticEvent struct {
	Type       string
	Bubbles    bool
	Cancelable bool

	ClientX, ClientY int // click
	Button           int // click

	Key       string // keydown, keyup
	Code      string // keydown, keyup
	Modifiers protocol.Modifiers
}

// Element is a dispatch target in a Page.
type Element interface {
	Tag() string
	// Dispatch delivers ev and reports whether it was not cancelled.
	Dispatch(ev SyntheticEvent) bool
}

// Page is the host's document as seen by in-page replay.
type Page interface {
	Viewport() Viewport
	// ElementAt hit-tests a viewport coordinate; nil when nothing is there.
	ElementAt(x, y int) Element
	// Focused returns the focused element, or nil.
	Focused() Element
	Body() Element
	ScrollBy(dx, dy float64)
	// MoveCursor positions the remote-cursor overlay at normalized (x, y).
	MoveCursor(x, y float64)
}

// ---------------------------------------------------------------------------
// Headless page
// ---------------------------------------------------------------------------

// HeadlessPage is a Page with no rendering: a single body element that logs
// what it receives, a cursor overlay position and a scroll offset.
type HeadlessPage struct {
	viewport Viewport
	body     *headlessElement

	mu               sync.Mutex
	cursorX, cursorY float64
	scrollX, scrollY float64
}

// NewHeadlessPage creates a page of the given size.
func NewHeadlessPage(vp Viewport) *HeadlessPage {
	return &HeadlessPage{
		viewport: vp,
		body:     &headlessElement{tag: "BODY", log: util.Tagged("page")},
	}
}

func (p *HeadlessPage) Viewport() Viewport { return p.viewport }

func (p *HeadlessPage) ElementAt(x, y int) Element {
	if x < 0 || y < 0 || x > p.viewport.Width || y > p.viewport.Height {
		return nil
	}
	return p.body
}

func (p *HeadlessPage) Focused() Element { return nil }

func (p *HeadlessPage) Body() Element { return p.body }

func (p *HeadlessPage) ScrollBy(dx, dy float64) {
	p.mu.Lock()
	p.scrollX += dx
	p.scrollY += dy
	p.mu.Unlock()
	p.body.log.Debug("scroll by (%.0f, %.0f)", dx, dy)
}

func (p *HeadlessPage) MoveCursor(x, y float64) {
	p.mu.Lock()
	p.cursorX, p.cursorY = x, y
	p.mu.Unlock()
}

// Cursor returns the overlay position.
func (p *HeadlessPage) Cursor() (x, y float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cursorX, p.cursorY
}

// Scroll returns the accumulated scroll offset.
func (p *HeadlessPage) Scroll() (x, y float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.scrollX, p.scrollY
}

type headlessElement struct {
	tag string
	log util.Logger
}

func (e *headlessElement) Tag() string { return e.tag }

func (e *headlessElement) Dispatch(ev SyntheticEvent) bool {
	switch ev.Type {
	case EventClick:
		e.log.Info("%s at (%d, %d) button %d", ev.Type, ev.ClientX, ev.ClientY, ev.Button)
	default:
		e.log.Info("%s %s%s", ev.Type, modifierPrefix(ev.Modifiers), keyName(ev))
	}
	return true
}

func keyName(ev SyntheticEvent) string {
	if ev.Key != "" {
		return ev.Key
	}
	return ev.Code
}

func modifierPrefix(m protocol.Modifiers) string {
	var parts []string
	if m.Ctrl {
		parts = append(parts, "Ctrl")
	}
	if m.Alt {
		parts = append(parts, "Alt")
	}
	if m.Shift {
		parts = append(parts, "Shift")
	}
	if m.Meta {
		parts = append(parts, "Meta")
	}
	if len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, "+") + "+"
}
