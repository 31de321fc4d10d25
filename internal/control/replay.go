package control

import (
	"github.com/mamun-swe/client.remotedesk/internal/protocol"
	"github.com/mamun-swe/client.remotedesk/internal/util"
)

// Replayer turns accepted control events into synthetic page events. It is
// the fallback when no agent is connected.
type Replayer struct {
	page Page
	log  util.Logger
}

// NewReplayer creates a Replayer acting on page.
func NewReplayer(page Page) *Replayer {
	return &Replayer{page: page, log: util.Tagged("replay")}
}

// Replay acts on ev. Moves only update the cursor overlay; clicks hit-test the
// denormalized point; wheels scroll at once; keys go to the focused element,
// or the body when nothing has focus.
func (r *Replayer) Replay(ev protocol.ControlEvent) {
	switch ev.Kind {
	case protocol.KindMove:
		r.page.MoveCursor(ev.X, ev.Y)

	case protocol.KindClick:
		x, y := Denormalize(ev.X, ev.Y, r.page.Viewport())
		target := r.page.ElementAt(x, y)
		if target == nil {
			r.log.Debug("click at (%d, %d) hit nothing", x, y)
			return
		}
		target.Dispatch(SyntheticEvent{
			Type:       EventClick,
			Bubbles:    true,
			Cancelable: true,
			ClientX:    x,
			ClientY:    y,
			Button:     ev.Button,
		})

	case protocol.KindWheel:
		r.page.ScrollBy(ev.DX, ev.DY)

	case protocol.KindKey:
		target := r.page.Focused()
		if target == nil {
			target = r.page.Body()
		}
		typ := EventKeyDown
		if ev.Phase == protocol.PhaseUp {
			typ = EventKeyUp
		}
		target.Dispatch(SyntheticEvent{
			Type:       typ,
			Bubbles:    true,
			Cancelable: true,
			Key:        ev.Key,
			Code:       ev.Code,
			Modifiers:  ev.Modifiers,
		})

	default:
		r.log.Debug("nothing to replay for %s", ev)
	}
}
