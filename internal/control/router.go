package control

import (
	"sort"
	"sync"

	"github.com/mamun-swe/client.remotedesk/internal/protocol"
	"github.com/mamun-swe/client.remotedesk/internal/util"
)

// Bridge forwards accepted events to a privileged local agent.
type Bridge interface {
	Connected() bool
	SendCtrl(ev protocol.ControlEvent) error
	SetAllowed(allowed bool) error
}

// Router is the host-side sink for control events: every event passes the
// gate, then goes to the bridge when it is connected and to the replayer
// otherwise.
//
// The router remembers keys pressed by accepted events. When control is
// revoked or the router closes, each held key is released through the same
// path so a lost key-up cannot leave it stuck.
type Router struct {
	policy *Policy
	gate   *Gate
	bridge Bridge // nil when no agent is configured
	replay *Replayer
	log    util.Logger

	mu     sync.Mutex
	held   map[string]protocol.ControlEvent
	closed bool
}

// NewRouter wires a gate over policy to bridge and replay. bridge may be nil.
func NewRouter(policy *Policy, bridge Bridge, replay *Replayer) *Router {
	return &Router{
		policy: policy,
		gate:   NewGate(policy),
		bridge: bridge,
		replay: replay,
		log:    util.Tagged("control"),
		held:   make(map[string]protocol.ControlEvent),
	}
}

// Handle evaluates ev and, if accepted, delivers it.
func (r *Router) Handle(ev protocol.ControlEvent) Decision {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || r.gate.Evaluate(ev) == Reject {
		util.Stats.AddRejected()
		r.log.Debug("rejected %s", ev)
		return Reject
	}
	util.Stats.AddAccepted()

	r.track(ev)
	r.deliver(ev)
	return Accept
}

// Allowed reports the current toggle.
func (r *Router) Allowed() bool {
	return r.policy.Allowed()
}

// SetAllowed changes the toggle and tells the agent. Revoking control first
// releases every held key.
func (r *Router) SetAllowed(allowed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !allowed {
		r.releaseHeld()
	}
	if r.policy.SetAllowed(allowed) {
		if allowed {
			r.log.Info("remote control allowed")
		} else {
			r.log.Info("remote control revoked")
		}
	}
	if r.bridge != nil {
		if err := r.bridge.SetAllowed(allowed); err != nil {
			r.log.Debug("agent set-allowed: %v", err)
		}
	}
}

// Close releases held keys and rejects everything after. Safe to call more
// than once.
func (r *Router) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.releaseHeld()
	r.closed = true
}

// track records key edges. Keys are identified by code, falling back to key.
func (r *Router) track(ev protocol.ControlEvent) {
	if ev.Kind != protocol.KindKey {
		return
	}
	id := ev.Code
	if id == "" {
		id = ev.Key
	}
	if ev.Phase == protocol.PhaseDown {
		r.held[id] = ev
	} else {
		delete(r.held, id)
	}
}

func (r *Router) releaseHeld() {
	if len(r.held) == 0 {
		return
	}
	ids := make([]string, 0, len(r.held))
	for id := range r.held {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		up := r.held[id]
		up.Phase = protocol.PhaseUp
		r.log.Debug("releasing held key %s", id)
		r.deliver(up)
	}
	clear(r.held)
}

// deliver sends ev to the agent when it is connected and replays it
// otherwise. A failed agent write falls back to replay.
func (r *Router) deliver(ev protocol.ControlEvent) {
	if r.bridge != nil && r.bridge.Connected() {
		err := r.bridge.SendCtrl(ev)
		if err == nil {
			util.Stats.AddBridged()
			return
		}
		r.log.Debug("agent send failed, replaying: %v", err)
	}
	r.replay.Replay(ev)
	util.Stats.AddReplayed()
}
