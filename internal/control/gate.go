// Package control decides what happens to control events a guest sends to a
// host: the gate authorizes them, and accepted events are forwarded to the
// privileged agent or replayed into the host's page.
package control

import (
	"sync/atomic"

	"github.com/mamun-swe/client.remotedesk/internal/protocol"
)

// Decision is the gate's verdict on one event.
type Decision int

const (
	Reject Decision = iota
	Accept
)

func (d Decision) String() string {
	if d == Accept {
		return "accept"
	}
	return "reject"
}

// Policy holds the host's control toggle. It starts disallowed and is changed
// only by the host.
type Policy struct {
	allowed atomic.Bool
}

// Allowed reports whether the host currently accepts control.
func (p *Policy) Allowed() bool {
	return p.allowed.Load()
}

// SetAllowed updates the toggle and reports whether it changed.
func (p *Policy) SetAllowed(allowed bool) bool {
	return p.allowed.Swap(allowed) != allowed
}

// Evaluate is the authorization rule: nothing is accepted while control is
// disallowed, and malformed events are never accepted. It has no side
// effects.
func Evaluate(allowed bool, ev protocol.ControlEvent) Decision {
	if !allowed {
		return Reject
	}
	if ev.Validate() != nil {
		return Reject
	}
	return Accept
}

// Gate evaluates events against a Policy.
type Gate struct {
	policy *Policy
}

// NewGate creates a Gate reading p.
func NewGate(p *Policy) *Gate {
	return &Gate{policy: p}
}

// Evaluate applies the rule to the policy's current value.
func (g *Gate) Evaluate(ev protocol.ControlEvent) Decision {
	return Evaluate(g.policy.Allowed(), ev)
}
