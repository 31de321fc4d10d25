package session

import "errors"

// State is the negotiation state of a Session. It only moves forward: nothing
// re-enters Idle and Connected only moves to Closed.
type State int

const (
	StateIdle State = iota
	StateOffering
	StateAnswering
	StateConnected
	StateClosed
)

var (
	// ErrInvalidState is returned for an operation the current state does
	// not permit, such as an answer while not offering.
	ErrInvalidState = errors.New("invalid state")

	// ErrWrongRole is returned when a message is incompatible with our role,
	// such as an offer sent to a host.
	ErrWrongRole = errors.New("wrong role")
)

var stateNames = [...]string{
	StateIdle:      "idle",
	StateOffering:  "offering",
	StateAnswering: "answering",
	StateConnected: "connected",
	StateClosed:    "closed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Negotiating reports whether s is Offering or Answering.
func (s State) Negotiating() bool {
	return s == StateOffering || s == StateAnswering
}

// transitions lists every allowed edge.
var transitions = map[State][]State{
	StateIdle:      {StateOffering, StateAnswering, StateClosed},
	StateOffering:  {StateConnected, StateClosed},
	StateAnswering: {StateConnected, StateClosed},
	StateConnected: {StateClosed},
}

// CanTransition reports whether the machine may move from s to next.
func (s State) CanTransition(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
