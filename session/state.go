// Package session implements Section 4.4's Session: the per-client
// orchestrator owning one pipeline instance (capture, encoder,
// transport endpoints, keys) and its state machine.
package session

import "sync/atomic"

// State is one node of the Session state machine.
type State int32

const (
	Negotiating State = iota
	Launching
	Streaming
	Degraded
	TearingDown
	Terminated
)

func (s State) String() string {
	switch s {
	case Negotiating:
		return "Negotiating"
	case Launching:
		return "Launching"
	case Streaming:
		return "Streaming"
	case Degraded:
		return "Degraded"
	case TearingDown:
		return "TearingDown"
	case Terminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// validTransitions encodes the state machine diagram from Section 4.4.
// Terminated has no outgoing edges.
var validTransitions = map[State][]State{
	Negotiating: {Launching},
	Launching:   {Streaming, TearingDown},
	Streaming:   {Degraded, TearingDown},
	Degraded:    {Streaming, TearingDown},
	TearingDown: {Terminated},
	Terminated:  {},
}

func canTransition(from, to State) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// stateWord is the atomic discriminant backing the Session's state, so
// observers (Observe, the registry) can read it without locking, per
// Section 9's "discriminant lives in an atomic word" design note. Every
// mutation goes through set, which is the single-owner Session's job —
// concurrent writers are never expected, only concurrent readers.
type stateWord struct {
	v atomic.Int32
}

func (w *stateWord) init(s State) { w.v.Store(int32(s)) }

func (w *stateWord) load() State { return State(w.v.Load()) }

// set performs a validated transition, returning false if the edge is not
// in the state machine (the caller should treat that as a logic error,
// not a recoverable condition).
func (w *stateWord) set(to State) bool {
	from := State(w.v.Load())
	if !canTransition(from, to) {
		return false
	}
	w.v.Store(int32(to))
	return true
}
