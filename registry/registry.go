// Package registry implements Section 4.3's Session Registry: the
// process-wide admission gate and session lookup table every Launch and
// Stop goes through.
package registry

import (
	"sync"

	"github.com/pixelstream/streamhost/pairing"
	"github.com/pixelstream/streamhost/session"
	"github.com/pixelstream/streamhost/streamerr"
)

// RejectReason is one of try_admit's documented rejection codes.
type RejectReason string

const (
	RejectAtCapacity        RejectReason = "AtCapacity"
	RejectAlreadyActive     RejectReason = "AlreadyActive"
	RejectUnpaired          RejectReason = "Unpaired"
	RejectConfigUnsupported RejectReason = "ConfigUnsupported"
	RejectRateLimited       RejectReason = "RateLimited"
)

// RejectedError is returned by TryAdmit when admission is denied.
type RejectedError struct {
	Reason RejectReason
}

func (e *RejectedError) Error() string { return "registry: rejected: " + string(e.Reason) }

// DefaultCapacity is Section 4.3's default cap on concurrent sessions.
const DefaultCapacity = 10

// clientGate is the single-entry admission gate for one ClientId: holding
// its lock while checking-and-setting activeSession is what makes
// try_admit linearizable per I1 without blocking unrelated clients or any
// reader.
type clientGate struct {
	mu            sync.Mutex
	activeSession session.SessionID
	hasActive     bool
}

// Registry is the concurrent SessionId -> *session.Session mapping.
// Reads (Lookup) are wait-free via sync.Map; writes go through either the
// per-client admission gate (Admit) or a single removal under the gate's
// lock (Terminate), so two sessions for the same client can never both
// reach Streaming.
type Registry struct {
	capacity int

	sessions sync.Map // session.SessionID -> *session.Session
	count    int64    // approximate; guarded by gatesMu for capacity checks

	gatesMu sync.Mutex
	gates   map[session.ClientID]*clientGate

	offenders *pairing.OffenderTable
}

// New creates a Registry with the given capacity, or DefaultCapacity if
// capacity <= 0.
func New(capacity int) *Registry {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Registry{capacity: capacity, gates: make(map[session.ClientID]*clientGate)}
}

// SetOffenders wires the shared rate-limit table TryAdmit consults before
// admitting a client, per Section 4.4's "record the offending client for
// rate-limiting" and end-to-end scenario 6. A Registry with no table set
// (the zero value) never rejects for this reason.
func (r *Registry) SetOffenders(t *pairing.OffenderTable) { r.offenders = t }

func (r *Registry) gateFor(client session.ClientID) *clientGate {
	r.gatesMu.Lock()
	defer r.gatesMu.Unlock()
	g, ok := r.gates[client]
	if !ok {
		g = &clientGate{}
		r.gates[client] = g
	}
	return g
}

// TryAdmit enforces I1 (at most one Session per ClientId in Streaming)
// and the capacity cap, then registers sess under its own SessionId.
// Admission is linearized per-ClientId via clientGate's mutex: two
// concurrent TryAdmit calls for the same client cannot both succeed,
// matching Section 5's stated linearizability guarantee (P7), while
// unrelated clients and all Lookup readers never contend on it.
func (r *Registry) TryAdmit(sess *session.Session) error {
	if r.offenders != nil && r.offenders.Blocked(sess.ClientID()) {
		return streamerr.Wrap(streamerr.Admission, "registry.TryAdmit", &RejectedError{Reason: RejectRateLimited})
	}

	gate := r.gateFor(sess.ClientID())

	gate.mu.Lock()
	defer gate.mu.Unlock()

	if gate.hasActive {
		return streamerr.Wrap(streamerr.Admission, "registry.TryAdmit", &RejectedError{Reason: RejectAlreadyActive})
	}

	r.gatesMu.Lock()
	if r.count >= int64(r.capacity) {
		r.gatesMu.Unlock()
		return streamerr.Wrap(streamerr.Admission, "registry.TryAdmit", &RejectedError{Reason: RejectAtCapacity})
	}
	r.count++
	r.gatesMu.Unlock()

	r.sessions.Store(sess.SessionID(), sess)
	gate.activeSession = sess.SessionID()
	gate.hasActive = true
	return nil
}

// Lookup returns the session handle for id, wait-free for readers.
func (r *Registry) Lookup(id session.SessionID) (*session.Session, bool) {
	v, ok := r.sessions.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*session.Session), true
}

// Terminate removes id from the registry and releases its admission
// slot, if present. It does not itself call Session.Stop — the caller
// (normally the session's own teardown path) is responsible for that;
// Terminate only clears the bookkeeping so a later Launch for the same
// client can be admitted again.
func (r *Registry) Terminate(id session.SessionID) {
	v, ok := r.sessions.LoadAndDelete(id)
	if !ok {
		return
	}
	sess := v.(*session.Session)

	gate := r.gateFor(sess.ClientID())
	gate.mu.Lock()
	if gate.hasActive && gate.activeSession == id {
		gate.hasActive = false
	}
	gate.mu.Unlock()

	r.gatesMu.Lock()
	r.count--
	r.gatesMu.Unlock()
}

// Count reports the current number of registered sessions, for stats and
// tests.
func (r *Registry) Count() int {
	r.gatesMu.Lock()
	defer r.gatesMu.Unlock()
	return int(r.count)
}

// Capacity reports the configured cap on concurrent sessions.
func (r *Registry) Capacity() int { return r.capacity }

// Sessions returns a snapshot of every currently registered session
// handle, for the stats aggregator's scrape-time walk. It never blocks a
// concurrent TryAdmit or Terminate; a session admitted or removed mid-walk
// may or may not appear, matching sync.Map's range semantics.
func (r *Registry) Sessions() []*session.Session {
	out := make([]*session.Session, 0, r.Count())
	r.sessions.Range(func(_, v any) bool {
		out = append(out, v.(*session.Session))
		return true
	})
	return out
}
