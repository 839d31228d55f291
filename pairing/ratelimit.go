package pairing

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultRateLimitWindow is Section 4.4 and end-to-end scenario 6's
// default window an offending client is barred from a new pairing
// attempt or session admission after a protocol violation or a failed
// handshake.
const DefaultRateLimitWindow = 5 * time.Minute

// OffenderTable records clients that triggered a protocol violation
// (Section 4.4's failure semantics table) or failed a pairing handshake
// (scenario 6's "handshake tampering") so they can be barred for a
// configurable window. One table, reachable via Manager.Offenders, is
// shared by the pairing Manager (new attempts), the Session Registry
// (new admissions), and every Session (protocol violations mid-stream) —
// all consulting the same ClientId space.
type OffenderTable struct {
	window time.Duration

	mu      sync.Mutex
	blocked map[uuid.UUID]time.Time // clientID -> blocked-until
}

// NewOffenderTable creates a table with the given rate-limit window, or
// DefaultRateLimitWindow if window <= 0.
func NewOffenderTable(window time.Duration) *OffenderTable {
	if window <= 0 {
		window = DefaultRateLimitWindow
	}
	return &OffenderTable{window: window, blocked: make(map[uuid.UUID]time.Time)}
}

// Record bars clientID from new pairing attempts and session admission
// until the table's window elapses from now.
func (t *OffenderTable) Record(clientID uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.blocked[clientID] = time.Now().Add(t.window)
}

// Blocked reports whether clientID is still within its rate-limit
// window, opportunistically evicting the entry once it has expired.
func (t *OffenderTable) Blocked(clientID uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	until, ok := t.blocked[clientID]
	if !ok {
		return false
	}
	if time.Now().After(until) {
		delete(t.blocked, clientID)
		return false
	}
	return true
}
