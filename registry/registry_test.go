package registry

import (
	"testing"

	"github.com/google/uuid"

	"github.com/pixelstream/streamhost/session"
)

func newTestSession(client session.ClientID) *session.Session {
	return session.New(session.Deps{ClientID: client, SessionID: session.NewSessionID()})
}

func TestTryAdmitSucceedsThenRejectsSecondForSameClient(t *testing.T) {
	r := New(DefaultCapacity)
	client := uuid.New()

	s1 := newTestSession(client)
	if err := r.TryAdmit(s1); err != nil {
		t.Fatalf("first TryAdmit: %v", err)
	}

	s2 := newTestSession(client)
	if err := r.TryAdmit(s2); err == nil {
		t.Fatal("expected second TryAdmit for the same client to be rejected")
	}
}

func TestTryAdmitAllowsDifferentClientsConcurrently(t *testing.T) {
	r := New(DefaultCapacity)

	s1 := newTestSession(uuid.New())
	s2 := newTestSession(uuid.New())

	if err := r.TryAdmit(s1); err != nil {
		t.Fatalf("TryAdmit s1: %v", err)
	}
	if err := r.TryAdmit(s2); err != nil {
		t.Fatalf("TryAdmit s2: %v", err)
	}
	if r.Count() != 2 {
		t.Fatalf("Count() = %d, want 2", r.Count())
	}
}

func TestTryAdmitEnforcesCapacity(t *testing.T) {
	r := New(1)
	s1 := newTestSession(uuid.New())
	if err := r.TryAdmit(s1); err != nil {
		t.Fatalf("TryAdmit s1: %v", err)
	}
	s2 := newTestSession(uuid.New())
	if err := r.TryAdmit(s2); err == nil {
		t.Fatal("expected TryAdmit to reject at capacity")
	}
}

func TestLookupFindsAdmittedSession(t *testing.T) {
	r := New(DefaultCapacity)
	s := newTestSession(uuid.New())
	if err := r.TryAdmit(s); err != nil {
		t.Fatalf("TryAdmit: %v", err)
	}
	got, ok := r.Lookup(s.SessionID())
	if !ok || got != s {
		t.Fatal("Lookup did not return the admitted session")
	}
}

func TestTerminateFreesAdmissionSlotForSameClient(t *testing.T) {
	r := New(DefaultCapacity)
	client := uuid.New()

	s1 := newTestSession(client)
	if err := r.TryAdmit(s1); err != nil {
		t.Fatalf("TryAdmit s1: %v", err)
	}
	r.Terminate(s1.SessionID())

	if _, ok := r.Lookup(s1.SessionID()); ok {
		t.Fatal("Lookup should not find a terminated session")
	}

	s2 := newTestSession(client)
	if err := r.TryAdmit(s2); err != nil {
		t.Fatalf("expected re-admission for same client after Terminate, got: %v", err)
	}
}

func TestTerminateUnknownSessionIsNoOp(t *testing.T) {
	r := New(DefaultCapacity)
	r.Terminate(session.NewSessionID()) // must not panic
	if r.Count() != 0 {
		t.Fatalf("Count() = %d, want 0", r.Count())
	}
}
