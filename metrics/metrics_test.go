package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pixelstream/streamhost/session"
)

type fakeSource struct {
	sessions []*session.Session
	capacity int
}

func (f *fakeSource) Sessions() []*session.Session { return f.sessions }
func (f *fakeSource) Count() int                   { return len(f.sessions) }
func (f *fakeSource) Capacity() int                { return f.capacity }

func TestHandlerServesProcessAndRegistryGauges(t *testing.T) {
	a, err := New(&fakeSource{capacity: 10}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rr := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	a.Handler().ServeHTTP(rr, req)

	if rr.Code != 200 {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, want := range []string{
		"streamhost_sessions_active 0",
		"streamhost_sessions_capacity 10",
		"streamhost_process_rss_bytes",
		"streamhost_system_memory_percent",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("scrape output missing %q\n---\n%s", want, body)
		}
	}
}

func TestHandlerReportsActiveSessionCount(t *testing.T) {
	a, err := New(&fakeSource{capacity: 3}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	src := &fakeSource{capacity: 3, sessions: []*session.Session{
		session.New(session.Deps{ClientID: session.NewSessionID(), SessionID: session.NewSessionID()}),
	}}
	a.source = src

	rr := httptest.NewRecorder()
	a.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))

	body := rr.Body.String()
	if !strings.Contains(body, "streamhost_sessions_active 1") {
		t.Errorf("expected one active session in scrape output:\n%s", body)
	}
	if !strings.Contains(body, `streamhost_session_uptime_seconds{`) {
		t.Errorf("expected a per-session uptime series:\n%s", body)
	}
}
