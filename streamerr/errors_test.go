package streamerr

import (
	"errors"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Disposition
	}{
		{"transport recoverable", New(Transport, "send"), DispositionTransient},
		{"peer timeout fatal", New(Peer, "heartbeat"), DispositionFatal},
		{"protocol violation fatal", New(Protocol, "bad-auth-tag"), DispositionFatal},
		{"admission transient", New(Admission, "try_admit"), DispositionTransient},
		{"fatal category", New(Fatal, "keystore"), DispositionFatal},
		{"unrecognized error defaults fatal", errors.New("boom"), DispositionFatal},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.err); got != tc.want {
				t.Errorf("Classify(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestWrapUnwrap(t *testing.T) {
	cause := errors.New("socket closed")
	wrapped := Wrap(Transport, "transport.Send", cause)
	if !errors.Is(wrapped, cause) {
		t.Fatalf("expected errors.Is to unwrap to cause")
	}
	if wrapped.Category != Transport {
		t.Fatalf("got category %v, want Transport", wrapped.Category)
	}
}

func TestWrapNilIsNil(t *testing.T) {
	if Wrap(Transport, "op", nil) != nil {
		t.Fatal("Wrap(nil) should return nil")
	}
}

func TestSeverityOfUnmatchedIsCritical(t *testing.T) {
	if got := SeverityOf(errors.New("mystery")); got != SeverityCritical {
		t.Fatalf("got %v, want SeverityCritical", got)
	}
}

func TestReportFields(t *testing.T) {
	r := NewReport(New(Capture, "open")).WithContext("window lost").WithCorrelationID("abc-123")
	fields := r.Fields()
	found := map[string]bool{}
	for i := 0; i < len(fields); i += 2 {
		if key, ok := fields[i].(string); ok {
			found[key] = true
		}
	}
	for _, want := range []string{"error", "severity", "suggestion", "context", "correlation_id"} {
		if !found[want] {
			t.Errorf("missing field %q in report", want)
		}
	}
}
