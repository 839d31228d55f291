// Package streamerr is the shared error taxonomy for the streaming host.
// Every component surfaces one of the categories below to its immediate
// owner, which classifies it as transient, degrading, or fatal rather than
// inspecting component-specific error values.
package streamerr

import (
	"errors"
	"fmt"
	"time"
)

// Category identifies which part of the pipeline raised the error.
type Category int

const (
	CategoryUnknown Category = iota
	Transport                // send/recv errors, MTU discovery failure, bind failure
	Protocol                 // unexpected message, bad auth tag, unknown version, out-of-order handshake step
	Pairing                  // PIN mismatch, expired attempt, unknown client
	Capture                  // window lost, source stalled, format unsupported
	Encoder                  // configure failed, submit failed, reset failed
	Admission                // at capacity, already active, unsupported config
	Peer                     // heartbeat timeout, client reset
	Fatal                    // keystore corruption beyond truncation, non-recoverable resource loss
)

func (c Category) String() string {
	switch c {
	case Transport:
		return "transport"
	case Protocol:
		return "protocol"
	case Pairing:
		return "pairing"
	case Capture:
		return "capture"
	case Encoder:
		return "encoder"
	case Admission:
		return "admission"
	case Peer:
		return "peer"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Severity mirrors how loudly an error should be logged; it never drives
// control flow, only log verbosity and alerting.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Disposition is how the Session should react when classifying an error.
type Disposition int

const (
	DispositionTransient Disposition = iota // recover in place
	DispositionDegrading                    // drop quality, continue
	DispositionFatal                        // teardown
)

func (d Disposition) String() string {
	switch d {
	case DispositionTransient:
		return "transient"
	case DispositionDegrading:
		return "degrading"
	case DispositionFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// StreamError is the error type every package in this module returns for
// conditions belonging to the Section 7 taxonomy. It wraps an underlying
// cause and is %w-compatible.
type StreamError struct {
	Category Category
	Op       string // short operation name, e.g. "transport.Send"
	Err      error  // underlying cause, may be nil
}

func (e *StreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Category, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Category, e.Op)
}

func (e *StreamError) Unwrap() error { return e.Err }

// New constructs a StreamError with no underlying cause.
func New(cat Category, op string) *StreamError {
	return &StreamError{Category: cat, Op: op}
}

// Wrap constructs a StreamError wrapping err.
func Wrap(cat Category, op string, err error) *StreamError {
	if err == nil {
		return nil
	}
	return &StreamError{Category: cat, Op: op, Err: err}
}

// Classify maps err's category to the disposition the Session should use.
// Unrecognized errors (not a *StreamError) are treated as fatal, matching
// the source's "unknown errors don't get retried" stance.
func Classify(err error) Disposition {
	var se *StreamError
	if !errors.As(err, &se) {
		return DispositionFatal
	}
	switch se.Category {
	case Transport, Capture, Encoder:
		if IsRecoverable(err) {
			return DispositionTransient
		}
		return DispositionDegrading
	case Peer, Protocol:
		return DispositionFatal
	case Pairing, Admission:
		return DispositionTransient
	case Fatal:
		return DispositionFatal
	default:
		return DispositionFatal
	}
}

// IsRecoverable reports whether the operation that produced err may
// reasonably be retried in place without tearing the session down.
func IsRecoverable(err error) bool {
	var se *StreamError
	if !errors.As(err, &se) {
		return false
	}
	switch se.Category {
	case Transport:
		return true
	case Capture:
		return true
	case Encoder:
		return true
	case Admission:
		return true
	case Pairing:
		return true
	default:
		return false
	}
}

// SeverityOf returns the logging severity for err, defaulting to Critical
// for anything not classified, matching the source's "unmatched arm is the
// worst case" pattern.
func SeverityOf(err error) Severity {
	var se *StreamError
	if !errors.As(err, &se) {
		return SeverityCritical
	}
	switch se.Category {
	case Peer:
		return SeverityLow
	case Pairing, Admission:
		return SeverityMedium
	case Transport, Capture, Encoder, Protocol:
		return SeverityHigh
	case Fatal:
		return SeverityCritical
	default:
		return SeverityCritical
	}
}

// RecoverySuggestion returns a short static hint for logs, never consumed
// by control flow.
func RecoverySuggestion(err error) string {
	var se *StreamError
	if !errors.As(err, &se) {
		return "check logs for more detail"
	}
	switch se.Category {
	case Transport:
		return "check bind address and firewall rules"
	case Protocol:
		return "client likely sent an unexpected frame; inspect protocol version"
	case Pairing:
		return "client must reinitiate pairing"
	case Capture:
		return "verify the emulator window handle is still valid"
	case Encoder:
		return "check hardware encoder availability; falls back to software provider"
	case Admission:
		return "client may retry once capacity or existing session clears"
	case Peer:
		return "client connectivity lost; session will be torn down"
	case Fatal:
		return "restart the host process"
	default:
		return "check logs for more detail"
	}
}

// Report is a timestamped, contextualized wrapper around a StreamError,
// used for structured logging at the point an error crosses a component
// boundary.
type Report struct {
	Err           error
	Timestamp     time.Time
	Context       string
	CorrelationID string
}

// NewReport creates a Report for err, stamped with the current time.
func NewReport(err error) Report {
	return Report{Err: err, Timestamp: time.Now()}
}

// WithContext attaches a short free-text context string.
func (r Report) WithContext(ctx string) Report {
	r.Context = ctx
	return r
}

// WithCorrelationID attaches an id correlating this report to a session or
// client trace.
func (r Report) WithCorrelationID(id string) Report {
	r.CorrelationID = id
	return r
}

// Fields returns the report as structured key/value pairs suitable for a
// pion/logging.LeveledLogger call.
func (r Report) Fields() []any {
	fields := []any{
		"error", r.Err.Error(),
		"severity", SeverityOf(r.Err).String(),
		"suggestion", RecoverySuggestion(r.Err),
	}
	if r.Context != "" {
		fields = append(fields, "context", r.Context)
	}
	if r.CorrelationID != "" {
		fields = append(fields, "correlation_id", r.CorrelationID)
	}
	return fields
}
