package session

import (
	"errors"

	"github.com/pixelstream/streamhost/streamerr"
)

// reportError classifies err via the shared taxonomy and reacts: a
// transient error is logged and otherwise ignored (the calling loop
// already retried in place), a degrading error moves the session to
// Degraded, and a fatal error tears the session down with the reason its
// category implies, matching Section 4.4's failure semantics table.
func (s *Session) reportError(err error) {
	if err == nil {
		return
	}
	if s.logger != nil {
		rep := streamerr.NewReport(err).WithCorrelationID(s.sessionID.String())
		s.logger.Warnf("session error: %v", rep.Err)
	}

	switch streamerr.Classify(err) {
	case streamerr.DispositionTransient:
		return
	case streamerr.DispositionDegrading:
		s.degrade()
		return
	default:
		reason := reasonFor(err)
		if reason == ReasonProtocolViolation && s.offenders != nil {
			s.offenders.Record(s.clientID)
		}
		s.triggerTeardown(reason)
	}
}

func reasonFor(err error) TeardownReason {
	var se *streamerr.StreamError
	if errors.As(err, &se) {
		switch se.Category {
		case streamerr.Protocol:
			return ReasonProtocolViolation
		case streamerr.Peer:
			return ReasonPeerTimeout
		}
	}
	return ReasonFatalResource
}
